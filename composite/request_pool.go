package composite

import (
	"sync"

	"github.com/kevmo314/usb-composite-core/hci"
)

// requestPool is spec.md §3's "reusable pool of zero-length control-transfer
// request objects", backing the Control Transfer Engine's length==0 fast
// path. sync.Pool is already internally thread-safe, satisfying §5's
// "request pool is internally thread-safe" requirement for free.
type requestPool struct {
	pool sync.Pool
}

func newRequestPool() *requestPool {
	return &requestPool{
		pool: sync.Pool{New: func() any { return &hci.Request{} }},
	}
}

func (p *requestPool) get() *hci.Request {
	req := p.pool.Get().(*hci.Request)
	req.Reset()
	return req
}

func (p *requestPool) put(req *hci.Request) {
	p.pool.Put(req)
}
