package composite

import (
	"sync"

	"github.com/kevmo314/usb-composite-core/hci"
)

// Relay implements spec.md §4.3: the HCI's completion callback fires on a
// thread that must not be used to re-enter the HCI, because client
// callbacks may do exactly that. One Relay runs per device, owning exactly
// one dedicated goroutine (the Go analogue of Zircon's callback_thread),
// grounded on the completion-channel idiom teacher async.go already uses
// per-transfer, generalized here to one channel per device.
type Relay struct {
	hci      hci.Capability
	deviceID uint64

	signal chan struct{} // capacity 1; coalesces multiple wakeups

	mu        sync.Mutex // the spec's callback_lock
	completed []*hci.Request
	stop      bool

	wg sync.WaitGroup
}

// NewRelay starts the relay's dedicated goroutine immediately, matching
// usb_device_add's start_callback_thread(dev) being called before the
// device node is even published.
func NewRelay(capability hci.Capability, deviceID uint64) *Relay {
	r := &Relay{
		hci:      capability,
		deviceID: deviceID,
		signal:   make(chan struct{}, 1),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

// Queue implements queue_request(req): stamps device_id, stashes the
// client's callback/cookie, overwrites them with the relay's own, and hands
// the request to HCI.
func (r *Relay) Queue(req *hci.Request) error {
	req.DeviceID = r.deviceID
	req.SavedCallback = req.Callback
	req.SavedCookie = req.Cookie
	req.Callback = r.onHCIComplete
	req.Cookie = r
	return r.hci.RequestQueue(req)
}

// onHCIComplete runs on HCI's own completion thread. It must not block and
// must not invoke the client's callback directly.
func (r *Relay) onHCIComplete(req *hci.Request) {
	req.Callback = req.SavedCallback
	req.Cookie = req.SavedCookie

	r.mu.Lock()
	r.completed = append(r.completed, req)
	r.mu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// loop is the relay's dedicated goroutine. It drains the completed list
// outside the lock so a client callback that re-enters HCI (the reason the
// relay exists at all) can never deadlock against callback_lock.
func (r *Relay) loop() {
	defer r.wg.Done()
	for {
		<-r.signal

		r.mu.Lock()
		local := r.completed
		r.completed = nil
		stop := r.stop
		r.mu.Unlock()

		for _, req := range local {
			if req.Callback != nil {
				req.Callback(req)
			}
		}

		if stop {
			return
		}
	}
}

// Shutdown sets the stop flag under the callback lock, wakes the relay
// goroutine, and joins it. Safe to call once; per spec.md §3, release must
// happen only after the callback thread has joined.
func (r *Relay) Shutdown() {
	r.mu.Lock()
	r.stop = true
	r.mu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}

	r.wg.Wait()
}
