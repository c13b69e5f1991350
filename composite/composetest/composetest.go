// Package composetest provides in-memory test doubles for the hci.Capability
// and framework.Capability contracts, grounded on the teacher's usb_test.go
// harness style (a small hand-rolled fake rather than a mocking framework —
// no mock-generation library appears anywhere in the example pack).
package composetest

import (
	"fmt"
	"sync"

	"github.com/kevmo314/usb-composite-core/framework"
	"github.com/kevmo314/usb-composite-core/hci"
)

// Completer decides how a queued Request resolves. Fakes that want to
// simulate a non-completing device (scenario 5, the control-timeout
// scenario) simply never call back.
type Completer func(req *hci.Request)

// FakeHCI is an in-memory hci.Capability: RequestQueue hands every request
// to a programmable Completer, always on its own goroutine so the
// relay/control-engine code under test sees the same "completion arrives
// asynchronously, maybe on another goroutine" shape real HCI would produce.
type FakeHCI struct {
	mu   sync.Mutex
	complete Completer
	// CancelCalls records (deviceID, endpoint) pairs passed to CancelAll,
	// so tests can assert "cancel_all invoked exactly once".
	CancelCalls []CancelCall
	// Frame is returned verbatim by CurrentFrame.
	Frame uint64
	// MaxSize is returned verbatim by MaxTransferSize.
	MaxSize int
}

// CancelCall identifies a device/endpoint pair.
type CancelCall struct {
	DeviceID uint64
	Endpoint uint8
}

// NewFakeHCI creates a FakeHCI that resolves every request via complete,
// invoked on its own goroutine (mirroring req_complete running on an
// HCI-internal thread).
func NewFakeHCI(complete Completer) *FakeHCI {
	return &FakeHCI{complete: complete}
}

func (f *FakeHCI) RequestQueue(req *hci.Request) error {
	go f.complete(req)
	return nil
}

func (f *FakeHCI) CancelAll(deviceID uint64, endpoint uint8) error {
	f.mu.Lock()
	f.CancelCalls = append(f.CancelCalls, CancelCall{DeviceID: deviceID, Endpoint: endpoint})
	f.mu.Unlock()
	return nil
}

func (f *FakeHCI) ResetEndpoint(deviceID uint64, endpoint uint8) error { return nil }

func (f *FakeHCI) CurrentFrame() uint64 { return f.Frame }

func (f *FakeHCI) MaxTransferSize(deviceID uint64, endpoint uint8) int { return f.MaxSize }

// NeverCompletes is a Completer that blocks, for simulating a device that
// never answers — until a function is sent on resolve from another
// goroutine to finish the request, modeling "the late completion arrives
// after cancel".
func NeverCompletes(resolve <-chan func(*hci.Request)) Completer {
	return func(req *hci.Request) {
		fn := <-resolve
		fn(req)
	}
}

// Immediate is a Completer that marks every request with status and the
// full requested length immediately satisfied (echoing Data back unchanged).
func Immediate(status hci.Status) Completer {
	return func(req *hci.Request) {
		req.Status = status
		req.Actual = req.Length
		if req.Callback != nil {
			req.Callback(req)
		}
	}
}

// FakeNode is the Node type FakeFramework hands back.
type FakeNode struct {
	Name  string
	Span  []byte
	Props framework.Props
}

// FakeFramework is an in-memory framework.Capability: AddChild appends to
// Children, AddDevice records the device node separately (so Live lists
// interface children only), and RemoveChild marks either kind of entry
// removed. Nothing is ever actually deleted so tests can assert on removal
// history.
type FakeFramework struct {
	mu       sync.Mutex
	Children []*FakeChild
	devices  []*FakeChild
}

// FakeChild records one AddChild call and whether it has since been
// removed.
type FakeChild struct {
	Node     *FakeNode
	Removed  bool
}

func NewFakeFramework() *FakeFramework {
	return &FakeFramework{}
}

func (f *FakeFramework) AddDevice(name string, props framework.Props) (framework.Node, error) {
	node := &FakeNode{Name: name, Props: props}
	f.mu.Lock()
	f.devices = append(f.devices, &FakeChild{Node: node})
	f.mu.Unlock()
	return node, nil
}

func (f *FakeFramework) AddChild(name string, span []byte, props framework.Props) (framework.Node, error) {
	node := &FakeNode{Name: name, Span: append([]byte(nil), span...), Props: props}
	f.mu.Lock()
	f.Children = append(f.Children, &FakeChild{Node: node})
	f.mu.Unlock()
	return node, nil
}

func (f *FakeFramework) RemoveChild(node framework.Node) error {
	fn, ok := node.(*FakeNode)
	if !ok {
		return fmt.Errorf("composetest: RemoveChild called with foreign node type %T", node)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Children {
		if c.Node == fn {
			c.Removed = true
			return nil
		}
	}
	for _, c := range f.devices {
		if c.Node == fn {
			c.Removed = true
			return nil
		}
	}
	return fmt.Errorf("composetest: RemoveChild called on unknown node %q", fn.Name)
}

// Live returns the children currently not removed.
func (f *FakeFramework) Live() []*FakeChild {
	f.mu.Lock()
	defer f.mu.Unlock()
	live := make([]*FakeChild, 0, len(f.Children))
	for _, c := range f.Children {
		if !c.Removed {
			live = append(live, c)
		}
	}
	return live
}

// RemovedCount returns how many nodes (interface children and device
// nodes alike) have been removed.
func (f *FakeFramework) RemovedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Children {
		if c.Removed {
			n++
		}
	}
	for _, c := range f.devices {
		if c.Removed {
			n++
		}
	}
	return n
}
