package composite

import (
	"fmt"
	"sync"

	"github.com/kevmo314/usb-composite-core/framework"
)

// InterfaceStatus is the per-interface-number state machine from spec.md
// §3/§4.2, a direct port of Zircon's interface_status_t.
type InterfaceStatus int

const (
	Available InterfaceStatus = iota
	PublishedChild
	Claimed
)

func (s InterfaceStatus) String() string {
	switch s {
	case Available:
		return "available"
	case PublishedChild:
		return "published"
	case Claimed:
		return "claimed"
	default:
		return "unknown"
	}
}

// InterfaceChild is one published interface-child record: the first
// interface number of the group it backs, every interface number the group
// covers (more than one for an IAD), the descriptor span the child was
// published with, and the framework node handle needed to retract it.
type InterfaceChild struct {
	FirstInterface uint8
	Interfaces     []uint8
	Span           []byte
	node           framework.Node
}

// InterfaceRegistry implements spec.md §4.2: it tracks interface_statuses
// and children under a single mutex (the spec's interface_mutex) and
// coordinates publish/claim/retract against the device-framework contract.
// Grounded on usb-composite.c's claim/publish pair and the spec's explicit
// TOCTOU re-check requirement.
type InterfaceRegistry struct {
	mu       sync.Mutex
	statuses map[uint8]InterfaceStatus
	children map[uint8]*InterfaceChild // keyed by FirstInterface
	fw       framework.Capability
}

// NewInterfaceRegistry sizes the status table to numInterfaces, all
// Available, matching add_device step 5 / set_configuration's reset.
func NewInterfaceRegistry(fw framework.Capability, numInterfaces uint8) *InterfaceRegistry {
	r := &InterfaceRegistry{
		fw:       fw,
		statuses: make(map[uint8]InterfaceStatus, numInterfaces),
		children: make(map[uint8]*InterfaceChild),
	}
	for i := uint8(0); i < numInterfaces; i++ {
		r.statuses[i] = Available
	}
	return r
}

// Status returns the current status of an interface number. Interfaces
// outside the current configuration's bNumInterfaces report Available,
// since the registry's map only ever holds entries for the sized range.
func (r *InterfaceRegistry) Status(interfaceNumber uint8) InterfaceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[interfaceNumber]
}

// childFor returns the child owning interfaceNumber, or nil. Callers must
// hold r.mu.
func (r *InterfaceRegistry) childFor(interfaceNumber uint8) *InterfaceChild {
	for _, c := range r.children {
		for _, n := range c.Interfaces {
			if n == interfaceNumber {
				return c
			}
		}
	}
	return nil
}

// Publish implements the publish(interface_number, descriptor_span)
// operation. interfaces lists every interface number the group covers
// (len==1 for a plain interface, len==InterfaceCount for an IAD); first is
// interfaces[0]. name is passed straight through to framework.AddChild.
//
// If status is already Claimed, Publish returns (nil, false, nil): "claimed"
// without publishing, no error. Otherwise it calls out to the framework
// without holding the lock, then re-checks status under the lock
// immediately after the call returns — the TOCTOU window spec.md §4.2
// requires class drivers racing to claim during enumeration to be able to
// rely on.
func (r *InterfaceRegistry) Publish(name string, first uint8, interfaces []uint8, span []byte, props framework.Props) (*InterfaceChild, bool, error) {
	r.mu.Lock()
	if r.statuses[first] == Claimed {
		r.mu.Unlock()
		return nil, false, nil
	}
	r.mu.Unlock()

	node, err := r.fw.AddChild(name, span, props)
	if err != nil {
		return nil, false, newError(CodeIO, "publish", err)
	}

	r.mu.Lock()
	if r.statuses[first] == Claimed {
		r.mu.Unlock()
		if rmErr := r.fw.RemoveChild(node); rmErr != nil {
			return nil, false, newError(CodeIO, "publish", rmErr)
		}
		return nil, false, nil
	}

	child := &InterfaceChild{FirstInterface: first, Interfaces: append([]uint8(nil), interfaces...), Span: span, node: node}
	for _, n := range interfaces {
		r.statuses[n] = PublishedChild
	}
	r.children[first] = child
	r.mu.Unlock()

	return child, true, nil
}

// Claim implements claim(interface_number): fails already_bound if already
// Claimed; if PublishedChild, retracts the owning child (framework-remove,
// called outside the lock) before transitioning every interface number the
// retracted child covered to Claimed — not just interfaceNumber. A
// multi-interface child (an IAD group) only has one framework node backing
// all of its member interfaces, so once that node is retracted none of its
// members can remain PublishedChild: spec.md §3's invariant that no
// interface is simultaneously PublishedChild and outside children's
// complement would otherwise leave claim's siblings stuck pointing at a
// removed node.
func (r *InterfaceRegistry) Claim(interfaceNumber uint8) error {
	r.mu.Lock()
	status, known := r.statuses[interfaceNumber]
	if !known {
		r.mu.Unlock()
		return newError(CodeInvalidArgs, "claim", fmt.Errorf("unknown interface %d", interfaceNumber))
	}
	if status == Claimed {
		r.mu.Unlock()
		return newError(CodeAlreadyBound, "claim", nil)
	}

	var toRemove *InterfaceChild
	if status == PublishedChild {
		child := r.childFor(interfaceNumber)
		if child == nil {
			r.mu.Unlock()
			return newError(CodeBadState, "claim", fmt.Errorf("interface %d marked published with no backing child", interfaceNumber))
		}
		toRemove = child
		delete(r.children, child.FirstInterface)
		for _, n := range child.Interfaces {
			r.statuses[n] = Claimed
		}
	} else {
		r.statuses[interfaceNumber] = Claimed
	}
	r.mu.Unlock()

	if toRemove != nil {
		if err := r.fw.RemoveChild(toRemove.node); err != nil {
			return newError(CodeIO, "claim", err)
		}
	}
	return nil
}

// RetractAll iterates children, issues framework-remove on each, and empties
// the set — used by set_configuration and device release. Removal calls
// fan out through golang.org/x/sync/errgroup when there is more than one
// child, since framework-remove calls are independent of one
// another and the interface lock is already released before any of them
// run.
func (r *InterfaceRegistry) RetractAll() error {
	r.mu.Lock()
	children := make([]*InterfaceChild, 0, len(r.children))
	for _, c := range r.children {
		children = append(children, c)
	}
	r.children = make(map[uint8]*InterfaceChild)
	r.mu.Unlock()

	return retractChildren(r.fw, children)
}

// Reset replaces the status table with a fresh all-Available table sized to
// numInterfaces. Callers must call RetractAll first; Reset does not touch
// r.children.
func (r *InterfaceRegistry) Reset(numInterfaces uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = make(map[uint8]InterfaceStatus, numInterfaces)
	for i := uint8(0); i < numInterfaces; i++ {
		r.statuses[i] = Available
	}
}
