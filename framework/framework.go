// Package framework declares the device-framework contract the composite
// core publishes nodes through. It mirrors the zx device_add/device_remove
// surface referenced by usb-composite.c, reduced to the handful of calls
// the core actually makes.
package framework

// Props is the set of bind properties a published node carries. The device
// node itself is published non-bindable; interface children carry the
// narrower subset a class driver matches against.
type Props struct {
	VendorID  uint16
	ProductID uint16
	Class     uint8
	SubClass  uint8
	Protocol  uint8
	Bindable  bool
}

// Node is an opaque handle returned by AddChild/AddDevice. The core never
// inspects it; it only ever hands it back to RemoveChild.
type Node any

// Capability is the upward contract a device-framework implementation must
// satisfy. name is the framework node name; span is the raw descriptor bytes
// backing an interface child, kept verbatim so a bound driver can still walk
// alt-settings out of it.
type Capability interface {
	AddDevice(name string, props Props) (Node, error)
	AddChild(name string, span []byte, props Props) (Node, error)
	RemoveChild(node Node) error
}
