package composite

import (
	"encoding/binary"
	"fmt"
)

// USB descriptor types, standard requests, and feature selectors, named the
// way the teacher names them in usb.go/types_common.go rather than given
// idiomatic Go identifiers, since these are wire constants fixed by the USB
// specification itself.
const (
	descTypeDevice       = 0x01
	descTypeConfig       = 0x02
	descTypeString       = 0x03
	descTypeInterface    = 0x04
	descTypeEndpoint     = 0x05
	descTypeIAD          = 0x0B
	descTypeSSEndpointCo = 0x30
)

const (
	reqGetStatus        = 0x00
	reqClearFeature     = 0x01
	reqSetFeature       = 0x03
	reqSetAddress       = 0x05
	reqGetDescriptor    = 0x06
	reqSetDescriptor    = 0x07
	reqGetConfiguration = 0x08
	reqSetConfiguration = 0x09
	reqGetInterface     = 0x0A
	reqSetInterface     = 0x0B
	reqSynchFrame       = 0x0C
)

const (
	deviceDescriptorLength = 18
	configHeaderLength     = 9
)

// DeviceDescriptor is the parsed 18-byte standard USB device descriptor
// (spec.md §3's "device_descriptor"). Fields are named after their bNNN/wNNN
// wire names rather than re-cased, matching the teacher's DeviceDescriptor
// in device.go.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	BCDUSB            uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	BCDDevice         uint16
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

func parseDeviceDescriptor(buf []byte) (DeviceDescriptor, error) {
	if len(buf) < deviceDescriptorLength {
		return DeviceDescriptor{}, fmt.Errorf("device descriptor too short: %d bytes", len(buf))
	}
	return DeviceDescriptor{
		Length:            buf[0],
		DescriptorType:    buf[1],
		BCDUSB:            binary.LittleEndian.Uint16(buf[2:4]),
		DeviceClass:       buf[4],
		DeviceSubClass:    buf[5],
		DeviceProtocol:    buf[6],
		MaxPacketSize0:    buf[7],
		VendorID:          binary.LittleEndian.Uint16(buf[8:10]),
		ProductID:         binary.LittleEndian.Uint16(buf[10:12]),
		BCDDevice:         binary.LittleEndian.Uint16(buf[12:14]),
		ManufacturerIndex: buf[14],
		ProductIndex:      buf[15],
		SerialNumberIndex: buf[16],
		NumConfigurations: buf[17],
	}, nil
}

// ConfigBlob is a configuration descriptor stored verbatim, exactly as
// received on the wire (spec.md §3: "each blob is stored verbatim"). Field
// accessors below honor little-endian wire ordering; nothing here
// materializes a parsed struct the way the teacher's ConfigDescriptor does:
// the walker slices descriptor spans straight out of these bytes, and each
// interface child receives a copy of its span with all alt-settings intact
// (see InterfaceChild.Span in registry.go).
type ConfigBlob []byte

func (b ConfigBlob) valid() bool { return len(b) >= configHeaderLength }

// TotalLength is wTotalLength, offset 2 of the 9-byte header.
func (b ConfigBlob) TotalLength() uint16 {
	if !b.valid() {
		return 0
	}
	return binary.LittleEndian.Uint16(b[2:4])
}

// NumInterfaces is bNumInterfaces, offset 4.
func (b ConfigBlob) NumInterfaces() uint8 {
	if !b.valid() {
		return 0
	}
	return b[4]
}

// ConfigurationValue is bConfigurationValue, offset 5 — the value passed to
// SET_CONFIGURATION to select this configuration.
func (b ConfigBlob) ConfigurationValue() uint8 {
	if !b.valid() {
		return 0
	}
	return b[5]
}

// end returns the configured end of the blob, clamped to the slice's actual
// length so a bogus wTotalLength can never walk past the bytes we hold.
func (b ConfigBlob) end() int {
	total := int(b.TotalLength())
	if total > len(b) || total < configHeaderLength {
		return len(b)
	}
	return total
}

// descriptorHeader reads the 2-byte (bLength, bDescriptorType) prefix
// present at the start of every USB descriptor.
type descriptorHeader struct {
	Length uint8
	Type   uint8
}

func headerAt(b []byte, pos int) (descriptorHeader, bool) {
	if pos+2 > len(b) {
		return descriptorHeader{}, false
	}
	return descriptorHeader{Length: b[pos], Type: b[pos+1]}, true
}
