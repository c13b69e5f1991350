// Package ioctlsurface implements the fixed control-ioctl encodings of
// spec.md §6 on top of a *composite.Device. It is the one authoritative
// entry point for this module's ioctl surface, resolving the "dead
// configuration-switch path" design note by not porting usb-bus/
// usb-device.c's commented-out duplicate set_configuration at all: every
// SET_CONFIGURATION here goes through composite.Device.SetConfiguration.
//
// Grounded on usb-device.c:usb_device_ioctl, translated from its C
// switch/memcpy pattern into a Go switch over Op plus encoding/binary
// marshaling.
package ioctlsurface

import (
	"encoding/binary"
	"fmt"

	"github.com/kevmo314/usb-composite-core/composite"
)

// Op identifies one of the fixed ioctl operations from spec.md §6.
type Op int

const (
	OpGetDeviceType Op = iota
	OpGetDeviceSpeed
	OpGetDeviceDesc
	OpGetConfigDescSize
	OpGetConfigDesc
	OpGetDescriptorsSize
	OpGetDescriptors
	OpGetStringDesc
	OpGetCurrentFrame
	OpGetDeviceID
	OpGetDeviceHubID
	OpGetConfiguration
	OpSetConfiguration
	OpSetInterface
)

// stringDescRequest / stringDescResponse are the {desc_id, lang_id} in,
// {lang_id, data_len, data[]} out encodings GET_STRING_DESC uses.
type stringDescRequest struct {
	DescID uint8
	LangID uint16
}

// Dispatch decodes in, performs op against dev, and encodes the result into
// out, returning the number of bytes actually written (4 for a size query,
// whose result is the size itself). A buffer too small to hold the encoded
// result yields CodeBufferTooSmall without partial writes.
func Dispatch(dev *composite.Device, op Op, in []byte, out []byte) (int, error) {
	switch op {
	case OpGetDeviceType:
		return writeUint32(out, 0) // USB_DEVICE_TYPE: composite device core always reports 0 (device, not hub-only)

	case OpGetDeviceSpeed:
		return writeUint32(out, uint32(dev.Speed))

	case OpGetDeviceDesc:
		return writeBytes(out, dev.DeviceDescriptorBytes())

	case OpGetConfigDescSize:
		index, err := readConfigIndex(in)
		if err != nil {
			return 0, err
		}
		blob, err := dev.ConfigDescriptor(index)
		if err != nil {
			return 0, err
		}
		return writeUint32(out, uint32(len(blob)))

	case OpGetConfigDesc:
		index, err := readConfigIndex(in)
		if err != nil {
			return 0, err
		}
		blob, err := dev.ConfigDescriptor(index)
		if err != nil {
			return 0, err
		}
		return writeBytes(out, blob)

	case OpGetDescriptorsSize:
		return writeUint32(out, uint32(len(dev.DescriptorList())))

	case OpGetDescriptors:
		return writeBytes(out, dev.DescriptorList())

	case OpGetStringDesc:
		req, err := readStringDescRequest(in)
		if err != nil {
			return 0, err
		}
		s, err := dev.GetStringDescriptor(req.DescID, req.LangID)
		if err != nil {
			return 0, err
		}
		return writeStringDescResponse(out, req.LangID, s)

	case OpGetCurrentFrame:
		return writeUint64(out, dev.CurrentFrame())

	case OpGetDeviceID:
		return writeUint64(out, dev.ID)

	case OpGetDeviceHubID:
		return writeUint64(out, dev.HubID)

	case OpGetConfiguration:
		return writeUint32(out, uint32(dev.Configuration()))

	case OpSetConfiguration:
		value, err := readUint32(in)
		if err != nil {
			return 0, err
		}
		if err := dev.SetConfiguration(uint8(value)); err != nil {
			return 0, err
		}
		return 0, nil

	case OpSetInterface:
		intf, alt, err := readSetInterfaceRequest(in)
		if err != nil {
			return 0, err
		}
		if err := dev.SetInterface(intf, alt); err != nil {
			return 0, err
		}
		return 0, nil

	default:
		return 0, composite.NewUnsupportedError("ioctl", fmt.Errorf("unknown op %d", op))
	}
}

func readUint32(in []byte) (uint32, error) {
	if len(in) < 4 {
		return 0, composite.NewInvalidArgsError("ioctl", fmt.Errorf("input too short: need 4 bytes, got %d", len(in)))
	}
	return binary.LittleEndian.Uint32(in), nil
}

func readConfigIndex(in []byte) (int, error) {
	v, err := readUint32(in)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func readStringDescRequest(in []byte) (stringDescRequest, error) {
	if len(in) < 3 {
		return stringDescRequest{}, composite.NewInvalidArgsError("ioctl", fmt.Errorf("GET_STRING_DESC input too short: need 3 bytes, got %d", len(in)))
	}
	return stringDescRequest{
		DescID: in[0],
		LangID: binary.LittleEndian.Uint16(in[1:3]),
	}, nil
}

func readSetInterfaceRequest(in []byte) (uint8, uint8, error) {
	if len(in) < 2 {
		return 0, 0, composite.NewInvalidArgsError("ioctl", fmt.Errorf("SET_INTERFACE input too short: need 2 bytes, got %d", len(in)))
	}
	return in[0], in[1], nil
}

func writeUint32(out []byte, v uint32) (int, error) {
	if len(out) < 4 {
		return 0, composite.NewBufferTooSmallError("ioctl", fmt.Errorf("output too small: need 4 bytes, have %d", len(out)))
	}
	binary.LittleEndian.PutUint32(out, v)
	return 4, nil
}

func writeUint64(out []byte, v uint64) (int, error) {
	if len(out) < 8 {
		return 0, composite.NewBufferTooSmallError("ioctl", fmt.Errorf("output too small: need 8 bytes, have %d", len(out)))
	}
	binary.LittleEndian.PutUint64(out, v)
	return 8, nil
}

func writeBytes(out []byte, data []byte) (int, error) {
	if len(out) < len(data) {
		return 0, composite.NewBufferTooSmallError("ioctl", fmt.Errorf("output too small: need %d bytes, have %d", len(data), len(out)))
	}
	copy(out, data)
	return len(data), nil
}

func writeStringDescResponse(out []byte, langID uint16, s string) (int, error) {
	data := []byte(s)
	need := 4 + len(data)
	if len(out) < need {
		return 0, composite.NewBufferTooSmallError("ioctl", fmt.Errorf("output too small: need %d bytes, have %d", need, len(out)))
	}
	binary.LittleEndian.PutUint16(out[0:2], langID)
	binary.LittleEndian.PutUint16(out[2:4], uint16(len(data)))
	copy(out[4:], data)
	return need, nil
}
