// Command compositectl is a thin illustration of the composite device core
// wired against the in-memory fake backends, in the spirit of the teacher's
// cmd/lsusb — bare flag/log, no third-party CLI framework, since none of
// the example repos reach for one either.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/kevmo314/usb-composite-core/composite"
	"github.com/kevmo314/usb-composite-core/composite/composetest"
	"github.com/kevmo314/usb-composite-core/hci"
	"github.com/kevmo314/usb-composite-core/usbids"
)

func main() {
	deviceID := flag.Uint64("device-id", 0, "synthetic device_id to report")
	vendorID := flag.Uint("vid", 0x0bda, "vendor id to simulate")
	productID := flag.Uint("pid", 0x8153, "product id to simulate")
	flag.Parse()

	fakeHCI := composetest.NewFakeHCI(fakeDeviceCompleter(uint16(*vendorID), uint16(*productID)))
	fw := composetest.NewFakeFramework()

	dev, err := composite.AddDevice(fakeHCI, fw, *deviceID, 0, hci.SpeedHigh, log.New(os.Stderr, "compositectl: ", 0))
	if err != nil {
		log.Fatalf("add_device: %v", err)
	}

	desc := dev.DeviceDescriptor()
	name := usbids.VendorName(desc.VendorID)
	if name == "" {
		name = "unknown vendor"
	}
	fmt.Printf("device %03d: vid=0x%04x pid=0x%04x (%s) configuration=%d\n",
		dev.ID, desc.VendorID, desc.ProductID, name, dev.Configuration())
	for _, child := range fw.Live() {
		fmt.Printf("  child %q span=%d bytes\n", child.Node.Name, len(child.Node.Span))
	}
}

// fakeDeviceCompleter simulates a two-configuration device descriptor
// round-trip (both configurations carry the same single interface, with
// bConfigurationValue = index+1) so compositectl has something to walk
// without touching real hardware, including when the VID/PID override table
// selects configuration 2.
func fakeDeviceCompleter(vendorID, productID uint16) composetest.Completer {
	config := buildSingleInterfaceConfig()
	return func(req *hci.Request) {
		request := req.Setup[1]
		value := binary.LittleEndian.Uint16(req.Setup[2:4])

		switch {
		case request == 0x06 && value>>8 == 0x01: // GET_DESCRIPTOR(DEVICE)
			desc := buildDeviceDescriptor(vendorID, productID)
			n := copy(req.Data, desc)
			req.Actual = n
		case request == 0x06 && value>>8 == 0x02: // GET_DESCRIPTOR(CONFIG, index)
			n := copy(req.Data, config)
			if n > 5 {
				req.Data[5] = uint8(value) + 1 // bConfigurationValue
			}
			req.Actual = n
		case request == 0x09: // SET_CONFIGURATION
			req.Actual = 0
		default:
			req.Actual = 0
		}
		req.Status = hci.StatusOK
		if req.Callback != nil {
			req.Callback(req)
		}
	}
}

func buildDeviceDescriptor(vendorID, productID uint16) []byte {
	b := make([]byte, 18)
	b[0] = 18
	b[1] = 0x01
	binary.LittleEndian.PutUint16(b[8:10], vendorID)
	binary.LittleEndian.PutUint16(b[10:12], productID)
	b[17] = 2 // bNumConfigurations
	return b
}

func buildSingleInterfaceConfig() []byte {
	b := make([]byte, 9+9+7+7)
	b[0] = 9
	b[1] = 0x02
	binary.LittleEndian.PutUint16(b[2:4], uint16(len(b)))
	b[4] = 1 // bNumInterfaces
	b[5] = 1 // bConfigurationValue

	iface := b[9:18]
	iface[0] = 9
	iface[1] = 0x04
	iface[4] = 2 // bNumEndpoints

	ep1 := b[18:25]
	ep1[0] = 7
	ep1[1] = 0x05
	ep1[2] = 0x81

	ep2 := b[25:32]
	ep2[0] = 7
	ep2[1] = 0x05
	ep2[2] = 0x02

	return b
}
