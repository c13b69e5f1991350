package linuxhci

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SysfsEntry is one USB device node discovered under /sys/bus/usb/devices,
// enough for composite.AddDevice's caller to pick a device_id and call
// Backend.Register with the matching bus/address.
type SysfsEntry struct {
	Bus       uint8
	Address   uint8
	VendorID  uint16
	ProductID uint16
}

// Enumerate walks /sys/bus/usb/devices the way the teacher's
// SysfsEnumerator.EnumerateDevices does, skipping interface entries (which
// contain ':') and anything that isn't a device or root-hub node, and
// returns just the fields the bus-discovery half of add_device actually
// needs rather than the full descriptor set the teacher's SysfsDevice
// carries (string descriptors and bcdDevice/bcdUSB belong to the control
// transfer engine, not sysfs, once the composite core reads them itself).
func Enumerate() ([]SysfsEntry, error) {
	const sysfsDir = "/sys/bus/usb/devices"
	entries, err := os.ReadDir(sysfsDir)
	if err != nil {
		return nil, fmt.Errorf("linuxhci: read %s: %w", sysfsDir, err)
	}

	var devices []SysfsEntry
	for _, entry := range entries {
		name := entry.Name()
		if strings.Contains(name, ":") {
			continue
		}
		if !strings.Contains(name, "-") && !strings.HasPrefix(name, "usb") {
			continue
		}
		dev, err := readSysfsEntry(filepath.Join(sysfsDir, name))
		if err == nil {
			devices = append(devices, dev)
		}
	}
	return devices, nil
}

func readSysfsEntry(path string) (SysfsEntry, error) {
	readUint8 := func(filename string) (uint8, error) {
		data, err := os.ReadFile(filepath.Join(path, filename))
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 8)
		return uint8(v), err
	}
	readUint16Hex := func(filename string) (uint16, error) {
		data, err := os.ReadFile(filepath.Join(path, filename))
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 16, 16)
		return uint16(v), err
	}

	var dev SysfsEntry
	var err error
	if dev.Bus, err = readUint8("busnum"); err != nil {
		return SysfsEntry{}, err
	}
	if dev.Address, err = readUint8("devnum"); err != nil {
		return SysfsEntry{}, err
	}
	if dev.VendorID, err = readUint16Hex("idVendor"); err != nil {
		return SysfsEntry{}, err
	}
	if dev.ProductID, err = readUint16Hex("idProduct"); err != nil {
		return SysfsEntry{}, err
	}
	return dev, nil
}
