// Package usbids resolves vendor/product/class IDs to human-readable names
// for diagnostic output (compositectl's device summary, log lines), loading
// the standard usb.ids database format when one is installed and falling
// back to a small built-in seed table otherwise.
package usbids

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Vendor is one vendor's name and its known product IDs.
type Vendor struct {
	Name     string
	Products map[uint16]string
}

// Database is a loadable vendor/product/class name table, safe for
// concurrent use.
type Database struct {
	mu      sync.RWMutex
	vendors map[uint16]Vendor
	classes map[uint8]string
	loaded  bool
}

var global = &Database{
	vendors: make(map[uint16]Vendor),
	classes: make(map[uint8]string),
}

func init() {
	global.seed()
}

// seed populates a handful of common vendors and the standard USB class
// codes, so VendorName/ProductName/ClassName return something useful even
// when no usb.ids file is installed.
func (db *Database) seed() {
	db.vendors[0x1d6b] = Vendor{
		Name: "Linux Foundation",
		Products: map[uint16]string{
			0x0001: "1.1 root hub",
			0x0002: "2.0 root hub",
			0x0003: "3.0 root hub",
		},
	}
	db.vendors[0x174c] = Vendor{
		Name: "ASMedia Technology Inc.",
		Products: map[uint16]string{
			0x2074: "ASM1074 High-Speed hub",
			0x3074: "ASM1074 SuperSpeed hub",
		},
	}
	db.vendors[0x046d] = Vendor{
		Name: "Logitech, Inc.",
		Products: map[uint16]string{
			0x08e5: "C920 PRO HD Webcam",
		},
	}
	db.vendors[0x0bda] = Vendor{
		Name: "Realtek Semiconductor Corp.",
		Products: map[uint16]string{
			0x8153: "RTL8153 Gigabit Ethernet Adapter",
		},
	}

	db.classes[0x00] = "Use class information in the Interface Descriptors"
	db.classes[0x01] = "Audio"
	db.classes[0x02] = "Communications and CDC Control"
	db.classes[0x03] = "Human Interface Device"
	db.classes[0x05] = "Physical"
	db.classes[0x06] = "Image"
	db.classes[0x07] = "Printer"
	db.classes[0x08] = "Mass Storage"
	db.classes[0x09] = "Hub"
	db.classes[0x0a] = "CDC Data"
	db.classes[0x0b] = "Smart Card"
	db.classes[0x0d] = "Content Security"
	db.classes[0x0e] = "Video"
	db.classes[0x0f] = "Personal Healthcare"
	db.classes[0x10] = "Audio/Video Devices"
	db.classes[0xdc] = "Diagnostic"
	db.classes[0xe0] = "Wireless"
	db.classes[0xef] = "Miscellaneous Device"
	db.classes[0xfe] = "Application Specific"
	db.classes[0xff] = "Vendor Specific"
}

// LoadFromFile parses a usb.ids-format file (the same format usbutils
// ships) into db, replacing any entry the file redefines.
func (db *Database) LoadFromFile(path string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var currentVendor uint16
	inVendor := false

	for scanner.Scan() {
		raw := scanner.Text()
		line := strings.TrimSpace(raw)
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "C ") {
			inVendor = false
			continue
		}

		if !strings.HasPrefix(raw, "\t") {
			inVendor = false
			if len(line) >= 4 && isHex(line[:4]) {
				vid, err := strconv.ParseUint(line[:4], 16, 16)
				if err != nil {
					continue
				}
				currentVendor = uint16(vid)
				vendor := db.vendors[currentVendor]
				vendor.Name = strings.TrimSpace(line[4:])
				if vendor.Products == nil {
					vendor.Products = make(map[uint16]string)
				}
				db.vendors[currentVendor] = vendor
				inVendor = true
			}
			continue
		}

		if inVendor && !strings.HasPrefix(raw, "\t\t") && len(line) >= 4 && isHex(line[:4]) {
			pid, err := strconv.ParseUint(line[:4], 16, 16)
			if err != nil {
				continue
			}
			vendor := db.vendors[currentVendor]
			if vendor.Products == nil {
				vendor.Products = make(map[uint16]string)
			}
			vendor.Products[uint16(pid)] = strings.TrimSpace(line[4:])
			db.vendors[currentVendor] = vendor
		}
	}

	db.loaded = true
	return scanner.Err()
}

func (db *Database) VendorName(vid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid].Name
}

func (db *Database) ProductName(vid, pid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid].Products[pid]
}

func (db *Database) ClassName(class uint8) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.classes[class]
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

var systemPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/usr/share/usb.ids",
	"/var/lib/usbutils/usb.ids",
}

func ensureLoaded() {
	global.mu.RLock()
	loaded := global.loaded
	global.mu.RUnlock()
	if loaded {
		return
	}
	for _, path := range systemPaths {
		if err := global.LoadFromFile(path); err == nil {
			return
		}
	}
}

// VendorName resolves vid against the system usb.ids database (if present)
// plus the built-in seed table.
func VendorName(vid uint16) string {
	ensureLoaded()
	return global.VendorName(vid)
}

// ProductName resolves (vid, pid).
func ProductName(vid, pid uint16) string {
	ensureLoaded()
	return global.ProductName(vid, pid)
}

// ClassName resolves a bDeviceClass/bInterfaceClass value.
func ClassName(class uint8) string {
	return global.ClassName(class)
}
