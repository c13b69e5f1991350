package composite

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kevmo314/usb-composite-core/framework"
	"github.com/kevmo314/usb-composite-core/hci"

	"golang.org/x/sync/errgroup"
)

// configOverride is one entry of the built-in VID/PID override table
// (spec.md §6). The only shipped entry is the Realtek CDC device that ships
// in "storage mode" by default and needs configuration 2 selected to expose
// its CDC-ECM function.
type configOverride struct {
	VendorID      uint16
	ProductID     uint16
	Configuration uint8
}

var configOverrides = []configOverride{
	{VendorID: 0x0bda, ProductID: 0x8153, Configuration: 2},
}

// Device is spec.md §3's "Device record": the per-device state a Device
// Core instance owns for the lifetime of one enumerated USB device. mu
// guards the descriptor/configuration fields; interface state lives in
// registry, which has its own mutex, matching the spec's "interface_mutex
// protects interface_statuses and children" split from everything else.
type Device struct {
	ID       uint64
	HubID    uint64
	Speed    hci.Speed
	IsHub    bool
	HubCapability any

	mu                 sync.RWMutex
	deviceDescriptor   DeviceDescriptor
	configs            []ConfigBlob
	currentConfigIndex int

	registry *InterfaceRegistry
	relay    *Relay
	control  *ControlEngine
	strings  *stringCache
	pool     *requestPool

	hci    hci.Capability
	fw     framework.Capability
	logger *log.Logger

	node framework.Node
}

// AddDevice implements spec.md §4.5's add_device: fetches the device and
// configuration descriptors, picks a configuration (honoring the VID/PID
// override table), issues SET_CONFIGURATION, starts the Request Relay,
// publishes the device node non-bindable, then walks and publishes the
// chosen configuration's interfaces.
//
// Grounded on usb-device.c:usb_device_add and usb-composite.c:
// usb_composite_bind.
func AddDevice(capability hci.Capability, fw framework.Capability, deviceID, hubID uint64, speed hci.Speed, logger *log.Logger) (*Device, error) {
	if logger == nil {
		logger = log.Default()
	}

	pool := newRequestPool()
	control := newControlEngine(capability, deviceID, pool)

	devDescBuf := make([]byte, deviceDescriptorLength)
	_, actual, err := control.Control(0x80, reqGetDescriptor, uint16(descTypeDevice)<<8, 0, devDescBuf, defaultControlTimeout)
	if err != nil {
		return nil, err
	}
	if actual < deviceDescriptorLength {
		return nil, newError(CodeIO, "add_device", fmt.Errorf("short device descriptor read: %d bytes", actual))
	}
	devDesc, err := parseDeviceDescriptor(devDescBuf)
	if err != nil {
		return nil, newError(CodeIO, "add_device", err)
	}

	configs, err := fetchConfigurations(control, devDesc.NumConfigurations)
	if err != nil {
		return nil, err
	}

	configIndex, err := chooseConfigurationIndex(devDesc, configs)
	if err != nil {
		return nil, err
	}
	chosen := configs[configIndex]

	if _, _, err := control.Control(0x00, reqSetConfiguration, uint16(chosen.ConfigurationValue()), 0, nil, defaultControlTimeout); err != nil {
		return nil, err
	}

	relay := NewRelay(capability, deviceID)
	registry := NewInterfaceRegistry(fw, chosen.NumInterfaces())

	d := &Device{
		ID:                 deviceID,
		HubID:              hubID,
		Speed:              speed,
		deviceDescriptor:   devDesc,
		configs:            configs,
		currentConfigIndex: configIndex,
		registry:           registry,
		relay:              relay,
		control:            control,
		pool:               pool,
		hci:                capability,
		fw:                 fw,
		logger:             logger,
	}
	d.strings = newStringCache(control)

	node, err := fw.AddDevice(fmt.Sprintf("%03d", deviceID), framework.Props{
		VendorID:  devDesc.VendorID,
		ProductID: devDesc.ProductID,
		Class:     devDesc.DeviceClass,
		SubClass:  devDesc.DeviceSubClass,
		Protocol:  devDesc.DeviceProtocol,
		Bindable:  false,
	})
	if err != nil {
		relay.Shutdown()
		return nil, newError(CodeIO, "add_device", err)
	}
	d.node = node

	if err := d.walkAndPublish(chosen); err != nil {
		logger.Printf("composite: device %03d: interface publication reported %v", deviceID, err)
		return d, err
	}
	return d, nil
}

// fetchConfigurations fetches each of the device's configuration descriptors
// (9-byte header, then the full wTotalLength blob), fanned out with
// errgroup since the fetches are independent round-trips and config[i] only
// depends on index i, not on any other index having completed.
func fetchConfigurations(control *ControlEngine, numConfigurations uint8) ([]ConfigBlob, error) {
	configs := make([]ConfigBlob, numConfigurations)
	var g errgroup.Group
	g.SetLimit(maxFanout)
	for i := uint8(0); i < numConfigurations; i++ {
		index := i
		g.Go(func() error {
			header := make([]byte, configHeaderLength)
			_, actual, err := control.Control(0x80, reqGetDescriptor, (uint16(descTypeConfig)<<8)|uint16(index), 0, header, defaultControlTimeout)
			if err != nil {
				return err
			}
			if actual < configHeaderLength {
				return newError(CodeIO, "add_device", fmt.Errorf("short config header read: %d bytes", actual))
			}
			total := ConfigBlob(header).TotalLength()
			if total < configHeaderLength {
				return newError(CodeIO, "add_device", fmt.Errorf("config %d reports implausible wTotalLength %d", index, total))
			}
			blob := make([]byte, total)
			_, actual, err = control.Control(0x80, reqGetDescriptor, (uint16(descTypeConfig)<<8)|uint16(index), 0, blob, defaultControlTimeout)
			if err != nil {
				return err
			}
			if actual < int(total) {
				return newError(CodeIO, "add_device", fmt.Errorf("short config %d body read: %d of %d bytes", index, actual, total))
			}
			configs[index] = ConfigBlob(blob)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return configs, nil
}

// chooseConfigurationIndex implements spec.md §4.5 step 3: default
// configuration 1, overridden by the VID/PID table, validated against the
// actual number of configurations fetched.
func chooseConfigurationIndex(desc DeviceDescriptor, configs []ConfigBlob) (int, error) {
	configuration := uint8(1)
	for _, o := range configOverrides {
		if o.VendorID == desc.VendorID && o.ProductID == desc.ProductID {
			configuration = o.Configuration
			break
		}
	}
	if configuration < 1 || int(configuration) > len(configs) {
		return 0, newError(CodeInternal, "add_device", fmt.Errorf("override configuration %d out of range [1,%d]", configuration, len(configs)))
	}
	return int(configuration) - 1, nil
}

// walkAndPublish walks config and publishes each group through the
// registry. Per-group publish failures are logged and do not abort the
// rest. The first error encountered is returned to the caller; later
// errors are only logged, and errors are not ranked by severity.
func (d *Device) walkAndPublish(config ConfigBlob) error {
	result, err := Walk(config)
	if err != nil {
		return err
	}

	var first error
	for _, group := range result.Groups {
		interfaces := groupInterfaces(config, group)
		span := append([]byte(nil), group.Span...) // copy-out design, §9
		props := framework.Props{
			VendorID:  d.deviceDescriptor.VendorID,
			ProductID: d.deviceDescriptor.ProductID,
			Bindable:  true,
		}
		name := fmt.Sprintf("%03d", d.ID)
		if _, _, err := d.registry.Publish(name, group.FirstInterface, interfaces, span, props); err != nil {
			d.logger.Printf("composite: device %03d: publish interface %d failed: %v", d.ID, group.FirstInterface, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// groupInterfaces enumerates the distinct top-level interface numbers a
// group covers. For a plain interface group that's just FirstInterface; for
// an IAD it's FirstInterface..FirstInterface+InterfaceCount-1, the standard
// IAD convention (bFirstInterface is the lowest-numbered member and members
// are contiguous).
func groupInterfaces(config ConfigBlob, group Group) []uint8 {
	if group.Kind == GroupInterface {
		return []uint8{group.FirstInterface}
	}
	interfaces := make([]uint8, 0, group.InterfaceCount)
	for i := uint8(0); i < group.InterfaceCount; i++ {
		interfaces = append(interfaces, group.FirstInterface+i)
	}
	return interfaces
}

// SetConfiguration implements spec.md §4.5's set_configuration(n): locates
// the configuration whose bConfigurationValue == n, issues
// SET_CONFIGURATION, retracts all existing children, resets interface
// statuses, and republishes.
func (d *Device) SetConfiguration(value uint8) error {
	d.mu.Lock()
	index := -1
	for i, c := range d.configs {
		if c.ConfigurationValue() == value {
			index = i
			break
		}
	}
	if index < 0 {
		d.mu.Unlock()
		return newError(CodeInvalidArgs, "set_configuration", fmt.Errorf("no configuration with bConfigurationValue %d", value))
	}
	chosen := d.configs[index]
	d.mu.Unlock()

	if _, _, err := d.control.Control(0x00, reqSetConfiguration, uint16(value), 0, nil, defaultControlTimeout); err != nil {
		return err
	}

	if err := d.registry.RetractAll(); err != nil {
		return err
	}
	d.registry.Reset(chosen.NumInterfaces())

	d.mu.Lock()
	d.currentConfigIndex = index
	d.mu.Unlock()

	return d.walkAndPublish(chosen)
}

// Configuration returns the bConfigurationValue of the currently active
// configuration, implementing get_configuration's side of the "Control
// round-trip" testable property.
func (d *Device) Configuration() uint8 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.configs[d.currentConfigIndex].ConfigurationValue()
}

// SetInterface implements set_interface(intf_num, alt): locates the child
// owning intf_num and forwards the alternate-setting selection to it via a
// SET_INTERFACE control transfer.
func (d *Device) SetInterface(interfaceNumber, alt uint8) error {
	if d.registry.Status(interfaceNumber) == Available {
		return newError(CodeInvalidArgs, "set_interface", fmt.Errorf("interface %d has no owning child", interfaceNumber))
	}
	_, _, err := d.control.Control(0x01, reqSetInterface, uint16(alt), uint16(interfaceNumber), nil, defaultControlTimeout)
	return err
}

// SetHubInterface stores an opaque hub capability reference for IsHub
// devices. Hub port/status protocol is explicitly out of scope for this
// core (spec.md §9's "DEVICE_HUB_ID vs true hub interface" design note);
// this setter exists only so a hub driver bound to this device node has
// somewhere to leave its capability handle.
func (d *Device) SetHubInterface(capability any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.HubCapability = capability
}

// ClaimInterface forwards to the registry's claim operation.
func (d *Device) ClaimInterface(interfaceNumber uint8) error {
	return d.registry.Claim(interfaceNumber)
}

// InterfaceStatus reports the current status of an interface number.
func (d *Device) InterfaceStatus(interfaceNumber uint8) InterfaceStatus {
	return d.registry.Status(interfaceNumber)
}

// CancelAll exposes cancel_all(ep) to class drivers.
func (d *Device) CancelAll(endpoint uint8) error {
	return d.hci.CancelAll(d.ID, endpoint)
}

// ResetEndpoint exposes reset_endpoint(ep).
func (d *Device) ResetEndpoint(endpoint uint8) error {
	return d.hci.ResetEndpoint(d.ID, endpoint)
}

// MaxTransferSize exposes get_max_transfer_size(ep).
func (d *Device) MaxTransferSize(endpoint uint8) int {
	return d.hci.MaxTransferSize(d.ID, endpoint)
}

// CurrentFrame exposes the HCI's frame counter.
func (d *Device) CurrentFrame() uint64 {
	return d.hci.CurrentFrame()
}

// DeviceDescriptorBytes returns the 18-byte device descriptor, re-encoded
// little-endian, for get_device_descriptor/GET_DEVICE_DESC.
func (d *Device) DeviceDescriptorBytes() []byte {
	d.mu.RLock()
	desc := d.deviceDescriptor
	d.mu.RUnlock()
	return encodeDeviceDescriptor(desc)
}

// DeviceDescriptor returns the parsed device descriptor.
func (d *Device) DeviceDescriptor() DeviceDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.deviceDescriptor
}

// ConfigDescriptor returns the raw blob for the configuration at the given
// index (0-based, matching bNumConfigurations order), for
// GET_CONFIG_DESC(config).
func (d *Device) ConfigDescriptor(index int) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if index < 0 || index >= len(d.configs) {
		return nil, newError(CodeInvalidArgs, "get_config_desc", fmt.Errorf("configuration index %d out of range", index))
	}
	return append([]byte(nil), d.configs[index]...), nil
}

// DescriptorList returns a copy of the currently active configuration blob,
// implementing get_descriptor_list's "heap-allocated copy" contract.
func (d *Device) DescriptorList() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]byte(nil), d.configs[d.currentConfigIndex]...)
}

// GetStringDescriptor implements get_string_descriptor via the string
// descriptor cache.
func (d *Device) GetStringDescriptor(descID uint8, langID uint16) (string, error) {
	return d.strings.GetString(descID, langID)
}

// QueueRequest forwards a non-control request through the Relay, so client
// completion callbacks never run on HCI's own completion thread.
func (d *Device) QueueRequest(req *hci.Request) error {
	return d.relay.Queue(req)
}

// Control exposes the Control Transfer Engine directly to class drivers.
func (d *Device) Control(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (hci.Status, int, error) {
	return d.control.Control(requestType, request, value, index, data, timeout)
}

// Release implements spec.md §4.5's release: stops the Request Relay
// (joining its goroutine) and drops the device's own state. Configuration
// blobs, language IDs, and interface statuses are ordinary Go values and
// are reclaimed by the garbage collector once Release returns and the
// caller drops its reference, so there is nothing to explicitly free beyond
// the relay goroutine — unlike the C original, which must free() each field
// by hand.
func (d *Device) Release() error {
	d.relay.Shutdown()
	if err := d.registry.RetractAll(); err != nil {
		return err
	}
	if d.node != nil {
		return d.fw.RemoveChild(d.node)
	}
	return nil
}

func encodeDeviceDescriptor(desc DeviceDescriptor) []byte {
	buf := make([]byte, deviceDescriptorLength)
	buf[0] = desc.Length
	buf[1] = desc.DescriptorType
	putUint16(buf[2:4], desc.BCDUSB)
	buf[4] = desc.DeviceClass
	buf[5] = desc.DeviceSubClass
	buf[6] = desc.DeviceProtocol
	buf[7] = desc.MaxPacketSize0
	putUint16(buf[8:10], desc.VendorID)
	putUint16(buf[10:12], desc.ProductID)
	putUint16(buf[12:14], desc.BCDDevice)
	buf[14] = desc.ManufacturerIndex
	buf[15] = desc.ProductIndex
	buf[16] = desc.SerialNumberIndex
	buf[17] = desc.NumConfigurations
	return buf
}

func putUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
