package composite

import (
	"encoding/binary"
	"encoding/hex"
	"log"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kevmo314/usb-composite-core/composite/composetest"
	"github.com/kevmo314/usb-composite-core/hci"
)

// buildTestDeviceDescriptor and the buildTestConfig* helpers construct the
// shapes walker_test.go uses, with bConfigurationValue settable, since
// device_test needs to patch bNumConfigurations/index live into a
// multi-request fake.
func buildTestDeviceDescriptor(vendorID, productID uint16) []byte {
	b := make([]byte, 18)
	b[0] = 18
	b[1] = descTypeDevice
	binary.LittleEndian.PutUint16(b[8:10], vendorID)
	binary.LittleEndian.PutUint16(b[10:12], productID)
	b[17] = 1
	return b
}

// buildTestConfigSingleInterface is the single-interface, two-endpoint
// config from TestWalkSingleInterface, with bConfigurationValue settable.
func buildTestConfigSingleInterface(configValue uint8) []byte {
	b := make([]byte, 9+9+7+7)
	b[0] = 9
	b[1] = descTypeConfig
	binary.LittleEndian.PutUint16(b[2:4], uint16(len(b)))
	b[4] = 1 // bNumInterfaces
	b[5] = configValue

	iface := b[9:18]
	iface[0] = 9
	iface[1] = descTypeInterface
	iface[4] = 2 // bNumEndpoints

	ep1 := b[18:25]
	ep1[0] = 7
	ep1[1] = descTypeEndpoint
	ep1[2] = 0x81

	ep2 := b[25:32]
	ep2[0] = 7
	ep2[1] = descTypeEndpoint
	ep2[2] = 0x02

	return b
}

// buildTestConfigIAD is the IAD group from TestWalkInterfaceAssociation (a
// video-control/video-streaming pair under a single IAD), with
// bConfigurationValue settable, for exercising registry.Publish's
// multi-interface status loop through AddDevice end-to-end.
func buildTestConfigIAD(configValue uint8) []byte {
	b, err := hex.DecodeString(
		"09023300020100c032" + // Config: 51 bytes total, 2 interfaces
			"080b00020e030000" + // IAD: first=0, count=2, video class
			"09040000000e010000" + // Interface 0, alt 0, video control
			"09040100000e020000" + // Interface 1, alt 0, video streaming, 0 endpoints
			"09040101010e020000" + // Interface 1, alt 1, video streaming, 1 endpoint
			"07058105000201") // Endpoint 0x81 IN isochronous
	if err != nil {
		panic(err)
	}
	b[5] = configValue
	return b
}

// deviceFakeHCI answers the enumeration sequence add_device issues: one
// GET_DESCRIPTOR(DEVICE), one GET_DESCRIPTOR(CONFIG, i) header/body pair per
// configuration, and a SET_CONFIGURATION.
type deviceFakeHCI struct {
	deviceDescriptor []byte
	configs          [][]byte
}

func (d *deviceFakeHCI) RequestQueue(req *hci.Request) error {
	go func() {
		request := req.Setup[1]
		value := binary.LittleEndian.Uint16(req.Setup[2:4])
		switch request {
		case reqGetDescriptor:
			descType := value >> 8
			index := uint8(value)
			switch descType {
			case descTypeDevice:
				req.Actual = copy(req.Data, d.deviceDescriptor)
			case descTypeConfig:
				if int(index) < len(d.configs) {
					req.Actual = copy(req.Data, d.configs[index])
				}
			}
		case reqSetConfiguration, reqSetInterface:
			req.Actual = 0
		}
		req.Status = hci.StatusOK
		if req.Callback != nil {
			req.Callback(req)
		}
	}()
	return nil
}

func (d *deviceFakeHCI) CancelAll(deviceID uint64, endpoint uint8) error     { return nil }
func (d *deviceFakeHCI) ResetEndpoint(deviceID uint64, endpoint uint8) error { return nil }
func (d *deviceFakeHCI) CurrentFrame() uint64                               { return 0 }
func (d *deviceFakeHCI) MaxTransferSize(deviceID uint64, endpoint uint8) int { return 0 }

func newTestLogger() *log.Logger {
	return log.New(testWriter{}, "", 0)
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

// TestDeviceAddDevicePublishesInterface is spec.md §8 scenario 1: a single
// vendor-specific interface enumerates to one published child.
func TestDeviceAddDevicePublishesInterface(t *testing.T) {
	fake := &deviceFakeHCI{
		deviceDescriptor: buildTestDeviceDescriptor(0x1234, 0x5678),
		configs:          [][]byte{buildTestConfigSingleInterface(1)},
	}
	fw := composetest.NewFakeFramework()

	dev, err := AddDevice(fake, fw, 1, 0, hci.SpeedHigh, newTestLogger())
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), dev.DeviceDescriptor().VendorID)
	require.Equal(t, uint8(1), dev.Configuration())
	require.Len(t, fw.Live(), 1, "one published interface child")
	require.Equal(t, PublishedChild, dev.InterfaceStatus(0))

	require.NoError(t, dev.ClaimInterface(0))
	require.Equal(t, Claimed, dev.InterfaceStatus(0))
	require.Empty(t, fw.Live())

	require.NoError(t, dev.Release())
	require.Equal(t, 2, fw.RemovedCount(), "the interface child, plus the device node itself")
}

// TestDeviceClaimInterfaceGroup is spec.md §8 scenario 2: a composite device
// whose config carries an IAD grouping two interfaces enumerates to a single
// published child covering both interface numbers
// ("interface_statuses = [PublishedChild, PublishedChild]"), and claiming
// either member — here the non-first one — retracts that one shared child
// and flips both interface numbers to Claimed. Exercised through AddDevice
// and Device.ClaimInterface, not just the Walk algorithm in walker_test.go
// or InterfaceRegistry directly in registry_test.go.
func TestDeviceClaimInterfaceGroup(t *testing.T) {
	fake := &deviceFakeHCI{
		deviceDescriptor: buildTestDeviceDescriptor(0x1234, 0x5678),
		configs:          [][]byte{buildTestConfigIAD(1)},
	}
	fw := composetest.NewFakeFramework()

	dev, err := AddDevice(fake, fw, 1, 0, hci.SpeedHigh, newTestLogger())
	require.NoError(t, err)
	require.Equal(t, PublishedChild, dev.InterfaceStatus(0))
	require.Equal(t, PublishedChild, dev.InterfaceStatus(1))
	require.Len(t, fw.Live(), 1, "one child spanning both grouped interfaces")

	require.NoError(t, dev.ClaimInterface(1))
	require.Equal(t, Claimed, dev.InterfaceStatus(1))
	require.Equal(t, Claimed, dev.InterfaceStatus(0), "sibling interface must not be left PublishedChild against a retracted node")
	require.Empty(t, fw.Live())
}

// TestDeviceVIDPIDOverrideSelectsConfiguration is spec.md §8 scenario 3: the
// built-in override table selects configuration 2 for the Realtek device
// regardless of the default-to-1 rule.
func TestDeviceVIDPIDOverrideSelectsConfiguration(t *testing.T) {
	fake := &deviceFakeHCI{
		deviceDescriptor: buildTestDeviceDescriptor(0x0bda, 0x8153),
		configs: [][]byte{
			buildTestConfigSingleInterface(1),
			buildTestConfigSingleInterface(2),
		},
	}
	fake.deviceDescriptor[17] = 2 // bNumConfigurations
	fw := composetest.NewFakeFramework()

	dev, err := AddDevice(fake, fw, 1, 0, hci.SpeedHigh, newTestLogger())
	if err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if dev.Configuration() != 2 {
		t.Errorf("Configuration() = %d, want 2 (override table)", dev.Configuration())
	}
}

// TestDeviceSetConfigurationRepublishes is spec.md §8 scenario 6:
// set_configuration retracts all children and republishes against the newly
// selected configuration's interfaces.
func TestDeviceSetConfigurationRepublishes(t *testing.T) {
	fake := &deviceFakeHCI{
		deviceDescriptor: buildTestDeviceDescriptor(0x1234, 0x5678),
		configs: [][]byte{
			buildTestConfigSingleInterface(1),
			buildTestConfigSingleInterface(2),
		},
	}
	fake.deviceDescriptor[17] = 2
	fw := composetest.NewFakeFramework()

	dev, err := AddDevice(fake, fw, 1, 0, hci.SpeedHigh, newTestLogger())
	if err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if len(fw.Live()) != 1 {
		t.Fatalf("len(fw.Live()) = %d, want 1", len(fw.Live()))
	}

	if err := dev.SetConfiguration(2); err != nil {
		t.Fatalf("SetConfiguration: %v", err)
	}
	if dev.Configuration() != 2 {
		t.Errorf("Configuration() = %d, want 2", dev.Configuration())
	}
	if len(fw.Live()) != 1 {
		t.Fatalf("len(fw.Live()) after SetConfiguration = %d, want 1 (republished)", len(fw.Live()))
	}
	if got := dev.InterfaceStatus(0); got != PublishedChild {
		t.Errorf("InterfaceStatus(0) after SetConfiguration = %v, want PublishedChild", got)
	}
}
