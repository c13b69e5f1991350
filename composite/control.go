package composite

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/kevmo314/usb-composite-core/hci"
)

// defaultControlTimeout is used by callers that don't have a more specific
// deadline in mind (string descriptor fetches, SET_CONFIGURATION during
// add_device).
const defaultControlTimeout = 5 * time.Second

// ControlEngine implements spec.md §4.4: a synchronous control transfer
// built on top of HCI's async request_queue, submitted directly (bypassing
// the Relay — safe here because the caller blocks rather than reentering
// HCI, exactly the carve-out spec.md calls out). Grounded on
// usb-device.c:usb_device_control.
type ControlEngine struct {
	hci      hci.Capability
	deviceID uint64
	pool     *requestPool
}

func newControlEngine(capability hci.Capability, deviceID uint64, pool *requestPool) *ControlEngine {
	return &ControlEngine{hci: capability, deviceID: deviceID, pool: pool}
}

// Control implements control(request_type, request, value, index, data,
// length, timeout) -> (status, actual_length). direction is read from bit 7
// of requestType per the USB spec (set = device-to-host / IN).
func (c *ControlEngine) Control(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (hci.Status, int, error) {
	length := len(data)
	in := requestType&0x80 != 0

	var req *hci.Request
	if length == 0 {
		req = c.pool.get()
	} else {
		req = &hci.Request{Data: make([]byte, length)}
	}

	req.Setup[0] = requestType
	req.Setup[1] = request
	binary.LittleEndian.PutUint16(req.Setup[2:4], value)
	binary.LittleEndian.PutUint16(req.Setup[4:6], index)
	binary.LittleEndian.PutUint16(req.Setup[6:8], uint16(length))
	req.Length = length
	req.DeviceID = c.deviceID
	req.Endpoint = 0

	if !in && length > 0 {
		copy(req.Data, data)
	}

	done := make(chan struct{}, 1)
	req.Callback = func(r *hci.Request) {
		select {
		case done <- struct{}{}:
		default:
		}
	}
	req.Cookie = nil

	if err := c.hci.RequestQueue(req); err != nil {
		if length == 0 {
			c.pool.put(req)
		}
		return hci.StatusError, 0, newError(CodeIO, "control", err)
	}

	var status hci.Status
	select {
	case <-done:
		status = req.Status
	case <-time.After(timeout):
		_ = c.hci.CancelAll(c.deviceID, 0)
		<-done // the request buffer must not be freed while HCI still holds it
		status = hci.StatusTimedOut
	}

	actual := 0
	if status == hci.StatusOK {
		actual = req.Actual
		if in && length > 0 {
			n := actual
			if n > length {
				n = length
			}
			copy(data, req.Data[:n])
		}
	}

	if length == 0 {
		c.pool.put(req)
	}

	return status, actual, controlError(status)
}

func controlError(status hci.Status) error {
	switch status {
	case hci.StatusOK:
		return nil
	case hci.StatusTimedOut:
		return newError(CodeTimedOut, "control", nil)
	case hci.StatusStall, hci.StatusCancelled, hci.StatusNoDevice, hci.StatusOverflow, hci.StatusError:
		return newError(CodeIO, "control", errors.New(statusString(status)))
	default:
		return newError(CodeIO, "control", errors.New(statusString(status)))
	}
}

func statusString(status hci.Status) string {
	switch status {
	case hci.StatusOK:
		return "ok"
	case hci.StatusError:
		return "error"
	case hci.StatusStall:
		return "stall"
	case hci.StatusCancelled:
		return "cancelled"
	case hci.StatusTimedOut:
		return "timed out"
	case hci.StatusNoDevice:
		return "no device"
	case hci.StatusOverflow:
		return "overflow"
	default:
		return "unknown status"
	}
}
