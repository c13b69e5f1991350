package composite

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kevmo314/usb-composite-core/composite/composetest"
	"github.com/kevmo314/usb-composite-core/hci"
)

// fakeStringHCI answers GET_DESCRIPTOR(STRING, ...) requests: index 0
// returns a one-LANGID list, any other index returns a two-character
// UTF-16LE string, counting how many times the LANGID fetch actually reaches
// the (simulated) device.
type fakeStringHCI struct {
	langIDFetches int32
}

func (f *fakeStringHCI) RequestQueue(req *hci.Request) error {
	value := binary.LittleEndian.Uint16(req.Setup[2:4])
	descID := uint8(value)

	var payload []byte
	if descID == 0 {
		atomic.AddInt32(&f.langIDFetches, 1)
		payload = []byte{0x04, 0x03, 0x09, 0x04} // bLength=4, type=3, LANGID 0x0409
	} else {
		payload = []byte{0x06, 0x03, 0x48, 0x00, 0x69, 0x00} // "Hi"
	}
	n := copy(req.Data, payload)
	req.Actual = n
	req.Status = hci.StatusOK
	if req.Callback != nil {
		req.Callback(req)
	}
	return nil
}

func (f *fakeStringHCI) CancelAll(deviceID uint64, endpoint uint8) error          { return nil }
func (f *fakeStringHCI) ResetEndpoint(deviceID uint64, endpoint uint8) error      { return nil }
func (f *fakeStringHCI) CurrentFrame() uint64                                    { return 0 }
func (f *fakeStringHCI) MaxTransferSize(deviceID uint64, endpoint uint8) int     { return 0 }

func TestStringCacheFetchesLangIDOnce(t *testing.T) {
	fake := &fakeStringHCI{}
	control := newControlEngine(fake, 1, newRequestPool())
	cache := newStringCache(control)

	const callers = 16
	var wg sync.WaitGroup
	wg.Add(callers)
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		go func() {
			defer wg.Done()
			s, err := cache.GetString(1, 0)
			results[i] = s
			errs[i] = err
		}()
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: GetString: %v", i, errs[i])
		}
		if results[i] != "Hi" {
			t.Errorf("caller %d: GetString = %q, want %q", i, results[i], "Hi")
		}
	}
	if got := atomic.LoadInt32(&fake.langIDFetches); got != 1 {
		t.Errorf("langIDFetches = %d, want 1 (sync.Once must coalesce concurrent callers)", got)
	}
}

func TestStringCacheRejectsUnknownLangID(t *testing.T) {
	fake := &fakeStringHCI{}
	control := newControlEngine(fake, 1, newRequestPool())
	cache := newStringCache(control)

	_, err := cache.GetString(1, 0x0407) // German, not in the fake's advertised LANGID list
	if err == nil {
		t.Fatal("GetString did not reject an unsupported LANGID")
	}
	if !IsCode(err, CodeInvalidArgs) {
		t.Errorf("error code = %v, want CodeInvalidArgs", err)
	}
}

func TestStringCacheDefaultsLangID(t *testing.T) {
	fake := &fakeStringHCI{}
	control := newControlEngine(fake, 1, newRequestPool())
	cache := newStringCache(control)

	s, err := cache.GetString(1, 0)
	if err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if s != "Hi" {
		t.Errorf("GetString = %q, want %q", s, "Hi")
	}
}
