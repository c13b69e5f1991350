package composite

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unicode/utf16"

	"github.com/kevmo314/usb-composite-core/hci"
)

const defaultLangID uint16 = 0x0409 // US English, teacher GetStringDescriptor's default

// stringCache implements spec.md §4.6: a lazily-populated per-device LANGID
// list behind a single-initialization barrier. sync.Once is Go's idiomatic
// form of the spec's "single-initialization barrier" language and of
// usb_util_get_string_descriptor's hand-rolled double-checked init; it also
// directly satisfies the "String cache idempotence" testable property,
// since Once.Do guarantees the fetch runs at most once under concurrent
// callers.
type stringCache struct {
	once    sync.Once
	control *ControlEngine
	langIDs []uint16
	err     error
}

func newStringCache(control *ControlEngine) *stringCache {
	return &stringCache{control: control}
}

func (s *stringCache) langIDList() ([]uint16, error) {
	s.once.Do(func() {
		buf := make([]byte, 255)
		status, actual, err := s.control.Control(0x80, reqGetDescriptor, uint16(descTypeString)<<8, 0, buf, defaultControlTimeout)
		if err != nil {
			s.err = err
			return
		}
		if status != hci.StatusOK || actual < 2 {
			s.err = newError(CodeIO, "string_cache", fmt.Errorf("short string descriptor 0 read: %d bytes", actual))
			return
		}
		length := int(buf[0])
		if length > actual {
			length = actual
		}
		ids := make([]uint16, 0, (length-2)/2)
		for i := 2; i+1 < length; i += 2 {
			ids = append(ids, binary.LittleEndian.Uint16(buf[i:i+2]))
		}
		s.langIDs = ids
	})
	return s.langIDs, s.err
}

// GetString fetches string descriptor descID for langID, defaulting to the
// device's first advertised LANGID when langID is zero and validating any
// explicit langID against the cached list otherwise.
func (s *stringCache) GetString(descID uint8, langID uint16) (string, error) {
	ids, err := s.langIDList()
	if err != nil {
		return "", err
	}

	if langID == 0 {
		if len(ids) == 0 {
			return "", newError(CodeInvalidArgs, "get_string_descriptor", fmt.Errorf("device advertises no LANGIDs"))
		}
		langID = ids[0]
	} else {
		valid := false
		for _, id := range ids {
			if id == langID {
				valid = true
				break
			}
		}
		if !valid {
			return "", newError(CodeInvalidArgs, "get_string_descriptor", fmt.Errorf("unsupported LANGID 0x%04x", langID))
		}
	}

	buf := make([]byte, 255)
	status, actual, err := s.control.Control(0x80, reqGetDescriptor, (uint16(descTypeString)<<8)|uint16(descID), langID, buf, defaultControlTimeout)
	if err != nil {
		return "", err
	}
	if status != hci.StatusOK || actual < 2 {
		return "", newError(CodeIO, "get_string_descriptor", fmt.Errorf("short string descriptor %d read: %d bytes", descID, actual))
	}

	length := int(buf[0])
	if length > actual {
		length = actual
	}
	units := make([]uint16, 0, (length-2)/2)
	for i := 2; i+1 < length; i += 2 {
		units = append(units, binary.LittleEndian.Uint16(buf[i:i+2]))
	}
	return string(utf16.Decode(units)), nil
}
