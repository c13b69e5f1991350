package composite

import "errors"

// ErrZeroLengthDescriptor is returned when the walker encounters a
// descriptor whose bLength is zero. The original usb_device_add_interfaces
// treats this as a fatal parse error rather than skipping it, since a zero
// advance would spin forever.
var ErrZeroLengthDescriptor = errors.New("composite: descriptor with bLength == 0")

// GroupKind distinguishes a lone top-level interface from an
// Interface-Association-Descriptor spanning several.
type GroupKind int

const (
	GroupInterface GroupKind = iota
	GroupInterfaceAssociation
)

// Group is one unit the walker emits: either a single top-level interface
// (with its alternate settings and endpoints) or an IAD spanning
// InterfaceCount top-level interfaces. Span is a sub-slice of the
// ConfigBlob that was walked — see the "Arena vs. copy-out" design note;
// callers that want an owned copy take one before storing it (device.go's
// walkAndPublish does, before handing the span to the registry).
type Group struct {
	Kind            GroupKind
	FirstInterface  uint8
	InterfaceCount  uint8
	Span            []byte
}

// WalkResult is the walker's output. Incomplete is set when a trailing
// descriptor's bLength would straddle the end of the configured blob;
// Groups still holds everything parsed before that point.
type WalkResult struct {
	Groups     []Group
	Incomplete bool
}

// Walk implements spec.md §4.1 exactly: it partitions a configuration
// descriptor blob into interface and IAD groups by walking the flat,
// self-delimiting descriptor stream that follows the 9-byte config header.
// Grounded on usb-composite.c:usb_device_add_interfaces's NEXT_DESCRIPTOR
// loop, written here as Go slice arithmetic in the style of the teacher's
// ConfigDescriptor.Unmarshal pos += length loop.
func Walk(config ConfigBlob) (WalkResult, error) {
	if !config.valid() {
		return WalkResult{}, newError(CodeIO, "walk", errors.New("configuration blob shorter than 9-byte header"))
	}

	end := config.end()
	var result WalkResult
	pos := configHeaderLength

	for pos < end {
		hdr, ok := headerAt(config, pos)
		if !ok {
			result.Incomplete = true
			break
		}
		if hdr.Length == 0 {
			return result, newError(CodeIO, "walk", ErrZeroLengthDescriptor)
		}
		if pos+int(hdr.Length) > end {
			result.Incomplete = true
			break
		}

		switch {
		case hdr.Type == descTypeIAD && hdr.Length >= 4:
			group, next, incomplete := walkIAD(config, pos, end)
			result.Groups = append(result.Groups, group)
			pos = next
			if incomplete {
				result.Incomplete = true
				return result, nil
			}
		case hdr.Type == descTypeInterface && hdr.Length >= 3:
			group, next, incomplete := walkInterface(config, pos, end)
			result.Groups = append(result.Groups, group)
			pos = next
			if incomplete {
				result.Incomplete = true
				return result, nil
			}
		default:
			pos += int(hdr.Length)
		}
	}

	return result, nil
}

// walkIAD consumes an IAD at pos and every descriptor belonging to the
// bInterfaceCount top-level interfaces it groups, stopping at the next IAD
// or at end-of-blob, whichever comes first.
func walkIAD(config ConfigBlob, pos, end int) (Group, int, bool) {
	iadLength := int(config[pos])
	interfaceCount := config[pos+3]
	firstInterface := config[pos+2]

	next := pos + iadLength
	remaining := interfaceCount
	for next < end {
		hdr, ok := headerAt(config, next)
		if !ok {
			return Group{Kind: GroupInterfaceAssociation, FirstInterface: firstInterface, InterfaceCount: interfaceCount, Span: config[pos:next]}, next, true
		}
		if hdr.Length == 0 {
			break
		}
		if next+int(hdr.Length) > end {
			return Group{Kind: GroupInterfaceAssociation, FirstInterface: firstInterface, InterfaceCount: interfaceCount, Span: config[pos:next]}, next, true
		}
		if hdr.Type == descTypeIAD {
			break
		}
		if hdr.Type == descTypeInterface && hdr.Length >= 4 {
			altSetting := config[next+3]
			if altSetting == 0 {
				if remaining == 0 {
					break
				}
				remaining--
			}
		}
		next += int(hdr.Length)
	}

	return Group{
		Kind:           GroupInterfaceAssociation,
		FirstInterface: firstInterface,
		InterfaceCount: interfaceCount,
		Span:           config[pos:next],
	}, next, false
}

// walkInterface consumes a single top-level interface at pos, including all
// of its alternate settings, endpoints, and class-specific descriptors,
// stopping at the next descriptor with bDescriptorType == INTERFACE and
// bAlternateSetting == 0, or at end-of-blob.
func walkInterface(config ConfigBlob, pos, end int) (Group, int, bool) {
	interfaceLength := int(config[pos])
	interfaceNumber := config[pos+2]

	next := pos + interfaceLength
	for next < end {
		hdr, ok := headerAt(config, next)
		if !ok {
			return Group{Kind: GroupInterface, FirstInterface: interfaceNumber, InterfaceCount: 1, Span: config[pos:next]}, next, true
		}
		if hdr.Length == 0 {
			break
		}
		if next+int(hdr.Length) > end {
			return Group{Kind: GroupInterface, FirstInterface: interfaceNumber, InterfaceCount: 1, Span: config[pos:next]}, next, true
		}
		if hdr.Type == descTypeInterface && hdr.Length >= 4 {
			altSetting := config[next+3]
			if altSetting == 0 {
				break
			}
		}
		next += int(hdr.Length)
	}

	return Group{
		Kind:           GroupInterface,
		FirstInterface: interfaceNumber,
		InterfaceCount: 1,
		Span:           config[pos:next],
	}, next, false
}
