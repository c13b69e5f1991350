package composite

import (
	"encoding/hex"
	"testing"
)

func TestWalkSingleInterface(t *testing.T) {
	data, err := hex.DecodeString(
		"09022000010100c032" + // Config: 32 bytes total, 1 interface, config value 1
			"0904000002ff010000" + // Interface 0, alt 0, 2 endpoints, vendor specific
			"0705810240000a" + // Endpoint 0x81 IN bulk 64 bytes
			"0705020240000a") // Endpoint 0x02 OUT bulk 64 bytes
	if err != nil {
		t.Fatalf("hex.DecodeString: %v", err)
	}

	result, err := Walk(ConfigBlob(data))
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if result.Incomplete {
		t.Fatalf("Walk reported Incomplete on a well-formed blob")
	}
	if len(result.Groups) != 1 {
		t.Fatalf("len(Groups) = %d, want 1", len(result.Groups))
	}

	g := result.Groups[0]
	if g.Kind != GroupInterface {
		t.Errorf("Kind = %v, want GroupInterface", g.Kind)
	}
	if g.FirstInterface != 0 {
		t.Errorf("FirstInterface = %d, want 0", g.FirstInterface)
	}
	if len(g.Span) != len(data)-9 {
		t.Errorf("len(Span) = %d, want %d (walker coverage)", len(g.Span), len(data)-9)
	}
}

func TestWalkInterfaceAssociation(t *testing.T) {
	// Config containing an IAD(first=0, count=2) grouping a video-control
	// interface (0) and a video-streaming interface (1) with two alternate
	// settings, mirroring spec.md §8 scenario 2.
	data, err := hex.DecodeString(
		"09023300020100c032" + // Config: 51 bytes total, 2 interfaces
			"080b00020e030000" + // IAD: first=0, count=2, video class
			"09040000000e010000" + // Interface 0, alt 0, video control
			"09040100000e020000" + // Interface 1, alt 0, video streaming, 0 endpoints
			"09040101010e020000" + // Interface 1, alt 1, video streaming, 1 endpoint
			"07058105000201") // Endpoint 0x81 IN isochronous
	if err != nil {
		t.Fatalf("hex.DecodeString: %v", err)
	}

	result, err := Walk(ConfigBlob(data))
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if result.Incomplete {
		t.Fatalf("Walk reported Incomplete on a well-formed blob")
	}
	if len(result.Groups) != 1 {
		t.Fatalf("len(Groups) = %d, want 1", len(result.Groups))
	}

	g := result.Groups[0]
	if g.Kind != GroupInterfaceAssociation {
		t.Errorf("Kind = %v, want GroupInterfaceAssociation", g.Kind)
	}
	if g.FirstInterface != 0 {
		t.Errorf("FirstInterface = %d, want 0", g.FirstInterface)
	}
	if g.InterfaceCount != 2 {
		t.Errorf("InterfaceCount = %d, want 2", g.InterfaceCount)
	}
	if len(g.Span) != len(data)-9 {
		t.Errorf("len(Span) = %d, want %d (walker coverage)", len(g.Span), len(data)-9)
	}
}

func TestWalkTwoSeparateInterfaces(t *testing.T) {
	// Two independent interfaces, no IAD — alt-setting merging must still
	// land both alt settings of interface 0 in the same group, and
	// interface 1 must start a new group.
	data, err := hex.DecodeString(
		"09022500020100c032" + // Config: 37 bytes total, 2 interfaces
			"0904000001020000" + // wrong length placeholder, replaced below
			"")
	_ = data
	_ = err

	// Built by hand instead of via a single hex literal, since this case
	// needs precise control over where interface 1 starts.
	header := []byte{0x09, 0x02, 0x00, 0x00, 0x02, 0x01, 0x00, 0xc0, 0x32}
	iface0alt0 := []byte{0x09, 0x04, 0x00, 0x00, 0x00, 0xff, 0x00, 0x00, 0x00}
	iface0alt1 := []byte{0x09, 0x04, 0x00, 0x01, 0x00, 0xff, 0x00, 0x00, 0x00}
	iface1alt0 := []byte{0x09, 0x04, 0x01, 0x00, 0x00, 0xff, 0x00, 0x00, 0x00}

	blob := append([]byte{}, header...)
	blob = append(blob, iface0alt0...)
	blob = append(blob, iface0alt1...)
	blob = append(blob, iface1alt0...)
	blob[2] = byte(len(blob))
	blob[3] = byte(len(blob) >> 8)

	result, err := Walk(ConfigBlob(blob))
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(result.Groups) != 2 {
		t.Fatalf("len(Groups) = %d, want 2", len(result.Groups))
	}
	if result.Groups[0].FirstInterface != 0 || len(result.Groups[0].Span) != 18 {
		t.Errorf("group 0 = %+v, want FirstInterface=0 Span len 18 (both alt settings merged)", result.Groups[0])
	}
	if result.Groups[1].FirstInterface != 1 || len(result.Groups[1].Span) != 9 {
		t.Errorf("group 1 = %+v, want FirstInterface=1 Span len 9", result.Groups[1])
	}

	total := 0
	for _, g := range result.Groups {
		total += len(g.Span)
	}
	if total != len(blob)-9 {
		t.Errorf("total span bytes = %d, want %d (walker coverage)", total, len(blob)-9)
	}
}

func TestWalkZeroLengthIsFatal(t *testing.T) {
	blob := []byte{0x09, 0x02, 0x0b, 0x00, 0x01, 0x01, 0x00, 0xc0, 0x32, 0x00, 0x04, 0x00}
	_, err := Walk(ConfigBlob(blob))
	if err == nil {
		t.Fatal("Walk did not report an error on a zero-bLength descriptor")
	}
	if !IsCode(err, CodeIO) {
		t.Errorf("error code = %v, want CodeIO", err)
	}
}

func TestWalkTruncatedTrailingDescriptor(t *testing.T) {
	header := []byte{0x09, 0x02, 0x00, 0x00, 0x01, 0x01, 0x00, 0xc0, 0x32}
	iface := []byte{0x09, 0x04, 0x00, 0x00, 0x01, 0xff, 0x00, 0x00, 0x00}
	truncatedEndpoint := []byte{0x07, 0x05, 0x81} // claims bLength=7 but only 3 bytes remain

	blob := append([]byte{}, header...)
	blob = append(blob, iface...)
	blob = append(blob, truncatedEndpoint...)
	blob[2] = byte(len(blob))
	blob[3] = byte(len(blob) >> 8)

	result, err := Walk(ConfigBlob(blob))
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if !result.Incomplete {
		t.Error("Walk did not flag Incomplete for a straddling trailing descriptor")
	}
}
