package paramcodec

import "testing"

func TestRoundTrip(t *testing.T) {
	in := map[string]any{
		"name":  "sensor-7",
		"value": 42.5,
		"tags":  []any{"outdoor", "calibrated"},
	}

	buf, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	out, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if out["name"] != in["name"] {
		t.Fatalf("name: got %v, want %v", out["name"], in["name"])
	}
	if out["value"] != in["value"] {
		t.Fatalf("value: got %v, want %v", out["value"], in["value"])
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatalf("Decode: expected error on malformed input")
	}
}
