package codec

import "testing"

func TestMsgpackRoundTripsFloat64(t *testing.T) {
	c := Msgpack{}
	encoded, err := c.Encode(3.14159)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got float64
	if err := c.Decode(encoded, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != 3.14159 {
		t.Fatalf("got %v, want 3.14159", got)
	}
}

type weightedEdge struct {
	Weight int64
	Label  string
}

func TestMsgpackRoundTripsStruct(t *testing.T) {
	c := Msgpack{}
	in := weightedEdge{Weight: 7, Label: "road"}
	encoded, err := c.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out weightedEdge
	if err := c.Decode(encoded, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestMsgpackDecodeOfEmptyBytesFails(t *testing.T) {
	c := Msgpack{}
	var out int
	if err := c.Decode([]byte{}, &out); err == nil {
		t.Fatalf("expected decode of empty input to fail")
	}
}
