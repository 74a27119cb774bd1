package core

import "testing"

func TestJSONCodec_RoundTrip(t *testing.T) {
	type payload struct {
		ID int `json:"id"`
	}

	c := JSONCodec{}
	body, err := c.Encode(payload{ID: 7})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var got payload
	if err := c.Decode(body, &got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != 7 {
		t.Fatalf("got ID %d, want 7", got.ID)
	}
}

func TestJSONCodec_EncodeNil(t *testing.T) {
	c := JSONCodec{}
	body, err := c.Encode(nil)
	if err != nil {
		t.Fatalf("Encode(nil): %v", err)
	}
	if string(body) != "null" {
		t.Fatalf("Encode(nil) = %q, want \"null\"", body)
	}
}

func TestJSONCodec_DecodeError(t *testing.T) {
	c := JSONCodec{}
	var out int
	err := c.Decode([]byte("not json"), &out)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if _, ok := err.(*CodecError); !ok {
		t.Fatalf("expected *CodecError, got %T", err)
	}
}
