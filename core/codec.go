package core

import "encoding/json"

// Codec serializes/deserializes handler parameters and reply values.
// Implement this interface to swap in a different wire format (Protobuf,
// Avro, etc.) in place of the JSON default.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSONCodec is the default Codec. Encode(nil) yields the JSON literal null —
// used for void command replies. Decode leaves missing fields at their zero
// value, per encoding/json's normal unmarshal behavior.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &CodecError{Err: err}
	}
	return nil
}
