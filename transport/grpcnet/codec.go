package grpcnet

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype every call of this package uses.
const codecName = "json"

// jsonCodec carries the transport's plain Go structs, there are no
// generated messages on this service.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
