// Package codec turns protocol command objects into bytes and inbound bytes
// into typed messages. The client treats both directions as opaque and
// possibly slow; Decoder runs decodes concurrently with a bound.
package codec

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"google.golang.org/protobuf/proto"
)

// ErrUnsupportedType is returned when a value can't be encoded by a codec.
var ErrUnsupportedType = errors.New("codec: unsupported type")

// Codec encodes outbound commands and decodes inbound messages.
// Implementations must be safe for concurrent use.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// JSON encodes any value with goccy/go-json and decodes every inbound
// message into a fresh T.
type JSON[T any] struct{}

func (JSON[T]) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: json encode: %w", err)
	}
	return data, nil
}

func (JSON[T]) Decode(data []byte) (any, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("codec: json decode: %w", err)
	}
	return v, nil
}

// Proto encodes proto.Message commands and decodes inbound bytes into
// whatever message New returns.
type Proto struct {
	New func() proto.Message
}

// NewProto returns a protobuf codec producing messages of the same type as template.
func NewProto(template proto.Message) Proto {
	return Proto{New: func() proto.Message {
		return template.ProtoReflect().New().Interface()
	}}
}

func (p Proto) Encode(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a proto.Message", ErrUnsupportedType, v)
	}
	data, err := proto.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("codec: proto encode: %w", err)
	}
	return data, nil
}

func (p Proto) Decode(data []byte) (any, error) {
	m := p.New()
	if err := proto.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("codec: proto decode: %w", err)
	}
	return m, nil
}

// Raw passes bytes through untouched. Encode accepts []byte and string.
type Raw struct{}

func (Raw) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func (Raw) Decode(data []byte) (any, error) {
	return data, nil
}
