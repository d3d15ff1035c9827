package websocket

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ErrTypeInvalidRequest is the type of the errors returned when a client
	// sends a request that cannot be decoded or applied.
	ErrTypeInvalidRequest = "debug_stream_invalid_request"

	MsgTypeSnapshot = "snapshot"
	MsgTypeOptions  = "options"
	MsgTypeError    = "error"
)

// Format is the encoding of the messages sent to a client.
type Format string

const (
	// JSON documents sent as text frames.
	FormatJSON Format = "json"

	// google.protobuf.Struct messages sent as binary frames.
	FormatProto Format = "proto"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil

	case FormatProto:
		return FormatProto, nil

	default:
		return "", errors.New("unknown format").
			WithType(ErrTypeInvalidRequest).
			WithTag("format", s)
	}
}

// Msg is an encoded message ready to be written on a connection.
type Msg struct {
	Type   string
	Format Format
	Data   []byte
}

// Envelope is the layout of every message sent to a client, in both formats.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Request is what a client sends to change its stream options. Nil fields
// are left unchanged.
type Request struct {
	Every    *int  `json:"every,omitempty"`
	Entities *bool `json:"entities,omitempty"`
}

func encodeMsg(format Format, msgType string, v any) (Msg, error) {
	b, err := json.Marshal(Envelope{
		Type: msgType,
		Data: v,
	})
	if err != nil {
		return Msg{}, errors.New("encoding json message failed").
			WithTag("msg_type", msgType).
			Wrap(err)
	}

	if format != FormatProto {
		return Msg{
			Type:   msgType,
			Format: FormatJSON,
			Data:   b,
		}, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return Msg{}, errors.New("decoding json message failed").
			WithTag("msg_type", msgType).
			Wrap(err)
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return Msg{}, errors.New("converting message to protobuf failed").
			WithTag("msg_type", msgType).
			Wrap(err)
	}

	if b, err = proto.Marshal(s); err != nil {
		return Msg{}, errors.New("encoding protobuf message failed").
			WithTag("msg_type", msgType).
			Wrap(err)
	}

	return Msg{
		Type:   msgType,
		Format: FormatProto,
		Data:   b,
	}, nil
}

// DecodeMsg decodes the envelope of a message sent in the given format.
// Envelope.Data holds the generic JSON representation of the payload.
func DecodeMsg(format Format, data []byte) (Envelope, error) {
	var fields map[string]any

	switch format {
	case FormatProto:
		var s structpb.Struct
		if err := proto.Unmarshal(data, &s); err != nil {
			return Envelope{}, errors.New("decoding protobuf message failed").Wrap(err)
		}
		fields = s.AsMap()

	default:
		if err := json.Unmarshal(data, &fields); err != nil {
			return Envelope{}, errors.New("decoding json message failed").Wrap(err)
		}
	}

	msgType, _ := fields["type"].(string)
	return Envelope{
		Type: msgType,
		Data: fields["data"],
	}, nil
}
