package subscriber

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
)

// envelopeTimeLayout matches the canonical wire format: a numeric zero
// offset ("+00:00"), not the "Z" RFC3339 shorthand. Encode formats with it;
// its explicit "-07:00" token always emits the numeric form.
const envelopeTimeLayout = "2006-01-02T15:04:05.9999999-07:00"

// envelopeParseLayout is the layout Decode parses with. Its "Z07:00" token
// reads either a literal Z or a numeric offset, so both forms decode.
const envelopeParseLayout = "2006-01-02T15:04:05.9999999Z07:00"

// reservedKeys are the canonical top-level wire fields. A Metadata entry
// using one of these keys is dropped by Encode rather than allowed to
// shadow the canonical field.
var reservedKeys = map[string]bool{
	"id": true, "source": true, "specversion": true, "type": true,
	"time": true, "datacontenttype": true, "data": true, "data_base64": true,
}

// Envelope is the vendor-neutral cross-service message wrapper. Exactly one
// of Data or DataBase64 is populated on a well-formed envelope.
type Envelope struct {
	ID              string
	Source          string
	SpecVersion     string
	Type            string
	Time            time.Time
	DataContentType string
	Data            json.RawMessage
	DataBase64      string
	Metadata        map[string]any
}

// NewBinaryEnvelope builds an Envelope carrying a raw binary payload,
// base64-encoded into DataBase64; if DataContentType is left blank, Encode
// infers it from the payload's magic bytes.
func NewBinaryEnvelope(envelopeType string, payload []byte) *Envelope {
	return &Envelope{
		Type:       envelopeType,
		DataBase64: base64.StdEncoding.EncodeToString(payload),
	}
}

// PreSerializeHook runs on the Envelope immediately before it is serialized.
type PreSerializeHook func(ctx context.Context, env *Envelope) error

// PostSerializeHook runs on the encoded bytes immediately after serialization.
type PostSerializeHook func(ctx context.Context, raw []byte) ([]byte, error)

// PreDeserializeHook runs on the raw bytes immediately before parsing.
type PreDeserializeHook func(ctx context.Context, raw []byte) ([]byte, error)

// PostDeserializeHook runs on the decoded Envelope immediately after parsing.
type PostDeserializeHook func(ctx context.Context, env *Envelope) error

// CodecHooks is the ordered chain of user-supplied callbacks run at each of
// the four codec phases. A nil *CodecHooks is treated as an empty chain.
type CodecHooks struct {
	PreSerialize    []PreSerializeHook
	PostSerialize   []PostSerializeHook
	PreDeserialize  []PreDeserializeHook
	PostDeserialize []PostDeserializeHook
}

// Encode serializes env to its canonical wire form, running the hook chain
// and filling in ID, SpecVersion, and DataContentType defaults.
func Encode(ctx context.Context, env *Envelope, hooks *CodecHooks) ([]byte, error) {
	if hooks == nil {
		hooks = &CodecHooks{}
	}
	for _, hook := range hooks.PreSerialize {
		if err := hook(ctx, env); err != nil {
			return nil, fmt.Errorf("%w: pre-serialize: %v", ErrCodecFailure, err)
		}
	}

	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.SpecVersion == "" {
		env.SpecVersion = "1.0"
	}

	wire := map[string]any{
		"id":          env.ID,
		"source":      env.Source,
		"specversion": env.SpecVersion,
		"type":        env.Type,
	}
	if !env.Time.IsZero() {
		wire["time"] = env.Time.Format(envelopeTimeLayout)
	}

	switch {
	case env.DataBase64 != "":
		contentType := env.DataContentType
		if contentType == "" {
			if raw, err := base64.StdEncoding.DecodeString(env.DataBase64); err == nil {
				contentType = http.DetectContentType(raw)
			} else {
				contentType = "application/octet-stream"
			}
		}
		wire["datacontenttype"] = contentType
		wire["data_base64"] = env.DataBase64
	case len(env.Data) > 0:
		contentType := env.DataContentType
		if contentType == "" {
			contentType = "application/json"
		}
		wire["datacontenttype"] = contentType
		wire["data"] = env.Data
	default:
		if env.DataContentType != "" {
			wire["datacontenttype"] = env.DataContentType
		}
	}

	for k, v := range env.Metadata {
		if reservedKeys[k] {
			continue
		}
		wire[k] = v
	}

	raw, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %v", ErrCodecFailure, err)
	}

	for _, hook := range hooks.PostSerialize {
		raw, err = hook(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: post-serialize: %v", ErrCodecFailure, err)
		}
	}
	return raw, nil
}

// isTopicTunnel reports whether the outer JSON object is a notification
// wrapper from the topic/notification service, by structural detection only
// (no service SDK type involved).
func isTopicTunnel(outer map[string]any) bool {
	typ, _ := outer["Type"].(string)
	_, hasMessage := outer["Message"]
	_, hasTopicArn := outer["TopicArn"]
	return typ == "Notification" && hasMessage && hasTopicArn
}

// isEventBusTunnel reports whether the outer JSON object is an event
// wrapper from the event-bus service.
func isEventBusTunnel(outer map[string]any) bool {
	_, hasDetail := outer["detail"]
	_, hasID := outer["id"]
	_, hasVersion := outer["version"]
	_, hasRegion := outer["region"]
	return hasDetail && hasID && hasVersion && hasRegion
}

// Decode parses raw into an Envelope, unwrapping a topic or event-bus tunnel
// first if one is structurally present, then runs the hook chain and
// validates required fields. queueMsg supplies QueueMetadata when the
// message was not tunneled; pass nil outside of a queue-receive context.
func Decode(ctx context.Context, raw []byte, queueMsg *sqstypes.Message, hooks *CodecHooks) (*Envelope, TransportMetadata, error) {
	if hooks == nil {
		hooks = &CodecHooks{}
	}
	var err error
	for _, hook := range hooks.PreDeserialize {
		raw, err = hook(ctx, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: pre-deserialize: %v", ErrCodecFailure, err)
		}
	}

	var outer map[string]any
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	var inner []byte
	var meta TransportMetadata

	switch {
	case isTopicTunnel(outer):
		msg, _ := outer["Message"].(string)
		inner = []byte(msg)
		meta = topicMetadataFrom(outer)
	case isEventBusTunnel(outer):
		detail, ok := outer["detail"]
		if !ok {
			return nil, nil, fmt.Errorf("%w: event-bus tunnel missing detail", ErrMalformedEnvelope)
		}
		detailRaw, merr := json.Marshal(detail)
		if merr != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, merr)
		}
		inner = detailRaw
		meta = eventBusMetadataFrom(outer)
	default:
		inner = raw
		meta = queueMetadataFrom(queueMsg)
	}

	var innerMap map[string]any
	if err := json.Unmarshal(inner, &innerMap); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	env, err := envelopeFromMap(innerMap)
	if err != nil {
		return nil, nil, err
	}

	for _, hook := range hooks.PostDeserialize {
		if err := hook(ctx, env); err != nil {
			return nil, nil, fmt.Errorf("%w: post-deserialize: %v", ErrCodecFailure, err)
		}
	}
	return env, meta, nil
}

func envelopeFromMap(m map[string]any) (*Envelope, error) {
	env := &Envelope{Metadata: map[string]any{}}

	if v, ok := m["id"].(string); ok {
		env.ID = v
	}
	if v, ok := m["source"].(string); ok {
		env.Source = v
	}
	if v, ok := m["specversion"].(string); ok {
		env.SpecVersion = v
	}
	if v, ok := m["type"].(string); ok {
		env.Type = v
	}
	if v, ok := m["datacontenttype"].(string); ok {
		env.DataContentType = v
	}
	if v, ok := m["time"].(string); ok {
		t, err := time.Parse(envelopeParseLayout, v)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid time %q: %v", ErrMalformedEnvelope, v, err)
		}
		env.Time = t
	}

	_, hasData := m["data"]
	dataB64, hasDataB64 := m["data_base64"].(string)
	switch {
	case hasData && hasDataB64:
		return nil, fmt.Errorf("%w: both data and data_base64 present", ErrMalformedEnvelope)
	case hasData:
		raw, err := json.Marshal(m["data"])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		env.Data = raw
	case hasDataB64:
		env.DataBase64 = dataB64
	}

	for k, v := range m {
		if reservedKeys[k] {
			continue
		}
		env.Metadata[k] = v
	}

	if env.ID == "" || env.Source == "" || env.Type == "" || env.Time.IsZero() {
		return nil, fmt.Errorf("%w: missing required field (id/source/type/time)", ErrMalformedEnvelope)
	}
	return env, nil
}
