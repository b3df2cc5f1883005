package journal

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/quantfabric/twapd/errs"
	"github.com/quantfabric/twapd/internal/schema"
)

// wireEvent is the serialized form of a fabric event. Payload stays raw until
// the event type selects its concrete body.
type wireEvent struct {
	EventID string           `json:"event_id"`
	Type    schema.EventType `json:"type"`
	Topic   schema.Topic     `json:"topic"`
	OrderID uint64           `json:"order_id"`
	Owner   schema.Identity  `json:"owner,omitempty"`
	Seq     uint64           `json:"seq"`
	EmitTS  time.Time        `json:"emit_ts"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// EncodeEvent serializes an event for journal storage.
func EncodeEvent(evt *schema.Event) ([]byte, error) {
	if evt == nil {
		return nil, errs.New("journal/encode", errs.CodeInvalid, errs.WithMessage("event required"))
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil, errs.New("journal/encode", errs.CodeInvalid, errs.WithCause(err))
	}
	return raw, nil
}

// DecodeEvent reconstructs an event from its journal row, restoring the
// concrete payload type for the event kind.
func DecodeEvent(raw []byte) (*schema.Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, errs.New("journal/decode", errs.CodeInvalid, errs.WithCause(err))
	}

	evt := &schema.Event{
		EventID: wire.EventID,
		Type:    wire.Type,
		Topic:   wire.Topic,
		OrderID: wire.OrderID,
		Owner:   wire.Owner,
		Seq:     wire.Seq,
		EmitTS:  wire.EmitTS,
	}
	if len(wire.Payload) == 0 {
		return evt, nil
	}

	payload, err := decodePayload(wire.Type, wire.Payload)
	if err != nil {
		return nil, err
	}
	evt.Payload = payload
	return evt, nil
}

func decodePayload(typ schema.EventType, raw json.RawMessage) (any, error) {
	switch typ {
	case schema.EventTypeOrderCreated:
		return unmarshalPayload[schema.OrderCreatedPayload](raw)
	case schema.EventTypeTrancheExecuted:
		return unmarshalPayload[schema.TrancheExecutedPayload](raw)
	case schema.EventTypeOrderCompleted:
		return unmarshalPayload[schema.OrderCompletedPayload](raw)
	case schema.EventTypeOrderFailed:
		return unmarshalPayload[schema.OrderFailedPayload](raw)
	case schema.EventTypeTrancheSkipped:
		return unmarshalPayload[schema.TrancheSkippedPayload](raw)
	case schema.EventTypeSwapCompleted:
		return unmarshalPayload[schema.SwapCompletedPayload](raw)
	case schema.EventTypeExecutionTriggered:
		return unmarshalPayload[schema.ExecutionTriggeredPayload](raw)
	case schema.EventTypeOrderFinished:
		return unmarshalPayload[schema.OrderFinishedPayload](raw)
	case schema.EventTypeTick:
		return unmarshalPayload[schema.TickPayload](raw)
	default:
		return nil, errs.New("journal/decode", errs.CodeInvalid,
			errs.WithMessage("unknown event type "+string(typ)))
	}
}

func unmarshalPayload[T any](raw json.RawMessage) (any, error) {
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errs.New("journal/decode", errs.CodeInvalid, errs.WithCause(err))
	}
	return payload, nil
}
