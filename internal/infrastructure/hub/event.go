package hub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go-txstream-sse/internal/domain"
)

// EventKind is the SSE event name.
type EventKind string

const (
	KindConnected    EventKind = "connected"
	KindStatusUpdate EventKind = "status-update"
	KindError        EventKind = "error"
	KindHeartbeat    EventKind = "heartbeat"
)

const txRefKey = "tx_ref"

// fieldOrder lists the payload keys serialized right after tx_ref, per kind.
// Remaining keys follow in lexical order.
var fieldOrder = map[EventKind][]string{
	KindStatusUpdate: {"status", "amount", "confirmed_at"},
	KindError:        {"error"},
}

// ParseEventKind accepts the kinds a producer may publish. connected is
// emitted by the stream endpoint only.
func ParseEventKind(s string) (EventKind, bool) {
	switch k := EventKind(s); k {
	case KindStatusUpdate, KindError, KindHeartbeat:
		return k, true
	}
	return "", false
}

// Event is an immutable typed notification scoped to one transaction reference.
type Event struct {
	Kind  EventKind
	TxRef string
	data  map[string]any
}

// NewEvent copies data so later mutation by the caller cannot leak into
// frames. A tx_ref key in data is ignored in favour of txRef.
func NewEvent(kind EventKind, txRef string, data map[string]any) Event {
	cp := make(map[string]any, len(data))
	for k, v := range data {
		if k == txRefKey {
			continue
		}
		cp[k] = v
	}
	return Event{Kind: kind, TxRef: txRef, data: cp}
}

// Data returns a copy of the payload fields other than tx_ref.
func (e Event) Data() map[string]any {
	cp := make(map[string]any, len(e.data))
	for k, v := range e.data {
		cp[k] = v
	}
	return cp
}

func ConnectedEvent(txRef string) Event { return NewEvent(KindConnected, txRef, nil) }

func HeartbeatEvent(txRef string) Event { return NewEvent(KindHeartbeat, txRef, nil) }

func ErrorEvent(txRef, message string) Event {
	return NewEvent(KindError, txRef, map[string]any{"error": message})
}

// StatusUpdate is the typed form of a status-update payload.
type StatusUpdate struct {
	Status      domain.TransactionStatus
	Amount      *float64
	ConfirmedAt *time.Time
}

func StatusUpdateEvent(txRef string, u StatusUpdate) Event {
	data := map[string]any{"status": string(u.Status)}
	if u.Amount != nil {
		data["amount"] = *u.Amount
	}
	if u.ConfirmedAt != nil {
		data["confirmed_at"] = u.ConfirmedAt.UTC().Format(time.RFC3339)
	}
	return NewEvent(KindStatusUpdate, txRef, data)
}

// Payload renders the JSON object carried on the data line.
func (e Event) Payload() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := writeField(&buf, txRefKey, e.TxRef); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(e.data))
	for _, key := range fieldOrder[e.Kind] {
		v, ok := e.data[key]
		if !ok {
			continue
		}
		seen[key] = true
		buf.WriteByte(',')
		if err := writeField(&buf, key, v); err != nil {
			return nil, err
		}
	}

	rest := make([]string, 0, len(e.data))
	for k := range e.data {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		buf.WriteByte(',')
		if err := writeField(&buf, key, e.data[key]); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeField(buf *bytes.Buffer, key string, value any) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("field %q is not JSON serializable: %w", key, err)
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

// Encode frames the event for the wire:
//
//	event: <kind>
//	data: <json>
//	<blank line>
func (e Event) Encode() ([]byte, error) {
	payload, err := e.Payload()
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Kind, err)
	}

	frame := make([]byte, 0, len(payload)+len(e.Kind)+18)
	frame = append(frame, "event: "...)
	frame = append(frame, string(e.Kind)...)
	frame = append(frame, "\ndata: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}
