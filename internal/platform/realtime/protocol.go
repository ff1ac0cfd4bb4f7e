// Package realtime keeps one websocket subscription per topic open against a
// GraphQL-over-websocket pub/sub source and hands decoded messages to a sink.
package realtime

import (
	"encoding/json"
	"fmt"
)

// Message types on the wire.
const (
	typeInit      = "init"
	typeStart     = "start"
	typeStop      = "stop"
	typeAck       = "ack"
	typeData      = "data"
	typeError     = "error"
	typeKeepalive = "keepalive"
	typeComplete  = "complete"
)

// envelope is every frame in both directions.
type envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type startPayload struct {
	Query       string            `json:"query"`
	Variables   map[string]any    `json:"variables,omitempty"`
	AuthContext map[string]string `json:"authContext,omitempty"`
}

// dataPayload wraps the subscription field result.
type dataPayload struct {
	Data map[string]json.RawMessage `json:"data"`
}

// Subscription describes the GraphQL subscription behind a topic and how its
// payloads are vetted.
type Subscription[M any] struct {
	// Field is the subscription field whose value is decoded into M.
	Field string
	// Request builds the query and variables for topic.
	Request func(topic string) (query string, variables map[string]any)
	// Valid rejects payloads that do not have the expected shape. Optional.
	Valid func(M) bool
	// Filter selects which valid payloads are delivered. Optional.
	Filter func(M) bool
}

// ProtocolError is an error frame sent by the source.
type ProtocolError struct {
	Topic   string
	Payload string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("realtime: source error on %s: %s", e.Topic, e.Payload)
}

// dropReason explains why decode refused a data frame; empty means deliver.
type dropReason string

const (
	dropNone      dropReason = ""
	dropMalformed dropReason = "malformed"
	dropShape     dropReason = "shape"
	dropFiltered  dropReason = "filtered"
)

func (s Subscription[M]) decode(payload json.RawMessage) (M, dropReason) {
	var zero M
	var p dataPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return zero, dropMalformed
	}
	raw, ok := p.Data[s.Field]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return zero, dropShape
	}
	var msg M
	if err := json.Unmarshal(raw, &msg); err != nil {
		return zero, dropShape
	}
	if s.Valid != nil && !s.Valid(msg) {
		return zero, dropShape
	}
	if s.Filter != nil && !s.Filter(msg) {
		return zero, dropFiltered
	}
	return msg, dropNone
}
