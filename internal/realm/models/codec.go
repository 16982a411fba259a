package models

import (
	"encoding/json"
	"fmt"
)

// Event type discriminators used by the journal codec.
const (
	eventTypeCreated    = "RealmCreated"
	eventTypeUpdated    = "RealmUpdated"
	eventTypeDeprecated = "RealmDeprecated"
)

type eventEnvelope struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalEvent encodes an event with its type discriminator.
func MarshalEvent(e Event) ([]byte, error) {
	var typ string
	switch e.(type) {
	case RealmCreated:
		typ = eventTypeCreated
	case RealmUpdated:
		typ = eventTypeUpdated
	case RealmDeprecated:
		typ = eventTypeDeprecated
	default:
		return nil, fmt.Errorf("unknown event type %T", e)
	}
	value, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{Type: typ, Value: value})
}

// UnmarshalEvent decodes an event encoded by MarshalEvent.
func UnmarshalEvent(data []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case eventTypeCreated:
		var e RealmCreated
		if err := json.Unmarshal(env.Value, &e); err != nil {
			return nil, err
		}
		return e, nil
	case eventTypeUpdated:
		var e RealmUpdated
		if err := json.Unmarshal(env.Value, &e); err != nil {
			return nil, err
		}
		return e, nil
	case eventTypeDeprecated:
		var e RealmDeprecated
		if err := json.Unmarshal(env.Value, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}

// MarshalState encodes a state for the snapshot store.
func MarshalState(s State) ([]byte, error) {
	switch s.(type) {
	case Active:
		value, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		return json.Marshal(eventEnvelope{Type: "Active", Value: value})
	case Deprecated:
		value, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		return json.Marshal(eventEnvelope{Type: "Deprecated", Value: value})
	case Initial:
		return json.Marshal(eventEnvelope{Type: "Initial"})
	default:
		return nil, fmt.Errorf("unknown state type %T", s)
	}
}

// UnmarshalState decodes a state encoded by MarshalState.
func UnmarshalState(data []byte) (State, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case "Active":
		var s Active
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return nil, err
		}
		return s, nil
	case "Deprecated":
		var s Deprecated
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return nil, err
		}
		return s, nil
	case "Initial":
		return Initial{}, nil
	default:
		return nil, fmt.Errorf("unknown state type %q", env.Type)
	}
}
