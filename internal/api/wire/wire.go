package wire

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarm-bridge/internal/bus"
	domain "github.com/oshokin/alarm-bridge/internal/domain/alarm"
)

// Payload keys.
const (
	KeyKind           = "kind"
	KeySequence       = "sequence"
	KeyTimestamp      = "timestamp"
	KeyAlarm          = "alarm"
	KeyID             = "id"
	KeyState          = "state"
	KeyFireDate       = "fireDate"
	KeyLastState      = "lastState"
	KeyPreviousState  = "previousState"
	KeyNewState       = "newState"
	KeyTotalCount     = "totalCount"
	KeyScheduledCount = "scheduledCount"
)

var (
	// errMissingField is returned when a payload lacks a required key.
	errMissingField = errors.New("missing field")
	// errUnsupportedChange is returned for changes the codec does not know.
	errUnsupportedChange = errors.New("unsupported change")
)

//nolint:gochecknoglobals // Encoder settings are read-only.
var marshalOptions = protojson.MarshalOptions{}

// AlarmToStruct encodes an alarm. The fire date is omitted when unset.
func AlarmToStruct(a domain.Alarm) *structpb.Struct {
	fields := map[string]*structpb.Value{
		KeyID:    structpb.NewStringValue(a.ID),
		KeyState: structpb.NewStringValue(a.State.String()),
	}

	if a.FireDate != nil {
		fields[KeyFireDate] = structpb.NewStringValue(formatTime(*a.FireDate))
	}

	return &structpb.Struct{Fields: fields}
}

// AlarmFromStruct decodes an alarm produced by AlarmToStruct.
func AlarmFromStruct(s *structpb.Struct) (domain.Alarm, error) {
	id, err := requiredString(s, KeyID)
	if err != nil {
		return domain.Alarm{}, err
	}

	state, err := requiredState(s, KeyState)
	if err != nil {
		return domain.Alarm{}, err
	}

	fireDate, err := optionalTime(s, KeyFireDate)
	if err != nil {
		return domain.Alarm{}, err
	}

	return domain.Alarm{ID: id, State: state, FireDate: fireDate}, nil
}

// MarshalAlarm renders an alarm as protojson.
func MarshalAlarm(a domain.Alarm) ([]byte, error) {
	data, err := marshalOptions.Marshal(AlarmToStruct(a))
	if err != nil {
		return nil, fmt.Errorf("encode alarm: %w", err)
	}

	return data, nil
}

// UnmarshalAlarm parses protojson produced by MarshalAlarm.
func UnmarshalAlarm(data []byte) (domain.Alarm, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return domain.Alarm{}, fmt.Errorf("decode alarm: %w", err)
	}

	return AlarmFromStruct(&s)
}

// EventToStruct encodes a bus event with its kind-specific fields.
func EventToStruct(evt bus.Event) (*structpb.Struct, error) {
	fields := map[string]*structpb.Value{
		KeyKind:      structpb.NewStringValue(string(evt.Kind)),
		KeySequence:  structpb.NewNumberValue(float64(evt.Sequence)),
		KeyTimestamp: structpb.NewStringValue(formatTime(evt.Timestamp)),
	}

	switch change := evt.Change.(type) {
	case domain.Added:
		fields[KeyID] = structpb.NewStringValue(change.Alarm.ID)
		fields[KeyAlarm] = structpb.NewStructValue(AlarmToStruct(change.Alarm))
	case domain.Removed:
		fields[KeyID] = structpb.NewStringValue(change.ID)
		fields[KeyLastState] = structpb.NewStringValue(change.LastState.String())
	case domain.StateChanged:
		fields[KeyID] = structpb.NewStringValue(change.ID)
		fields[KeyPreviousState] = structpb.NewStringValue(change.PreviousState.String())
		fields[KeyNewState] = structpb.NewStringValue(change.NewState.String())

		if change.FireDate != nil {
			fields[KeyFireDate] = structpb.NewStringValue(formatTime(*change.FireDate))
		}
	case domain.ListChanged:
		fields[KeyTotalCount] = structpb.NewNumberValue(float64(change.TotalCount))
		fields[KeyScheduledCount] = structpb.NewNumberValue(float64(change.ScheduledCount))
	default:
		return nil, fmt.Errorf("%w: %T", errUnsupportedChange, evt.Change)
	}

	return &structpb.Struct{Fields: fields}, nil
}

// EventFromStruct decodes an event produced by EventToStruct.
func EventFromStruct(s *structpb.Struct) (bus.Event, error) {
	rawKind, err := requiredString(s, KeyKind)
	if err != nil {
		return bus.Event{}, err
	}

	kind, err := bus.ParseKind(rawKind)
	if err != nil {
		return bus.Event{}, err
	}

	timestamp, err := optionalTime(s, KeyTimestamp)
	if err != nil {
		return bus.Event{}, err
	}

	evt := bus.Event{
		Sequence: uint64(s.GetFields()[KeySequence].GetNumberValue()),
		Kind:     kind,
	}

	if timestamp != nil {
		evt.Timestamp = *timestamp
	}

	evt.Change, err = decodeChange(kind, s)
	if err != nil {
		return bus.Event{}, fmt.Errorf("decode %s: %w", kind, err)
	}

	return evt, nil
}

// MarshalEvent renders an event as protojson.
func MarshalEvent(evt bus.Event) ([]byte, error) {
	s, err := EventToStruct(evt)
	if err != nil {
		return nil, err
	}

	data, err := marshalOptions.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	return data, nil
}

// UnmarshalEvent parses protojson produced by MarshalEvent.
func UnmarshalEvent(data []byte) (bus.Event, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return bus.Event{}, fmt.Errorf("decode event: %w", err)
	}

	return EventFromStruct(&s)
}

// decodeChange rebuilds the domain change for kind.
func decodeChange(kind bus.Kind, s *structpb.Struct) (domain.Change, error) {
	switch kind {
	case bus.KindAdded:
		nested := s.GetFields()[KeyAlarm].GetStructValue()
		if nested == nil {
			return nil, fmt.Errorf("%w: %s", errMissingField, KeyAlarm)
		}

		a, err := AlarmFromStruct(nested)
		if err != nil {
			return nil, err
		}

		return domain.Added{Alarm: a}, nil
	case bus.KindRemoved:
		id, err := requiredString(s, KeyID)
		if err != nil {
			return nil, err
		}

		lastState, err := requiredState(s, KeyLastState)
		if err != nil {
			return nil, err
		}

		return domain.Removed{ID: id, LastState: lastState}, nil
	case bus.KindStateChanged, bus.KindFired:
		return decodeStateChanged(s)
	case bus.KindListChanged:
		return domain.ListChanged{
			TotalCount:     int(s.GetFields()[KeyTotalCount].GetNumberValue()),
			ScheduledCount: int(s.GetFields()[KeyScheduledCount].GetNumberValue()),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedChange, kind)
	}
}

// decodeStateChanged reads the StateChanged fields.
func decodeStateChanged(s *structpb.Struct) (domain.Change, error) {
	id, err := requiredString(s, KeyID)
	if err != nil {
		return nil, err
	}

	previous, err := requiredState(s, KeyPreviousState)
	if err != nil {
		return nil, err
	}

	next, err := requiredState(s, KeyNewState)
	if err != nil {
		return nil, err
	}

	fireDate, err := optionalTime(s, KeyFireDate)
	if err != nil {
		return nil, err
	}

	return domain.StateChanged{ID: id, PreviousState: previous, NewState: next, FireDate: fireDate}, nil
}

// requiredString returns a non-empty string field.
func requiredString(s *structpb.Struct, key string) (string, error) {
	value := s.GetFields()[key].GetStringValue()
	if value == "" {
		return "", fmt.Errorf("%w: %s", errMissingField, key)
	}

	return value, nil
}

// requiredState returns a parsed state field.
func requiredState(s *structpb.Struct, key string) (domain.State, error) {
	raw, err := requiredString(s, key)
	if err != nil {
		return domain.StateUnknown, err
	}

	return domain.ParseState(raw)
}

// optionalTime returns a parsed RFC 3339 field or nil when absent.
func optionalTime(s *structpb.Struct, key string) (*time.Time, error) {
	raw := s.GetFields()[key].GetStringValue()
	if raw == "" {
		return nil, nil //nolint:nilnil // Absent value is not an error.
	}

	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}

	return &parsed, nil
}

// formatTime renders t in UTC RFC 3339 with nanoseconds.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
