package events

import (
	"fmt"
	"strings"
)

// CapacityError reports an attempted gallery attach beyond the per-event cap.
type CapacityError struct {
	EventID string
	Limit   int
}

func (e CapacityError) Error() string {
	return fmt.Sprintf("event %s already has %d images", e.EventID, e.Limit)
}

// FieldError is a single recoverable input problem. Adapters redisplay the
// submitted values alongside these messages.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ValidationError aggregates field errors for one submission.
type ValidationError struct {
	Fields []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid input"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return strings.Join(parts, "; ")
}

// ByField returns the messages keyed by field name, for form redisplay and
// problem+json errors payloads.
func (e ValidationError) ByField() map[string]string {
	out := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		if _, ok := out[f.Field]; !ok {
			out[f.Field] = f.Message
		}
	}
	return out
}

// ValidateImageCap fails when attaching a new image would exceed the cap.
// Enforced again at the storage layer inside the attach transaction; this
// check exists so invalid states are rejected before any file is stored.
func ValidateImageCap(eventID string, currentCount int, isNewImage bool) error {
	if isNewImage && currentCount >= MaxImagesPerEvent {
		return CapacityError{EventID: eventID, Limit: MaxImagesPerEvent}
	}
	return nil
}
