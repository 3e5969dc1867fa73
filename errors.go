package yolocore

import (
	"fmt"
)

// ShapeError reports a tensor whose declared shape disagrees with the
// shape the core expects at its boundary.  Callers must not retry the
// call without fixing their inputs.
type ShapeError struct {
	// Got is the offending tensor's declared shape
	Got []int
	// Want is the shape the operation expected, nil when only a summary
	// constraint was violated
	Want []int
	// Context names the boundary the mismatch was detected at
	Context string
}

func (e *ShapeError) Error() string {
	if e.Want == nil {
		return fmt.Sprintf("shape mismatch at %s: got %v", e.Context, e.Got)
	}
	return fmt.Sprintf("shape mismatch at %s: got %v, want %v",
		e.Context, e.Got, e.Want)
}

// ConfigError reports an invalid construction parameter, such as a zero
// stride or a negative threshold
type ConfigError struct {
	// Field is the name of the offending parameter
	Field string
	// Reason describes the constraint that was violated
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}
