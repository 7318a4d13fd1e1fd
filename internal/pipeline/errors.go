package pipeline

import (
	"errors"
	"fmt"
)

// ErrUnknownStat is returned when a run selects a stat that is not configured.
var ErrUnknownStat = errors.New("unknown stat")

// Stage names the point processing step that failed.
type Stage string

const (
	StageExecute Stage = "execute"
	StageParse   Stage = "parse"
	StageExtract Stage = "extract"
	StageWrite   Stage = "write"
)

// StageError carries point identity and failing stage for one isolated point failure.
// Params: stage, stat/measurement/command identity, optional field key, and cause.
// Returns: point processing error.
type StageError struct {
	Stage       Stage
	Stat        string
	Measurement string
	Command     []string
	Field       string
	Err         error
}

// Error formats stage failure text.
// Params: none.
// Returns: message with stage, point identity, and cause.
func (e *StageError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s %s/%s field %q: %v", e.Stage, e.Stat, e.Measurement, e.Field, e.Err)
	}
	return fmt.Sprintf("%s %s/%s: %v", e.Stage, e.Stat, e.Measurement, e.Err)
}

// Unwrap returns the underlying cause.
// Params: none.
// Returns: wrapped error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the failing stage of err, or empty when err is not a StageError.
// Params: err error to inspect.
// Returns: stage name.
func StageOf(err error) Stage {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return ""
}
