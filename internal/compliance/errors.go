package compliance

import "fmt"

// Kind is the error taxonomy from the pipeline's error handling design:
// BadRequest, DecodeFailure, NoKeyframes, ModelNonRetryable, ModelTransient,
// ModelStructuralInvalid, PartialFailure, Cancelled.
type Kind string

const (
	KindBadRequest             Kind = "BadRequest"
	KindDecodeFailure          Kind = "DecodeFailure"
	KindNoKeyframes            Kind = "NoKeyframes"
	KindModelNonRetryable      Kind = "ModelNonRetryable"
	KindModelTransient         Kind = "ModelTransient"
	KindModelStructuralInvalid Kind = "ModelStructuralInvalid"
	KindPartialFailure         Kind = "PartialFailure"
	KindCancelled              Kind = "Cancelled"
)

// StageError is a taxonomy-tagged, stage-attributed error. Its Error()
// string has the "[Stage] message" shape (e.g. "[ChangeDetection] no
// keyframes produced", with ": cause" appended when Err is set) the top-level
// AnalyzeResponse.Error field surfaces to callers.
type StageError struct {
	Stage string
	Kind  Kind
	Msg   string
	Err   error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Msg)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError builds a StageError.
func NewStageError(stage string, kind Kind, msg string, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Msg: msg, Err: err}
}

// IsKind reports whether err is a *StageError carrying the given kind.
func IsKind(err error, kind Kind) bool {
	se, ok := err.(*StageError)
	return ok && se.Kind == kind
}
