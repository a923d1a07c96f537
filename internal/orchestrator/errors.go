package orchestrator

import "fmt"

// Fail kinds recorded as the machine-readable prefix of a failed job's error
// field.
const (
	FailGenerationUnavailable   = "generation_unavailable"
	FailCodeRejected            = "code_rejected"
	FailExecutionFailed         = "execution_failed"
	FailExecutionTimeout        = "execution_timeout"
	FailMissingRequiredArtifact = "missing_required_artifact"
	FailJobTimeout              = "job_timeout"
)

// ValidationError reports a malformed submission. The server maps it to a
// 400 response, nothing is persisted when it is returned.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// failure is a pipeline-internal error that carries the fail kind, a short
// message for the job's error field and an optional long detail.
type failure struct {
	kind   string
	msg    string
	detail string
}

func (f *failure) Error() string {
	return fmt.Sprintf("%s: %s", f.kind, f.msg)
}

func failf(kind, detail, format string, args ...interface{}) *failure {
	return &failure{kind: kind, msg: fmt.Sprintf(format, args...), detail: detail}
}
