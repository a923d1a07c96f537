package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"deskforge/internal/store"
)

// ErrTimeout reports that the child was force-terminated because the
// wall-clock limit elapsed. The limit is enforced here, outside the child,
// never cooperatively.
var ErrTimeout = errors.New("sandbox execution timed out")

// ExecSpec describes one execution of accepted code.
type ExecSpec struct {
	Kind       store.JobKind
	CodePath   string
	InputPaths []string
	OutputDir  string
	Timeout    time.Duration
}

// ExecResult captures what the child produced.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Executor runs validated code in isolation.
type Executor interface {
	Execute(ctx context.Context, spec ExecSpec) (*ExecResult, error)
}

// Limits are the resource ceilings applied inside the child process.
type Limits struct {
	CPUSeconds int
	MemoryMB   int
}

// ProcessExecutor runs the harness binary as a child process so that a
// crash, runaway loop or memory blowup in generated code never reaches the
// orchestrator. The child gets a scrubbed environment and applies rlimits to
// itself before interpreting anything.
type ProcessExecutor struct {
	// BinaryPath locates the harness binary (cmd/sandbox).
	BinaryPath string
	Limits     Limits
}

// NewProcessExecutor creates an executor for the given harness binary.
func NewProcessExecutor(binaryPath string, limits Limits) *ProcessExecutor {
	return &ProcessExecutor{BinaryPath: binaryPath, Limits: limits}
}

const outputCaptureLimit = 64 * 1024

// Execute runs the child and waits for exit or timeout. A non-zero exit is
// not an error here; the caller decides what it means for the job.
func (e *ProcessExecutor) Execute(ctx context.Context, spec ExecSpec) (*ExecResult, error) {
	if spec.Timeout <= 0 {
		spec.Timeout = 2 * time.Minute
	}
	execCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	args := []string{
		"--kind", string(spec.Kind),
		"--code", spec.CodePath,
		"--output-dir", spec.OutputDir,
		"--cpu-seconds", strconv.Itoa(e.Limits.CPUSeconds),
		"--memory-mb", strconv.Itoa(e.Limits.MemoryMB),
	}
	args = append(args, spec.InputPaths...)

	cmd := exec.CommandContext(execCtx, e.BinaryPath, args...)
	cmd.Env = []string{} // no inherited credentials or proxies
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Kill the whole process group so grandchildren die too.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, n: outputCaptureLimit}
	cmd.Stderr = &limitedWriter{w: &stderr, n: outputCaptureLimit}

	err := cmd.Run()

	if execCtx.Err() == context.DeadlineExceeded {
		// The parent deadline expiring also trips execCtx; ErrTimeout is
		// only for the sandbox's own limit.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %v", ErrTimeout, spec.Timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExecResult{
				ExitCode: exitErr.ExitCode(),
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
			}, nil
		}
		return nil, fmt.Errorf("failed to run sandbox process: %w", err)
	}

	return &ExecResult{ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// limitedWriter keeps the head of the child's output; the tail of huge dumps
// is not worth holding in memory.
type limitedWriter struct {
	w *bytes.Buffer
	n int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if remaining := l.n - l.w.Len(); remaining > 0 {
		if len(p) > remaining {
			l.w.Write(p[:remaining])
		} else {
			l.w.Write(p)
		}
	}
	return len(p), nil
}

// Tail returns the last n bytes of s for error details.
func Tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
