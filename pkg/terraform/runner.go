package terraform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/castlehub/pkg/log"
	"github.com/cuemby/castlehub/pkg/metrics"
)

// ErrTimeout is returned when a terraform command outlives its timeout
var ErrTimeout = errors.New("terraform command timed out")

// Runner runs the terraform operations castlehub needs. Every operation
// runs with dir as working directory.
type Runner interface {
	Init(ctx context.Context, dir string, env []string, output io.Writer) error
	Plan(ctx context.Context, dir string, opts PlanOptions, output io.Writer) error
	Show(ctx context.Context, dir, planFile string) ([]byte, error)
	Apply(ctx context.Context, dir, planFile string, env []string, output io.Writer) error
}

// PlanOptions configures a terraform plan run
type PlanOptions struct {
	Destroy bool
	Refresh bool
	Out     string
	Env     []string
}

// Timeouts bounds each terraform command. Zero disables the bound.
type Timeouts struct {
	Init  time.Duration
	Plan  time.Duration
	Show  time.Duration
	Apply time.Duration
}

// DefaultTimeouts returns the timeouts used when none are configured
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Init:  5 * time.Minute,
		Plan:  15 * time.Minute,
		Show:  2 * time.Minute,
		Apply: 2 * time.Hour,
	}
}

// CommandError is a terraform command that exited unsuccessfully
type CommandError struct {
	Operation string
	Err       error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("terraform %s failed: %v", e.Operation, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Exec runs the terraform binary as a subprocess
type Exec struct {
	Binary   string
	Timeouts Timeouts
}

// NewExec creates a runner for the given terraform binary
func NewExec(binary string, timeouts Timeouts) *Exec {
	if binary == "" {
		binary = "terraform"
	}
	return &Exec{Binary: binary, Timeouts: timeouts}
}

// Init runs terraform init
func (e *Exec) Init(ctx context.Context, dir string, env []string, output io.Writer) error {
	return e.run(ctx, "init", e.Timeouts.Init, dir, env, output, output,
		"init", "-no-color", "-input=false")
}

// Plan runs terraform plan, writing the binary plan to opts.Out
func (e *Exec) Plan(ctx context.Context, dir string, opts PlanOptions, output io.Writer) error {
	return e.run(ctx, "plan", e.Timeouts.Plan, dir, opts.Env, output, output,
		"plan",
		"-input=false",
		"-no-color",
		"-refresh="+strconv.FormatBool(opts.Refresh),
		"-destroy="+strconv.FormatBool(opts.Destroy),
		"-out="+opts.Out,
	)
}

// Show renders a binary plan as JSON
func (e *Exec) Show(ctx context.Context, dir, planFile string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	err := e.run(ctx, "show", e.Timeouts.Show, dir, nil, &stdout, &stderr,
		"show", "-no-color", "-json", planFile)
	if err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// Apply runs terraform apply on a binary plan
func (e *Exec) Apply(ctx context.Context, dir, planFile string, env []string, output io.Writer) error {
	return e.run(ctx, "apply", e.Timeouts.Apply, dir, env, output, output,
		"apply", "-input=false", "-no-color", "-auto-approve", planFile)
}

// Version returns the first line of terraform version. It doubles as a
// check that the binary can be run.
func (e *Exec) Version(ctx context.Context) (string, error) {
	var stdout bytes.Buffer
	err := e.run(ctx, "version", e.Timeouts.Show, "", nil, &stdout, io.Discard, "version")
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(stdout.String(), "\n")
	return strings.TrimSpace(line), nil
}

func (e *Exec) run(ctx context.Context, op string, timeout time.Duration, dir string, env []string, stdout, stderr io.Writer, args ...string) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.Binary, args...)
	cmd.Dir = dir
	cmd.Env = env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 10 * time.Second
	killProcessGroup(cmd)

	logger := log.WithComponent("terraform")
	logger.Debug().
		Str("dir", dir).
		Strs("args", args).
		Msg("Running terraform")

	timer := metrics.NewTimer()
	err := cmd.Run()
	timer.ObserveDurationVec(metrics.TerraformDuration, op)

	if err == nil {
		return nil
	}

	metrics.TerraformFailures.WithLabelValues(op).Inc()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	logger.Error().Err(err).Str("dir", dir).Str("operation", op).Msg("Terraform command failed")
	return &CommandError{Operation: op, Err: err}
}
