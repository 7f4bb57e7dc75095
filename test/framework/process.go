package framework

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// stopTimeout bounds how long Stop waits after SIGTERM before killing
const stopTimeout = 10 * time.Second

// Process is a castlehub process running in the background with its
// output captured
type Process struct {
	Binary  string
	Args    []string
	Env     []string
	Verbose bool

	cmd     *exec.Cmd
	done    chan struct{}
	exitErr error

	mu   sync.Mutex
	logs []string
}

// NewProcess creates a Process for binary
func NewProcess(binary string) *Process {
	return &Process{Binary: binary}
}

// Start starts the process and captures stdout and stderr
func (p *Process) Start() error {
	if p.cmd != nil {
		return fmt.Errorf("process already started with PID %d", p.cmd.Process.Pid)
	}

	cmd := exec.Command(p.Binary, p.Args...)
	cmd.Env = append(os.Environ(), p.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}

	var capture sync.WaitGroup
	capture.Add(2)
	go p.capture("stdout", stdout, &capture)
	go p.capture("stderr", stderr, &capture)

	p.cmd = cmd
	p.done = make(chan struct{})
	go func() {
		// Pipes must be drained before Wait closes them
		capture.Wait()
		p.exitErr = cmd.Wait()
		close(p.done)
	}()
	return nil
}

// Stop sends SIGTERM and waits for the process to exit, killing it after
// stopTimeout. Stopping an exited process returns its exit error.
func (p *Process) Stop() error {
	if p.cmd == nil {
		return fmt.Errorf("process not started")
	}

	select {
	case <-p.done:
		return p.exitErr
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	select {
	case <-p.done:
		return p.exitErr
	case <-time.After(stopTimeout):
		_ = p.cmd.Process.Kill()
		<-p.done
		return fmt.Errorf("process did not stop within %s and was killed", stopTimeout)
	}
}

// Logs returns every captured line
func (p *Process) Logs() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.logs) == 0 {
		return ""
	}
	return strings.Join(p.logs, "\n") + "\n"
}

// WaitForLog waits until a captured line contains pattern
func (p *Process) WaitForLog(pattern string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if strings.Contains(p.Logs(), pattern) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for log pattern: %s", pattern)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (p *Process) capture(source string, reader io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()

		p.mu.Lock()
		p.logs = append(p.logs, line)
		p.mu.Unlock()

		if p.Verbose {
			fmt.Printf("[%s] %s\n", source, line)
		}
	}
}
