package transcribe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
)

const scannerBufSize = 256 * 1024

// Runner executes an external tool, reporting each output line.
type Runner interface {
	Run(ctx context.Context, name string, args []string, onLine func(line string)) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run starts name, scans its stdout and stderr line by line, and waits for
// it to exit. A non-zero exit is returned with the last output line.
func (ExecRunner) Run(ctx context.Context, name string, args []string, onLine func(string)) error {
	binaryPath, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("%s not found in PATH", name)
	}

	cmd := exec.CommandContext(ctx, binaryPath, args...)
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	var (
		mu   sync.Mutex
		last string
		wg   sync.WaitGroup
	)
	emit := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		if strings.TrimSpace(line) != "" {
			last = line
		}
		if onLine != nil {
			onLine(line)
		}
	}
	wg.Add(2)
	go func() { defer wg.Done(); scanOutput(name, stdoutPipe, emit) }()
	go func() { defer wg.Done(); scanOutput(name, stderrPipe, emit) }()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if last != "" {
				return fmt.Errorf("%s exited with code %d: %s", name, exitErr.ExitCode(), last)
			}
			return fmt.Errorf("%s exited with code %d", name, exitErr.ExitCode())
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// scanOutput reads lines from a pipe and hands them to emit.
func scanOutput(name string, pipe io.Reader, emit func(string)) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, scannerBufSize), scannerBufSize)
	for scanner.Scan() {
		emit(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		log.Printf("%s: scanner error: %v", name, err)
	}
}
