// Package operator provides the blocking prompt/acknowledge channel used
// when the run needs a human at the bench (tip rack replacement). The
// prompt is synchronous: no motion is attempted until the operator answers.
package operator

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Common errors
var (
	ErrConfirmTimeout = errors.New("operator: confirmation wait timed out")
	ErrInputClosed    = errors.New("operator: input closed before confirmation")
)

// Console prompts on Out and waits for the operator to press enter on In.
type Console struct {
	In  io.Reader
	Out io.Writer

	// WaitTimeout bounds the wait for an acknowledgment. Zero means wait
	// forever, which matches the bench behavior; a bound is an optional
	// hardening for unattended runs.
	WaitTimeout time.Duration

	mu      sync.Mutex
	scanner *bufio.Scanner
}

// NewConsole returns a Console bound to stdin/stdout.
func NewConsole() *Console {
	return &Console{In: os.Stdin, Out: os.Stdout}
}

// Confirm writes the prompt and blocks until the operator presses enter.
func (c *Console) Confirm(prompt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scanner == nil {
		c.scanner = bufio.NewScanner(c.In)
	}
	fmt.Fprintf(c.Out, "\n>>> %s\n    Press enter to resume: ", prompt)

	if c.WaitTimeout <= 0 {
		if !c.scanner.Scan() {
			if err := c.scanner.Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrInputClosed, err)
			}
			return ErrInputClosed
		}
		return nil
	}

	// The reader goroutine cannot be cancelled once started; on timeout it
	// is abandoned and the run aborts.
	done := make(chan error, 1)
	go func() {
		if !c.scanner.Scan() {
			if err := c.scanner.Err(); err != nil {
				done <- fmt.Errorf("%w: %v", ErrInputClosed, err)
				return
			}
			done <- ErrInputClosed
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(c.WaitTimeout):
		fmt.Fprintln(c.Out)
		return fmt.Errorf("%w after %s", ErrConfirmTimeout, c.WaitTimeout)
	}
}

// AutoConfirm acknowledges every prompt immediately. Used by dry runs and
// simulations where no operator is present.
type AutoConfirm struct {
	// Prompts records every prompt text seen, newest last.
	Prompts []string
}

// Confirm records the prompt and returns immediately.
func (a *AutoConfirm) Confirm(prompt string) error {
	a.Prompts = append(a.Prompts, prompt)
	return nil
}
