// Package completion wraps the single external text-generation call the chat
// relies on. Every failure mode collapses into one opaque kind so callers
// never branch on transport details.
package completion

import (
	"context"
	"errors"
	"fmt"
)

// ErrCompletionFailure matches any failure returned by a Client.
var ErrCompletionFailure = errors.New("completion failed")

// Client maps one prompt to one complete response text.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ClientFunc adapts a plain function to the Client interface.
type ClientFunc func(ctx context.Context, prompt string) (string, error)

func (f ClientFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Failure is the single error type produced by this package. The cause is
// kept for logging only.
type Failure struct {
	Cause error
}

func (f *Failure) Error() string {
	if f.Cause == nil {
		return ErrCompletionFailure.Error()
	}
	return fmt.Sprintf("%s: %v", ErrCompletionFailure, f.Cause)
}

func (f *Failure) Unwrap() error { return f.Cause }

func (f *Failure) Is(target error) bool { return target == ErrCompletionFailure }

// Fail wraps err as a Failure unless it already is one.
func Fail(err error) error {
	if err == nil {
		return &Failure{}
	}
	var f *Failure
	if errors.As(err, &f) {
		return err
	}
	return &Failure{Cause: err}
}

// Safe calls c and converts errors and panics into a Failure.
func Safe(ctx context.Context, c Client, prompt string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = Fail(fmt.Errorf("panic in completion client: %v", r))
		}
	}()

	text, err = c.Complete(ctx, prompt)
	if err != nil {
		return "", Fail(err)
	}
	return text, nil
}
