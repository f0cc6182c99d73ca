// Package remote runs typed scripts inside a browser page.
//
// A Script pairs a JavaScript function expression with Go argument and result types.
// The argument is serialized once and passed as the single parameter of the function; the
// resolved value is decoded into the result type. Every call site therefore shares one
// templating path instead of splicing JSON literals into script text.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
)

// Kind classifies a failed script call.
type Kind string

const (
	// KindWindowMissing means the page the script targets no longer exists.
	KindWindowMissing Kind = "window_missing"
	// KindException means the script threw or its promise rejected.
	KindException Kind = "exception"
	// KindFrameDestroyed means the page navigated away while the script ran. The script's
	// side effects may have happened, so callers usually treat this as success with no data.
	KindFrameDestroyed Kind = "frame_destroyed"
	// KindDecode means the script returned a value that does not fit the result type.
	KindDecode Kind = "decode"
)

var (
	ErrWindowMissing  = errors.New("remote: window missing")
	ErrFrameDestroyed = errors.New("remote: frame destroyed")
	ErrException      = errors.New("remote: script exception")
)

// Error is returned by Script.Run for any failure.
type Error struct {
	Kind   Kind
	Script string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote script %q: %s: %v", e.Script, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrWindowMissing:
		return e.Kind == KindWindowMissing
	case ErrFrameDestroyed:
		return e.Kind == KindFrameDestroyed
	case ErrException:
		return e.Kind == KindException
	}
	return false
}

// KindOf extracts the failure kind, or "" when err is nil or not a script failure.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	switch {
	case errors.Is(err, ErrWindowMissing):
		return KindWindowMissing
	case errors.Is(err, ErrFrameDestroyed):
		return KindFrameDestroyed
	case errors.Is(err, ErrException):
		return KindException
	}
	return ""
}

// Call is one evaluation request handed to an Evaluator.
type Call struct {
	Name       string
	Expression string
}

// Evaluator executes a prepared expression in a page and returns the raw JSON value it
// resolved to. Implementations classify their own failures by returning ErrWindowMissing,
// ErrFrameDestroyed or ErrException (wrapped is fine).
type Evaluator interface {
	Evaluate(ctx context.Context, call Call) ([]byte, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, call Call) ([]byte, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, call Call) ([]byte, error) { return f(ctx, call) }

// Script is a typed remote function. Body must be a JavaScript function expression taking
// one argument, for example `async (arg) => { ... }`.
type Script[A any, R any] struct {
	Name string
	Body string
}

// New declares a script.
func New[A any, R any](name, body string) Script[A, R] {
	return Script[A, R]{Name: name, Body: body}
}

// envelope keeps undefined and null results distinguishable from a missing value.
type envelope struct {
	V json.RawMessage `json:"v"`
}

// Expression renders the script with its serialized argument into a self-contained,
// promise-returning expression.
func (s Script[A, R]) Expression(arg A) (string, error) {
	encoded, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("remote: failed to encode argument for %q: %w", s.Name, err)
	}
	return Wrap(s.Body, string(encoded)), nil
}

// Wrap builds the evaluation expression for a function body and a JSON argument literal.
func Wrap(body, argJSON string) string {
	var b strings.Builder
	b.Grow(len(body) + len(argJSON) + 128)
	b.WriteString("(async () => { const __r = await (")
	b.WriteString(body)
	b.WriteString(")(")
	b.WriteString(argJSON)
	b.WriteString("); return { v: __r === undefined ? null : __r }; })()")
	return b.String()
}

// Run executes the script and decodes its result. A frame_destroyed failure is returned as
// an *Error; use IsFrameDestroyed to treat it as success where that is appropriate.
func (s Script[A, R]) Run(ctx context.Context, ev Evaluator, arg A) (R, error) {
	var zero R
	expr, err := s.Expression(arg)
	if err != nil {
		return zero, &Error{Kind: KindDecode, Script: s.Name, Err: err}
	}

	raw, err := ev.Evaluate(ctx, Call{Name: s.Name, Expression: expr})
	if err != nil {
		kind := KindOf(err)
		if kind == "" {
			kind = KindException
		}
		return zero, &Error{Kind: kind, Script: s.Name, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return zero, &Error{Kind: KindDecode, Script: s.Name, Err: err}
	}
	if len(env.V) == 0 || string(env.V) == "null" {
		return zero, nil
	}
	var out R
	if err := json.Unmarshal(env.V, &out); err != nil {
		return zero, &Error{Kind: KindDecode, Script: s.Name, Err: fmt.Errorf("%w (payload: %.200s)", err, string(env.V))}
	}
	return out, nil
}

// IsFrameDestroyed reports whether err came from a navigation tearing down the page.
func IsFrameDestroyed(err error) bool {
	return errors.Is(err, ErrFrameDestroyed)
}

// Reason maps a script failure to the boundary reason code: window_missing for a missing
// page and exception for anything else.
func Reason(err error) string {
	if KindOf(err) == KindWindowMissing {
		return string(KindWindowMissing)
	}
	return string(KindException)
}
