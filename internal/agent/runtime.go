// Package agent is the boundary to the LLM agent runtime. The runner sees
// only Runtime: a request in, a stream of messages out, and a typed error.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// PermissionBypass lets the agent use its allowed tools without prompting.
const PermissionBypass = "bypassPermissions"

// Request is everything needed to start or resume one agent session.
type Request struct {
	Model          string
	SystemPrompt   string
	Prompt         string
	Tools          []string
	PermissionMode string
	MaxTurns       int
	// Cwd is the working directory the agent's relative paths resolve against.
	Cwd string
	// Resume is an opaque session token from an earlier run, or empty.
	Resume string
}

// MessageType distinguishes streamed messages.
type MessageType string

const (
	// TypeAssistant carries a chunk of assistant text.
	TypeAssistant MessageType = "assistant"
	// TypeResult is the terminal summary. At most one per query.
	TypeResult MessageType = "result"
)

// Message is one element of the runtime's output stream.
type Message struct {
	Type       MessageType
	Text       string
	SessionID  string
	CostUSD    float64
	HasCost    bool
	DurationMS int64
	IsError    bool
}

// Runtime runs an agent session. yield is called for each streamed message
// in order; Query returns once the stream is drained. Failures are returned
// as *InvocationError.
type Runtime interface {
	Query(ctx context.Context, req Request, yield func(Message)) error
}

// ErrorKind classifies a failed invocation.
type ErrorKind int

const (
	// KindOther is any failure without a known recovery path.
	KindOther ErrorKind = iota
	// KindRateLimited means the provider refused for rate, quota or token
	// budget reasons; the next scheduled run retries naturally.
	KindRateLimited
)

func (k ErrorKind) String() string {
	if k == KindRateLimited {
		return "rate-limited"
	}
	return "other"
}

// InvocationError is the only error type a Runtime returns.
type InvocationError struct {
	Kind ErrorKind
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("agent: %s: %v", e.Kind, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a rate-limited invocation failure.
func IsRateLimited(err error) bool {
	var inv *InvocationError
	return errors.As(err, &inv) && inv.Kind == KindRateLimited
}

var rateLimitVocabulary = []string{"rate", "limit", "quota", "token"}

// Classify wraps err in an InvocationError, deciding its kind from the error
// text. Errors that are already classified pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var inv *InvocationError
	if errors.As(err, &inv) {
		return err
	}
	kind := KindOther
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &InvocationError{Kind: kind, Err: err}
	}
	text := strings.ToLower(err.Error())
	for _, word := range rateLimitVocabulary {
		if strings.Contains(text, word) {
			kind = KindRateLimited
			break
		}
	}
	return &InvocationError{Kind: kind, Err: err}
}
