// Package llm adapts the language-model completion service used by the
// content steps and QC agents: a prompt goes in, a JSON document comes out.
package llm

import (
	"context"
	"errors"
)

// Prompt is one completion request.
type Prompt struct {
	// Name identifies the caller (step or agent) in logs and cache keys.
	Name   string
	System string
	User   string
}

// Completer turns a prompt into raw model output.
type Completer interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt Prompt) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}

var (
	// ErrEmptyResponse is returned when the service answers without content.
	ErrEmptyResponse = errors.New("empty completion response")

	// ErrInvalidResponse is returned when output is not JSON or fails its schema.
	ErrInvalidResponse = errors.New("invalid completion response")
)
