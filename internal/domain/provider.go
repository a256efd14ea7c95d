package domain

import "context"

// Completer is a remote text-generation service queried for open-ended replies.
// An empty answer with a nil error is never returned: implementations report
// missing answers as errors so callers can fall back uniformly.
type Completer interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type CompletionRequest struct {
	Prompt string
	// Context is the formatted window of earlier messages. Providers that are
	// deliberately isolated from prior turns receive it empty.
	Context string
	// System holds standing instructions, when the provider supports them.
	System string
}
