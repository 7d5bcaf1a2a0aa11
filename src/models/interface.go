package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// File is a lightweight in-memory attachment.
// Name is used for display; MIME should be best-effort (e.g., "application/pdf").
type File struct {
	Name string
	MIME string
	Data []byte
}

// Agent is the minimal contract every language model adapter satisfies.
type Agent interface {
	Generate(context.Context, string) (any, error)
	GenerateWithFiles(context.Context, string, []File) (any, error)
}

// StreamChunk is one increment of a streamed completion. The final chunk has
// Done set and carries the FullText (and Err when the stream failed).
type StreamChunk struct {
	Delta    string
	FullText string
	Done     bool
	Err      error
}

// StreamingAgent is implemented by adapters that can stream completions.
type StreamingAgent interface {
	Agent
	GenerateStream(context.Context, string) (<-chan StreamChunk, error)
}

// DocumentAsker is implemented by providers that can ground an answer on an
// uploaded document natively instead of on extracted text.
type DocumentAsker interface {
	AskDocument(ctx context.Context, file File, prompt string) (string, error)
}

// Text flattens a completion value into a trimmed string.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Stream adapts any Agent to a stream. Non-streaming agents produce a single
// final chunk.
func Stream(ctx context.Context, a Agent, prompt string) (<-chan StreamChunk, error) {
	if s, ok := a.(StreamingAgent); ok {
		return s.GenerateStream(ctx, prompt)
	}
	out, err := a.Generate(ctx, prompt)
	ch := make(chan StreamChunk, 1)
	if err != nil {
		ch <- StreamChunk{Done: true, Err: err}
	} else {
		text := Text(out)
		ch <- StreamChunk{Delta: text, FullText: text, Done: true}
	}
	close(ch)
	return ch, nil
}

// ErrNoDocumentSupport is returned by wrappers whose underlying agent cannot ask documents natively.
var ErrNoDocumentSupport = errors.New("model does not support native document questions")

// AsDocumentAsker returns a's native document support, unwrapping caches.
func AsDocumentAsker(a Agent) (DocumentAsker, bool) {
	if c, ok := a.(*CachedLLM); ok {
		return AsDocumentAsker(c.Agent)
	}
	da, ok := a.(DocumentAsker)
	return da, ok
}
