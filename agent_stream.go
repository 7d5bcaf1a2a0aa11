package agent

import (
	"context"
	"strings"

	"github.com/Protocol-Lattice/agentflow/src/models"
)

// GenerateStream provides a streaming interface for the agent's generation process.
// It follows the same logic as Generate but returns a channel of chunks. Tool
// routing happens before the channel is returned; only the final
// composition is streamed.
func (a *Agent) GenerateStream(ctx context.Context, turn Turn) (<-chan models.StreamChunk, error) {
	st, err := a.begin(ctx, turn)
	if err != nil {
		return nil, err
	}
	p, err := a.plan(ctx, st)
	if err != nil {
		return nil, err
	}

	immediateStream := func(text string) (<-chan models.StreamChunk, error) {
		reply := a.finish(ctx, st, p, text)
		ch := make(chan models.StreamChunk, 1)
		ch <- models.StreamChunk{Delta: reply.Text, FullText: reply.Text, Done: true}
		close(ch)
		return ch, nil
	}

	if p.prompt == "" {
		return immediateStream(p.text)
	}

	stream, err := models.Stream(ctx, a.model, p.prompt)
	if err != nil {
		if p.fallback == "" {
			return nil, err
		}
		return immediateStream(p.fallback)
	}

	// Wrap the stream to store the final text in the session.
	outCh := make(chan models.StreamChunk)
	go func() {
		defer close(outCh)
		// The reply is recorded even if the caller stops reading.
		saveCtx := context.WithoutCancel(ctx)
		send := func(chunk models.StreamChunk) bool {
			select {
			case outCh <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var full strings.Builder
		for chunk := range stream {
			switch {
			case chunk.Err != nil && p.fallback != "" && full.Len() == 0:
				reply := a.finish(saveCtx, st, p, p.fallback)
				send(models.StreamChunk{Delta: reply.Text, FullText: reply.Text, Done: true})
				return
			case chunk.Err != nil:
				a.finish(saveCtx, st, p, full.String())
				send(chunk)
				return
			case chunk.Done:
				full.WriteString(chunk.Delta)
				text := full.String()
				if strings.TrimSpace(text) == "" {
					text = chunk.FullText
				}
				if strings.TrimSpace(text) == "" {
					text = p.fallback
				}
				reply := a.finish(saveCtx, st, p, text)
				if full.Len() == 0 {
					chunk.Delta = reply.Text
				}
				chunk.FullText = reply.Text
				send(chunk)
				return
			}
			full.WriteString(chunk.Delta)
			if !send(chunk) {
				a.finish(saveCtx, st, p, full.String())
				return
			}
		}
		a.finish(saveCtx, st, p, full.String())
	}()

	return outCh, nil
}
