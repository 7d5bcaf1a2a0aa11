package models

import (
	"context"
	"time"

	"github.com/Protocol-Lattice/agentflow/src/cache"
)

// CachedLLM wraps an Agent and memoises text completions.
type CachedLLM struct {
	Agent Agent
	Cache *cache.LRU[string]
}

// NewCachedLLM creates a new CachedLLM wrapper. A size <= 0 returns agent unwrapped.
func NewCachedLLM(agent Agent, size int, ttl time.Duration) Agent {
	if size <= 0 {
		return agent
	}
	return &CachedLLM{Agent: agent, Cache: cache.New[string](size, ttl)}
}

// Generate checks the cache before calling the underlying agent.
func (c *CachedLLM) Generate(ctx context.Context, prompt string) (any, error) {
	key := cache.HashKey("generate", prompt)
	if val, ok := c.Cache.Get(key); ok {
		return val, nil
	}

	res, err := c.Agent.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	text := Text(res)
	if text != "" {
		c.Cache.Set(key, text)
	}
	return text, nil
}

// GenerateWithFiles keys the cache on the prompt plus every attachment.
func (c *CachedLLM) GenerateWithFiles(ctx context.Context, prompt string, files []File) (any, error) {
	parts := []string{"files", prompt}
	for _, f := range files {
		parts = append(parts, f.Name, f.MIME, string(f.Data))
	}
	key := cache.HashKey(parts...)
	if val, ok := c.Cache.Get(key); ok {
		return val, nil
	}

	res, err := c.Agent.GenerateWithFiles(ctx, prompt, files)
	if err != nil {
		return nil, err
	}
	text := Text(res)
	if text != "" {
		c.Cache.Set(key, text)
	}
	return text, nil
}

// GenerateStream serves cached prompts as a single chunk. Otherwise it
// forwards the underlying stream and caches the full text when it succeeds.
func (c *CachedLLM) GenerateStream(ctx context.Context, prompt string) (<-chan StreamChunk, error) {
	key := cache.HashKey("generate", prompt)
	if val, ok := c.Cache.Get(key); ok {
		ch := make(chan StreamChunk, 1)
		ch <- StreamChunk{Delta: val, FullText: val, Done: true}
		close(ch)
		return ch, nil
	}

	innerCh, err := Stream(ctx, c.Agent, prompt)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		for chunk := range innerCh {
			if chunk.Done && chunk.Err == nil && chunk.FullText != "" {
				c.Cache.Set(key, chunk.FullText)
			}
			ch <- chunk
		}
	}()
	return ch, nil
}

// AskDocument is forwarded when the wrapped agent supports it. Answers are not cached.
func (c *CachedLLM) AskDocument(ctx context.Context, file File, prompt string) (string, error) {
	da, ok := c.Agent.(DocumentAsker)
	if !ok {
		return "", ErrNoDocumentSupport
	}
	return da.AskDocument(ctx, file, prompt)
}
