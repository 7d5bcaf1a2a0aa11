package models

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

type OllamaLLM struct {
	Client       *ollama.Client
	Model        string
	PromptPrefix string
}

// NewOllamaLLM connects to cfg.BaseURL, defaulting to a local daemon.
func NewOllamaLLM(cfg ProviderConfig) (*OllamaLLM, error) {
	host := cfg.BaseURL
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid OLLAMA_HOST %q: %w", host, err)
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.2"
	}
	return &OllamaLLM{
		Client:       ollama.NewClient(u, &http.Client{Timeout: 120 * time.Second}),
		Model:        model,
		PromptPrefix: cfg.PromptPrefix,
	}, nil
}

func (o *OllamaLLM) Generate(ctx context.Context, prompt string) (any, error) {
	return o.collect(ctx, &ollama.GenerateRequest{Model: o.Model, Prompt: withPrefix(o.PromptPrefix, prompt)})
}

// GenerateWithFiles sends images natively and inlines text attachments.
func (o *OllamaLLM) GenerateWithFiles(ctx context.Context, prompt string, files []File) (any, error) {
	var (
		textFiles []File
		images    []ollama.ImageData
	)
	for _, f := range files {
		mt := normalizeMIME(f.Name, f.MIME)
		if strings.HasPrefix(mt, "image/") {
			images = append(images, ollama.ImageData(base64.StdEncoding.EncodeToString(f.Data)))
			continue
		}
		textFiles = append(textFiles, f)
	}
	return o.collect(ctx, &ollama.GenerateRequest{
		Model:  o.Model,
		Prompt: combinePromptWithFiles(withPrefix(o.PromptPrefix, prompt), textFiles),
		Images: images,
	})
}

func (o *OllamaLLM) collect(ctx context.Context, req *ollama.GenerateRequest) (string, error) {
	var text strings.Builder
	if err := o.Client.Generate(ctx, req, func(gr ollama.GenerateResponse) error {
		text.WriteString(gr.Response)
		return nil
	}); err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return text.String(), nil
}

// GenerateStream leverages Ollama's native callback-based streaming.
func (o *OllamaLLM) GenerateStream(ctx context.Context, prompt string) (<-chan StreamChunk, error) {
	req := &ollama.GenerateRequest{Model: o.Model, Prompt: withPrefix(o.PromptPrefix, prompt)}

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		var sb strings.Builder
		err := o.Client.Generate(ctx, req, func(gr ollama.GenerateResponse) error {
			if gr.Response != "" {
				sb.WriteString(gr.Response)
				ch <- StreamChunk{Delta: gr.Response}
			}
			return nil
		})
		ch <- StreamChunk{Done: true, FullText: sb.String(), Err: err}
	}()
	return ch, nil
}

var _ StreamingAgent = (*OllamaLLM)(nil)
