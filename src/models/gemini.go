package models

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// ErrMissingGeminiKey is returned when neither GEMINI_API_KEY nor GOOGLE_API_KEY is configured.
var ErrMissingGeminiKey = errors.New("missing GEMINI_API_KEY or GOOGLE_API_KEY")

// GeminiLLM talks to Google Gemini. It also implements DocumentAsker by
// uploading the document through the Files API.
type GeminiLLM struct {
	Client       *genai.Client
	Model        string
	PromptPrefix string

	// PollInterval controls how often an uploaded file is checked for readiness.
	PollInterval time.Duration
}

func NewGeminiLLM(ctx context.Context, cfg ProviderConfig) (*GeminiLLM, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingGeminiKey
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini init: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiLLM{
		Client:       client,
		Model:        model,
		PromptPrefix: cfg.PromptPrefix,
		PollInterval: 2 * time.Second,
	}, nil
}

func (g *GeminiLLM) Generate(ctx context.Context, prompt string) (any, error) {
	return g.generate(ctx, genai.Text(withPrefix(g.PromptPrefix, prompt)))
}

func (g *GeminiLLM) GenerateWithFiles(ctx context.Context, prompt string, files []File) (any, error) {
	var (
		textFiles []File
		parts     []genai.Part
	)
	for _, f := range files {
		mt := normalizeMIME(f.Name, f.MIME)
		if isTextMIME(mt) || mt == "" {
			textFiles = append(textFiles, f)
			continue
		}
		parts = append(parts, genai.Blob{MIMEType: mt, Data: f.Data})
	}
	full := combinePromptWithFiles(withPrefix(g.PromptPrefix, prompt), textFiles)
	return g.generate(ctx, append([]genai.Part{genai.Text(full)}, parts...)...)
}

func (g *GeminiLLM) generate(ctx context.Context, parts ...genai.Part) (string, error) {
	resp, err := g.Client.GenerativeModel(g.Model).GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", errors.New("gemini: empty response")
	}
	return text, nil
}

// GenerateStream uses GenerateContentStream and forwards every text part.
func (g *GeminiLLM) GenerateStream(ctx context.Context, prompt string) (<-chan StreamChunk, error) {
	iter := g.Client.GenerativeModel(g.Model).GenerateContentStream(ctx, genai.Text(withPrefix(g.PromptPrefix, prompt)))

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		var sb strings.Builder
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				ch <- StreamChunk{Done: true, FullText: sb.String(), Err: fmt.Errorf("gemini stream: %w", err)}
				return
			}
			if delta := responseText(resp); delta != "" {
				sb.WriteString(delta)
				ch <- StreamChunk{Delta: delta}
			}
		}
		ch <- StreamChunk{Done: true, FullText: sb.String()}
	}()
	return ch, nil
}

// AskDocument uploads file, waits until Gemini has processed it, asks prompt
// against it and deletes the upload afterwards.
func (g *GeminiLLM) AskDocument(ctx context.Context, file File, prompt string) (string, error) {
	mt := normalizeMIME(file.Name, file.MIME)
	if mt == "" {
		mt = "application/octet-stream"
	}
	uploaded, err := g.Client.UploadFile(ctx, "", bytes.NewReader(file.Data), &genai.UploadFileOptions{
		MIMEType:    mt,
		DisplayName: file.Name,
	})
	if err != nil {
		return "", fmt.Errorf("gemini upload %s: %w", file.Name, err)
	}
	defer func() {
		// The upload expires on its own if the delete fails.
		_ = g.Client.DeleteFile(context.WithoutCancel(ctx), uploaded.Name)
	}()

	for uploaded.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(g.pollInterval()):
		}
		if uploaded, err = g.Client.GetFile(ctx, uploaded.Name); err != nil {
			return "", fmt.Errorf("gemini file status: %w", err)
		}
	}
	if uploaded.State != genai.FileStateActive {
		return "", fmt.Errorf("gemini file %s not usable (state %v)", uploaded.Name, uploaded.State)
	}

	return g.generate(ctx,
		genai.FileData{MIMEType: uploaded.MIMEType, URI: uploaded.URI},
		genai.Text(withPrefix(g.PromptPrefix, prompt)),
	)
}

func (g *GeminiLLM) pollInterval() time.Duration {
	if g.PollInterval <= 0 {
		return 2 * time.Second
	}
	return g.PollInterval
}

// Close releases the underlying client.
func (g *GeminiLLM) Close() error {
	return g.Client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}
	return sb.String()
}

var (
	_ StreamingAgent = (*GeminiLLM)(nil)
	_ DocumentAsker  = (*GeminiLLM)(nil)
)
