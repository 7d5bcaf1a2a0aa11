package models

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// ProviderConfig selects and configures a model adapter.
type ProviderConfig struct {
	Provider     string
	Model        string
	APIKey       string
	BaseURL      string
	PromptPrefix string
	MaxTokens    int
}

// NewLLMProvider returns a concrete Agent for cfg.Provider.
func NewLLMProvider(ctx context.Context, cfg ProviderConfig) (Agent, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		return NewOpenAILLM(cfg), nil
	case "gemini", "google":
		g, err := NewGeminiLLM(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "ollama":
		o, err := NewOllamaLLM(cfg)
		if err != nil {
			return nil, err
		}
		return o, nil
	case "anthropic", "claude":
		return NewAnthropicLLM(cfg), nil
	case "dummy":
		return NewDummyLLM(cfg.PromptPrefix), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

func withPrefix(prefix, prompt string) string {
	if p := strings.TrimSpace(prefix); p != "" {
		return p + "\n\n" + prompt
	}
	return prompt
}

// normalizeMIME strips parameters and falls back to the file extension.
func normalizeMIME(name, m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	if m != "" && strings.Contains(m, "/") && !strings.HasSuffix(m, "/") {
		return m
	}
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".md":
		return "text/markdown"
	case ".pdf":
		return "application/pdf"
	case "":
		return ""
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		return normalizeMIME("", byExt)
	}
	return ""
}

func isTextMIME(m string) bool {
	if strings.HasPrefix(m, "text/") {
		return true
	}
	switch m {
	case "application/json", "application/xml", "application/x-yaml", "application/yaml":
		return true
	}
	return false
}

// combinePromptWithFiles inlines text attachments and references the rest by name.
func combinePromptWithFiles(base string, files []File) string {
	if len(files) == 0 {
		return base
	}

	var b strings.Builder
	b.Grow(len(base) + 256)
	b.WriteString(base)
	b.WriteString("\n\n---\nATTACHMENTS CONTEXT - BEGIN\n")
	for i, f := range files {
		title := strings.TrimSpace(f.Name)
		if title == "" {
			title = fmt.Sprintf("file_%d", i+1)
		}
		mt := normalizeMIME(f.Name, f.MIME)
		if isTextMIME(mt) && len(f.Data) > 0 {
			fmt.Fprintf(&b, "\n<<<FILE %s [%s]>>>:\n", title, mt)
			b.Write(f.Data)
			fmt.Fprintf(&b, "\n<<<END FILE %s>>>\n", title)
			continue
		}
		fmt.Fprintf(&b, "\n[Non-text attachment] %s", title)
		if mt != "" {
			fmt.Fprintf(&b, " (%s)", mt)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nATTACHMENTS CONTEXT - END\n---\n")
	return b.String()
}
