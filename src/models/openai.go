package models

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

type OpenAILLM struct {
	Client       *openai.Client
	Model        string
	PromptPrefix string
}

func NewOpenAILLM(cfg ProviderConfig) *OpenAILLM {
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAILLM{Client: openai.NewClientWithConfig(conf), Model: model, PromptPrefix: cfg.PromptPrefix}
}

func (o *OpenAILLM) request(parts []openai.ChatMessagePart, text string) openai.ChatCompletionRequest {
	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(parts) > 0 {
		msg.MultiContent = parts
	} else {
		msg.Content = text
	}
	return openai.ChatCompletionRequest{Model: o.Model, Messages: []openai.ChatCompletionMessage{msg}}
}

func (o *OpenAILLM) Generate(ctx context.Context, prompt string) (any, error) {
	return o.complete(ctx, o.request(nil, withPrefix(o.PromptPrefix, prompt)))
}

func (o *OpenAILLM) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := o.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateWithFiles inlines text attachments and sends images as data URLs.
func (o *OpenAILLM) GenerateWithFiles(ctx context.Context, prompt string, files []File) (any, error) {
	var (
		textFiles []File
		images    []openai.ChatMessagePart
	)
	for _, f := range files {
		mt := normalizeMIME(f.Name, f.MIME)
		switch mt {
		case "image/jpeg", "image/png", "image/gif", "image/webp":
			images = append(images, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", mt, base64.StdEncoding.EncodeToString(f.Data)),
					Detail: openai.ImageURLDetailAuto,
				},
			})
		default:
			textFiles = append(textFiles, f)
		}
	}
	text := combinePromptWithFiles(withPrefix(o.PromptPrefix, prompt), textFiles)
	if len(images) == 0 {
		return o.complete(ctx, o.request(nil, text))
	}
	parts := append([]openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: text}}, images...)
	return o.complete(ctx, o.request(parts, ""))
}

func (o *OpenAILLM) GenerateStream(ctx context.Context, prompt string) (<-chan StreamChunk, error) {
	req := o.request(nil, withPrefix(o.PromptPrefix, prompt))
	req.Stream = true
	stream, err := o.Client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		defer stream.Close()
		var sb strings.Builder
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				ch <- StreamChunk{Done: true, FullText: sb.String(), Err: err}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				sb.WriteString(delta)
				ch <- StreamChunk{Delta: delta}
			}
		}
		ch <- StreamChunk{Done: true, FullText: sb.String()}
	}()
	return ch, nil
}

var _ StreamingAgent = (*OpenAILLM)(nil)
