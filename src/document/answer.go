package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/Protocol-Lattice/agentflow/src/cache"
	"github.com/Protocol-Lattice/agentflow/src/models"
	"github.com/Protocol-Lattice/agentflow/src/search"
)

// NotInDocument is the canonical answer when the document does not cover a question.
const NotInDocument = "NOT_IN_DOCUMENT"

// Source tells where an Answer came from.
type Source string

const (
	SourceDocument Source = "document"
	SourceWeb      Source = "web"
	SourceNone     Source = "none"
)

// Answer is the result of a question put to the document, possibly
// completed by a web search.
type Answer struct {
	Text     string          `json:"answer"`
	Source   Source          `json:"source"`
	Document string          `json:"document,omitempty"`
	Results  []search.Result `json:"results,omitempty"`
}

// Answerer asks questions about the first PDF in a data directory.
type Answerer struct {
	model    models.Agent
	dir      string
	searcher search.Searcher
	logger   zerolog.Logger
	maxChars int
	texts    *cache.LRU[string]

	// Extract converts a PDF path into text. Defaults to ExtractText.
	Extract func(path string) (string, error)
}

type Option func(*Answerer)

// WithSearcher enables the web fallback.
func WithSearcher(s search.Searcher) Option {
	return func(a *Answerer) { a.searcher = s }
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Answerer) { a.logger = l }
}

// WithMaxChars caps how much extracted text is put into a prompt.
func WithMaxChars(n int) Option {
	return func(a *Answerer) {
		if n > 0 {
			a.maxChars = n
		}
	}
}

func NewAnswerer(model models.Agent, dir string, opts ...Option) *Answerer {
	a := &Answerer{
		model:    model,
		dir:      dir,
		logger:   zerolog.Nop(),
		maxChars: 60000,
		texts:    cache.New[string](8, time.Hour),
		Extract:  ExtractText,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Prompt builds the strict document question.
func Prompt(question string) string {
	return fmt.Sprintf(`Please answer the following question based ONLY on the content of this document.

Question: %s

IMPORTANT:
- Answer ONLY if the information is clearly in the document
- If the information is NOT in the document, respond with exactly: "%s"
- Do not guess or infer information not in the document

Provide a clear and concise answer if found, or "%s" if not found.`, question, NotInDocument, NotInDocument)
}

// Normalize maps every flavour of "not found" onto NotInDocument.
func Normalize(answer string) string {
	answer = strings.TrimSpace(answer)
	lower := strings.ToLower(answer)
	switch {
	case answer == "",
		strings.Contains(strings.ToUpper(answer), NotInDocument),
		strings.Contains(lower, "not available"),
		strings.Contains(lower, "not in the document"):
		return NotInDocument
	}
	return answer
}

// Ask answers question from the document alone. The result is either a
// grounded answer or NotInDocument.
func (a *Answerer) Ask(ctx context.Context, question string) (string, string, error) {
	path, err := Locate(a.dir)
	if err != nil {
		return "", "", err
	}
	name := filepath.Base(path)

	if asker, ok := models.AsDocumentAsker(a.model); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", name, fmt.Errorf("read %s: %w", path, err)
		}
		out, err := asker.AskDocument(ctx, models.File{Name: name, MIME: "application/pdf", Data: data}, Prompt(question))
		if err == nil {
			return Normalize(out), name, nil
		}
		if ctx.Err() != nil {
			return "", name, ctx.Err()
		}
		a.logger.Warn().Err(err).Str("document", name).Msg("native document question failed, using extracted text")
	}

	text, err := a.text(path)
	if err != nil {
		return "", name, err
	}
	out, err := a.model.GenerateWithFiles(ctx, Prompt(question), []models.File{{
		Name: name + ".txt",
		MIME: "text/plain",
		Data: []byte(text),
	}})
	if err != nil {
		return "", name, fmt.Errorf("ask document: %w", err)
	}
	return Normalize(models.Text(out)), name, nil
}

func (a *Answerer) text(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	key := cache.HashKey(path, info.ModTime().UTC().String(), strconv.FormatInt(info.Size(), 10))
	if t, ok := a.texts.Get(key); ok {
		return t, nil
	}
	t, err := a.Extract(path)
	if err != nil {
		return "", err
	}
	t = truncateUTF8(t, a.maxChars)
	a.texts.Set(key, t)
	return t, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Answer tries the document first and falls back to the web when the
// document has no answer or the question is general knowledge.
func (a *Answerer) Answer(ctx context.Context, question string) (Answer, error) {
	if a.searcher != nil && IsGeneralKnowledge(question) {
		return a.fromWeb(ctx, question, "")
	}

	text, name, err := a.Ask(ctx, question)
	switch {
	case err == nil && text != NotInDocument:
		return Answer{Text: text, Source: SourceDocument, Document: name}, nil
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return Answer{}, err
	case err != nil && a.searcher == nil:
		return Answer{}, err
	case err != nil:
		a.logger.Warn().Err(err).Msg("document unavailable, searching the web")
	}

	if a.searcher == nil {
		return Answer{Text: NotInDocument, Source: SourceNone, Document: name}, nil
	}
	return a.fromWeb(ctx, question, name)
}

func (a *Answerer) fromWeb(ctx context.Context, question, doc string) (Answer, error) {
	results, err := a.searcher.Search(ctx, question, search.GeneralCategory)
	if err != nil {
		if errors.Is(err, search.ErrNotConfigured) {
			return Answer{Text: NotInDocument, Source: SourceNone, Document: doc}, nil
		}
		return Answer{}, fmt.Errorf("web search: %w", err)
	}
	if len(results) == 0 {
		return Answer{Text: NotInDocument, Source: SourceNone, Document: doc}, nil
	}

	out, err := a.model.Generate(ctx, webPrompt(question, results))
	if err != nil {
		return Answer{}, fmt.Errorf("answer from web: %w", err)
	}
	return Answer{Text: models.Text(out), Source: SourceWeb, Document: doc, Results: results}, nil
}

func webPrompt(question string, results []search.Result) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the web search results below. Cite the URLs you used.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\nResults:\n", question)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s (%s)\n   %s\n", i+1, r.Title, r.URL, r.Content)
	}
	return b.String()
}

var generalMarkers = []string{
	"ceo of", "president of", "capital of", "founder of", "who founded",
	"latest", "news", "current events", "stock price", "population of",
}

// IsGeneralKnowledge reports whether question is clearly about the world
// rather than the local document.
func IsGeneralKnowledge(question string) bool {
	q := strings.ToLower(question)
	if strings.Contains(q, " my ") || strings.HasPrefix(q, "my ") || strings.Contains(q, "resume") || strings.Contains(q, "document") {
		return false
	}
	for _, m := range generalMarkers {
		if strings.Contains(q, m) {
			return true
		}
	}
	return false
}
