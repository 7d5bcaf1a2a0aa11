package document

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrNoDataDir is returned when the configured data directory does not exist.
	ErrNoDataDir = errors.New("data folder not found")
	// ErrNoDocument is returned when the data directory holds no PDF.
	ErrNoDocument = errors.New("no PDF files found in data folder")
	// ErrEmptyDocument is returned when a PDF yields no extractable text.
	ErrEmptyDocument = errors.New("document contains no extractable text")
)

// Locate returns the first PDF in dir, ordered by file name. Matching on the
// extension is case-insensitive.
func Locate(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNoDataDir, dir)
		}
		return "", fmt.Errorf("read data dir: %w", err)
	}
	var pdfs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			pdfs = append(pdfs, e.Name())
		}
	}
	if len(pdfs) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoDocument, dir)
	}
	sort.Strings(pdfs)
	return filepath.Join(dir, pdfs[0]), nil
}

// ExtractText reads the PDF at path and returns its text, one line per row.
// Pages that cannot be decoded are skipped.
func ExtractText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return ExtractBytes(data)
}

// ExtractBytes is ExtractText for an in-memory PDF.
func ExtractBytes(data []byte) (text string, err error) {
	// The pdf package panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		for _, row := range rows {
			var line strings.Builder
			for _, word := range row.Content {
				line.WriteString(word.S)
			}
			if s := strings.TrimSpace(line.String()); s != "" {
				b.WriteString(s)
				b.WriteByte('\n')
			}
		}
	}
	text = strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}
