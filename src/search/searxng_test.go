package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearchLimitsAndTagsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.URL.Query().Get("format") != "json" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"query":"q","results":[
			{"url":"https://a.example","title":"A","content":"alpha"},
			{"url":"","title":"skip me"},
			{"url":"https://b.example","title":"B","content":"beta"},
			{"url":"https://c.example","title":"C","content":"gamma"}]}`)
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL+"/"), WithMaxResults(2))
	results, err := c.Search(context.Background(), "who is the ceo of google", "")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].URL != "https://a.example" || results[1].URL != "https://b.example" {
		t.Fatalf("unexpected results: %+v", results)
	}
	for _, r := range results {
		if r.Query != "who is the ceo of google" {
			t.Fatalf("expected query to be recorded, got %q", r.Query)
		}
	}
}

func TestSearchErrors(t *testing.T) {
	if _, err := New().Search(context.Background(), "x", ""); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := New(WithBaseURL(srv.URL)).Search(context.Background(), "x", NewsCategory); err == nil {
		t.Fatalf("expected error for non-200 status")
	}
	if _, err := New(WithBaseURL(srv.URL)).Search(context.Background(), "   ", ""); err == nil {
		t.Fatalf("expected error for empty query")
	}
}
