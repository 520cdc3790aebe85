package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestParseSearchItems(t *testing.T) {
	if _, err := parseSearchItems(nil); !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}

	docs, err := parseSearchItems([]searchItem{
		{Title: "Odvoz otpada", Source: "grad.hr/otpad", Score: 0.9},
		{Title: "Parkirne zone", Source: "grad.hr/promet", Score: 0.7},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(docs) != 2 || docs[0].Title != "Odvoz otpada" || docs[1].Score != 0.7 {
		t.Fatalf("unexpected docs: %+v", docs)
	}
}

func TestHTTPRetrieverCachesQueries(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "odvoz otpada" {
			t.Errorf("unexpected query %q", got)
		}
		_ = json.NewEncoder(w).Encode([]searchItem{
			{Title: "Raspored odvoza", Source: "grad.hr/otpad", Score: 0.8},
		})
	}))
	defer srv.Close()

	r := &HTTPRetriever{BaseURL: srv.URL}
	for i := 0; i < 3; i++ {
		docs, err := r.Search(context.Background(), "odvoz otpada", 3)
		if err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
		if len(docs) != 1 || docs[0].Title != "Raspored odvoza" {
			t.Fatalf("unexpected docs: %+v", docs)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected 1 upstream request, got %d", got)
	}
}

func TestHTTPRetrieverEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]searchItem{})
	}))
	defer srv.Close()

	r := &HTTPRetriever{BaseURL: srv.URL}
	if _, err := r.Search(context.Background(), "nepostojeći upit", 3); !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
}

func TestMockRetrieverDeterministic(t *testing.T) {
	m := MockRetriever{}
	first, err := m.Search(context.Background(), "parkiranje", 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	second, err := m.Search(context.Background(), "parkiranje", 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 docs, got %d", len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("same query must return the same docs: %+v vs %+v", first, second)
		}
	}

	other, _ := m.Search(context.Background(), "sasvim drugo pitanje", 3)
	if len(other) != 3 {
		t.Fatalf("expected 3 docs, got %d", len(other))
	}
}

func TestTop3(t *testing.T) {
	docs, _ := MockRetriever{}.Search(context.Background(), "upit", 6)
	if got := len(Top3(docs)); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := len(Top3(docs[:2])); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}
