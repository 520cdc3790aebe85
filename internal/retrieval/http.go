package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gradski-asistent/backend/internal/models"
)

// HTTPRetriever calls the retrieval service's /search endpoint. Results are
// cached per query and requests are spaced by MinInterval so a chatty
// conversation does not hammer the index.
type HTTPRetriever struct {
	BaseURL     string
	MinInterval time.Duration
	Client      *http.Client

	mu        sync.Mutex
	lastReqAt time.Time
	cache     map[string][]models.RetrievedDoc
}

type searchItem struct {
	Title  string  `json:"title"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

func (r *HTTPRetriever) Search(ctx context.Context, query string, limit int) ([]models.RetrievedDoc, error) {
	if r.Client == nil {
		r.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if limit <= 0 {
		limit = 3
	}

	key := fmt.Sprintf("%d|%s", limit, query)
	r.mu.Lock()
	if r.cache == nil {
		r.cache = map[string][]models.RetrievedDoc{}
	}
	if cached, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	sleepFor := time.Until(r.lastReqAt.Add(r.MinInterval))
	if sleepFor > 0 {
		r.mu.Unlock()
		time.Sleep(sleepFor)
		r.mu.Lock()
	}
	r.lastReqAt = time.Now()
	r.mu.Unlock()

	endpoint := fmt.Sprintf("%s/search?q=%s&limit=%d", r.BaseURL, url.QueryEscape(query), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("retrieval http error: %s", resp.Status)
	}

	var items []searchItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, err
	}
	docs, err := parseSearchItems(items)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = docs
	r.mu.Unlock()
	return docs, nil
}

func parseSearchItems(items []searchItem) ([]models.RetrievedDoc, error) {
	if len(items) == 0 {
		return nil, ErrNoResults
	}
	out := make([]models.RetrievedDoc, 0, len(items))
	for _, it := range items {
		out = append(out, models.RetrievedDoc{
			Title:  it.Title,
			Source: it.Source,
			Score:  it.Score,
		})
	}
	return out, nil
}
