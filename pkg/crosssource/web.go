package crosssource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/majordome-ai/majordome/pkg/models"
)

// WebAdapter queries a self-hosted metasearch endpoint (SearxNG JSON API).
// It only runs when a search explicitly asks for the web, and its results
// are never persisted: they exist solely inside the response that carried
// them.
type WebAdapter struct {
	endpoint string
	client   *http.Client
}

// NewWebAdapter points at the metasearch base URL. An empty endpoint leaves
// the adapter registered but unavailable.
func NewWebAdapter(endpoint string, client *http.Client) *WebAdapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &WebAdapter{endpoint: endpoint, client: client}
}

func (a *WebAdapter) SourceName() models.Source { return models.SourceWeb }

func (a *WebAdapter) IsAvailable() bool { return a.endpoint != "" }

type searxResponse struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float64 `json:"score"`
		PublishedDate string  `json:"publishedDate"`
	} `json:"results"`
}

func (a *WebAdapter) Search(ctx context.Context, query string, limit int, _ SearchOptions) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	u, err := url.Parse(a.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid web search endpoint: %w", err)
	}
	u = u.JoinPath("search")
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search returned status %d", resp.StatusCode)
	}

	var parsed searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode web search response: %w", err)
	}

	var results []models.SearchResult
	for i, r := range parsed.Results {
		if len(results) >= limit {
			break
		}
		score := r.Score
		if score <= 0 || score > 1 {
			// Engines without normalized scores: fall back to rank order.
			score = 1.0 / float64(i+1)
		}
		result := models.SearchResult{
			Source:     models.SourceWeb,
			Identifier: r.URL,
			Title:      r.Title,
			Snippet:    excerpt(r.Content, 200),
			Score:      score,
		}
		if r.PublishedDate != "" {
			if t, err := time.Parse(time.RFC3339, r.PublishedDate); err == nil {
				result.OccurredAt = t
			}
		}
		results = append(results, result)
	}
	return results, nil
}
