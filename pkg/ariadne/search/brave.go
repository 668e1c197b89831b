package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jfarrand/ariadne/pkg/ariadne/retry"
)

// DefaultBraveBaseURL is Brave's production search endpoint.
const DefaultBraveBaseURL = "https://api.search.brave.com/res/v1"

// Brave is a Fetcher backed by the Brave Web Search API. Requests carry a
// bounded timeout and are retried a fixed number of times with linear backoff
// before failing.
type Brave struct {
	baseURL  string
	token    string
	country  string
	lang     string
	timeout  time.Duration
	attempts int
	baseWait time.Duration
	client   *http.Client
}

// BraveOption configures the Brave client.
type BraveOption func(*Brave)

// WithBraveBaseURL overrides the API endpoint, mainly for tests.
func WithBraveBaseURL(u string) BraveOption {
	return func(b *Brave) {
		if u != "" {
			b.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithBraveTimeout bounds each HTTP request. Default: 15s.
func WithBraveTimeout(d time.Duration) BraveOption {
	return func(b *Brave) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithBraveRetry sets the attempt bound and backoff unit.
func WithBraveRetry(attempts int, baseWait time.Duration) BraveOption {
	return func(b *Brave) {
		if attempts > 0 {
			b.attempts = attempts
		}
		if baseWait > 0 {
			b.baseWait = baseWait
		}
	}
}

// WithBraveLocale sets the country and search language query parameters.
func WithBraveLocale(country, lang string) BraveOption {
	return func(b *Brave) {
		if country != "" {
			b.country = country
		}
		if lang != "" {
			b.lang = lang
		}
	}
}

// NewBrave creates a Brave search client. The token is the subscription
// token from the Brave dashboard.
func NewBrave(token string, opts ...BraveOption) *Brave {
	b := &Brave{
		baseURL:  DefaultBraveBaseURL,
		token:    token,
		country:  "us",
		lang:     "en",
		timeout:  15 * time.Second,
		attempts: retry.MaxAttempts,
		baseWait: retry.BaseWait,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.client = &http.Client{Timeout: b.timeout}
	return b
}

var _ Fetcher = (*Brave)(nil)

// braveResponse mirrors the subset of Brave's web search payload we consume.
type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Profile     struct {
				LongName string `json:"long_name"`
			} `json:"profile"`
			PageAge string `json:"page_age"`
		} `json:"results"`
	} `json:"web"`
}

// Fetch implements Fetcher. Transport errors and non-2xx statuses are
// retried up to the attempt bound; an empty result list is returned as-is.
func (b *Brave) Fetch(ctx context.Context, query string, count int) ([]Result, error) {
	if b.token == "" {
		return nil, fmt.Errorf("brave search: subscription token not set")
	}
	if count <= 0 {
		count = 5
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	q.Set("country", b.country)
	q.Set("search_lang", b.lang)
	endpoint := b.baseURL + "/web/search?" + q.Encode()

	var payload braveResponse
	err := retry.Do(ctx, b.attempts, b.baseWait, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Subscription-Token", b.token)

		resp, err := b.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("brave search: status %d", resp.StatusCode)
		}

		payload = braveResponse{}
		return json.NewDecoder(resp.Body).Decode(&payload)
	})
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		u := strings.TrimSpace(r.URL)
		if u == "" {
			continue
		}
		results = append(results, Result{
			Title:     strings.TrimSpace(r.Title),
			URL:       u,
			Snippet:   strings.TrimSpace(r.Description),
			Source:    strings.TrimSpace(r.Profile.LongName),
			Published: strings.TrimSpace(r.PageAge),
		})
	}
	return results, nil
}
