package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"mago-voice-backend/internal/httpc"
	"mago-voice-backend/internal/upstream"
)

const (
	newsAPIBaseURL  = "https://newsapi.org"
	providerNewsAPI = "newsapi"
)

// NewsAPI implements NewsProvider with the newsapi.org top-headlines endpoint.
type NewsAPI struct {
	apiKey   string
	baseURL  string
	country  string
	pageSize int
	client   *http.Client
}

// NewNewsAPI creates a NewsAPI provider for a country (e.g. "jp").
func NewNewsAPI(apiKey, country, baseURL string, client *http.Client) (*NewsAPI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("newsapi: %w: api key required", upstream.ErrAuth)
	}
	if country == "" {
		country = "jp"
	}
	if baseURL == "" {
		baseURL = newsAPIBaseURL
	}
	if client == nil {
		client = httpc.Client
	}
	return &NewsAPI{
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		country:  country,
		pageSize: 20,
		client:   client,
	}, nil
}

// Headlines returns top headlines whose titles contain any of the
// space-separated query terms. An empty query returns all of them.
func (n *NewsAPI) Headlines(ctx context.Context, query string) ([]Headline, error) {
	q := url.Values{}
	q.Set("country", n.country)
	q.Set("pageSize", fmt.Sprint(n.pageSize))

	header := http.Header{}
	header.Set("X-Api-Key", n.apiKey)

	var body struct {
		Status   string `json:"status"`
		Code     string `json:"code"`
		Message  string `json:"message"`
		Articles []struct {
			Title  string `json:"title"`
			URL    string `json:"url"`
			Source struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := getJSON(ctx, n.client, providerNewsAPI, n.baseURL+"/v2/top-headlines?"+q.Encode(), header, &body); err != nil {
		return nil, err
	}
	if body.Status != "ok" {
		if body.Code == "apiKeyInvalid" || body.Code == "apiKeyMissing" {
			return nil, upstream.Classify(providerNewsAPI, fmt.Errorf("%w: %s", upstream.ErrAuth, body.Message))
		}
		return nil, upstream.Malformed(providerNewsAPI, "status %q: %s", body.Status, body.Message)
	}

	terms := strings.Fields(query)
	out := make([]Headline, 0, len(body.Articles))
	for _, a := range body.Articles {
		title := strings.TrimSpace(a.Title)
		if title == "" {
			continue
		}
		if len(terms) > 0 && !containsAnyTerm(title, terms) {
			continue
		}
		out = append(out, Headline{Title: title, Source: a.Source.Name, URL: a.URL})
	}
	return out, nil
}

func containsAnyTerm(s string, terms []string) bool {
	lower := strings.ToLower(s)
	for _, t := range terms {
		if strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}
