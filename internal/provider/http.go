package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mago-voice-backend/internal/upstream"
)

// getJSON performs a GET and decodes a 2xx JSON body into out.
// Failures are classified with upstream.Classify.
func getJSON(ctx context.Context, client *http.Client, provider, rawURL string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return upstream.Classify(provider, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return upstream.Classify(provider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return upstream.Classify(provider, upstream.FromResponse(provider, resp, []byte(strings.TrimSpace(string(b)))))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return upstream.Classify(provider, fmt.Errorf("decode %s: %w", provider, err))
	}
	return nil
}
