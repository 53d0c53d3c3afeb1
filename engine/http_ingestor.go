package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPIngestor pushes a TTS artifact path to the engine over its
// alternate HTTP PUT ingestion port, grounded on
// core/netease/client.go's base-URL-plus-timeout http.Client wrapper
// shape.
type HTTPIngestor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPIngestor builds an ingestor bound to baseURL with the given
// per-request timeout.
func NewHTTPIngestor(baseURL string, timeout time.Duration) *HTTPIngestor {
	return &HTTPIngestor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Enqueue PUTs the artifact path to the engine's ingestion endpoint.
func (h *HTTPIngestor) Enqueue(ctx context.Context, path string) error {
	target := fmt.Sprintf("%s/enqueue?path=%s", h.baseURL, url.QueryEscape(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineRejected, err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: engine returned %d", ErrEngineUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: engine returned %d", ErrEngineRejected, resp.StatusCode)
	}
	return nil
}
