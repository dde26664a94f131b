package airquality

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBytes caps provider response bodies.
const maxResponseBytes = 4 << 20

// Doer executes HTTP requests. *resilience.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// GetJSON performs a GET request and decodes the JSON body into out. Every
// failure is returned as a provider failure with its cause class:
// transport errors, timeouts and open circuits are network failures;
// 401, 403 and 429 are auth failures; any other non-2xx status and any
// decode error is a malformed response.
func GetJSON(ctx context.Context, client Doer, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return Unavailable(ErrCauseMalformed, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Unavailable(ErrCauseNetwork, fmt.Errorf("executing request: %w", err))
	}
	defer resp.Body.Close()

	if err := StatusError(resp.StatusCode); err != nil {
		return err
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return Unavailable(ErrCauseMalformed, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// StatusError classifies a non-2xx HTTP status. It returns nil for 2xx.
func StatusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusTooManyRequests:
		return Unavailable(ErrCauseAuth, fmt.Errorf("unexpected status code: %d", code))
	default:
		return Unavailable(ErrCauseMalformed, fmt.Errorf("unexpected status code: %d", code))
	}
}
