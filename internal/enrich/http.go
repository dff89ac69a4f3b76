package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kadenwood/kadenverify/internal/pkg/httpretry"
)

func newAPIClient() httpretry.HTTPDoer {
	return httpretry.New(&http.Client{Timeout: 15 * time.Second}, 2)
}

// postJSON sends a JSON payload and decodes a JSON answer. Non-200 statuses
// become errors; the retry layer has already eaten the transient ones.
func postJSON(ctx context.Context, doer httpretry.HTTPDoer, url string, headers map[string]string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("enrich: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("enrich: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := doer.Do(req)
	if err != nil {
		return fmt.Errorf("enrich: %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("enrich: %s returned status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("enrich: decoding response: %w", err)
	}
	return nil
}
