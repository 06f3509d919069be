package metadata

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const providerTimeout = 15 * time.Second

// maxProviderResponseSize bounds how much of a provider response we'll read.
const maxProviderResponseSize = 4 << 20

func newProviderClient() *http.Client {
	return &http.Client{Timeout: providerTimeout}
}

// getJSON performs a GET and decodes the JSON body into out, mapping HTTP
// status classes onto the provider error kinds.
func getJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(ErrInvalidRequest, err.Error())
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(ErrNetwork, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.WithStack(ErrRateLimited)
	case resp.StatusCode == http.StatusNotFound:
		return errors.WithStack(ErrNotFound)
	case resp.StatusCode >= 500:
		return errors.Wrapf(ErrServer, "status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return errors.Wrapf(ErrInvalidRequest, "status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
	if err != nil {
		return errors.Wrap(ErrNetwork, err.Error())
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(ErrServer, "malformed response: "+err.Error())
	}
	return nil
}
