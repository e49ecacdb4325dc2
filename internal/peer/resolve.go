package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dkeye/novacast/internal/domain"
)

var ErrUnknownJoinCode = errors.New("peer: unknown join code")

// ResolveJoinCode asks the broker behind brokerURL (the ws endpoint) which
// identity a join code belongs to.
func ResolveJoinCode(ctx context.Context, client *http.Client, brokerURL string, code domain.JoinCode) (domain.Identity, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return "", fmt.Errorf("broker url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws") + "/resolve/" + url.PathEscape(string(code))
	u.RawQuery = ""

	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrUnknownJoinCode, code)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("resolve error %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		ID domain.Identity `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode resolve: %w", err)
	}
	return domain.ParseIdentity(string(out.ID))
}
