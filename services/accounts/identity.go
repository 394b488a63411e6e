package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
)

// Identity is the directory entry an account is created from.
type Identity struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Image    string `json:"image"`
}

// IdentityProvider looks up users by external id. Unknown ids yield
// coin.ErrAccountNotFound.
type IdentityProvider interface {
	Lookup(ctx context.Context, id string) (Identity, error)
}

// HTTPIdentityProvider queries an auth server's GET /users/{id} endpoint.
type HTTPIdentityProvider struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPIdentityProvider creates a provider for the auth server at baseURL.
func NewHTTPIdentityProvider(baseURL string, timeout time.Duration) *HTTPIdentityProvider {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPIdentityProvider{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (p *HTTPIdentityProvider) Lookup(ctx context.Context, id string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/users/"+url.PathEscape(id), nil)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("identity lookup %s: %w", id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Identity{}, fmt.Errorf("%w: %s", coin.ErrAccountNotFound, id)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Identity{}, fmt.Errorf("identity lookup %s: status %d: %s", id, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Identity
		Name    string `json:"name"`
		Surname string `json:"surname"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Identity{}, fmt.Errorf("decode identity %s: %w", id, err)
	}

	ident := payload.Identity
	if ident.ID == "" {
		ident.ID = id
	}
	if ident.FullName == "" {
		ident.FullName = strings.TrimSpace(payload.Name + " " + payload.Surname)
	}
	return ident, nil
}

// StaticIdentities serves a fixed directory.
type StaticIdentities map[string]Identity

func (s StaticIdentities) Lookup(_ context.Context, id string) (Identity, error) {
	ident, ok := s[id]
	if !ok {
		return Identity{}, fmt.Errorf("%w: %s", coin.ErrAccountNotFound, id)
	}
	if ident.ID == "" {
		ident.ID = id
	}
	return ident, nil
}

// AnonymousIdentities accepts every id and uses it as the full name. Used
// when no auth server is configured.
type AnonymousIdentities struct{}

func (AnonymousIdentities) Lookup(_ context.Context, id string) (Identity, error) {
	return Identity{ID: id, FullName: id}, nil
}
