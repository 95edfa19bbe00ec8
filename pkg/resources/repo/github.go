package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/openfroyo/spinup/pkg/resources/file"
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the GitHub REST endpoint.
const DefaultBaseURL = "https://api.github.com"

// API manages deploy keys of a hosted repository.
type API interface {
	// AddDeployKey registers key and returns its id.
	AddDeployKey(ctx context.Context, owner, repo, title, key string, readOnly bool) (int64, error)

	// RemoveDeployKey unregisters the key with id.
	RemoveDeployKey(ctx context.Context, owner, repo string, id int64) error
}

// GitHub implements API over the GitHub REST interface.
type GitHub struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// Token authenticates requests. It defaults to GITHUB_TOKEN, then
	// GITHUB_PASSWORD, from the environment.
	Token string
}

var _ API = (*GitHub)(nil)

type deployKeyRequest struct {
	Title    string `json:"title,omitempty"`
	Key      string `json:"key"`
	ReadOnly bool   `json:"read_only"`
}

type deployKeyResponse struct {
	ID int64 `json:"id"`
}

// AddDeployKey implements API.
func (g *GitHub) AddDeployKey(ctx context.Context, owner, repo, title, key string, readOnly bool) (int64, error) {
	body, err := json.Marshal(deployKeyRequest{Title: title, Key: key, ReadOnly: readOnly})
	if err != nil {
		return 0, err
	}
	url := fmt.Sprintf("%s/repos/%s/%s/keys", g.baseURL(), owner, repo)
	resp, err := g.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return 0, err
	}

	var out deployKeyResponse
	if err := json.Unmarshal(resp, &out); err != nil || out.ID == 0 {
		return 0, engine.NewPermanentError("malformed deploy key response", fmt.Errorf("%s", resp)).
			WithResource(owner + "/" + repo).
			WithCode(engine.ErrCodeProviderFailed)
	}
	return out.ID, nil
}

// RemoveDeployKey implements API.
func (g *GitHub) RemoveDeployKey(ctx context.Context, owner, repo string, id int64) error {
	url := fmt.Sprintf("%s/repos/%s/%s/keys/%d", g.baseURL(), owner, repo, id)
	_, err := g.do(ctx, http.MethodDelete, url, nil)
	return err
}

func (g *GitHub) baseURL() string {
	if g.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimSuffix(g.BaseURL, "/")
}

func (g *GitHub) token() string {
	if g.Token != "" {
		return g.Token
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return token
	}
	return os.Getenv("GITHUB_PASSWORD")
}

// client wraps the context's HTTP client with the token.
func (g *GitHub) client(ctx context.Context) (*http.Client, error) {
	token := g.token()
	if token == "" {
		return nil, engine.NewConfigurationError("no GitHub token", engine.ErrMissingConfiguration).
			WithResource("GITHUB_TOKEN").
			WithCode(engine.ErrCodeMissingConfig)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, file.HTTPClientFromContext(ctx))
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})), nil
}

func (g *GitHub) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	client, err := g.client(ctx)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, engine.NewTransientError("GitHub request failed", err).
			WithOperation(method + " " + url)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, engine.NewTransientError("failed to read GitHub response", err).
			WithOperation(method + " " + url)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e := engine.NewPermanentError("GitHub request failed", fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(data)))
		if resp.StatusCode >= 500 {
			e = engine.NewTransientError("GitHub request failed", fmt.Errorf("%s", resp.Status))
		}
		return nil, e.WithOperation(method + " " + url).
			WithCode(engine.ErrCodeProviderFailed).
			WithDetail("status", resp.StatusCode)
	}
	return data, nil
}

type apiKey struct{}

// WithAPI returns a context whose deploy keys register through api.
func WithAPI(ctx context.Context, api API) context.Context {
	return context.WithValue(ctx, apiKey{}, api)
}

// APIFromContext returns the API set by WithAPI, or GitHub.
func APIFromContext(ctx context.Context) API {
	if api, ok := ctx.Value(apiKey{}).(API); ok && api != nil {
		return api
	}
	return &GitHub{}
}
