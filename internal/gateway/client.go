// Package gateway performs the outbound HTTP calls against the n8n webhook
// service that serves the product catalog and the AI try-on generation.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"provador/internal/infra"
)

// ErrorKind tags a gateway failure.
type ErrorKind string

const (
	// KindUnreachable covers transport-level failures: DNS, refused
	// connections, timeouts, cancelled contexts.
	KindUnreachable ErrorKind = "unreachable"
	// KindUpstreamStatus means the webhook answered with a non-2xx status.
	KindUpstreamStatus ErrorKind = "upstream_status"
)

// Error is the tagged result of a failed webhook call. Nothing else escapes
// this package's boundary.
type Error struct {
	Kind   ErrorKind
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Kind == KindUpstreamStatus {
		return fmt.Sprintf("gateway: upstream status %d", e.Status)
	}
	return fmt.Sprintf("gateway: upstream unreachable: %s", e.Detail)
}

// AsError unwraps a gateway error from an error chain.
func AsError(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// Options configures the webhook client.
type Options struct {
	CatalogURL string
	TryOnURL   string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *infra.Logger
}

// Client issues the two webhook operations. It holds no state beyond its
// configuration and is safe for concurrent use.
type Client struct {
	catalogURL string
	tryOnURL   string
	httpClient *http.Client
	logger     *infra.Logger
}

// TryOnRequest carries the generation inputs. Field names on the wire follow
// the webhook's contract.
type TryOnRequest struct {
	PhotoData string `json:"fotoCliente"`
	ProductID string `json:"produtoId"`
	ImageRef  string `json:"imagemOculos"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	catalogURL := strings.TrimSpace(opts.CatalogURL)
	if catalogURL == "" {
		return nil, errors.New("gateway: catalog url is required")
	}
	tryOnURL := strings.TrimSpace(opts.TryOnURL)
	if tryOnURL == "" {
		return nil, errors.New("gateway: try-on url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		catalogURL: catalogURL,
		tryOnURL:   tryOnURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// ListProducts fetches the raw catalog payload. Any 2xx body is returned
// verbatim; the caller normalizes it.
func (c *Client) ListProducts(ctx context.Context) (json.RawMessage, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.catalogURL, nil)
	if err != nil {
		return nil, 0, &Error{Kind: KindUnreachable, Detail: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, "list_products")
}

// GenerateTryOn posts the photo and product reference to the generation
// webhook and returns the raw response payload.
func (c *Client) GenerateTryOn(ctx context.Context, treq TryOnRequest) (json.RawMessage, int, error) {
	body, err := json.Marshal(treq)
	if err != nil {
		return nil, 0, &Error{Kind: KindUnreachable, Detail: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tryOnURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, &Error{Kind: KindUnreachable, Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "generate_tryon")
}

// ForwardTryOn relays an already-encoded request body to the try-on webhook
// unchanged. The proxy surface uses this; the workflow uses GenerateTryOn.
func (c *Client) ForwardTryOn(ctx context.Context, body []byte) (json.RawMessage, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tryOnURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, &Error{Kind: KindUnreachable, Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "forward_tryon")
}

func (c *Client) do(req *http.Request, op string) (json.RawMessage, int, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Str("op", op).Err(err).Msg("webhook call failed")
		return nil, 0, &Error{Kind: KindUnreachable, Detail: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &Error{Kind: KindUnreachable, Detail: err.Error()}
	}
	c.logger.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("webhook call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &Error{
			Kind:   KindUpstreamStatus,
			Status: resp.StatusCode,
			Detail: strings.TrimSpace(string(raw)),
		}
	}
	return raw, resp.StatusCode, nil
}
