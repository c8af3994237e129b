package diagram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/docwriter/llm"
)

// maxImageSize caps a rendered image read.
const maxImageSize = 20 * 1024 * 1024 // 20MB

// Renderer turns PlantUML sources into images.
type Renderer interface {
	// RenderPNG renders the source to PNG bytes.
	RenderPNG(ctx context.Context, source string) ([]byte, error)

	// RenderSVG renders the source to SVG bytes.
	RenderSVG(ctx context.Context, source string) ([]byte, error)
}

// HTTPRenderer renders through a PlantUML server's POST API. Failures
// classify with the llm error wrappers: server trouble is transient,
// rejected sources are fatal.
type HTTPRenderer struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// RendererOption configures an HTTPRenderer.
type RendererOption func(*HTTPRenderer)

// WithRendererHTTPClient sets a custom HTTP client.
func WithRendererHTTPClient(c *http.Client) RendererOption {
	return func(r *HTTPRenderer) { r.httpClient = c }
}

// WithRendererLogger sets the logger.
func WithRendererLogger(logger *slog.Logger) RendererOption {
	return func(r *HTTPRenderer) { r.logger = logger }
}

// NewHTTPRenderer creates a renderer against a PlantUML server.
func NewHTTPRenderer(baseURL string, opts ...RendererOption) *HTTPRenderer {
	r := &HTTPRenderer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RenderPNG renders the source to PNG bytes.
func (r *HTTPRenderer) RenderPNG(ctx context.Context, source string) ([]byte, error) {
	return r.render(ctx, "png", source)
}

// RenderSVG renders the source to SVG bytes.
func (r *HTTPRenderer) RenderSVG(ctx context.Context, source string) ([]byte, error) {
	return r.render(ctx, "svg", source)
}

func (r *HTTPRenderer) render(ctx context.Context, format, source string) ([]byte, error) {
	url := r.baseURL + "/" + format
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(source))
	if err != nil {
		return nil, llm.NewFatalError(fmt.Errorf("create render request: %w", err))
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	r.logger.Debug("Rendering diagram", "format", format, "source_bytes", len(source))

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, llm.NewTransientError(fmt.Errorf("render request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		return nil, llm.NewTransientError(fmt.Errorf("read rendered image: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, llm.NewTransientError(fmt.Errorf("plantuml server error (status %d)", resp.StatusCode))
	default:
		detail := string(body)
		if len(detail) > 200 {
			detail = detail[:200] + "..."
		}
		return nil, llm.NewFatalError(fmt.Errorf("plantuml rejected source (status %d): %s", resp.StatusCode, detail))
	}
}
