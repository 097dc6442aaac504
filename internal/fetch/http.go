package fetch

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pictureloader/pictureloader/pkg/errors"
	"github.com/pictureloader/pictureloader/pkg/utils"
)

// HTTPConfig configures the HTTP fetcher.
type HTTPConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	UserAgent      string
	// Client overrides the constructed client; the timeouts above are then ignored.
	Client *http.Client
	Logger *slog.Logger
}

// DefaultHTTPConfig returns the settings used when none are configured.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		ConnectTimeout: 15 * time.Second,
		ReadTimeout:    10 * time.Second,
		UserAgent:      "pictureloader/1.0",
	}
}

// HTTPFetcher retrieves http and https locators with a plain GET.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// NewHTTPFetcher builds a fetcher from cfg.
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	client := cfg.Client
	if client == nil {
		dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = dialer.DialContext
		transport.ResponseHeaderTimeout = cfg.ReadTimeout
		client = &http.Client{Transport: transport}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = utils.DiscardLogger()
	}

	return &HTTPFetcher{
		client:    client,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// Fetch issues the GET. Any status outside 2xx is a FETCH_FAILED error
// carrying the status code.
func (h *HTTPFetcher) Fetch(ctx context.Context, locator string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fetchError(errors.ErrCodeFetchFailed, locator, "invalid request", err)
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Debug("HTTP fetch failed", "locator", locator, "error", err)
		return nil, fetchError(errors.ErrCodeFetchFailed, locator, "request failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		h.logger.Debug("HTTP fetch rejected", "locator", locator, "status", resp.StatusCode)
		return nil, fetchError(errors.ErrCodeFetchFailed, locator, "unexpected status "+resp.Status, nil).
			WithDetail("status", resp.StatusCode)
	}

	h.logger.Debug("HTTP fetch started",
		"locator", locator,
		"status", resp.StatusCode,
		"content_length", resp.ContentLength,
		"latency", time.Since(start))
	return resp.Body, nil
}
