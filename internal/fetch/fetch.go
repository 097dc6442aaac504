// Package fetch opens byte streams for picture locators.
package fetch

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/pictureloader/pictureloader/internal/buffer"
	"github.com/pictureloader/pictureloader/pkg/errors"
)

// Fetcher opens the raw bytes behind a locator. The caller closes the stream.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (io.ReadCloser, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, locator string) (io.ReadCloser, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, locator string) (io.ReadCloser, error) {
	return f(ctx, locator)
}

// Router picks a Fetcher by locator scheme.
type Router struct {
	mu      sync.RWMutex
	schemes map[string]Fetcher
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{schemes: make(map[string]Fetcher)}
}

// Handle registers f for the given schemes, replacing earlier registrations.
func (r *Router) Handle(f Fetcher, schemes ...string) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range schemes {
		r.schemes[strings.ToLower(s)] = f
	}
	return r
}

// Schemes lists the registered schemes.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemes))
	for s := range r.schemes {
		out = append(out, s)
	}
	return out
}

// Fetch dispatches to the fetcher registered for the locator scheme.
func (r *Router) Fetch(ctx context.Context, locator string) (io.ReadCloser, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return nil, fetchError(errors.ErrCodeFetchUnsupported, locator, "malformed locator", err)
	}

	r.mu.RLock()
	f, ok := r.schemes[strings.ToLower(u.Scheme)]
	r.mu.RUnlock()
	if !ok {
		return nil, fetchError(errors.ErrCodeFetchUnsupported, locator, "no fetcher for scheme", nil).
			WithContext("scheme", u.Scheme)
	}
	return f.Fetch(ctx, locator)
}

// CopyTo streams the locator's bytes into w through a pooled buffer of
// bufSize bytes. Any failure, including a short write, is a fetch error and
// the caller must discard what was written.
func CopyTo(ctx context.Context, f Fetcher, locator string, w io.Writer, bufSize int) (int64, error) {
	rc, err := f.Fetch(ctx, locator)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := buffer.Copy(w, contextReader{ctx: ctx, r: rc}, bufSize)
	if err != nil {
		return n, fetchError(errors.ErrCodeFetchFailed, locator, "stream interrupted", err).
			WithDetail("bytes", n)
	}
	return n, nil
}

// ReadAll fetches the locator fully into memory.
func ReadAll(ctx context.Context, f Fetcher, locator string, bufSize int) ([]byte, error) {
	body := buffer.GetBody()
	defer buffer.PutBody(body)

	if _, err := CopyTo(ctx, f, locator, body, bufSize); err != nil {
		return nil, err
	}
	return bytes.Clone(body.Bytes()), nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// StatusOf returns the HTTP status carried by a fetch error, or 0.
func StatusOf(err error) int {
	var le *errors.LoaderError
	if !stderrors.As(err, &le) || le.Details == nil {
		return 0
	}
	status, _ := le.Details["status"].(int)
	return status
}

func fetchError(code errors.ErrorCode, locator, msg string, cause error) *errors.LoaderError {
	e := errors.NewError(code, msg).
		WithComponent("fetcher").
		WithOperation("fetch").
		WithContext("locator", locator)
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}
