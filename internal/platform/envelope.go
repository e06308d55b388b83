package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"thirdcoast.systems/shelf/internal/governor"
)

// ErrMalformedPayload is returned when an answer cannot be decoded.
var ErrMalformedPayload = errors.New("platform: malformed payload")

// maxTextBytes bounds HTML and JSON bodies read into memory.
const maxTextBytes = 8 << 20

// Getter issues a governed GET. *governor.Governor satisfies it.
type Getter interface {
	Get(ctx context.Context, rawURL string, opts ...governor.Option) (*http.Response, error)
}

// Envelope is the wrapper around every API answer.
type Envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// APIError is a well-formed answer whose code is not zero.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform: api code %d: %s", e.Code, e.Message)
}

// Decode reads an envelope and returns its data when code is zero.
func Decode[T any](r io.Reader) (T, error) {
	var env Envelope[T]
	if err := json.NewDecoder(io.LimitReader(r, maxTextBytes)).Decode(&env); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if env.Code != 0 {
		var zero T
		return zero, &APIError{Code: env.Code, Message: env.Message}
	}
	return env.Data, nil
}

// Fetch performs a governed GET and decodes the envelope.
func Fetch[T any](ctx context.Context, g Getter, rawURL string, opts ...governor.Option) (T, error) {
	resp, err := g.Get(ctx, rawURL, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	defer resp.Body.Close()
	return Decode[T](resp.Body)
}

// FetchJSON decodes a bare JSON document that has no envelope.
func FetchJSON[T any](ctx context.Context, g Getter, rawURL string, opts ...governor.Option) (T, error) {
	var out T
	resp, err := g.Get(ctx, rawURL, opts...)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTextBytes)).Decode(&out); err != nil {
		return out, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return out, nil
}

// FetchText returns a body as a string, for HTML pages.
func FetchText(ctx context.Context, g Getter, rawURL string, opts ...governor.Option) (string, error) {
	resp, err := g.Get(ctx, rawURL, opts...)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxTextBytes))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// NormalizeURL turns a protocol-relative URL into an https one.
func NormalizeURL(u string) string {
	if len(u) > 2 && u[:2] == "//" {
		return "https:" + u
	}
	return u
}
