// Package httputil holds small helpers for reading HTTP payloads safely.
package httputil

import (
	"errors"
	"io"
)

// DefaultMaxResponseBodyBytes caps upstream response bodies at 10MB.
// Catalog listings and completions both sit far below this.
const DefaultMaxResponseBodyBytes int64 = 10 * 1024 * 1024

var ErrResponseBodyTooLarge = errors.New("response body too large")

// ReadLimitedBody reads at most maxBytes from reader. Oversized bodies
// return the truncated prefix together with ErrResponseBodyTooLarge so
// callers can still log what arrived.
func ReadLimitedBody(reader io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(reader)
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return body, err
	}
	if int64(len(body)) > maxBytes {
		return body[:maxBytes], ErrResponseBodyTooLarge
	}
	return body, nil
}
