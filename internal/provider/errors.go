package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Error is a failed provider call. StatusCode is zero for transport failures.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, "provider responded %d", e.StatusCode)
	} else {
		b.WriteString("provider call failed")
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Classifier decides whether a failure is worth retrying. TransientCodes is the
// provider's allow-list of error codes that signal a temporary condition.
type Classifier struct {
	transient map[string]struct{}
}

func NewClassifier(transientCodes []string) Classifier {
	c := Classifier{transient: make(map[string]struct{}, len(transientCodes))}
	for _, code := range transientCodes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code != "" {
			c.transient[code] = struct{}{}
		}
	}
	return c
}

// IsTransientCode reports whether a provider error code is on the allow-list.
func (c Classifier) IsTransientCode(code string) bool {
	_, ok := c.transient[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

// IsRetryable: network errors, timeouts, 5xx, 429 and allow-listed codes are retryable.
// Everything else needs a human to fix the payload or the mapping.
func (c Classifier) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var perr *Error
	if errors.As(err, &perr) {
		if perr.StatusCode >= http.StatusInternalServerError || perr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		if perr.Code != "" && c.IsTransientCode(perr.Code) {
			return true
		}
		if perr.StatusCode != 0 {
			return false
		}
		return isNetworkError(perr.Err)
	}
	return isNetworkError(err)
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
