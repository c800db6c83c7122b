package ctlerr

import (
	"context"
	"errors"
	"net/http"
	"os"
	"syscall"
	"testing"
)

func TestClassifyRecognizesSentinelErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"context canceled", context.Canceled, KindCancelled},
		{"deadline exceeded", context.DeadlineExceeded, KindCancelled},
		{"not exist", os.ErrNotExist, KindVanished},
		{"permission", os.ErrPermission, KindPermission},
		{"no space", syscall.ENOSPC, KindNoSpace},
		{"unclassified", errors.New("boom"), KindUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Classify(c.err); got != c.want {
				t.Errorf("Classify(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestClassifyRecognizesHTTPStatusErrors(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusTooManyRequests, KindRateLimit},
		{http.StatusInternalServerError, KindUnknown},
	}
	for _, c := range cases {
		err := &HTTPStatusError{StatusCode: c.status, Path: "/test"}
		if got := Classify(err); got != c.want {
			t.Errorf("Classify(status %d) = %v, want %v", c.status, got, c.want)
		}
	}
}

func TestWrapPreservesClassificationThroughUnwrap(t *testing.T) {
	wrapped := Wrap("copying file", os.ErrPermission)
	var opErr *OpError
	if !errors.As(wrapped, &opErr) {
		t.Fatal("expected an *OpError")
	}
	if opErr.Kind != KindPermission {
		t.Errorf("kind = %v, want %v", opErr.Kind, KindPermission)
	}
	if !errors.Is(wrapped, os.ErrPermission) {
		t.Error("wrapped error should unwrap to the original cause")
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if err := Wrap("op", nil); err != nil {
		t.Errorf("Wrap(op, nil) = %v, want nil", err)
	}
}

func TestRetryableKinds(t *testing.T) {
	retryable := []Kind{KindTransient, KindRateLimit, KindVanished, KindCancelled}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("%v should be retryable", k)
		}
	}
	terminal := []Kind{KindPermission, KindNoSpace, KindAuth, KindVerification, KindInvariant, KindUnknown}
	for _, k := range terminal {
		if k.Retryable() {
			t.Errorf("%v should not be retryable", k)
		}
	}
}
