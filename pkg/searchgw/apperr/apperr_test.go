package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{Validation, 400},
		{NotFound, 404},
		{Unavailable, 503},
		{RateLimited, 429},
		{Timeout, 504},
		{Internal, 500},
	}
	for _, c := range cases {
		if got := c.kind.HTTPStatus(); got != c.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	t.Run("wrapped app error", func(t *testing.T) {
		err := fmt.Errorf("searching: %w", New(NotFound, "office not found"))
		if got := KindOf(err); got != NotFound {
			t.Errorf("KindOf = %s, want not_found", got)
		}
	})

	t.Run("deadline maps to timeout", func(t *testing.T) {
		err := fmt.Errorf("query: %w", context.DeadlineExceeded)
		if got := KindOf(err); got != Timeout {
			t.Errorf("KindOf = %s, want timeout", got)
		}
	})

	t.Run("plain error is internal", func(t *testing.T) {
		if got := KindOf(errors.New("boom")); got != Internal {
			t.Errorf("KindOf = %s, want internal", got)
		}
	})
}

func TestAsError(t *testing.T) {
	orig := New(RateLimited, "slow down").WithRetryAfter(7)
	got := AsError(fmt.Errorf("llm: %w", orig))
	if got.Kind != RateLimited || got.RetryAfterSec != 7 {
		t.Errorf("AsError lost fields: %+v", got)
	}

	plain := AsError(errors.New("boom"))
	if plain.Kind != Internal || plain.Message == "" {
		t.Errorf("AsError(plain) = %+v", plain)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Unavailable, "search backend unreachable", cause)
	if !errors.Is(err, cause) {
		t.Errorf("cause not reachable through Unwrap")
	}
	if !Is(err, Unavailable) {
		t.Errorf("Is(Unavailable) = false")
	}
	if Is(err, NotFound) {
		t.Errorf("Is(NotFound) = true")
	}
}
