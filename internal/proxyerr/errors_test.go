package proxyerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"direct", New(KindAuth, "bad key"), KindAuth},
		{"wrapped", fmt.Errorf("connect: %w", New(KindNetwork, "dial failed")), KindNetwork},
		{"canceled", context.Canceled, KindClientGone},
		{"plain", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVendorError(t *testing.T) {
	err := fmt.Errorf("decode: %w", Vendor("3001", "invalid text"))

	if !Is(err, KindVendorProtocol) {
		t.Fatalf("expected vendor protocol error, got %v", err)
	}
	if CodeOf(err) != "3001" {
		t.Errorf("expected code 3001, got %q", CodeOf(err))
	}
	if MessageOf(err) != "invalid text" {
		t.Errorf("expected message 'invalid text', got %q", MessageOf(err))
	}
	if IsRetryable(err) {
		t.Error("vendor protocol errors must not be retryable")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindNetwork, cause, "receive")

	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable")
	}
	if !IsRetryable(err) {
		t.Error("network errors should be retryable")
	}
	if got := err.Error(); got != "network_error: receive: connection reset" {
		t.Errorf("unexpected message %q", got)
	}
}
