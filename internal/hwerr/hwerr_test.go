package hwerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"wrapped busy", fmt.Errorf("configure: %w", ErrResourceBusy), "resource_busy"},
		{"double wrapped", fmt.Errorf("a: %w", fmt.Errorf("b: %w", ErrTerminal)), "terminal"},
		{"secure", ErrRejectedSecure, "rejected_secure"},
		{"unknown", errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Fatalf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
