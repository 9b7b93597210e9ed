package errors

import (
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestStorageErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("persist: %w", NewStorageError("put", 7, io.ErrClosedPipe))

	var se *StorageError
	if !As(err, &se) {
		t.Fatalf("expected StorageError in chain")
	}
	if se.Op != "put" || se.ID != 7 {
		t.Errorf("unexpected fields: %+v", se)
	}
	if !Is(err, io.ErrClosedPipe) {
		t.Errorf("expected cause to be reachable")
	}
	if !strings.Contains(se.Error(), "id=7") {
		t.Errorf("expected id in message, got %q", se.Error())
	}
}

func TestNetworkErrorRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{0, true},
		{500, true},
		{503, true},
		{429, true},
		{400, false},
		{401, false},
		{404, false},
	}
	for _, tt := range tests {
		e := NewNetworkError("GET", "/tickers", tt.status, "", nil)
		if got := e.Retryable(); got != tt.want {
			t.Errorf("status %d: Retryable() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestParseErrorTruncatesPayload(t *testing.T) {
	e := NewParseError([]byte(strings.Repeat("x", 500)), io.ErrUnexpectedEOF)
	if len(e.Error()) > 220 {
		t.Errorf("message not truncated: %d bytes", len(e.Error()))
	}
	if !Is(e, io.ErrUnexpectedEOF) {
		t.Errorf("expected cause to be reachable")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
}
