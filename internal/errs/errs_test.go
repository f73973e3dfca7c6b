package errs

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestWrapPreservesCauseAndKind(t *testing.T) {
	base := errors.New("disk I/O error")
	err := Wrap(base, KindDatabase, "insert messages")
	if err == nil {
		t.Fatal("expected wrapped error")
	}
	if KindOf(err) != KindDatabase {
		t.Errorf("KindOf = %q, want %q", KindOf(err), KindDatabase)
	}
	if !errors.Is(err, base) {
		t.Error("expected wrapped error to preserve cause")
	}
	if !errors.Is(err, KindDatabase) {
		t.Error("expected errors.Is to match the kind")
	}
	if errors.Is(err, KindCoordination) {
		t.Error("unexpected match on a different kind")
	}
	if err.Error() != "insert messages: disk I/O error" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestWrapNilCauseReturnsNil(t *testing.T) {
	if got := Wrap(nil, KindRuntime, "noop"); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestKindThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("lease: heartbeat: %w", New(KindCoordination, "lease lost"))
	if !errors.Is(err, KindCoordination) {
		t.Error("expected coordination kind through fmt.Errorf wrapping")
	}
	if KindOf(err) != KindCoordination {
		t.Errorf("KindOf = %q, want %q", KindOf(err), KindCoordination)
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("KindOf(plain) = %q, want %q", got, KindUnknown)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
	if got := KindOf(fmt.Errorf("open: %w", fs.ErrPermission)); got != KindPermissionDenied {
		t.Errorf("KindOf(permission) = %q, want %q", got, KindPermissionDenied)
	}
}

func TestFromFS(t *testing.T) {
	if got := KindOf(FromFS(fs.ErrPermission, "open")); got != KindPermissionDenied {
		t.Errorf("permission kind = %q", got)
	}
	if got := KindOf(FromFS(fs.ErrNotExist, "open")); got != KindRuntime {
		t.Errorf("not-exist kind = %q", got)
	}
	if FromFS(nil, "open") != nil {
		t.Error("FromFS(nil) should be nil")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindDatabase, true},
		{KindCoordination, true},
		{KindInvalidInput, false},
		{KindInvalidUTF8, false},
		{KindUnknown, false},
	}
	for _, tt := range tests {
		if got := tt.kind.Retryable(); got != tt.want {
			t.Errorf("%s.Retryable() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}
