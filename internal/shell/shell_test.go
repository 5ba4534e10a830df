package shell

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunReturnsOutput(t *testing.T) {
	dir := t.TempDir()
	out, err := Run(context.Background(), New("sh", "-c", "echo $GREETING; pwd").In(dir).With("GREETING=hello"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(out, "hello\n") {
		t.Errorf("output = %q, want greeting first", out)
	}
	if !strings.Contains(out, filepath.Base(dir)) {
		t.Errorf("output = %q, want working dir %q", out, dir)
	}
}

func TestRunWrapsFailure(t *testing.T) {
	_, err := Run(context.Background(), New("sh", "-c", "echo boom >&2; exit 3"))
	if err == nil {
		t.Fatal("expected error")
	}

	var shErr *Error
	if !errors.As(err, &shErr) {
		t.Fatalf("error %T is not *shell.Error", err)
	}
	if shErr.Output != "boom" {
		t.Errorf("Output = %q, want %q", shErr.Output, "boom")
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Errorf("expected exit code 3, got %v", err)
	}
	if !strings.Contains(err.Error(), "sh -c") {
		t.Errorf("error %q should name the command", err)
	}
}

func TestTail(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"a\nb\nc\n", 2, "b\nc"},
		{"a", 5, "a"},
		{"", 3, ""},
	}
	for _, tt := range tests {
		if got := Tail(tt.in, tt.n); got != tt.want {
			t.Errorf("Tail(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
