package launch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandArgs(t *testing.T) {
	got := expandArgs([]string{"--fullscreen", "--iso={path}", "{path}"}, "/data/game.iso")
	want := []string{"--fullscreen", "--iso=/data/game.iso", "/data/game.iso"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("arg %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestNewCLIRuntimeValidation(t *testing.T) {
	if _, err := NewCLIRuntime("", nil, nil); !errors.Is(err, ErrNoRuntime) {
		t.Fatalf("expected ErrNoRuntime, got %v", err)
	}
	if _, err := NewCLIRuntime("definitely-not-an-emulator-binary", nil, nil); err == nil {
		t.Fatalf("expected lookup failure")
	}
}

func TestCLIRuntimeStart(t *testing.T) {
	dir := t.TempDir()
	payload := filepath.Join(dir, "main.83.demo.iso")
	if err := os.WriteFile(payload, []byte("iso"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "launched")

	rt, err := NewCLIRuntime("sh", []string{"-c", `printf '%s' "$1" > "$2"`, "sh", "{path}", out}, nil)
	if err != nil {
		t.Skipf("sh unavailable: %v", err)
	}

	if err := rt.Start(context.Background(), payload); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("runtime did not run: %v", err)
	}
	if strings.TrimSpace(string(got)) != payload {
		t.Fatalf("runtime got %q, want %q", got, payload)
	}
}

func TestCLIRuntimeMissingPayload(t *testing.T) {
	rt, err := NewCLIRuntime("sh", nil, nil)
	if err != nil {
		t.Skipf("sh unavailable: %v", err)
	}
	if err := rt.Start(context.Background(), filepath.Join(t.TempDir(), "nope.iso")); err == nil {
		t.Fatalf("expected error for missing payload")
	}
}

func TestCLIRuntimeFailureIsReported(t *testing.T) {
	payload := filepath.Join(t.TempDir(), "x.iso")
	os.WriteFile(payload, []byte("x"), 0o644)

	rt, err := NewCLIRuntime("sh", []string{"-c", "exit 3"}, nil)
	if err != nil {
		t.Skipf("sh unavailable: %v", err)
	}
	if err := rt.Start(context.Background(), payload); err == nil {
		t.Fatalf("expected non-zero exit to be reported")
	}
}
