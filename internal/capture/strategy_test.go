package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type fakeStrategy struct {
	name string
	data []byte
	err  error
}

func (f fakeStrategy) Name() string { return f.name }

func (f fakeStrategy) Capture(context.Context) ([]byte, error) { return f.data, f.err }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCommandStrategyCapturesOutput(t *testing.T) {
	s := NewCommandStrategy("sh", "sh", []string{"-c", "printf hello > " + OutputToken}, 5*time.Second)

	data, err := s.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected output file contents, got %q", data)
	}
}

func TestCommandStrategyReportsCommandFailure(t *testing.T) {
	s := NewCommandStrategy("sh", "sh", []string{"-c", "echo device busy >&2; exit 1"}, 5*time.Second)

	_, err := s.Capture(context.Background())
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(err.Error(), "device busy") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestCommandStrategyRejectsEmptyOutput(t *testing.T) {
	s := NewCommandStrategy("true", "true", nil, 5*time.Second)

	_, err := s.Capture(context.Background())
	if err == nil {
		t.Fatalf("expected error for empty output file")
	}
}

func TestChainFallsThroughToNextStrategy(t *testing.T) {
	chain := NewChain(testLogger(),
		fakeStrategy{name: "first", err: errors.New("camera unavailable")},
		fakeStrategy{name: "second", data: []byte("jpeg-bytes")},
	)

	data, name, err := chain.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if name != "second" {
		t.Fatalf("expected second strategy to win, got %q", name)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("unexpected data %q", data)
	}
}

func TestChainExhaustionKeepsLastError(t *testing.T) {
	chain := NewChain(testLogger(),
		fakeStrategy{name: "first", err: errors.New("no camera")},
		fakeStrategy{name: "second", err: errors.New("no screen")},
	)

	_, _, err := chain.Acquire(context.Background())
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if !strings.Contains(err.Error(), "no screen") {
		t.Fatalf("expected last failure reason preserved, got %v", err)
	}
}

func TestChainEmpty(t *testing.T) {
	chain := NewChain(testLogger())
	if _, _, err := chain.Acquire(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted for empty chain, got %v", err)
	}
}

func TestParseCommands(t *testing.T) {
	strategies := ParseCommands("imagesnap {output};screencapture -x {output}; ;", 2*time.Second)
	if len(strategies) != 2 {
		t.Fatalf("expected 2 strategies, got %d", len(strategies))
	}
	if strategies[0].Name() != "imagesnap" || strategies[1].Name() != "screencapture" {
		t.Fatalf("unexpected strategy names %q, %q", strategies[0].Name(), strategies[1].Name())
	}
}
