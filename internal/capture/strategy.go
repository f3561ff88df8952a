package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrExhausted is returned by a chain when every strategy failed.
var ErrExhausted = errors.New("all capture strategies failed")

// OutputToken marks where a command strategy should place its output path.
const OutputToken = "{output}"

// Strategy produces raw artifact bytes from an external device or fails with
// a reason. Exclusive strategies serialize their own device access.
type Strategy interface {
	Name() string
	Capture(ctx context.Context) ([]byte, error)
}

// CommandStrategy shells out to an external capture tool that writes an image
// to a file. Every occurrence of {output} in the arguments is replaced with a
// temp file path; the file contents are returned and the file removed.
type CommandStrategy struct {
	name    string
	path    string
	args    []string
	timeout time.Duration

	// mu serializes runs when the underlying device cannot be shared.
	exclusive bool
	mu        sync.Mutex
}

// NewCommandStrategy builds a subprocess-backed strategy. Capture devices are
// process-wide singletons, so command strategies are exclusive by default.
func NewCommandStrategy(name, path string, args []string, timeout time.Duration) *CommandStrategy {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &CommandStrategy{
		name:      name,
		path:      path,
		args:      args,
		timeout:   timeout,
		exclusive: true,
	}
}

func (s *CommandStrategy) Name() string { return s.name }

// Capture runs the command with its own bounded timeout. A timeout is
// reported like any other failure so the chain can fall through.
func (s *CommandStrategy) Capture(ctx context.Context) ([]byte, error) {
	if s.exclusive {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	tmp, err := os.CreateTemp("", "capture-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("create temp output: %w", err)
	}
	outPath := tmp.Name()
	tmp.Close()
	defer os.Remove(outPath)

	args := make([]string, len(s.args))
	for i, a := range s.args {
		args[i] = strings.ReplaceAll(a, OutputToken, outPath)
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, s.path, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if cctx.Err() != nil {
			return nil, fmt.Errorf("%s timed out after %s", s.name, s.timeout)
		}
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%s failed: %s", s.name, msg)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%s produced no output: %w", s.name, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s wrote an empty file", s.name)
	}
	return data, nil
}

// Chain tries strategies in configured order; the first success wins and
// exhaustion surfaces the last failure reason.
type Chain struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewChain builds a capture chain.
func NewChain(logger *slog.Logger, strategies ...Strategy) *Chain {
	return &Chain{
		strategies: strategies,
		logger:     logger.With("component", "capture_chain"),
	}
}

// Acquire returns artifact bytes and the winning strategy name, or the last
// strategy's failure wrapped in ErrExhausted.
func (c *Chain) Acquire(ctx context.Context) ([]byte, string, error) {
	if len(c.strategies) == 0 {
		return nil, "", fmt.Errorf("%w: none configured", ErrExhausted)
	}
	var lastErr error
	for _, s := range c.strategies {
		data, err := s.Capture(ctx)
		if err == nil {
			return data, s.Name(), nil
		}
		lastErr = err
		c.logger.Warn("capture strategy failed, trying next", "strategy", s.Name(), "error", err)
	}
	return nil, "", fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}

// ParseCommands builds command strategies from a semicolon-separated spec,
// e.g. "imagesnap {output};screencapture -x {output}". Each command's first
// word is the binary; the strategy is named after it.
func ParseCommands(spec string, timeout time.Duration) []Strategy {
	var out []Strategy
	for _, raw := range strings.Split(spec, ";") {
		fields := strings.Fields(raw)
		if len(fields) == 0 {
			continue
		}
		out = append(out, NewCommandStrategy(fields[0], fields[0], fields[1:], timeout))
	}
	return out
}
