// Package fitness provides evaluators that score rendered programs.
package fitness

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"grevo/internal/program"
)

// Worst is the fitness of a program that could not be scored.
var Worst = math.Inf(1)

// Func adapts a plain function that cannot fail.
type Func func(source string) float64

func (f Func) Evaluate(_ context.Context, source string) (float64, error) {
	return f(source), nil
}

// Exec scores a program by running an external command with the program
// source on stdin. The last non-empty stdout line must hold the fitness.
// Non-zero exit, timeout, or unparsable output scores Worst; failing to
// start the command is an error.
type Exec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

func (e *Exec) Evaluate(ctx context.Context, source string) (float64, error) {
	if e.Command == "" {
		return 0, errors.New("fitness command is required")
	}
	runCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, e.Command, e.Args...)
	cmd.Dir = e.Dir
	cmd.WaitDelay = time.Second
	if len(e.Env) > 0 {
		cmd.Env = e.Env
	}
	cmd.Stdin = strings.NewReader(source)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Worst, nil
		}
		return 0, fmt.Errorf("run fitness command %s: %w", e.Command, err)
	}
	return ParseScore(stdout.Bytes()), nil
}

// ParseScore reads the last non-empty line of out as a float. Anything else,
// including NaN, scores Worst.
func ParseScore(out []byte) float64 {
	last := ""
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	value, err := strconv.ParseFloat(last, 64)
	if err != nil || math.IsNaN(value) {
		return Worst
	}
	return value
}

// Memo shares fitness values between candidates with equal source. It is
// safe for concurrent use; concurrent misses on one source may both evaluate.
type Memo struct {
	next program.Evaluator

	mu     sync.RWMutex
	scores map[string]float64

	hits   atomic.Int64
	misses atomic.Int64
}

func NewMemo(next program.Evaluator) *Memo {
	return &Memo{next: next, scores: make(map[string]float64)}
}

func (m *Memo) Evaluate(ctx context.Context, source string) (float64, error) {
	m.mu.RLock()
	score, ok := m.scores[source]
	m.mu.RUnlock()
	if ok {
		m.hits.Add(1)
		return score, nil
	}
	m.misses.Add(1)
	score, err := m.next.Evaluate(ctx, source)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.scores[source] = score
	m.mu.Unlock()
	return score, nil
}

func (m *Memo) Hits() int64   { return m.hits.Load() }
func (m *Memo) Misses() int64 { return m.misses.Load() }

func (m *Memo) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.scores)
}
