package fitness

import (
	"context"
	"math"
	"os/exec"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScore(t *testing.T) {
	assert.Equal(t, 1.5, ParseScore([]byte("warming up\n1.5\n\n")))
	assert.Equal(t, -2.0, ParseScore([]byte("-2")))
	assert.True(t, math.IsInf(ParseScore([]byte("not a number\n")), 1))
	assert.True(t, math.IsInf(ParseScore(nil), 1))
	assert.True(t, math.IsInf(ParseScore([]byte("NaN")), 1))
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found")
	}
}

func TestExecReadsScoreFromStdout(t *testing.T) {
	requireShell(t)
	e := &Exec{Command: "sh", Args: []string{"-c", `wc -c | tr -d ' '`}}
	score, err := e.Evaluate(context.Background(), "1110")
	require.NoError(t, err)
	assert.Equal(t, 4.0, score)
}

func TestExecFailureScoresWorst(t *testing.T) {
	requireShell(t)
	e := &Exec{Command: "sh", Args: []string{"-c", "echo 3; exit 2"}}
	score, err := e.Evaluate(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, math.IsInf(score, 1))

	e = &Exec{Command: "sh", Args: []string{"-c", "exec sleep 5"}, Timeout: 50 * time.Millisecond}
	score, err = e.Evaluate(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, math.IsInf(score, 1))
}

func TestExecMissingCommandIsAnError(t *testing.T) {
	e := &Exec{Command: "definitely-not-a-real-command-xyz"}
	_, err := e.Evaluate(context.Background(), "x")
	assert.Error(t, err)
}

func squares() []Case {
	var cases []Case
	for x := -2.0; x <= 2; x++ {
		cases = append(cases, Case{Vars: map[string]float64{"x": x}, Expected: x * x})
	}
	return cases
}

func TestExpressionScoresError(t *testing.T) {
	e, err := NewExpression(squares(), "")
	require.NoError(t, err)
	ctx := context.Background()

	score, err := e.Evaluate(ctx, "x * x")
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)

	score, err = e.Evaluate(ctx, "x * x + 1")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, score, 1e-12)

	score, err = e.Evaluate(ctx, "abs(x) * abs(x)")
	require.NoError(t, err)
	assert.InDelta(t, 0.0, score, 1e-12)
}

func TestExpressionMetrics(t *testing.T) {
	ctx := context.Background()
	mse, err := NewExpression(squares(), MetricMSE)
	require.NoError(t, err)
	score, err := mse.Evaluate(ctx, "x * x + 2")
	require.NoError(t, err)
	assert.InDelta(t, 4.0, score, 1e-12)

	misses, err := NewExpression(squares(), MetricMisses)
	require.NoError(t, err)
	score, err = misses.Evaluate(ctx, "x + x")
	require.NoError(t, err)
	// x+x equals x*x only at 0 and 2
	assert.Equal(t, 3.0, score)
}

func TestExpressionBrokenProgramsScoreWorst(t *testing.T) {
	e, err := NewExpression(squares(), "")
	require.NoError(t, err)
	for _, source := range []string{"x *", "1 / (x - x)", "y + 1", "sqrt(0 - 1 - x * x)"} {
		score, err := e.Evaluate(context.Background(), source)
		require.NoError(t, err, source)
		assert.True(t, math.IsInf(score, 1), source)
	}
}

func TestExpressionRejectsBadSetup(t *testing.T) {
	_, err := NewExpression(nil, "")
	assert.ErrorIs(t, err, ErrNoCases)
	_, err = NewExpression(squares(), "r2")
	assert.Error(t, err)
}

func TestMemoSharesScores(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	memo := NewMemo(Func(func(source string) float64 {
		mu.Lock()
		calls++
		mu.Unlock()
		return float64(len(source))
	}))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		score, err := memo.Evaluate(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, 3.0, score)
	}
	_, err := memo.Evaluate(ctx, "ab")
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.EqualValues(t, 2, memo.Hits())
	assert.EqualValues(t, 2, memo.Misses())
	assert.Equal(t, 2, memo.Len())
}
