package captcha

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/litigio/casefile-monitor/internal/metrics"
	"github.com/litigio/casefile-monitor/internal/monitor"
)

type fakeStrategy struct {
	name       string
	applicable bool
	result     monitor.CaptchaResult
	err        error
	solved     int
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Applicable(context.Context) (bool, error) { return f.applicable, nil }

func (f *fakeStrategy) Solve(context.Context) (monitor.CaptchaResult, error) {
	f.solved++
	return f.result, f.err
}

func TestChain_FirstApplicableWins(t *testing.T) {
	t.Parallel()
	metrics.Init()

	skipped := &fakeStrategy{name: "audio", applicable: false}
	winner := &fakeStrategy{name: "image", applicable: true, result: monitor.CaptchaResult{Solved: true, Solution: "x7k2"}}
	unreached := &fakeStrategy{name: "challenge", applicable: true, result: monitor.CaptchaResult{Solved: true}}

	chain := NewChain(zap.NewNop(), skipped, winner, unreached)
	res, err := chain.Solve(context.Background())
	require.NoError(t, err)
	require.True(t, res.Solved)
	require.Equal(t, "image", res.Strategy)
	require.Equal(t, "x7k2", res.Solution)
	require.Equal(t, 0, skipped.solved)
	require.Equal(t, 0, unreached.solved)
}

func TestChain_FallsThroughOnError(t *testing.T) {
	t.Parallel()
	metrics.Init()

	failing := &fakeStrategy{name: "audio", applicable: true, err: errors.New("no audio field")}
	winner := &fakeStrategy{name: "image", applicable: true, result: monitor.CaptchaResult{Solved: true}}

	chain := NewChain(zap.NewNop(), failing, winner)
	res, err := chain.Solve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "image", res.Strategy)
	require.Equal(t, 1, failing.solved)
}

func TestChain_AllFail(t *testing.T) {
	t.Parallel()
	metrics.Init()

	a := &fakeStrategy{name: "audio", applicable: true, err: monitor.Scrapef(monitor.KindSolverAPI, "balance empty")}
	b := &fakeStrategy{name: "image", applicable: true} // unsolved, no error

	chain := NewChain(zap.NewNop(), a, b)
	_, err := chain.Solve(context.Background())
	require.Error(t, err)
	require.Equal(t, monitor.KindCaptchaFailed, monitor.Classify(err))
}
