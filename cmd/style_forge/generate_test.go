package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/style-forge/internal/db"
	"github.com/jonathan/style-forge/internal/orchestrator"
	"github.com/jonathan/style-forge/internal/types"
)

type stubAnalyzer struct {
	err error
}

func (s stubAnalyzer) Analyze(_ context.Context, _ types.Artifact) (*types.Analysis, error) {
	if s.err != nil {
		return nil, s.err
	}
	suggestions := make(map[types.Style]string)
	for _, st := range types.DefaultStyles() {
		suggestions[st] = "guidance for " + string(st)
	}
	return &types.Analysis{ItemDescription: "navy blazer", Suggestions: suggestions}, nil
}

type countingLedger struct {
	db.NopLedger
	mu        sync.Mutex
	runs      int
	tasks     int
	completed string
}

func (l *countingLedger) RecordRun(context.Context, db.RunInput) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs++
	return nil
}

func (l *countingLedger) RecordTask(context.Context, string, types.StyleTask) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks++
	return nil
}

func (l *countingLedger) CompleteRun(_ context.Context, _ string, status string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = status
	return nil
}

func newGenerateJob(t *testing.T, gen types.Generator, analyzer types.Analyzer, styles []types.Style) (*generateJob, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return &generateJob{
		analyzer: analyzer,
		orch:     orchestrator.New(gen, orchestrator.WithLogger(log.New(io.Discard, "", 0))),
		ledger:   db.NopLedger{},
		styles:   styles,
		outDir:   t.TempDir(),
		out:      &out,
	}, &out
}

func echoGenerator() types.Generator {
	return types.GeneratorFunc(func(_ context.Context, _ types.Artifact, style types.Style, guidance string) (types.Artifact, error) {
		return types.NewArtifact([]byte(string(style)+":"+guidance), "image/png"), nil
	})
}

func TestGenerateJob_WritesEveryStyle(t *testing.T) {
	job, out := newGenerateJob(t, echoGenerator(), stubAnalyzer{}, types.DefaultStyles())
	ledger := &countingLedger{}
	job.ledger = ledger

	require.NoError(t, job.run(context.Background(), types.NewArtifact([]byte("src"), "image/jpeg")))

	for _, style := range types.DefaultStyles() {
		data, err := os.ReadFile(outputPath(job.outDir, style, types.NewArtifact(nil, "image/png")))
		require.NoError(t, err, style)
		assert.Equal(t, string(style)+":guidance for "+string(style), string(data))
	}
	assert.Contains(t, out.String(), "Item: navy blazer")
	assert.Contains(t, out.String(), "Done: 6 succeeded, 0 failed, 0 pending, 0 in flight")

	assert.Equal(t, 1, ledger.runs)
	assert.Equal(t, 12, ledger.tasks)
	assert.Equal(t, db.RunStatusCompleted, ledger.completed)
}

func TestGenerateJob_PartialFailure(t *testing.T) {
	gen := types.GeneratorFunc(func(_ context.Context, _ types.Artifact, style types.Style, _ string) (types.Artifact, error) {
		if style == types.StyleBohemian {
			return types.Artifact{}, errors.New("safety block")
		}
		return types.NewArtifact([]byte("ok"), ""), nil
	})
	job, out := newGenerateJob(t, gen, stubAnalyzer{}, []types.Style{types.StyleCasual, types.StyleBohemian})
	job.verbose = true

	require.NoError(t, job.run(context.Background(), types.NewArtifact([]byte("src"), "")))

	assert.FileExists(t, filepath.Join(job.outDir, "style-forge-casual.png"))
	assert.NoFileExists(t, filepath.Join(job.outDir, "style-forge-bohemian.png"))
	assert.Contains(t, out.String(), "✗ Bohemian: generation failed for Bohemian: safety block")
	assert.Contains(t, out.String(), "FAILED STYLES")
	assert.Contains(t, out.String(), "ITEM ANALYSIS")
}

func TestGenerateJob_AllFailed(t *testing.T) {
	gen := types.GeneratorFunc(func(context.Context, types.Artifact, types.Style, string) (types.Artifact, error) {
		return types.Artifact{}, errors.New("down")
	})
	job, _ := newGenerateJob(t, gen, stubAnalyzer{}, []types.Style{types.StyleCasual})

	err := job.run(context.Background(), types.NewArtifact([]byte("src"), ""))

	assert.ErrorContains(t, err, "every style failed")
}

func TestGenerateJob_AnalysisFailure(t *testing.T) {
	called := false
	gen := types.GeneratorFunc(func(context.Context, types.Artifact, types.Style, string) (types.Artifact, error) {
		called = true
		return types.Artifact{}, nil
	})
	job, _ := newGenerateJob(t, gen, stubAnalyzer{err: &types.AnalysisError{Cause: errors.New("bad json")}}, types.DefaultStyles())

	err := job.run(context.Background(), types.NewArtifact([]byte("src"), ""))

	var analysisErr *types.AnalysisError
	assert.ErrorAs(t, err, &analysisErr)
	assert.False(t, called)
}
