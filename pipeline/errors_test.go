package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("broken pipe")
	err := errors.Wrap(newError(OutputIOFailure, "mux", cause), "run")
	assert.Equal(t, OutputIOFailure, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "run: mux: output io failure: broken pipe", err.Error())

	assert.Equal(t, KindUnknown, KindOf(cause))
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestFailPrefersCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rm, err := New(nil, &spatialEngine{}, newFakeMedia(1), testOptions(nil))
	require.NoError(t, err)
	r, err := rm.begin(ctx, "in.mp4", RunOptions{})
	require.NoError(t, err)
	rm.setState(Cleaning)

	err = r.fail(EngineFailure, "clean", errors.New("socket closed"))
	assert.Equal(t, EngineFailure, KindOf(err))

	cancel()
	err = r.fail(EngineFailure, "clean", errors.New("socket closed"))
	assert.Equal(t, CancellationRequested, KindOf(err))

	// finalizing can't be cancelled
	rm.setState(Finalizing)
	err = r.fail(OutputIOFailure, "mux", errors.New("killed"))
	assert.Equal(t, OutputIOFailure, KindOf(err))

	// classified errors pass through
	rm.setState(Detecting)
	inner := newError(InputError, "inspect", errors.New("bad file"))
	r.ctx = context.Background()
	assert.Same(t, inner, r.fail(EngineFailure, "clean", inner))
}

func TestRemoverRejectsConcurrentRun(t *testing.T) {
	rm, err := New(nil, &spatialEngine{}, newFakeMedia(1), testOptions(nil))
	require.NoError(t, err)
	rm.setState(Cleaning)
	err = rm.RunVideo(context.Background(), "in.mp4", filepath.Join(t.TempDir(), "out.mp4"), RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")
	assert.Equal(t, Cleaning, rm.State())
}

func TestStates(t *testing.T) {
	for _, s := range []State{Detecting, Imputing, Cleaning, Finalizing} {
		assert.True(t, s.Active(), s.String())
	}
	for _, s := range []State{Ready, Done, Cancelled} {
		assert.False(t, s.Active(), s.String())
	}
	assert.True(t, Imputing.cancellable())
	assert.False(t, Finalizing.cancellable())
}

func TestScale(t *testing.T) {
	assert.Equal(t, 50, scale(50, 95, 0, 30))
	assert.Equal(t, 65, scale(50, 95, 10, 30))
	assert.Equal(t, 95, scale(50, 95, 40, 30))
	assert.Equal(t, 10, scale(10, 50, 5, 0))
}

func TestWorkspaceCommit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	out := filepath.Join(dir, "clean.mp4")
	ws, err := NewWorkspace(out)
	require.NoError(t, err)

	a := ws.Path("video", ".mp4")
	b := ws.Path("mux", ".mp4")
	assert.NotEqual(t, a, b)
	assert.Equal(t, dir, filepath.Dir(a))
	require.NoError(t, os.WriteFile(a, []byte("frames"), 0o644))
	require.NoError(t, os.WriteFile(b, nil, 0o644))

	assert.Error(t, ws.Commit(b, out), "empty file is never committed")
	require.NoError(t, ws.Commit(a, out))
	ws.Release()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "clean.mp4", entries[0].Name())
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(data))
}

func TestWorkspaceReleaseKeepsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "clean.mp4")
	require.NoError(t, os.WriteFile(other, []byte("previous run"), 0o644))
	ws, err := NewWorkspace(other)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ws.Path("video", ".mp4"), []byte("x"), 0o644))
	ws.Release()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(other)
	require.NoError(t, err)
	assert.Equal(t, "previous run", string(data))
}
