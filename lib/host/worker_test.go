package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/sheep/vm"
)

const underflowSrc = `name: Underflow
functions:
  main: |
    pop
`

func TestWorkerRunsScriptsToCompletion(t *testing.T) {
	h, out := newHost(t, newProject(t, map[string]string{
		"sleeper.yaml": sleeperSrc,
		"Greeter.yaml": greeterSrc,
	}))
	w := NewWorker(h, time.Millisecond)
	defer w.Stop()

	ctx := context.Background()
	sleeping, err := w.Start(ctx, "sleeper", "main", "")
	require.NoError(t, err)
	greeting, err := w.Start(ctx, "greeter", "main", "hello")
	require.NoError(t, err)

	select {
	case r := <-greeting:
		assert.Equal(t, "hello", r.Tag)
		assert.Equal(t, vm.FromInt(3), r.Value)
	case <-time.After(5 * time.Second):
		t.Fatal("greeter did not finish")
	}

	select {
	case r := <-sleeping:
		assert.Equal(t, "Sleeper", r.Tag)
		assert.Equal(t, vm.FromInt(7), r.Value)
	case <-time.After(5 * time.Second):
		t.Fatal("sleeper did not finish")
	}

	var text string
	require.NoError(t, w.Do(ctx, func(*Host) error {
		text = out.String()
		return nil
	}))
	assert.Equal(t, "baa\n", text)
}

func TestWorkerDoReturnsErrors(t *testing.T) {
	h, _ := newHost(t, newProject(t, nil))
	w := NewWorker(h, time.Hour)
	defer w.Stop()

	boom := errors.New("boom")
	assert.ErrorIs(t, w.Do(context.Background(), func(*Host) error { return boom }), boom)

	_, err := w.Start(context.Background(), "missing", "main", "")
	assert.ErrorIs(t, err, vm.ErrUnknownScript)
}

func TestWorkerRecoversFatalErrors(t *testing.T) {
	h, _ := newHost(t, newProject(t, map[string]string{"underflow.yaml": underflowSrc}))
	w := NewWorker(h, time.Hour)
	defer w.Stop()

	_, err := w.Start(context.Background(), "underflow", "main", "")
	var fatal *vm.FatalError
	require.True(t, errors.As(err, &fatal), "got %v", err)
	assert.Contains(t, fatal.Msg, "underflow")

	assert.NoError(t, w.Do(context.Background(), func(*Host) error { return nil }), "worker keeps serving")
}

func TestWorkerStop(t *testing.T) {
	h, _ := newHost(t, newProject(t, nil))
	w := NewWorker(h, time.Hour)

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop(), "stopping twice is harmless")
	assert.ErrorIs(t, w.Do(context.Background(), func(*Host) error { return nil }), ErrWorkerStopped)
}
