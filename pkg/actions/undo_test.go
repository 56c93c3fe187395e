package actions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majordome-ai/majordome/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func handleRecording(id string, order *[]string, mu *sync.Mutex) CompensationHandle {
	return CompensationFunc(func(context.Context) error {
		mu.Lock()
		*order = append(*order, id)
		mu.Unlock()
		return nil
	})
}

func TestUndoRollsBackInReverseOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string

	reg := NewUndoRegistry(time.Minute, discardLogger())
	token := reg.Register("p1", []Executed{
		{Action: models.PlannedAction{ID: "a"}, Handle: handleRecording("a", &order, &mu)},
		{Action: models.PlannedAction{ID: "b"}, Handle: handleRecording("b", &order, &mu)},
	})

	require.True(t, reg.Live(token))
	require.NoError(t, reg.Undo(context.Background(), token))
	assert.Equal(t, []string{"b", "a"}, order)
}

func TestUndoTokenConsumed(t *testing.T) {
	reg := NewUndoRegistry(time.Minute, discardLogger())
	token := reg.Register("p1", []Executed{
		{Action: models.PlannedAction{ID: "a"}, Handle: NoCompensation},
	})

	require.NoError(t, reg.Undo(context.Background(), token))
	assert.ErrorIs(t, reg.Undo(context.Background(), token), ErrUndoUnknown)
	assert.False(t, reg.Live(token))
}

func TestUndoExpiredToken(t *testing.T) {
	reg := NewUndoRegistry(15*time.Second, discardLogger())
	current := time.Now()
	reg.now = func() time.Time { return current }

	token := reg.Register("p1", []Executed{
		{Action: models.PlannedAction{ID: "a"}, Handle: NoCompensation},
	})
	require.True(t, reg.Live(token))

	current = current.Add(16 * time.Second)
	assert.False(t, reg.Live(token))
	assert.ErrorIs(t, reg.Undo(context.Background(), token), ErrUndoUnknown)
}

func TestUndoReportsFailedCompensation(t *testing.T) {
	reg := NewUndoRegistry(time.Minute, discardLogger())
	token := reg.Register("p1", []Executed{
		{Action: models.PlannedAction{ID: "a"}, Handle: CompensationFunc(func(context.Context) error {
			return errors.New("cannot revert")
		})},
	})

	assert.ErrorIs(t, reg.Undo(context.Background(), token), ErrUndoFailed)
}

func TestUndoUnknownToken(t *testing.T) {
	reg := NewUndoRegistry(time.Minute, discardLogger())
	assert.ErrorIs(t, reg.Undo(context.Background(), "nope"), ErrUndoUnknown)
}
