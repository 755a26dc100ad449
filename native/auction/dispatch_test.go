package auction

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatcherRetriesThenDeadLetters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deadletter.txt")
	d := NewDispatcher(3, time.Millisecond, path)

	attempts := 0
	err := d.Dispatch(context.Background(), Event{Kind: EventPriceUpdate}, func(ctx context.Context, ev Event) error {
		attempts++
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts)

	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	require.Contains(t, string(data), "PRICE_UPDATE")
	require.Contains(t, string(data), `"id":"`)
}

func TestDispatcherSucceedsWithoutDeadLetter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deadletter.txt")
	d := NewDispatcher(3, time.Millisecond, path)

	attempts := 0
	err := d.Dispatch(context.Background(), Event{Kind: EventOracleScan}, func(ctx context.Context, ev Event) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestDispatcherValidatePoolsBypassesRetryAndDeadLetter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deadletter.txt")
	d := NewDispatcher(3, time.Millisecond, path)

	attempts := 0
	err := d.Dispatch(context.Background(), Event{Kind: EventValidatePools}, func(ctx context.Context, ev Event) error {
		attempts++
		return errors.New("fatal mismatch")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}
