package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmptyAddrDisablesMirror(t *testing.T) {
	s := New(context.Background(), testLogger(), "", "", 0, time.Minute)

	assert.NotPanics(t, func() {
		s.Save("job1", map[string]string{"id": "job1"})
	})
	assert.NoError(t, s.Close())
}

func TestUnreachableServerDisablesMirror(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s := New(ctx, testLogger(), "127.0.0.1:1", "", 0, time.Minute)

	assert.NotPanics(t, func() {
		s.Save("job1", map[string]string{"id": "job1"})
	})
	assert.NoError(t, s.Close())
}

func TestNilStoreIsSafe(t *testing.T) {
	var s *RedisStore
	assert.NotPanics(t, func() {
		s.Save("job1", "ignored")
	})
	assert.NoError(t, s.Close())
}
