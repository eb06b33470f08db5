package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperRejectsBadSchedule(t *testing.T) {
	s := NewSweeper(newTestRegistry(t, nil), "not a schedule", time.Hour)
	assert.Error(t, s.Start(context.Background()))
}

func TestSweeperStartStop(t *testing.T) {
	s := NewSweeper(newTestRegistry(t, nil), "@hourly", time.Hour)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	s.Stop()
	// Stopping again is safe.
	s.Stop()
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
