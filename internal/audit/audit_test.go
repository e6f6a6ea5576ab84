package audit

import (
	"context"
	"testing"

	"gains-sandbox-go/internal/config"
	"gains-sandbox-go/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecorder_Record(t *testing.T) {
	db, err := database.NewDatabase(config.Database{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	defer database.Close(db)

	r := NewRecorder(db, zap.NewNop())
	ctx := context.Background()

	r.Record(ctx, "u1", ActionSessionStart, map[string]any{"sessionId": "s1", "method": "FIFO"})
	r.Record(ctx, "u1", ActionSessionComplete, nil)
	r.Record(ctx, "u2", ActionSessionFailed, map[string]any{"sessionId": "s2"})

	logs, err := r.ForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, ActionSessionStart, logs[0].Action)
	assert.JSONEq(t, `{"sessionId":"s1","method":"FIFO"}`, logs[0].MetaJSON)
	assert.Equal(t, ActionSessionComplete, logs[1].Action)
	assert.Equal(t, "{}", logs[1].MetaJSON)
}

func TestRecorder_RecordSwallowsErrors(t *testing.T) {
	db, err := database.NewDatabase(config.Database{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Close(db))

	r := NewRecorder(db, zap.NewNop())
	assert.NotPanics(t, func() {
		r.Record(context.Background(), "u1", ActionSessionStart, map[string]any{"bad": make(chan int)})
	})
}
