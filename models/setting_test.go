package models

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingStoreDefaultsAndOverride(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := NewSettingStore(db)

	value, ok, err := store.Get(ctx, SettingPrintMethod)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "escpos", value)

	require.NoError(t, store.Set(ctx, SettingPrintMethod, "pdf"))
	// a second migration must not reset operator values
	require.NoError(t, MigrateTable(ctx, db))

	value, _, err = store.Get(ctx, SettingPrintMethod)
	require.NoError(t, err)
	assert.Equal(t, "pdf", value)

	_, ok, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, len(DefaultSettings))
}

func TestCheckpointStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewCheckpointStore(newTestDB(t))

	_, ok, err := store.Load(ctx, CheckpointOrderPoller)
	require.NoError(t, err)
	assert.False(t, ok)

	t1 := time.Date(2024, 1, 1, 2, 0, 0, 123_000_000, time.UTC)
	require.NoError(t, store.Save(ctx, CheckpointOrderPoller, t1))
	t2 := t1.Add(time.Hour)
	require.NoError(t, store.Save(ctx, CheckpointOrderPoller, t2))

	got, ok, err := store.Load(ctx, CheckpointOrderPoller)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(t2), "got %s want %s", got, t2)
}

func TestSyncRunStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewSyncRunStore(newTestDB(t))

	run := &SyncRun{TriggeredBy: SyncTriggeredManual, WindowStartMs: 1, WindowEndMs: 2}
	require.NoError(t, store.Start(ctx, run))
	require.NotZero(t, run.ID)

	require.NoError(t, store.RecordError(ctx, &SyncError{SyncRunId: run.ID, ErrorCode: SyncErrorCodeOrder, NodeId: "n1", Message: "boom"}))
	run.Status = SyncRunStatusPartial
	run.OrdersSeen = 2
	run.OrdersOk = 1
	run.ErrorCount = 1
	require.NoError(t, store.Finish(ctx, run))

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, SyncRunStatusPartial, got.Status)
	assert.Equal(t, 1, got.OrdersOk)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "n1", got.Errors[0].NodeId)

	runs, err := store.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	missing, err := store.Get(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
