// ABOUTME: Tests for session usage tracking functionality
// ABOUTME: Covers SaveUsage, GetSessionUsage, GetUsageStats

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveUsage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Create the session first (for foreign key)
	require.NoError(t, store.RecordUpdate(ctx, "local-1", userUpdate("u-1", "hi")))

	usage := &UsageRecord{
		SessionID:        "local-1",
		ConversationID:   "conv-1",
		InputTokens:      1000,
		OutputTokens:     500,
		CacheReadTokens:  200,
		CacheWriteTokens: 100,
		TotalTokens:      1800,
		TotalCostUSD:     0.12,
		ContextWindow:    200000,
	}
	require.NoError(t, store.SaveUsage(ctx, usage))
	assert.NotEmpty(t, usage.ID)

	usages, err := store.GetSessionUsage(ctx, "local-1")
	require.NoError(t, err)
	require.Len(t, usages, 1)
	assert.Equal(t, int64(1800), usages[0].TotalTokens)
	assert.Equal(t, "conv-1", usages[0].ConversationID)
	assert.InDelta(t, 0.12, usages[0].TotalCostUSD, 1e-9)
}

func TestStore_SaveUsage_UnknownSession(t *testing.T) {
	store := newTestStore(t)

	err := store.SaveUsage(context.Background(), &UsageRecord{SessionID: "ghost"})
	assert.Error(t, err)
}

func TestStore_GetUsageStats_LatestPerSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordUpdate(ctx, "a", userUpdate("u-1", "a")))
	require.NoError(t, store.RecordUpdate(ctx, "b", userUpdate("u-2", "b")))

	base := time.Now().Add(-time.Hour)
	records := []*UsageRecord{
		{SessionID: "a", TotalTokens: 100, InputTokens: 80, OutputTokens: 20, TotalCostUSD: 0.1, CreatedAt: base},
		{SessionID: "a", TotalTokens: 300, InputTokens: 250, OutputTokens: 50, TotalCostUSD: 0.3, CreatedAt: base.Add(time.Minute)},
		{SessionID: "b", TotalTokens: 50, InputTokens: 40, OutputTokens: 10, TotalCostUSD: 0.05, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range records {
		require.NoError(t, store.SaveUsage(ctx, r))
	}

	stats, err := store.GetUsageStats(ctx, UsageFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Sessions)
	assert.Equal(t, int64(350), stats.TotalTokens)
	assert.Equal(t, int64(290), stats.TotalInput)
	assert.InDelta(t, 0.35, stats.TotalCostUSD, 1e-9)

	sessionA := "a"
	stats, err = store.GetUsageStats(ctx, UsageFilter{SessionID: &sessionA})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Sessions)
	assert.Equal(t, int64(300), stats.TotalTokens)

	since := base.Add(90 * time.Second)
	stats, err = store.GetUsageStats(ctx, UsageFilter{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Sessions)
	assert.Equal(t, int64(50), stats.TotalTokens)
}

func TestStore_GetUsageStats_Empty(t *testing.T) {
	store := newTestStore(t)

	stats, err := store.GetUsageStats(context.Background(), UsageFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Sessions)
	assert.Equal(t, int64(0), stats.TotalTokens)
}
