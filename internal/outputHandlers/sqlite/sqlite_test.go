package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/AlfredBerg/rod-maps-scraper/internal/listing"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHistoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	out := &SqliteOutput{Database: path, Logger: zaptest.NewLogger(t)}
	require.NoError(t, out.Init())

	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	records := []listing.Record{
		{BusinessName: listing.Value("Blue Bottle"), Email: listing.Value("hi@bb.example")},
		{BusinessName: listing.Value("Stumptown"), Rating: listing.Value("4.4")},
	}
	require.NoError(t, out.HandleSession(SessionSummary{
		ID: "first", Query: "coffee shops", StartedAt: start, FinishedAt: start.Add(time.Minute),
		Status: StatusDone, Count: 2, Filename: "coffee_shops.csv",
	}, records))
	require.NoError(t, out.HandleSession(SessionSummary{
		ID: "second", Query: "tea", StartedAt: start, FinishedAt: start.Add(2 * time.Minute),
		Status: StatusStopped,
	}, nil))
	require.NoError(t, out.Cleanup())
	require.NoError(t, out.Cleanup())
	require.ErrorIs(t, out.HandleSession(SessionSummary{ID: "late"}, nil), ErrClosed)

	reopened := &SqliteOutput{Database: path}
	require.NoError(t, reopened.Init())
	defer reopened.Cleanup()

	ctx := context.Background()
	sessions, err := reopened.Sessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, "second", sessions[0].ID)
	require.Equal(t, StatusStopped, sessions[0].Status)
	require.Equal(t, "first", sessions[1].ID)
	require.Equal(t, "coffee_shops.csv", sessions[1].Filename)
	require.Equal(t, 2, sessions[1].Count)
	require.True(t, start.Equal(sessions[1].StartedAt))

	back, err := reopened.Records(ctx, "first")
	require.NoError(t, err)
	require.Equal(t, records, back)
}

func TestInitRequiresDatabase(t *testing.T) {
	require.Error(t, (&SqliteOutput{}).Init())
}
