package offchain

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJournalRecordAndRecent(t *testing.T) {
	journal, err := OpenJournal(filepath.Join(t.TempDir(), "rounds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, journal.Record(ctx, Round{ID: "a", Height: 1, Outcome: RoundSubmitted, Mode: ModeRaw, Price: 4200, StartedAt: base, FinishedAt: base}))
	require.NoError(t, journal.Record(ctx, Round{ID: "b", Height: 2, Outcome: RoundFetchFailed, Mode: ModeRaw, Err: "boom", StartedAt: base.Add(time.Minute), FinishedAt: base.Add(time.Minute)}))

	rounds, err := journal.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	require.Equal(t, "b", rounds[0].ID)
	require.Equal(t, RoundFetchFailed, rounds[0].Outcome)
	require.Equal(t, "boom", rounds[0].Err)
	require.Zero(t, rounds[0].Price)
	require.Equal(t, uint64(4200), rounds[1].Price)
	require.Equal(t, RoundSubmitted, rounds[1].Outcome)

	removed, err := journal.Prune(ctx, base.Add(30*time.Second))
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
	rounds, err = journal.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
}

func TestJournalRequiresPath(t *testing.T) {
	_, err := OpenJournal(" ")
	require.ErrorIs(t, err, ErrJournalPathRequired)
}
