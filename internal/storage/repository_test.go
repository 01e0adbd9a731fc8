package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "auto.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepositoryRoundTrip(t *testing.T) {
	repo := newTestRepository(t)

	snapshots := []Snapshot{
		{
			GuildID:      "guild-1",
			TournamentID: "melee-weekly",
			APIKey:       "secret",
			OwnerID:      "owner-1",
			ChannelID:    "channel-1",
			CategoryID:   "category-1",
			Matches: []MatchSnapshot{
				{
					MatchID:    201,
					Player1Tag: "Alice",
					Player2Tag: "Bob",
					Player1ID:  101,
					Player2ID:  102,
					Flipped:    true,
					First:      false,
					ChannelIDs: []string{"text-1", "voice-1"},
				},
				{
					MatchID:    202,
					Player1Tag: "Carol",
					Player2Tag: "Dave",
					Player1ID:  103,
					Player2ID:  104,
				},
			},
		},
		{
			GuildID:      "guild-2",
			TournamentID: "ult-monthly",
			APIKey:       "secret2",
			OwnerID:      "owner-2",
			ChannelID:    "channel-2",
		},
	}

	require.NoError(t, repo.SaveAll(snapshots))

	got, err := repo.ConsumeAll()
	require.NoError(t, err)
	require.Len(t, got, 2)

	byGuild := make(map[string]Snapshot)
	for _, snap := range got {
		byGuild[snap.GuildID] = snap
	}

	first := byGuild["guild-1"]
	assert.Equal(t, "melee-weekly", first.TournamentID)
	assert.Equal(t, "secret", first.APIKey)
	assert.Equal(t, "category-1", first.CategoryID)
	require.Len(t, first.Matches, 2)

	var alice MatchSnapshot
	for _, m := range first.Matches {
		if m.MatchID == 201 {
			alice = m
		}
	}
	assert.Equal(t, "Alice", alice.Player1Tag)
	assert.Equal(t, int64(102), alice.Player2ID)
	assert.True(t, alice.Flipped)
	assert.False(t, alice.First)
	assert.Equal(t, []string{"text-1", "voice-1"}, alice.ChannelIDs)

	second := byGuild["guild-2"]
	assert.Empty(t, second.CategoryID)
	assert.Empty(t, second.Matches)
}

func TestRepositoryConsumeIsDestructive(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.SaveAll([]Snapshot{{
		GuildID:      "guild-1",
		TournamentID: "melee-weekly",
		APIKey:       "secret",
		OwnerID:      "owner-1",
		ChannelID:    "channel-1",
	}}))

	got, err := repo.ConsumeAll()
	require.NoError(t, err)
	require.Len(t, got, 1)

	// A crash loop must not replay stale snapshots forever.
	got, err = repo.ConsumeAll()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRepositorySaveAllReplaces(t *testing.T) {
	repo := newTestRepository(t)

	require.NoError(t, repo.SaveAll([]Snapshot{{
		GuildID:      "guild-1",
		TournamentID: "melee-weekly",
		APIKey:       "secret",
		OwnerID:      "owner-1",
		ChannelID:    "channel-1",
	}}))
	require.NoError(t, repo.SaveAll([]Snapshot{{
		GuildID:      "guild-2",
		TournamentID: "ult-monthly",
		APIKey:       "secret2",
		OwnerID:      "owner-2",
		ChannelID:    "channel-2",
	}}))

	got, err := repo.ConsumeAll()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "guild-2", got[0].GuildID)
}
