package storage

// Snapshot is everything needed to rehydrate one guild's tournament
// session after a restart: primitive identifiers only. Live objects
// (channels, members) are re-resolved against Discord at load time.
type Snapshot struct {
	GuildID      string
	TournamentID string
	APIKey       string
	OwnerID      string
	ChannelID    string
	CategoryID   string
	Matches      []MatchSnapshot
}

// MatchSnapshot is one in-flight match.
type MatchSnapshot struct {
	MatchID    int64
	Player1Tag string
	Player2Tag string
	Player1ID  int64
	Player2ID  int64
	Flipped    bool
	First      bool
	ChannelIDs []string
}
