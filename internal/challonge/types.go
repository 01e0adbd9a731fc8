package challonge

// MatchRecord is one match as reported by the bracket, with participant
// ids already resolved to display tags. The rest of the system never
// touches the raw API shapes.
type MatchRecord struct {
	ID         int64
	Player1Tag string
	Player2Tag string
	Player1ID  int64
	Player2ID  int64
	Round      string
	State      string
	Underway   bool
	PlayOrder  int
	WinnerTag  string
	LoserTag   string
}

// Placement is one rank in the final standings. Ties share a rank.
type Placement struct {
	Rank    int
	Players []string
}

// Wire shapes. The v1 API wraps every object in a single-key envelope.

type tournamentEnvelope struct {
	Tournament tournamentData `json:"tournament"`
}

type tournamentData struct {
	Name           string `json:"name"`
	FullURL        string `json:"full_challonge_url"`
	State          string `json:"state"`
	TournamentType string `json:"tournament_type"`
	ProgressMeter  int    `json:"progress_meter"`
}

type participantEnvelope struct {
	Participant participantData `json:"participant"`
}

type participantData struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Username       string  `json:"username"`
	FinalRank      int     `json:"final_rank"`
	GroupPlayerIDs []int64 `json:"group_player_ids"`
}

type matchEnvelope struct {
	Match matchData `json:"match"`
}

type matchData struct {
	ID                 int64  `json:"id"`
	Player1ID          *int64 `json:"player1_id"`
	Player2ID          *int64 `json:"player2_id"`
	WinnerID           *int64 `json:"winner_id"`
	LoserID            *int64 `json:"loser_id"`
	Round              int    `json:"round"`
	State              string `json:"state"`
	SuggestedPlayOrder int    `json:"suggested_play_order"`
	UnderwayAt         string `json:"underway_at"`
}
