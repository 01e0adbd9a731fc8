package challonge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) *Client {
	return &Client{
		baseURL:    srv.URL,
		httpClient: srv.Client(),
	}
}

const metaJSON = `{"tournament":{
	"name":"Melee Weekly #42",
	"full_challonge_url":"https://challonge.com/melee-weekly",
	"state":"%s",
	"tournament_type":"double elimination",
	"progress_meter":%d
}}`

const participantsJSON = `[
	{"participant":{"id":101,"name":"Alice","username":"alice99","final_rank":%d}},
	{"participant":{"id":102,"name":"Bob","group_player_ids":[9102],"final_rank":%d}},
	{"participant":{"id":103,"name":"","username":"zain","final_rank":%d}}
]`

const matchesJSON = `[
	{"match":{"id":201,"player1_id":101,"player2_id":9102,"round":1,"state":"open","suggested_play_order":4}},
	{"match":{"id":202,"player1_id":101,"player2_id":null,"round":2,"state":"pending","suggested_play_order":7}},
	{"match":{"id":203,"player1_id":103,"player2_id":102,"round":-2,"state":"open","suggested_play_order":5,"underway_at":"2026-08-29T20:00:00.000-07:00"}},
	{"match":{"id":204,"player1_id":101,"player2_id":103,"round":3,"state":"pending","suggested_play_order":6}},
	{"match":{"id":205,"player1_id":102,"player2_id":103,"winner_id":102,"loser_id":103,"round":-1,"state":"complete","suggested_play_order":3}}
]`

// serveBracket stands up a fake v1 API for the "melee" tournament and
// records mutating requests for inspection.
func serveBracket(t *testing.T, state string, ranks [3]int) (*httptest.Server, *[]*http.Request) {
	t.Helper()
	var mutations []*http.Request

	mux := http.NewServeMux()
	mux.HandleFunc("/tournaments/melee.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, metaJSON, state, 50)
	})
	mux.HandleFunc("/tournaments/melee/participants.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, participantsJSON, ranks[0], ranks[1], ranks[2])
	})
	mux.HandleFunc("/tournaments/melee/matches.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, matchesJSON)
	})
	mux.HandleFunc("/tournaments/melee/", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		mutations = append(mutations, r)
		fmt.Fprint(w, `{}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &mutations
}

func TestTournamentLoad(t *testing.T) {
	srv, _ := serveBracket(t, "underway", [3]int{0, 0, 0})
	tourney := NewTournament(newTestClient(srv), "key", "melee")

	require.NoError(t, tourney.Load(context.Background()))

	assert.Equal(t, "Melee Weekly #42", tourney.Name())
	assert.Equal(t, "https://challonge.com/melee-weekly", tourney.URL())
	assert.Equal(t, "underway", tourney.State())
	// Participants without a name fall back to their username.
	assert.Equal(t, []string{"Alice", "Bob", "zain"}, tourney.Players())
}

func TestTournamentMatches(t *testing.T) {
	srv, _ := serveBracket(t, "underway", [3]int{0, 0, 0})
	tourney := NewTournament(newTestClient(srv), "key", "melee")
	require.NoError(t, tourney.Load(context.Background()))

	records, err := tourney.Matches(context.Background())
	require.NoError(t, err)

	// Match 202 has no second player yet and is skipped.
	require.Len(t, records, 4)

	// Group stages key players by group_player_ids; 9102 is still Bob.
	wsf := records[0]
	assert.Equal(t, int64(201), wsf.ID)
	assert.Equal(t, "Alice", wsf.Player1Tag)
	assert.Equal(t, "Bob", wsf.Player2Tag)
	assert.Equal(t, "WSF", wsf.Round)
	assert.False(t, wsf.Underway)
	assert.Equal(t, 4, wsf.PlayOrder)

	lf := records[1]
	assert.Equal(t, "LF", lf.Round)
	assert.Equal(t, "zain", lf.Player1Tag)
	assert.True(t, lf.Underway)

	assert.Equal(t, "GF", records[2].Round)

	lsf := records[3]
	assert.Equal(t, "LSF", lsf.Round)
	assert.Equal(t, "Bob", lsf.WinnerTag)
	assert.Equal(t, "zain", lsf.LoserTag)
}

func TestTournamentReport(t *testing.T) {
	srv, mutations := serveBracket(t, "underway", [3]int{0, 0, 0})
	tourney := NewTournament(newTestClient(srv), "key", "melee")

	require.NoError(t, tourney.Report(context.Background(), 201, 101, "2-0"))

	require.Len(t, *mutations, 1)
	req := (*mutations)[0]
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/tournaments/melee/matches/201.json", req.URL.Path)
	assert.Equal(t, "key", req.URL.Query().Get("api_key"))
	assert.Equal(t, "101", req.PostForm.Get("match[winner_id]"))
	assert.Equal(t, "2-0", req.PostForm.Get("match[scores_csv]"))
}

func TestTournamentMarkUnderway(t *testing.T) {
	srv, mutations := serveBracket(t, "underway", [3]int{0, 0, 0})
	tourney := NewTournament(newTestClient(srv), "key", "melee")

	require.NoError(t, tourney.MarkUnderway(context.Background(), 201))

	require.Len(t, *mutations, 1)
	req := (*mutations)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/tournaments/melee/matches/201/mark_as_underway.json", req.URL.Path)
}

func TestTournamentDQ(t *testing.T) {
	srv, mutations := serveBracket(t, "underway", [3]int{0, 0, 0})
	tourney := NewTournament(newTestClient(srv), "key", "melee")
	require.NoError(t, tourney.Load(context.Background()))

	require.NoError(t, tourney.DQ(context.Background(), "ZAIN"))

	require.Len(t, *mutations, 1)
	req := (*mutations)[0]
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "/tournaments/melee/participants/103.json", req.URL.Path)

	err := tourney.DQ(context.Background(), "Nobody")
	assert.ErrorContains(t, err, `can't find player with tag "Nobody"`)
}

func TestTournamentRenameDuplicate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tournaments/melee.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, metaJSON, "underway", 50)
	})
	mux.HandleFunc("/tournaments/melee/participants.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, participantsJSON, 0, 0, 0)
	})
	mux.HandleFunc("/tournaments/melee/matches.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, matchesJSON)
	})
	mux.HandleFunc("/tournaments/melee/participants/103.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"errors":["Name has already been taken"]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tourney := NewTournament(newTestClient(srv), "key", "melee")
	require.NoError(t, tourney.Load(context.Background()))

	err := tourney.Rename(context.Background(), "zain", "Alice")
	assert.ErrorContains(t, err, `can't rename "zain" to "Alice", possible duplicate`)
}

func TestTournamentTop8(t *testing.T) {
	// Bob and zain tied for third.
	srv, _ := serveBracket(t, "complete", [3]int{1, 3, 3})
	tourney := NewTournament(newTestClient(srv), "key", "melee")

	placements, err := tourney.Top8(context.Background())
	require.NoError(t, err)

	require.Len(t, placements, 2)
	assert.Equal(t, Placement{Rank: 1, Players: []string{"Alice"}}, placements[0])
	assert.Equal(t, Placement{Rank: 3, Players: []string{"Bob", "zain"}}, placements[1])
}

func TestTournamentTop8Unfinished(t *testing.T) {
	srv, _ := serveBracket(t, "underway", [3]int{0, 0, 0})
	tourney := NewTournament(newTestClient(srv), "key", "melee")

	placements, err := tourney.Top8(context.Background())
	require.NoError(t, err)
	assert.Nil(t, placements)
}

func TestTournamentUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"errors":["Invalid API key"]}`)
	}))
	t.Cleanup(srv.Close)

	tourney := NewTournament(newTestClient(srv), "bad-key", "melee")

	var apiErr *APIError
	err := tourney.Load(context.Background())
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsUnauthorized())
}

func TestRoundNames(t *testing.T) {
	tourney := &Tournament{winnersRounds: 5, losersRounds: -6, roundsKnown: true}

	tests := []struct {
		round int
		want  string
	}{
		{5, "GF"},
		{4, "WF"},
		{3, "WSF"},
		{2, "WQF"},
		{1, "WR1"},
		{-6, "LF"},
		{-5, "LSF"},
		{-4, "LQF"},
		{-3, "LR3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tourney.roundName(tt.round), "round %d", tt.round)
	}

	// Before any match list has been seen, names stay uncompressed.
	unknown := &Tournament{}
	assert.Equal(t, "WR5", unknown.roundName(5))
	assert.Equal(t, "LR2", unknown.roundName(-2))
}
