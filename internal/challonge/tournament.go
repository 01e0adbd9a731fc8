package challonge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Tournament wraps the API for a single bracket. Metadata and the
// participant list are cached by Load; the match list is refetched on
// every use because it is the ground truth for calling matches.
type Tournament struct {
	client *Client
	apiKey string
	id     string

	mu            sync.Mutex
	meta          tournamentData
	participants  []participantData
	playerMap     map[int64]string
	winnersRounds int
	losersRounds  int
	roundsKnown   bool
}

// NewTournament binds a client to one bracket.
func NewTournament(client *Client, apiKey, tournamentID string) *Tournament {
	return &Tournament{
		client: client,
		apiKey: apiKey,
		id:     tournamentID,
	}
}

// ID returns the tournament identifier used in API paths.
func (t *Tournament) ID() string { return t.id }

// APIKey returns the credential the bracket was opened with.
func (t *Tournament) APIKey() string { return t.apiKey }

// Load fetches tournament metadata, the participant list, and the match
// list (for round-name bounds), in parallel. Must be called before the
// accessors below.
func (t *Tournament) Load(ctx context.Context) error {
	var (
		meta         tournamentEnvelope
		participants []participantEnvelope
		matches      []matchEnvelope
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return t.client.call(gctx, http.MethodGet, t.path(".json"), t.apiKey, nil, &meta)
	})
	g.Go(func() error {
		return t.client.call(gctx, http.MethodGet, t.path("/participants.json"), t.apiKey, nil, &participants)
	})
	g.Go(func() error {
		return t.client.call(gctx, http.MethodGet, t.path("/matches.json"), t.apiKey, nil, &matches)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.meta = meta.Tournament
	t.participants = make([]participantData, len(participants))
	for i, p := range participants {
		t.participants[i] = p.Participant
	}
	t.rebuildPlayerMap()
	t.setRoundBounds(matches)
	return nil
}

// Name returns the tournament's display name.
func (t *Tournament) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.meta.Name)
}

// URL returns the bracket's public URL.
func (t *Tournament) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.meta.FullURL
}

// State returns the bracket state (pending, underway, complete, ended).
func (t *Tournament) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.meta.State
}

// Players returns every participant's display tag.
func (t *Tournament) Players() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	players := make([]string, 0, len(t.participants))
	for _, p := range t.participants {
		players = append(players, playerName(p))
	}
	return players
}

// Matches fetches the latest match list and resolves it into records.
// Matches without both players determined are skipped.
func (t *Tournament) Matches(ctx context.Context) ([]MatchRecord, error) {
	var envelopes []matchEnvelope
	if err := t.client.call(ctx, http.MethodGet, t.path("/matches.json"), t.apiKey, nil, &envelopes); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.setRoundBounds(envelopes)

	elimination := strings.HasSuffix(t.meta.TournamentType, "elimination")
	records := make([]MatchRecord, 0, len(envelopes))
	for _, env := range envelopes {
		m := env.Match
		if m.Player1ID == nil || m.Player2ID == nil {
			continue
		}

		round := fmt.Sprintf("R%d", m.Round)
		if elimination {
			round = t.roundName(m.Round)
		}

		rec := MatchRecord{
			ID:         m.ID,
			Player1Tag: t.playerMap[*m.Player1ID],
			Player2Tag: t.playerMap[*m.Player2ID],
			Player1ID:  *m.Player1ID,
			Player2ID:  *m.Player2ID,
			Round:      round,
			State:      m.State,
			Underway:   m.UnderwayAt != "",
			PlayOrder:  m.SuggestedPlayOrder,
		}
		if m.WinnerID != nil && m.LoserID != nil {
			rec.WinnerTag = t.playerMap[*m.WinnerID]
			rec.LoserTag = t.playerMap[*m.LoserID]
		}
		records = append(records, rec)
	}
	return records, nil
}

// Report records a match result. Scores are player1-first.
func (t *Tournament) Report(ctx context.Context, matchID, winnerID int64, scores string) error {
	form := url.Values{}
	form.Set("match[winner_id]", strconv.FormatInt(winnerID, 10))
	form.Set("match[scores_csv]", scores)
	path := t.path("/matches/") + strconv.FormatInt(matchID, 10) + ".json"
	return t.client.call(ctx, http.MethodPut, path, t.apiKey, form, nil)
}

// MarkUnderway flags a match as being played.
func (t *Tournament) MarkUnderway(ctx context.Context, matchID int64) error {
	path := t.path("/matches/") + strconv.FormatInt(matchID, 10) + "/mark_as_underway.json"
	return t.client.call(ctx, http.MethodPost, path, t.apiKey, nil, nil)
}

// Start moves a pending bracket to underway.
func (t *Tournament) Start(ctx context.Context) error {
	return t.client.call(ctx, http.MethodPost, t.path("/start.json"), t.apiKey, nil, nil)
}

// Finalize locks in the results. Finalizing twice yields a 422, which
// callers tolerate.
func (t *Tournament) Finalize(ctx context.Context) error {
	return t.client.call(ctx, http.MethodPost, t.path("/finalize.json"), t.apiKey, nil, nil)
}

// Progress refetches the tournament and returns its completion percentage.
func (t *Tournament) Progress(ctx context.Context) (int, error) {
	var meta tournamentEnvelope
	if err := t.client.call(ctx, http.MethodGet, t.path(".json"), t.apiKey, nil, &meta); err != nil {
		return 0, err
	}
	t.mu.Lock()
	t.meta = meta.Tournament
	t.mu.Unlock()
	return meta.Tournament.ProgressMeter, nil
}

// Top8 returns the final standings, or nil if the bracket isn't complete.
func (t *Tournament) Top8(ctx context.Context) ([]Placement, error) {
	if err := t.Load(ctx); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.meta.State != "complete" {
		return nil, nil
	}

	byRank := make(map[int][]string)
	for _, p := range t.participants {
		if p.FinalRank >= 1 && p.FinalRank <= 7 {
			byRank[p.FinalRank] = append(byRank[p.FinalRank], playerName(p))
		}
	}

	ranks := make([]int, 0, len(byRank))
	for rank := range byRank {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)

	placements := make([]Placement, 0, len(ranks))
	for _, rank := range ranks {
		placements = append(placements, Placement{Rank: rank, Players: byRank[rank]})
	}
	return placements, nil
}

// Rename changes a participant's bracket tag, usually to their Discord
// display name.
func (t *Tournament) Rename(ctx context.Context, tag, newName string) error {
	p, err := t.findParticipant(tag)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("participant[name]", newName)
	path := t.path("/participants/") + strconv.FormatInt(p.ID, 10) + ".json"
	if err := t.client.call(ctx, http.MethodPut, path, t.apiKey, form, nil); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsValidation() {
			return fmt.Errorf("can't rename %q to %q, possible duplicate", tag, newName)
		}
		return err
	}
	return t.Load(ctx)
}

// DQ removes a participant from the bracket.
func (t *Tournament) DQ(ctx context.Context, tag string) error {
	p, err := t.findParticipant(tag)
	if err != nil {
		return err
	}
	path := t.path("/participants/") + strconv.FormatInt(p.ID, 10) + ".json"
	return t.client.call(ctx, http.MethodDelete, path, t.apiKey, nil, nil)
}

func (t *Tournament) findParticipant(tag string) (participantData, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.participants {
		if strings.EqualFold(playerName(p), tag) {
			return p, nil
		}
	}
	return participantData{}, fmt.Errorf("can't find player with tag %q", tag)
}

func (t *Tournament) path(suffix string) string {
	return "/tournaments/" + t.id + suffix
}

// rebuildPlayerMap maps participant ids to tags. Group stages sometimes
// key matches by group_player_ids instead of the participant id, so both
// are mapped. Callers hold t.mu.
func (t *Tournament) rebuildPlayerMap() {
	t.playerMap = make(map[int64]string)
	for _, p := range t.participants {
		name := playerName(p)
		t.playerMap[p.ID] = name
		for _, gpid := range p.GroupPlayerIDs {
			t.playerMap[gpid] = name
		}
	}
}

// setRoundBounds records the extreme round numbers so round names can be
// compressed to GF/F/SF/QF. Callers hold t.mu.
func (t *Tournament) setRoundBounds(matches []matchEnvelope) {
	if len(matches) == 0 {
		return
	}
	t.winnersRounds = matches[0].Match.Round
	t.losersRounds = matches[0].Match.Round
	for _, env := range matches[1:] {
		round := env.Match.Round
		if round > t.winnersRounds {
			t.winnersRounds = round
		}
		if round < t.losersRounds {
			t.losersRounds = round
		}
	}
	t.roundsKnown = true
}

// roundName shortens a round number to the human-readable form used in
// announcements. Callers hold t.mu.
func (t *Tournament) roundName(round int) string {
	prefix := "W"
	if round < 0 {
		prefix = "L"
	}
	suffix := fmt.Sprintf("R%d", abs(round))

	if !t.roundsKnown {
		return prefix + suffix
	}

	switch {
	case round == t.winnersRounds:
		return "GF"
	case round == t.winnersRounds-1 || round == t.losersRounds:
		suffix = "F"
	case round == t.winnersRounds-2 || round == t.losersRounds+1:
		suffix = "SF"
	case round == t.winnersRounds-3 || round == t.losersRounds+2:
		suffix = "QF"
	}
	return prefix + suffix
}

func playerName(p participantData) string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	if name := strings.TrimSpace(p.Username); name != "" {
		return name
	}
	return "<unknown>"
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
