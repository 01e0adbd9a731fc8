package tournament

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mtimkovich/auTO/internal/challonge"
)

const noShowTimeout = 5 * time.Minute

var (
	// ErrBadScore rejects a report that doesn't parse as two scores.
	ErrBadScore = errors.New("invalid report, should be like `!auTO report 0-2`")
	// ErrTieScore rejects an even score.
	ErrTieScore = errors.New("no ties allowed")
	// ErrDuplicateReport rejects the second half of a double submission.
	ErrDuplicateReport = errors.New("ignoring potentially duplicate report; try again in a couple seconds if this is incorrect")
)

var scorePattern = regexp.MustCompile(`^(-?\d+)-(-?\d+)$`)

// ParseScores parses "<int>-<int>" (signs permitted, no ties).
func ParseScores(text string) (reporter, opponent int, err error) {
	m := scorePattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, 0, ErrBadScore
	}
	reporter, _ = strconv.Atoi(m[1])
	opponent, _ = strconv.Atoi(m[2])
	if reporter == opponent {
		return 0, 0, ErrTieScore
	}
	return reporter, opponent, nil
}

// RefreshMatches reconciles the local match set against the remote open
// matches and re-announces. This is the only place matches are created
// or retired outside of a report.
func (s *Session) RefreshMatches(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) error {
	records, err := s.bracket.Matches(ctx)
	if err != nil {
		return err
	}

	open := make([]challonge.MatchRecord, 0, len(records))
	for _, rec := range records {
		if rec.State == "open" {
			open = append(open, rec)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].PlayOrder < open[j].PlayOrder
	})

	if len(open) == 0 {
		return s.completeLocked(ctx)
	}

	openIDs := make(map[int64]bool, len(open))
	for _, rec := range open {
		openIDs[rec.ID] = true
	}

	// Retire matches resolved outside the report flow (DQs, TO edits on
	// the bracket site). A match id never reopens within a session, so
	// teardown here can't race the channel creation below.
	for id, m := range s.matches {
		if !openIDs[id] {
			m.Close()
			delete(s.matches, id)
		}
	}

	toRoleID, _ := s.gw.RoleByName(s.GuildID, "TO")

	// Channel creation fans out across the newly called matches. A
	// failure for one match must not hold up the rest, so errors stop
	// at the log.
	g, gctx := errgroup.WithContext(ctx)
	for _, rec := range open {
		if _, ok := s.matches[rec.ID]; ok {
			continue
		}
		m := NewMatch(s.gw, s.GuildID, s.ChannelID, rec, s.flip())
		s.matches[rec.ID] = m
		g.Go(func() error {
			if err := m.CreateChannels(gctx, s.categoryID, toRoleID); err != nil {
				slog.Warn("Failed to create match channels", "match", m.ID, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	lines := make([]string, 0, len(open))
	for _, rec := range open {
		m := s.matches[rec.ID]
		// Players are only pinged the first time their match is called.
		name := m.Name(m.First)
		m.First = false
		if rec.Underway {
			name = "*" + name + "*"
		}
		lines = append(lines, "**"+rec.Round+"**: "+name)
	}

	return s.announceLocked(lines)
}

// announceLocked posts the announcement batch, then deletes the previous
// batch so there is never a window with no visible announcement.
func (s *Session) announceLocked(lines []string) error {
	var fresh []messageRef
	for _, chunk := range splitMessage(lines, messageLimit) {
		id, err := s.gw.Send(s.ChannelID, chunk)
		if err != nil {
			return fmt.Errorf("posting announcement: %w", err)
		}
		fresh = append(fresh, messageRef{channelID: s.ChannelID, messageID: id})
	}

	for _, ref := range s.prev {
		if err := s.gw.Delete(ref.channelID, ref.messageID); err != nil {
			slog.Warn("Failed to delete stale announcement", "message", ref.messageID, "error", err)
		}
	}
	s.prev = fresh
	return nil
}

// completeLocked runs when the bracket has no open matches left. The
// finalize prompt fires at most once per session; after a decline the
// session stays open for `results` or `stop`.
func (s *Session) completeLocked(ctx context.Context) error {
	for id, m := range s.matches {
		m.Close()
		delete(s.matches, id)
	}

	if s.completing {
		return nil
	}
	s.completing = true

	if _, err := s.gw.Send(s.ChannelID, "Tournament has finished!"); err != nil {
		slog.Warn("Failed to announce completion", "error", err)
	}

	ok, err := s.gw.Confirm(s.OwnerID,
		fmt.Sprintf("%s is completed. Finalize?", s.bracket.Name()))
	if err != nil {
		return fmt.Errorf("confirming finalize: %w", err)
	}
	if !ok {
		return nil
	}

	if err := s.bracket.Finalize(ctx); err != nil {
		var apiErr *challonge.APIError
		if !errors.As(err, &apiErr) || !apiErr.IsValidation() {
			return err
		}
	}
	return s.printResultsLocked(ctx)
}

// Report processes a player's result report and refreshes the bracket.
// Scores arrive reporter-first.
func (s *Session) Report(ctx context.Context, reporterTag, scores string) error {
	reporterScore, opponentScore, err := ParseScores(scores)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.guard.Blocked(reporterTag) {
		return ErrDuplicateReport
	}

	m := s.findMatchLocked(reporterTag)
	if m == nil {
		return &NotFoundError{Tag: reporterTag}
	}

	player1Win := reporterScore > opponentScore
	csv := fmt.Sprintf("%d-%d", reporterScore, opponentScore)
	opponentTag := m.Player2Tag
	if strings.EqualFold(reporterTag, m.Player2Tag) {
		// Challonge wants player1's score first.
		csv = fmt.Sprintf("%d-%d", opponentScore, reporterScore)
		player1Win = !player1Win
		opponentTag = m.Player1Tag
	}

	winnerID := m.Player1ID
	if !player1Win {
		winnerID = m.Player2ID
	}

	s.guard.Block(opponentTag)

	if err := s.bracket.Report(ctx, m.ID, winnerID, csv); err != nil {
		return err
	}
	m.Close()
	delete(s.matches, m.ID)

	return s.refreshLocked(ctx)
}

// MarkUnderway flags the match both users share as being played. A
// silent no-op when they aren't in the same match.
func (s *Session) MarkUnderway(ctx context.Context, user1, user2 *Member) error {
	s.mu.Lock()
	var matchID int64 = -1
	for _, user := range []*Member{user1, user2} {
		m := s.findMatchLocked(user.DisplayName)
		if m == nil {
			s.mu.Unlock()
			return nil
		}
		if matchID == -1 {
			matchID = m.ID
		} else if matchID != m.ID {
			s.mu.Unlock()
			return nil
		}
	}
	s.mu.Unlock()

	return s.bracket.MarkUnderway(ctx, matchID)
}

// NoShow warns a player, waits out the grace period, and DQs them if
// they never speak up. The timeout is the expected path here.
func (s *Session) NoShow(ctx context.Context, target *Member) error {
	s.mu.Lock()
	m := s.findMatchLocked(target.DisplayName)
	s.mu.Unlock()
	if m == nil {
		return &NotFoundError{Tag: target.DisplayName}
	}

	warning := fmt.Sprintf(
		"%s: message in the chat and start playing your match within %d minutes or you will be DQed.",
		target.Mention(), int(noShowTimeout.Minutes()))
	if _, err := s.gw.Send(s.ChannelID, warning); err != nil {
		return err
	}

	if s.gw.AwaitUserMessage(s.GuildID, target.ID, noShowTimeout) {
		// They showed up.
		return nil
	}

	msgID, err := s.gw.Send(s.ChannelID, fmt.Sprintf("%s has been DQed", target.Mention()))
	if err != nil {
		return err
	}
	if s.gw.CanAddReactions(s.ChannelID) {
		if err := s.gw.React(s.ChannelID, msgID, "🇫"); err != nil {
			slog.Warn("Failed to add DQ reaction", "error", err)
		}
	}

	if err := s.bracket.DQ(ctx, target.DisplayName); err != nil {
		return err
	}
	return s.RefreshMatches(ctx)
}

// Rename changes a player's bracket tag to their Discord display name
// and rebinds any in-flight match to the member.
func (s *Session) Rename(ctx context.Context, tag string, member *Member) error {
	if err := s.bracket.Rename(ctx, tag, member.DisplayName); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.matches {
		if m.HasPlayer(tag) {
			m.UpdatePlayer(tag, member)
		}
	}
	return nil
}

// UpdateTags refetches the participant list from the bracket.
func (s *Session) UpdateTags(ctx context.Context) error {
	return s.bracket.Load(ctx)
}

// Progress returns how far along the tournament is, in percent.
func (s *Session) Progress(ctx context.Context) (int, error) {
	return s.bracket.Progress(ctx)
}

// Results prints the final standings and ends the session. Nothing is
// printed while the bracket is still unfinished.
func (s *Session) Results(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.printResultsLocked(ctx)
}

func (s *Session) printResultsLocked(ctx context.Context) error {
	top8, err := s.bracket.Top8(ctx)
	if err != nil {
		return err
	}
	if top8 == nil {
		return nil
	}

	winner := top8[0].Players[0]
	lines := []string{
		fmt.Sprintf("Congrats to the winner of %s: **%s**!!",
			s.bracket.Name(), s.mentionTag(winner)),
		fmt.Sprintf("We had %d entrants!\n", len(s.bracket.Players())),
	}
	for _, placement := range top8 {
		mentions := make([]string, len(placement.Players))
		for i, player := range placement.Players {
			mentions[i] = s.mentionTag(player)
		}
		lines = append(lines, fmt.Sprintf("%d. %s", placement.Rank, strings.Join(mentions, " / ")))
	}

	for _, chunk := range splitMessage(lines, messageLimit) {
		if _, err := s.gw.Send(s.ChannelID, chunk); err != nil {
			return err
		}
	}

	s.teardownLocked()
	s.finishLocked()
	return nil
}
