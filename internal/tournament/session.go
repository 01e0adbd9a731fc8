package tournament

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/mtimkovich/auTO/internal/storage"
)

// Session runs one tournament for one guild. All operations on a session
// are serialized by its mutex; different guilds' sessions are fully
// independent.
type Session struct {
	GuildID   string
	ChannelID string
	OwnerID   string

	bracket Bracket
	gw      Gateway
	guard   *ReportGuard

	// flip is the per-match coin toss, swappable in tests.
	flip func() bool

	mu         sync.Mutex
	matches    map[int64]*Match
	categoryID string
	prev       []messageRef
	completing bool
	closed     bool
	done       chan struct{}
}

type messageRef struct {
	channelID string
	messageID string
}

// NewSession creates a session for a freshly started tournament.
func NewSession(gw Gateway, bracket Bracket, guildID, channelID, ownerID string) *Session {
	return &Session{
		GuildID:   guildID,
		ChannelID: channelID,
		OwnerID:   ownerID,
		bracket:   bracket,
		gw:        gw,
		guard:     NewReportGuard(),
		flip:      func() bool { return rand.Intn(2) == 0 },
		matches:   make(map[int64]*Match),
		done:      make(chan struct{}),
	}
}

// Restore rebuilds a session from a snapshot. Channels that no longer
// exist are dropped; members are re-resolved from their tags.
func Restore(gw Gateway, bracket Bracket, snap storage.Snapshot) *Session {
	s := NewSession(gw, bracket, snap.GuildID, snap.ChannelID, snap.OwnerID)
	s.categoryID = snap.CategoryID

	for _, ms := range snap.Matches {
		m := &Match{
			ID:            ms.MatchID,
			Player1Tag:    ms.Player1Tag,
			Player2Tag:    ms.Player2Tag,
			Player1ID:     ms.Player1ID,
			Player2ID:     ms.Player2ID,
			Flipped:       ms.Flipped,
			First:         ms.First,
			gw:            gw,
			guildID:       snap.GuildID,
			homeChannelID: snap.ChannelID,
		}
		m.resolvePlayers()
		for _, id := range ms.ChannelIDs {
			if gw.ChannelExists(id) {
				m.Channels = append(m.Channels, id)
			} else {
				slog.Warn("Snapshot channel no longer exists", "channel", id, "match", ms.MatchID)
			}
		}
		s.matches[m.ID] = m
	}
	return s
}

// Snapshot captures the session for persistence. Returns false once the
// session has finished.
func (s *Session) Snapshot(tournamentID, apiKey string) (storage.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.Snapshot{}, false
	}

	snap := storage.Snapshot{
		GuildID:      s.GuildID,
		TournamentID: tournamentID,
		APIKey:       apiKey,
		OwnerID:      s.OwnerID,
		ChannelID:    s.ChannelID,
		CategoryID:   s.categoryID,
	}
	for _, m := range s.matches {
		snap.Matches = append(snap.Matches, storage.MatchSnapshot{
			MatchID:    m.ID,
			Player1Tag: m.Player1Tag,
			Player2Tag: m.Player2Tag,
			Player1ID:  m.Player1ID,
			Player2ID:  m.Player2ID,
			Flipped:    m.Flipped,
			First:      m.First,
			ChannelIDs: m.Channels,
		})
	}
	return snap, true
}

// SetCategory records the channel category allocated for match channels.
func (s *Session) SetCategory(categoryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categoryID = categoryID
}

// Bracket exposes the remote bracket for read-only presentation calls.
func (s *Session) Bracket() Bracket {
	return s.bracket
}

// Done is closed when the session ends, whether by completion or by an
// explicit stop.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Shutdown stops the session's polling without releasing its Discord
// resources, so they survive a process restart.
func (s *Session) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked()
}

// Terminate ends the session and tears down every resource it created.
func (s *Session) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	s.finishLocked()
}

// teardownLocked releases all match channels and the category.
func (s *Session) teardownLocked() {
	for id, m := range s.matches {
		m.Close()
		delete(s.matches, id)
	}
	if s.categoryID != "" && s.gw.CanManageChannels(s.ChannelID) {
		if err := s.gw.DeleteChannel(s.categoryID); err != nil {
			slog.Warn("Failed to delete matches category", "category", s.categoryID, "error", err)
		}
		s.categoryID = ""
	}
}

func (s *Session) finishLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// findMatchLocked scans for the open match containing tag.
func (s *Session) findMatchLocked(tag string) *Match {
	for _, m := range s.matches {
		if m.HasPlayer(tag) {
			return m
		}
	}
	return nil
}

// mentionTag renders a bracket tag as an @mention when the player has a
// Discord account on the server, or as the raw tag otherwise.
func (s *Session) mentionTag(tag string) string {
	if member, ok := s.gw.MemberByName(s.GuildID, tag); ok {
		return member.Mention()
	}
	return tag
}

// MissingTags lists participants with no matching member on the server.
func (s *Session) MissingTags() []string {
	var missing []string
	for _, player := range s.bracket.Players() {
		if _, ok := s.gw.MemberByName(s.GuildID, player); !ok {
			missing = append(missing, player)
		}
	}
	return missing
}

// NotFoundError is returned when a reporter or noshow target isn't in
// any current match.
type NotFoundError struct {
	Tag string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found in current matches", e.Tag)
}
