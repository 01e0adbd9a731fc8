package tournament

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mtimkovich/auTO/internal/challonge"
)

// Match is one called pairing. Player fields stay in bracket order; the
// Flipped flag decides display order and who is asked to make first
// contact. It owns the private channels it creates and nothing else.
type Match struct {
	ID         int64
	Player1Tag string
	Player2Tag string
	Player1ID  int64
	Player2ID  int64

	// Flipped is the coin-flip result: when set, player2 is listed
	// first and reaches out first.
	Flipped bool
	// First is consumed by the first announcement so players are only
	// pinged once.
	First bool

	// Channels the match created and may delete.
	Channels []string

	player1 *Member
	player2 *Member

	gw            Gateway
	guildID       string
	homeChannelID string
}

// NewMatch builds a match from a remote record. flipped is decided by the
// caller, one unbiased coin flip per match.
func NewMatch(gw Gateway, guildID, homeChannelID string, rec challonge.MatchRecord, flipped bool) *Match {
	m := &Match{
		ID:            rec.ID,
		Player1Tag:    rec.Player1Tag,
		Player2Tag:    rec.Player2Tag,
		Player1ID:     rec.Player1ID,
		Player2ID:     rec.Player2ID,
		Flipped:       flipped,
		First:         true,
		gw:            gw,
		guildID:       guildID,
		homeChannelID: homeChannelID,
	}
	m.resolvePlayers()
	return m
}

func (m *Match) resolvePlayers() {
	m.player1, _ = m.gw.MemberByName(m.guildID, m.Player1Tag)
	m.player2, _ = m.gw.MemberByName(m.guildID, m.Player2Tag)
}

// Name renders "{first} vs {second}" in coin-flip order, as @mentions
// when mention is set, falling back to the raw bracket tag for players
// without a resolved member.
func (m *Match) Name(mention bool) string {
	first := renderPlayer(m.player1, m.Player1Tag, mention)
	second := renderPlayer(m.player2, m.Player2Tag, mention)
	if m.Flipped {
		first, second = second, first
	}
	return first + " vs " + second
}

// FirstPlayer returns the display form of whoever won the coin flip.
func (m *Match) FirstPlayer() string {
	if m.Flipped {
		return renderPlayer(m.player2, m.Player2Tag, false)
	}
	return renderPlayer(m.player1, m.Player1Tag, false)
}

// HasPlayer reports whether tag names either player, case-insensitively.
func (m *Match) HasPlayer(tag string) bool {
	return strings.EqualFold(tag, m.Player1Tag) || strings.EqualFold(tag, m.Player2Tag)
}

// UpdatePlayer rebinds a bracket tag to a resolved member, used after a
// TO renames a player mid-tournament.
func (m *Match) UpdatePlayer(oldTag string, member *Member) {
	if strings.EqualFold(oldTag, m.Player1Tag) {
		m.Player1Tag = member.DisplayName
		m.player1 = member
	} else if strings.EqualFold(oldTag, m.Player2Tag) {
		m.Player2Tag = member.DisplayName
		m.player2 = member
	}
}

// CreateChannels allocates the match's private text and voice channels
// and posts reporting instructions. A no-op when either player has no
// Discord account on the server or the bot can't manage channels.
func (m *Match) CreateChannels(ctx context.Context, categoryID, toRoleID string) error {
	if m.player1 == nil || m.player2 == nil {
		return nil
	}
	if !m.gw.CanManageChannels(m.homeChannelID) {
		return nil
	}

	var roleIDs []string
	if toRoleID != "" {
		roleIDs = append(roleIDs, toRoleID)
	}

	name := channelName(m.Name(false))
	textID, voiceID, err := m.gw.CreateMatchChannels(
		m.guildID, categoryID, name,
		[]string{m.player1.ID, m.player2.ID}, roleIDs)
	if err != nil {
		return fmt.Errorf("creating channels for match %d: %w", m.ID, err)
	}
	m.Channels = append(m.Channels, textID, voiceID)

	greeting := fmt.Sprintf(
		"Private channel for %s. Report results with `!auTO report 0-2`. "+
			"The reporter's score goes first. %s won the flip and should reach out first.",
		m.Name(true), m.FirstPlayer())
	if _, err := m.gw.Send(textID, greeting); err != nil {
		return fmt.Errorf("greeting match %d: %w", m.ID, err)
	}
	return nil
}

// Close deletes the channels the match created. Channels already deleted
// by someone else are logged and skipped.
func (m *Match) Close() {
	if len(m.Channels) == 0 {
		return
	}
	if !m.gw.CanManageChannels(m.homeChannelID) {
		return
	}
	for _, id := range m.Channels {
		if err := m.gw.DeleteChannel(id); err != nil {
			slog.Warn("Failed to delete match channel", "channel", id, "error", err)
		}
	}
	m.Channels = nil
}

func renderPlayer(member *Member, tag string, mention bool) string {
	if member == nil {
		return tag
	}
	if mention {
		return member.Mention()
	}
	return member.DisplayName
}

var channelNamePattern = regexp.MustCompile(`[^a-z0-9-]+`)

// channelName lowercases a match name into a valid Discord channel name.
func channelName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "-")
	return channelNamePattern.ReplaceAllString(name, "")
}
