package tournament

import (
	"context"
	"time"

	"github.com/mtimkovich/auTO/internal/challonge"
)

// Bracket is the remote service of record for the tournament. Implemented
// by challonge.Tournament and by test fakes.
type Bracket interface {
	Load(ctx context.Context) error
	Matches(ctx context.Context) ([]challonge.MatchRecord, error)
	Report(ctx context.Context, matchID, winnerID int64, scores string) error
	MarkUnderway(ctx context.Context, matchID int64) error
	Start(ctx context.Context) error
	Finalize(ctx context.Context) error
	Rename(ctx context.Context, tag, newName string) error
	DQ(ctx context.Context, tag string) error
	Progress(ctx context.Context) (int, error)
	Top8(ctx context.Context) ([]challonge.Placement, error)
	Name() string
	URL() string
	State() string
	Players() []string
}

// Member is a resolved guild member.
type Member struct {
	ID          string
	DisplayName string
}

// Mention returns the member's @mention form.
func (m *Member) Mention() string {
	return "<@" + m.ID + ">"
}

// Gateway is the slice of Discord the engine needs. Implemented over
// discordgo in the bot package and by test fakes.
type Gateway interface {
	// MemberByName resolves a display name, case-insensitively.
	MemberByName(guildID, name string) (*Member, bool)
	// RoleByName resolves a role name to its id.
	RoleByName(guildID, name string) (string, bool)

	// Send posts a message and returns its id.
	Send(channelID, content string) (string, error)
	Delete(channelID, messageID string) error
	Pin(channelID, messageID string) error
	React(channelID, messageID, emoji string) error

	// CreateCategory makes a channel category for match channels.
	CreateCategory(guildID, name string) (string, error)
	// CreateMatchChannels makes a private text and voice channel pair
	// under categoryID, visible to the given members, the listed roles,
	// and the bot.
	CreateMatchChannels(guildID, categoryID, name string, memberIDs, roleIDs []string) (textID, voiceID string, err error)
	DeleteChannel(channelID string) error
	ChannelExists(channelID string) bool

	// CanManageChannels and CanAddReactions report the bot's own
	// permissions as seen from channelID.
	CanManageChannels(channelID string) bool
	CanAddReactions(channelID string) bool

	// Confirm asks userID a yes/no question over DM. A timeout counts
	// as no.
	Confirm(userID, question string) (bool, error)
	// AwaitUserMessage blocks until userID posts any message in the
	// guild, reporting whether one arrived before the timeout.
	AwaitUserMessage(guildID, userID string, timeout time.Duration) bool
}
