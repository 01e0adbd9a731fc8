package bot

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/mtimkovich/auTO/internal/tournament"
)

// confirmTimeout bounds how long a DM prompt waits for an answer, so a
// silent TO can't wedge a session operation forever.
const confirmTimeout = 2 * time.Minute

var apiKeyPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Gateway adapts discordgo to the slice of Discord the tournament engine
// needs, and owns the DM/guild message waiters behind the blocking
// prompt calls.
type Gateway struct {
	s *discordgo.Session

	mu           sync.Mutex
	dmWaiters    map[string]chan string
	guildWaiters map[string]chan struct{}
}

var _ tournament.Gateway = (*Gateway)(nil)

// NewGateway wraps a Discord session.
func NewGateway(s *discordgo.Session) *Gateway {
	return &Gateway{
		s:            s,
		dmWaiters:    make(map[string]chan string),
		guildWaiters: make(map[string]chan struct{}),
	}
}

// Notify offers an incoming message to any pending waiter. Returns true
// when the message was a DM consumed by a prompt and should not be
// dispatched further.
func (g *Gateway) Notify(m *discordgo.MessageCreate) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if m.GuildID == "" {
		if ch, ok := g.dmWaiters[m.Author.ID]; ok {
			select {
			case ch <- m.Content:
			default:
			}
			return true
		}
		return false
	}

	if ch, ok := g.guildWaiters[m.GuildID+":"+m.Author.ID]; ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return false
}

// MemberByName resolves a display name to a guild member,
// case-insensitively.
func (g *Gateway) MemberByName(guildID, name string) (*tournament.Member, bool) {
	guild, err := g.s.State.Guild(guildID)
	if err != nil {
		return nil, false
	}
	for _, member := range guild.Members {
		display := memberDisplayName(member)
		if strings.EqualFold(display, name) {
			return &tournament.Member{ID: member.User.ID, DisplayName: display}, true
		}
	}
	return nil, false
}

// RoleByName resolves a role name to its id.
func (g *Gateway) RoleByName(guildID, name string) (string, bool) {
	guild, err := g.s.State.Guild(guildID)
	if err != nil {
		return "", false
	}
	for _, role := range guild.Roles {
		if role.Name == name {
			return role.ID, true
		}
	}
	return "", false
}

// Send posts a message and returns its id.
func (g *Gateway) Send(channelID, content string) (string, error) {
	msg, err := g.s.ChannelMessageSend(channelID, content)
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// Delete removes a message.
func (g *Gateway) Delete(channelID, messageID string) error {
	return g.s.ChannelMessageDelete(channelID, messageID)
}

// Pin pins a message.
func (g *Gateway) Pin(channelID, messageID string) error {
	return g.s.ChannelMessagePin(channelID, messageID)
}

// React adds a reaction to a message.
func (g *Gateway) React(channelID, messageID, emoji string) error {
	return g.s.MessageReactionAdd(channelID, messageID, emoji)
}

// CreateCategory makes a channel category.
func (g *Gateway) CreateCategory(guildID, name string) (string, error) {
	ch, err := g.s.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name: name,
		Type: discordgo.ChannelTypeGuildCategory,
	})
	if err != nil {
		return "", err
	}
	return ch.ID, nil
}

const playerPerms = discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionAddReactions |
	discordgo.PermissionVoiceConnect |
	discordgo.PermissionVoiceSpeak |
	discordgo.PermissionVoiceStreamVideo

// CreateMatchChannels makes the private text/voice pair for one match.
// Text is hidden from everyone but the players, the listed roles, and
// the bot; voice lets spectators listen but not speak.
func (g *Gateway) CreateMatchChannels(guildID, categoryID, name string, memberIDs, roleIDs []string) (string, string, error) {
	allowed := make([]*discordgo.PermissionOverwrite, 0, len(memberIDs)+len(roleIDs)+1)
	for _, id := range memberIDs {
		allowed = append(allowed, &discordgo.PermissionOverwrite{
			ID:    id,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: playerPerms,
		})
	}
	allowed = append(allowed, &discordgo.PermissionOverwrite{
		ID:    g.s.State.User.ID,
		Type:  discordgo.PermissionOverwriteTypeMember,
		Allow: playerPerms,
	})
	for _, id := range roleIDs {
		allowed = append(allowed, &discordgo.PermissionOverwrite{
			ID:    id,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: playerPerms,
		})
	}

	// The @everyone role shares the guild's id.
	textOverwrites := append([]*discordgo.PermissionOverwrite{{
		ID:   guildID,
		Type: discordgo.PermissionOverwriteTypeRole,
		Deny: discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionAddReactions,
	}}, allowed...)
	voiceOverwrites := append([]*discordgo.PermissionOverwrite{{
		ID:    guildID,
		Type:  discordgo.PermissionOverwriteTypeRole,
		Allow: discordgo.PermissionViewChannel | discordgo.PermissionVoiceConnect,
		Deny:  discordgo.PermissionVoiceSpeak | discordgo.PermissionVoiceStreamVideo,
	}}, allowed...)

	text, err := g.s.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             categoryID,
		PermissionOverwrites: textOverwrites,
	})
	if err != nil {
		return "", "", err
	}

	voice, err := g.s.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildVoice,
		ParentID:             categoryID,
		PermissionOverwrites: voiceOverwrites,
	})
	if err != nil {
		return text.ID, "", err
	}

	return text.ID, voice.ID, nil
}

// DeleteChannel removes a channel.
func (g *Gateway) DeleteChannel(channelID string) error {
	_, err := g.s.ChannelDelete(channelID)
	return err
}

// ChannelExists reports whether a channel id still resolves.
func (g *Gateway) ChannelExists(channelID string) bool {
	if _, err := g.s.State.Channel(channelID); err == nil {
		return true
	}
	_, err := g.s.Channel(channelID)
	return err == nil
}

// CanManageChannels reports whether the bot may manage channels, as seen
// from channelID.
func (g *Gateway) CanManageChannels(channelID string) bool {
	return g.hasPermission(channelID, discordgo.PermissionManageChannels)
}

// CanAddReactions reports whether the bot may add reactions in channelID.
func (g *Gateway) CanAddReactions(channelID string) bool {
	return g.hasPermission(channelID, discordgo.PermissionAddReactions)
}

func (g *Gateway) hasPermission(channelID string, permission int64) bool {
	perms, err := g.s.State.UserChannelPermissions(g.s.State.User.ID, channelID)
	if err != nil {
		return false
	}
	return perms&permission != 0
}

// Confirm asks a yes/no question over DM. No answer inside the timeout
// counts as no.
func (g *Gateway) Confirm(userID, question string) (bool, error) {
	if err := g.sendDM(userID, question+" [Y/n]"); err != nil {
		return false, err
	}
	reply, ok := g.awaitDM(userID, confirmTimeout)
	if !ok {
		return false, nil
	}
	reply = strings.ToLower(strings.TrimSpace(reply))
	return reply == "y" || reply == "yes", nil
}

// AwaitUserMessage blocks until the user posts anything in the guild,
// reporting whether a message arrived before the timeout.
func (g *Gateway) AwaitUserMessage(guildID, userID string, timeout time.Duration) bool {
	key := guildID + ":" + userID
	ch := make(chan struct{}, 1)

	g.mu.Lock()
	g.guildWaiters[key] = ch
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.guildWaiters, key)
		g.mu.Unlock()
	}()

	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// PromptAPIKey DMs the TO for their Challonge API key. Returns the empty
// string when they decline.
func (g *Gateway) PromptAPIKey(userID string) (string, error) {
	intro := "Hey there! To run this tournament for you, I'll need your Challonge API key " +
		"(https://challonge.com/settings/developer). The key is only used to run the " +
		"bracket and is deleted after the tournament finishes."
	if err := g.sendDM(userID, intro); err != nil {
		return "", err
	}
	if err := g.sendDM(userID, "If that's ok with you, respond to this message with your Challonge API key, otherwise, with 'NO'."); err != nil {
		return "", err
	}

	for {
		reply, ok := g.awaitDM(userID, confirmTimeout)
		if !ok {
			return "", nil
		}
		reply = strings.TrimSpace(reply)
		if strings.EqualFold(reply, "no") {
			_ = g.sendDM(userID, "👍")
			return "", nil
		}
		if apiKeyPattern.MatchString(reply) {
			return reply, nil
		}
		if err := g.sendDM(userID, "Invalid API key, try again."); err != nil {
			return "", err
		}
	}
}

// SendDM delivers a direct message to a user.
func (g *Gateway) SendDM(userID, content string) error {
	return g.sendDM(userID, content)
}

func (g *Gateway) sendDM(userID, content string) error {
	ch, err := g.s.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("opening DM channel: %w", err)
	}
	_, err = g.s.ChannelMessageSend(ch.ID, content)
	return err
}

func (g *Gateway) awaitDM(userID string, timeout time.Duration) (string, bool) {
	ch := make(chan string, 1)

	g.mu.Lock()
	g.dmWaiters[userID] = ch
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.dmWaiters, userID)
		g.mu.Unlock()
	}()

	select {
	case reply := <-ch:
		return reply, true
	case <-time.After(timeout):
		return "", false
	}
}

func memberDisplayName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}
