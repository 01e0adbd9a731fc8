package bot

import (
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/mtimkovich/auTO/internal/challonge"
	"github.com/mtimkovich/auTO/internal/tournament"
)

var netplayCodePattern = regexp.MustCompile(`\b[a-f0-9]{8}\b`)

// handleMessage is the single entry point for all incoming messages:
// prompt replies, the netplay-code sniffer, and the command surface.
func (b *Bot) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	// DM prompt replies (API keys, confirmations) are consumed here.
	if b.gateway.Notify(m) {
		return
	}
	if m.GuildID == "" {
		return
	}

	content := strings.TrimSpace(m.Content)
	gs := b.sessionFor(m.GuildID)

	if gs != nil {
		if strings.EqualFold(content, "!bracket") {
			b.reply(m, gs.bracket.URL())
			return
		}
		// A netplay code posted at one's opponent means the match started.
		if len(m.Mentions) == 1 && netplayCodePattern.MatchString(content) {
			b.markUnderway(gs, m)
		}
	}

	fields := strings.Fields(content)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "!auto") {
		return
	}
	if len(fields) == 1 {
		b.reply(m, "Use `!auTO help` for options")
		return
	}

	command := strings.ToLower(fields[1])
	args := fields[2:]
	slog.Debug("Received command", "command", command, "guild", m.GuildID)

	switch command {
	case "help":
		b.handleHelp(m)
	case "start":
		b.handleStart(m, args)
	case "stop":
		b.handleStop(m)
	case "matches":
		b.handleMatches(m)
	case "report":
		b.handleReport(m, args)
	case "bracket":
		b.handleBracket(m)
	case "status":
		b.handleStatus(m)
	case "noshow":
		b.handleNoShow(m)
	case "rename":
		b.handleRename(m, args)
	case "results":
		b.handleResults(m)
	case "update_tags":
		b.handleUpdateTags(m)
	default:
		b.reply(m, "Use `!auTO help` for options")
	}
}

// Guard helpers. Commands compose these explicitly instead of hiding
// them in wrappers.

// requireSession replies and returns nil when no tournament is running.
func (b *Bot) requireSession(m *discordgo.MessageCreate) *guildSession {
	gs := b.sessionFor(m.GuildID)
	if gs == nil {
		b.reply(m, "No tournament running.")
	}
	return gs
}

// requireTO replies and returns false unless the author is the session
// owner, a server admin, or holds the TO role.
func (b *Bot) requireTO(gs *guildSession, m *discordgo.MessageCreate) bool {
	if m.Author.ID == gs.session.OwnerID {
		return true
	}
	if perms, err := b.session.State.UserChannelPermissions(m.Author.ID, m.ChannelID); err == nil &&
		perms&discordgo.PermissionAdministrator != 0 {
		return true
	}
	if toRoleID, ok := b.gateway.RoleByName(m.GuildID, "TO"); ok && m.Member != nil {
		for _, roleID := range m.Member.Roles {
			if roleID == toRoleID {
				return true
			}
		}
	}
	b.reply(m, "Only a TO can run this command.")
	return false
}

func (b *Bot) handleStart(m *discordgo.MessageCreate, args []string) {
	if b.sessionFor(m.GuildID) != nil {
		b.reply(m, "A tournament is already in progress")
		return
	}
	if len(args) == 0 {
		b.reply(m, "Tournament URL is required")
		return
	}

	tournamentID, err := challonge.ExtractID(args[0])
	if err != nil {
		b.reply(m, err.Error())
		return
	}

	apiKey := b.config.ChallongeKey
	if apiKey == "" {
		apiKey, err = b.gateway.PromptAPIKey(m.Author.ID)
		if err != nil {
			slog.Error("API key prompt failed", "error", err)
			return
		}
		if apiKey == "" {
			return
		}
	}

	bracket := challonge.NewTournament(b.challonge, apiKey, tournamentID)
	if err := bracket.Load(b.ctx); err != nil {
		var apiErr *challonge.APIError
		switch {
		case errors.As(err, &apiErr) && apiErr.IsUnauthorized():
			if dmErr := b.gateway.SendDM(m.Author.ID, "Invalid API Key"); dmErr != nil {
				slog.Warn("Failed to DM invalid key notice", "error", dmErr)
			}
		case errors.As(err, &apiErr) && apiErr.IsNotFound():
			b.reply(m, "Invalid tournament URL.")
		default:
			slog.Error("Failed to load bracket", "tournament", tournamentID, "error", err)
			b.reply(m, "Error connecting to Challonge 💀")
		}
		return
	}

	switch bracket.State() {
	case "pending":
		if err := bracket.Start(b.ctx); err != nil {
			var apiErr *challonge.APIError
			if errors.As(err, &apiErr) && apiErr.IsValidation() {
				b.reply(m, "Tournament needs at least 2 players.")
			} else {
				slog.Warn("Failed to start bracket", "error", err)
				b.reply(m, "Error connecting to Challonge 💀")
			}
			return
		}
	case "ended":
		b.reply(m, "Tournament has already finished.")
		return
	}

	sess := tournament.NewSession(b.gateway, bracket, m.GuildID, m.ChannelID, m.Author.ID)

	if missing := sess.MissingTags(); len(missing) > 0 {
		lines := []string{"Missing Discord accounts for the following players:"}
		for _, tag := range missing {
			lines = append(lines, "- "+tag)
		}
		if err := b.gateway.SendDM(m.Author.ID, strings.Join(lines, "\n")); err != nil {
			slog.Warn("Failed to DM missing tags", "error", err)
		}
		ok, err := b.gateway.Confirm(m.Author.ID, "Continue anyway?")
		if err != nil || !ok {
			return
		}
		if err := sess.UpdateTags(b.ctx); err != nil {
			slog.Warn("Failed to refresh tags", "error", err)
		}
	}

	gs := &guildSession{session: sess, bracket: bracket}
	if !b.register(m.GuildID, gs) {
		b.reply(m, "A tournament is already in progress")
		return
	}

	slog.Info("Starting tournament", "name", bracket.Name(), "guild", m.GuildID)

	msgID, err := b.gateway.Send(m.ChannelID,
		"Starting "+bracket.Name()+"! Please stop your friendlies. "+bracket.URL())
	if err == nil {
		if err := b.gateway.Pin(m.ChannelID, msgID); err != nil {
			slog.Warn("Failed to pin start message", "error", err)
		}
	}

	if b.gateway.CanManageChannels(m.ChannelID) {
		categoryID, err := b.gateway.CreateCategory(m.GuildID, "Matches")
		if err != nil {
			slog.Warn("Failed to create matches category", "error", err)
		} else {
			sess.SetCategory(categoryID)
		}
	}

	if err := sess.RefreshMatches(b.ctx); err != nil {
		b.replyError(m, err)
	}
}

func (b *Bot) handleStop(m *discordgo.MessageCreate) {
	gs := b.requireSession(m)
	if gs == nil || !b.requireTO(gs, m) {
		return
	}
	gs.session.Terminate()
	b.reply(m, "Goodbye 😞")
}

func (b *Bot) handleMatches(m *discordgo.MessageCreate) {
	gs := b.requireSession(m)
	if gs == nil {
		return
	}
	if err := gs.session.RefreshMatches(b.ctx); err != nil {
		b.replyError(m, err)
	}
}

func (b *Bot) handleReport(m *discordgo.MessageCreate, args []string) {
	gs := b.requireSession(m)
	if gs == nil {
		return
	}
	if len(args) == 0 {
		b.reply(m, tournament.ErrBadScore.Error())
		return
	}
	reporter := b.displayName(m)
	if err := gs.session.Report(b.ctx, reporter, args[0]); err != nil {
		b.replyError(m, err)
	}
}

func (b *Bot) handleBracket(m *discordgo.MessageCreate) {
	gs := b.requireSession(m)
	if gs == nil {
		return
	}
	b.reply(m, gs.bracket.URL())
}

func (b *Bot) handleStatus(m *discordgo.MessageCreate) {
	gs := b.requireSession(m)
	if gs == nil {
		return
	}
	progress, err := gs.session.Progress(b.ctx)
	if err != nil {
		b.replyError(m, err)
		return
	}
	b.reply(m, "Tournament is "+strconv.Itoa(progress)+"% completed.")
}

func (b *Bot) handleNoShow(m *discordgo.MessageCreate) {
	gs := b.requireSession(m)
	if gs == nil || !b.requireTO(gs, m) {
		return
	}
	if len(m.Mentions) != 1 {
		b.reply(m, "Player to DQ must be @mentioned.")
		return
	}
	target := b.memberOf(m.GuildID, m.Mentions[0])
	var notFound *tournament.NotFoundError
	if err := gs.session.NoShow(b.ctx, target); errors.As(err, &notFound) {
		b.reply(m, target.DisplayName+" does not have a match to be DQed from.")
	} else if err != nil {
		b.replyError(m, err)
	}
}

func (b *Bot) handleRename(m *discordgo.MessageCreate, args []string) {
	gs := b.requireSession(m)
	if gs == nil || !b.requireTO(gs, m) {
		return
	}
	if len(args) < 2 || len(m.Mentions) != 1 {
		b.reply(m, "Usage: `!auTO rename TAG @Player`")
		return
	}
	tag := strings.Trim(args[0], `"`)
	member := b.memberOf(m.GuildID, m.Mentions[0])
	if err := gs.session.Rename(b.ctx, tag, member); err != nil {
		b.replyError(m, err)
		return
	}
	b.reply(m, "Renamed "+tag+" to "+member.DisplayName)
}

func (b *Bot) handleResults(m *discordgo.MessageCreate) {
	gs := b.requireSession(m)
	if gs == nil || !b.requireTO(gs, m) {
		return
	}
	if err := gs.session.Results(b.ctx); err != nil {
		b.replyError(m, err)
	}
}

func (b *Bot) handleUpdateTags(m *discordgo.MessageCreate) {
	gs := b.requireSession(m)
	if gs == nil || !b.requireTO(gs, m) {
		return
	}
	if err := gs.session.UpdateTags(b.ctx); err != nil {
		b.replyError(m, err)
	}
}

func (b *Bot) markUnderway(gs *guildSession, m *discordgo.MessageCreate) {
	author := b.memberOf(m.GuildID, m.Author)
	opponent := b.memberOf(m.GuildID, m.Mentions[0])
	if err := gs.session.MarkUnderway(b.ctx, opponent, author); err != nil {
		slog.Warn("Failed to mark match underway", "error", err)
	}
}

// reply posts to the channel the command came from.
func (b *Bot) reply(m *discordgo.MessageCreate, content string) {
	if _, err := b.session.ChannelMessageSend(m.ChannelID, content); err != nil {
		slog.Error("Failed to send reply", "channel", m.ChannelID, "error", err)
	}
}

// replyError renders an error for the invoking user. User input errors
// and duplicate reports go back verbatim; Challonge failures collapse to
// a connectivity message; anything else is logged and reported
// generically.
func (b *Bot) replyError(m *discordgo.MessageCreate, err error) {
	var (
		notFound *tournament.NotFoundError
		apiErr   *challonge.APIError
	)
	switch {
	case errors.Is(err, tournament.ErrBadScore),
		errors.Is(err, tournament.ErrTieScore),
		errors.Is(err, tournament.ErrDuplicateReport):
		b.reply(m, capitalize(err.Error()))
	case errors.As(err, &notFound):
		b.reply(m, err.Error())
	case errors.As(err, &apiErr):
		if apiErr.IsUnauthorized() {
			b.reply(m, "Invalid API key.")
		} else {
			slog.Error("Challonge request failed", "error", err)
			b.reply(m, "Error connecting to Challonge 💀")
		}
	default:
		slog.Error("Command failed", "error", err)
		b.reply(m, "Something went wrong 💀")
	}
}

// displayName resolves the author's guild display name.
func (b *Bot) displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// memberOf builds an engine member for a user, preferring their guild
// nickname.
func (b *Bot) memberOf(guildID string, user *discordgo.User) *tournament.Member {
	if member, err := b.session.State.Member(guildID, user.ID); err == nil {
		return &tournament.Member{ID: user.ID, DisplayName: memberDisplayName(member)}
	}
	name := user.GlobalName
	if name == "" {
		name = user.Username
	}
	return &tournament.Member{ID: user.ID, DisplayName: name}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
