package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/mtimkovich/auTO/internal/challonge"
	"github.com/mtimkovich/auTO/internal/config"
	"github.com/mtimkovich/auTO/internal/storage"
	"github.com/mtimkovich/auTO/internal/tournament"
)

// Bot wires Discord to the tournament engine. It owns the session map:
// one active tournament per guild, no ambient globals.
type Bot struct {
	config    *config.Config
	session   *discordgo.Session
	repo      *storage.Repository
	challonge *challonge.Client
	gateway   *Gateway

	mu          sync.Mutex
	tournaments map[string]*guildSession

	ctx    context.Context
	cancel context.CancelFunc
}

// guildSession pairs an engine session with its typed bracket, so
// snapshots can reach the tournament id and credential.
type guildSession struct {
	session *tournament.Session
	bracket *challonge.Tournament
}

// New creates a new Bot instance
func New(cfg *config.Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	repo, err := storage.NewRepository(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	b := &Bot{
		config:      cfg,
		session:     session,
		repo:        repo,
		challonge:   challonge.NewClient(),
		gateway:     NewGateway(session),
		tournaments: make(map[string]*guildSession),
	}

	b.session.AddHandler(b.handleMessage)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("auTO has connected to Discord", "guilds", len(r.Guilds))
	})

	return b, nil
}

// Start opens the Discord connection and rehydrates saved tournaments.
func (b *Bot) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	slog.Info("Connected to Discord", "user", b.session.State.User.Username)

	b.rehydrate()
	return nil
}

// Stop gracefully shuts down the bot, saving active tournaments so they
// can resume after a restart.
func (b *Bot) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}

	b.saveSnapshots()

	if b.session != nil {
		if err := b.session.Close(); err != nil {
			slog.Error("Error closing Discord session", "error", err)
		}
	}
	if b.repo != nil {
		return b.repo.Close()
	}
	return nil
}

func (b *Bot) pollInterval() time.Duration {
	return time.Duration(b.config.PollIntervalSeconds) * time.Second
}

// register installs a session for a guild, starts its poller, and
// watches for its end. Returns false if the guild already has one.
func (b *Bot) register(guildID string, gs *guildSession) bool {
	b.mu.Lock()
	if _, exists := b.tournaments[guildID]; exists {
		b.mu.Unlock()
		return false
	}
	b.tournaments[guildID] = gs
	b.mu.Unlock()

	b.updatePresence()
	go gs.session.Poll(b.ctx, b.pollInterval())
	go b.watch(guildID, gs)
	return true
}

// watch removes the session from the map once it finishes, however it
// finishes.
func (b *Bot) watch(guildID string, gs *guildSession) {
	select {
	case <-gs.session.Done():
	case <-b.ctx.Done():
		return
	}

	b.mu.Lock()
	if b.tournaments[guildID] == gs {
		delete(b.tournaments, guildID)
	}
	b.mu.Unlock()
	b.updatePresence()
}

func (b *Bot) sessionFor(guildID string) *guildSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tournaments[guildID]
}

// updatePresence shows the bot watching Dolphin while any tournament is
// live.
func (b *Bot) updatePresence() {
	b.mu.Lock()
	active := len(b.tournaments) > 0
	b.mu.Unlock()

	var err error
	if active {
		err = b.session.UpdateWatchStatus(0, "Dolphin")
	} else {
		err = b.session.UpdateGameStatus(0, "")
	}
	if err != nil {
		slog.Warn("Failed to update presence", "error", err)
	}
}

// saveSnapshots writes every live session to storage at shutdown.
func (b *Bot) saveSnapshots() {
	b.mu.Lock()
	sessions := make([]*guildSession, 0, len(b.tournaments))
	for _, gs := range b.tournaments {
		sessions = append(sessions, gs)
	}
	b.mu.Unlock()

	var snapshots []storage.Snapshot
	for _, gs := range sessions {
		gs.session.Shutdown()
		snap, ok := gs.session.Snapshot(gs.bracket.ID(), gs.bracket.APIKey())
		if !ok {
			continue
		}
		snapshots = append(snapshots, snap)
	}

	if len(snapshots) == 0 {
		return
	}
	if err := b.repo.SaveAll(snapshots); err != nil {
		slog.Error("Failed to save tournaments", "error", err)
		return
	}
	slog.Info("Saved active tournaments", "count", len(snapshots))
}

// rehydrate restores saved sessions. Failures drop the snapshot with a
// log entry; a half-restored tournament can always be restarted by hand.
func (b *Bot) rehydrate() {
	snapshots, err := b.repo.ConsumeAll()
	if err != nil {
		slog.Error("Failed to load saved tournaments", "error", err)
		return
	}

	for _, snap := range snapshots {
		if err := b.restoreSession(snap); err != nil {
			slog.Warn("Dropping saved tournament", "guild", snap.GuildID, "error", err)
		}
	}
	if len(snapshots) > 0 {
		slog.Info("Loaded saved tournaments", "count", len(snapshots))
	}
}

func (b *Bot) restoreSession(snap storage.Snapshot) error {
	if _, err := b.session.Guild(snap.GuildID); err != nil {
		return fmt.Errorf("guild unavailable: %w", err)
	}
	if !b.gateway.ChannelExists(snap.ChannelID) {
		return errors.New("announcement channel no longer exists")
	}

	bracket := challonge.NewTournament(b.challonge, snap.APIKey, snap.TournamentID)

	ctx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	defer cancel()
	if err := bracket.Load(ctx); err != nil {
		return fmt.Errorf("loading bracket: %w", err)
	}

	sess := tournament.Restore(b.gateway, bracket, snap)
	gs := &guildSession{session: sess, bracket: bracket}
	if !b.register(snap.GuildID, gs) {
		return errors.New("guild already has a tournament")
	}
	return nil
}
