package tournament

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mtimkovich/auTO/internal/challonge"
)

// fakeGateway implements Gateway in memory and records every side effect.
type fakeGateway struct {
	mu sync.Mutex

	members map[string]*Member
	roles   map[string]string

	manageChannels bool
	addReactions   bool

	nextID   int
	existing map[string]bool

	sent            []fakeMessage
	deletedMessages []string
	pins            []string
	reactions       []string

	createCalls     int
	deletedChannels []string

	confirmAnswer bool
	confirmAsked  []string

	awaitShowedUp bool
}

type fakeMessage struct {
	channelID string
	messageID string
	content   string
}

var _ Gateway = (*fakeGateway)(nil)

func newFakeGateway(memberNames ...string) *fakeGateway {
	gw := &fakeGateway{
		members:        make(map[string]*Member),
		roles:          make(map[string]string),
		manageChannels: true,
		addReactions:   true,
		existing:       make(map[string]bool),
	}
	for i, name := range memberNames {
		gw.members[strings.ToLower(name)] = &Member{
			ID:          fmt.Sprintf("user-%d", i+1),
			DisplayName: name,
		}
	}
	return gw
}

func (g *fakeGateway) id(prefix string) string {
	g.nextID++
	return fmt.Sprintf("%s-%d", prefix, g.nextID)
}

func (g *fakeGateway) MemberByName(guildID, name string) (*Member, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.members[strings.ToLower(name)]
	return m, ok
}

func (g *fakeGateway) RoleByName(guildID, name string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.roles[name]
	return id, ok
}

func (g *fakeGateway) Send(channelID, content string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.id("msg")
	g.sent = append(g.sent, fakeMessage{channelID: channelID, messageID: id, content: content})
	return id, nil
}

func (g *fakeGateway) Delete(channelID, messageID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletedMessages = append(g.deletedMessages, messageID)
	return nil
}

func (g *fakeGateway) Pin(channelID, messageID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pins = append(g.pins, messageID)
	return nil
}

func (g *fakeGateway) React(channelID, messageID, emoji string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reactions = append(g.reactions, emoji)
	return nil
}

func (g *fakeGateway) CreateCategory(guildID, name string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.id("category")
	g.existing[id] = true
	return id, nil
}

func (g *fakeGateway) CreateMatchChannels(guildID, categoryID, name string, memberIDs, roleIDs []string) (string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	text := g.id("text")
	voice := g.id("voice")
	g.existing[text] = true
	g.existing[voice] = true
	return text, voice, nil
}

func (g *fakeGateway) DeleteChannel(channelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletedChannels = append(g.deletedChannels, channelID)
	if !g.existing[channelID] {
		return fmt.Errorf("channel %s not found", channelID)
	}
	delete(g.existing, channelID)
	return nil
}

func (g *fakeGateway) ChannelExists(channelID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.existing[channelID]
}

func (g *fakeGateway) CanManageChannels(channelID string) bool { return g.manageChannels }
func (g *fakeGateway) CanAddReactions(channelID string) bool   { return g.addReactions }

func (g *fakeGateway) Confirm(userID, question string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmAsked = append(g.confirmAsked, question)
	return g.confirmAnswer, nil
}

func (g *fakeGateway) AwaitUserMessage(guildID, userID string, timeout time.Duration) bool {
	return g.awaitShowedUp
}

// messagesSent returns the content of every Send call, in order.
func (g *fakeGateway) messagesSent() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	contents := make([]string, len(g.sent))
	for i, m := range g.sent {
		contents[i] = m.content
	}
	return contents
}

// fakeBracket implements Bracket in memory. Report marks the match
// complete, the way the remote service would.
type fakeBracket struct {
	mu sync.Mutex

	name    string
	url     string
	state   string
	players []string

	records    []challonge.MatchRecord
	matchesErr error

	reports       []reportCall
	underway      []int64
	dqs           []string
	renames       [][2]string
	loads         int
	finalizeCalls int
	finalizeErr   error
	top8          []challonge.Placement
}

type reportCall struct {
	matchID  int64
	winnerID int64
	scores   string
}

var _ Bracket = (*fakeBracket)(nil)

func newFakeBracket(records ...challonge.MatchRecord) *fakeBracket {
	return &fakeBracket{
		name:    "Melee Weekly",
		url:     "https://challonge.com/melee-weekly",
		state:   "underway",
		records: records,
	}
}

func (f *fakeBracket) Load(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return nil
}

func (f *fakeBracket) Matches(ctx context.Context) ([]challonge.MatchRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.matchesErr != nil {
		return nil, f.matchesErr
	}
	out := make([]challonge.MatchRecord, len(f.records))
	copy(out, f.records)
	return out, nil
}

func (f *fakeBracket) Report(ctx context.Context, matchID, winnerID int64, scores string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, reportCall{matchID: matchID, winnerID: winnerID, scores: scores})
	for i := range f.records {
		if f.records[i].ID == matchID {
			f.records[i].State = "complete"
		}
	}
	return nil
}

func (f *fakeBracket) MarkUnderway(ctx context.Context, matchID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.underway = append(f.underway, matchID)
	return nil
}

func (f *fakeBracket) Start(ctx context.Context) error { return nil }

func (f *fakeBracket) Finalize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalizeCalls++
	return f.finalizeErr
}

func (f *fakeBracket) Rename(ctx context.Context, tag, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renames = append(f.renames, [2]string{tag, newName})
	return nil
}

func (f *fakeBracket) DQ(ctx context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dqs = append(f.dqs, tag)
	for i := range f.records {
		if strings.EqualFold(f.records[i].Player1Tag, tag) || strings.EqualFold(f.records[i].Player2Tag, tag) {
			f.records[i].State = "complete"
		}
	}
	return nil
}

func (f *fakeBracket) Progress(ctx context.Context) (int, error) { return 50, nil }

func (f *fakeBracket) Top8(ctx context.Context) ([]challonge.Placement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.top8, nil
}

func (f *fakeBracket) Name() string      { return f.name }
func (f *fakeBracket) URL() string       { return f.url }
func (f *fakeBracket) State() string     { return f.state }
func (f *fakeBracket) Players() []string { return f.players }

// newTestSession wires fakes with a deterministic coin flip.
func newTestSession(gw *fakeGateway, bracket *fakeBracket) *Session {
	s := NewSession(gw, bracket, "guild-1", "channel-1", "owner-1")
	s.flip = func() bool { return false }
	return s
}

func openMatch(id int64, p1, p2 string, order int) challonge.MatchRecord {
	return challonge.MatchRecord{
		ID:         id,
		Player1Tag: p1,
		Player2Tag: p2,
		Player1ID:  id * 10,
		Player2ID:  id*10 + 1,
		Round:      "WR1",
		State:      "open",
		PlayOrder:  order,
	}
}
