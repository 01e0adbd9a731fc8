package bot

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

var helpLines = []string{
	"- `start [URL]` - start TOing",
	"- `stop` - stop TOing",
	"- `rename TAG @Player` - rename player to their Discord tag",
	"- `noshow @Player` - start DQ process for player",
	"- `update_tags` - get the latest Challonge tags",
	"- `report 0-2` - report a match (reporter's score first)",
	"- `matches` - print the active matches",
	"- `status` - print how far along the tournament is",
	"- `bracket` - print the bracket URL",
	"- `results` - print Top 8 once the bracket is finished",
}

func (b *Bot) handleHelp(m *discordgo.MessageCreate) {
	b.reply(m, strings.Join(helpLines, "\n"))
}
