package signal

import (
	"html"
	"regexp"
	"strings"

	"github.com/candree7-rgb/Systemic.Systems/discord"
)

var (
	mdLink  = regexp.MustCompile(`\[([^\]]+)\]\((?:[^)]+)\)`)
	mdMark  = regexp.MustCompile("[*_`~]+")
	multiWS = regexp.MustCompile(`[ \t\x{00A0}]+`)
)

// CleanText flattens Discord markdown into comparable plain text: carriage
// returns stripped, HTML entities resolved, links reduced to their label,
// emphasis markers removed, horizontal whitespace collapsed, lines trimmed.
// Idempotent: cleaning already-clean text is a no-op.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r", "")
	s = html.UnescapeString(s)
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdMark.ReplaceAllString(s, "")
	s = multiWS.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// MessageText concatenates a message's content with all embed text (title,
// description, field names and values, footer) in order, skipping empty
// parts, and cleans the result.
func MessageText(m discord.Message) string {
	var parts []string
	add := func(s string) {
		if s != "" {
			parts = append(parts, s)
		}
	}

	add(m.Content)
	for _, e := range m.Embeds {
		add(e.Title)
		add(e.Description)
		for _, f := range e.Fields {
			add(f.Name)
			add(f.Value)
		}
		if e.Footer != nil {
			add(e.Footer.Text)
		}
	}

	return CleanText(strings.Join(parts, "\n"))
}
