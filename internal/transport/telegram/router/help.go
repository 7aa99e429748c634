package router

import (
	"html"
	"strings"
)

// HelpText renders the command list for Telegram HTML parse mode.
func (m *Manager) HelpText() string {
	m.mu.RLock()
	cmds := m.tab.commands
	m.mu.RUnlock()

	lines := []string{"<b>Commands</b>"}
	for _, c := range cmds {
		if c.Hidden {
			continue
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		line := "<code>" + html.EscapeString(usage) + "</code>"
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " - " + html.EscapeString(d)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
