package dispatch

import (
	"strings"

	"newsfan/internal/event"
)

// RenderMessage formats an event for the direct-message channel.
func RenderMessage(ev event.Event) string {
	var b strings.Builder
	if ev.Urgent {
		b.WriteString("🚨 ")
	}
	b.WriteString(ev.Title)
	if ev.Summary != "" {
		b.WriteString("\n\n")
		b.WriteString(ev.Summary)
	}
	var meta []string
	if ev.Category != "" {
		meta = append(meta, "#"+ev.Category)
	}
	if ev.SourceID != "" {
		meta = append(meta, ev.SourceID)
	}
	if len(meta) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(meta, " · "))
	}
	return b.String()
}
