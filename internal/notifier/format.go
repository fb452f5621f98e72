package notifier

import (
	"html"
	"strings"

	"livewatch/internal/twitch"
)

// WatchURL is the public channel page of a broadcaster.
func WatchURL(name string) string {
	return "https://twitch.tv/" + strings.ToLower(name)
}

// LiveMessage renders the go-live message as Telegram HTML. Output depends
// only on its inputs.
func LiveMessage(name string, info twitch.LiveInfo) string {
	category := info.Category
	if strings.TrimSpace(category) == "" {
		category = twitch.UnknownCategory
	}
	var b strings.Builder
	b.WriteString("🔴 <b>")
	b.WriteString(html.EscapeString(strings.ToUpper(name)))
	b.WriteString(" is now LIVE!</b>\n")
	b.WriteString("<b>Title</b>: ")
	b.WriteString(html.EscapeString(info.Title))
	b.WriteString("\n<b>Game</b>: ")
	b.WriteString(html.EscapeString(category))
	b.WriteString("\n🔗 ")
	b.WriteString(WatchURL(name))
	return b.String()
}

// OfflineMessage renders the optional went-offline message.
func OfflineMessage(name string) string {
	return "⚫ <b>" + html.EscapeString(strings.ToUpper(name)) + "</b> went offline."
}
