package relay

import (
	"strconv"
	"strings"

	"github.com/crosslink-chat/crosslink-server/internal/platform"
)

// Envelope grammar markers. Parse depends on these exact tokens, so changing any of them breaks reply resolution for
// every message already relayed.
const (
	replyStartMarker = "┌─ Replying to "
	replyQuoteOpen   = ": *"
	replyEndMarker   = "*\n└─ "
	authorOpen       = " • **"
	authorClose      = "**: "
	badgeMarker      = "\n-# "
	imageLinePrefix  = "🖼️ Image: "
	fileLinePrefix   = "📎 Attachment: "
	ellipsis         = "…"
)

// Origin records where a reply's quoted message came from.
type Origin string

const (
	OriginNative        Origin = "native"
	OriginRelayed       Origin = "relayed"
	OriginRelayedNested Origin = "relayed-nested"
)

// ReplyContext is the resolved reply header: who is being answered and a short quote of what they said.
type ReplyContext struct {
	AuthorDisplay string `json:"author_display"`
	Quote         string `json:"quote"`
	Origin        Origin `json:"origin"`
}

// Envelope is the canonical rendering of one relayed message.
type Envelope struct {
	AuthorDisplay string
	Body          string
	Permalink     string
	GuildName     string
	Attachments   []platform.Attachment
	Reply         *ReplyContext
}

// Permalink builds the platform message URL used as the envelope's source link.
func Permalink(guildID, channelID, messageID int64) string {
	return "https://discord.com/channels/" + strconv.FormatInt(guildID, 10) + "/" +
		strconv.FormatInt(channelID, 10) + "/" + strconv.FormatInt(messageID, 10)
}

// Format renders the envelope, truncating the body with an ellipsis if the whole rendering would exceed maxLen
// characters. Headers, attachment lines, and the badge are never dropped; only the body shrinks.
func (e *Envelope) Format(maxLen int) string {
	overhead := len([]rune(e.render("")))
	body := e.Body
	if budget := maxLen - overhead; len([]rune(body)) > budget {
		if budget < 1 {
			budget = 1
		}
		body = string([]rune(body)[:budget-1]) + ellipsis
	}
	return e.render(body)
}

func (e *Envelope) render(body string) string {
	var b strings.Builder

	if e.Reply != nil {
		b.WriteString(replyStartMarker)
		b.WriteString(e.Reply.AuthorDisplay)
		b.WriteString(replyQuoteOpen)
		b.WriteString(e.Reply.Quote)
		b.WriteString(replyEndMarker)
	}

	b.WriteString(e.Permalink)
	b.WriteString(authorOpen)
	b.WriteString(e.AuthorDisplay)
	b.WriteString(authorClose)
	b.WriteString(body)

	for _, att := range e.Attachments {
		b.WriteString("\n")
		if isImage(att.Filename) {
			b.WriteString(imageLinePrefix)
		} else {
			b.WriteString(fileLinePrefix)
		}
		b.WriteString(att.URL)
	}

	b.WriteString(badgeMarker)
	b.WriteString(e.GuildName)

	return b.String()
}

// Parse decodes a string produced by Format back into an envelope. It recovers the author, body, reply header, guild
// badge, and attachment URLs; ok is false when the content does not follow the grammar (i.e. it is not one of our
// messages).
func Parse(content string) (*Envelope, bool) {
	env := &Envelope{}
	rest := content

	if strings.HasPrefix(rest, replyStartMarker) {
		header := rest[len(replyStartMarker):]
		end := strings.Index(header, replyEndMarker)
		if end == -1 {
			return nil, false
		}
		sep := strings.Index(header[:end], replyQuoteOpen)
		if sep == -1 {
			return nil, false
		}
		env.Reply = &ReplyContext{
			AuthorDisplay: header[:sep],
			Quote:         header[sep+len(replyQuoteOpen) : end],
			Origin:        OriginRelayed,
		}
		rest = header[end+len(replyEndMarker):]
	}

	if idx := strings.LastIndex(rest, badgeMarker); idx != -1 {
		env.GuildName = rest[idx+len(badgeMarker):]
		rest = rest[:idx]
	}

	for {
		nl := strings.LastIndex(rest, "\n")
		if nl == -1 {
			break
		}
		line := rest[nl+1:]
		var url string
		switch {
		case strings.HasPrefix(line, imageLinePrefix):
			url = line[len(imageLinePrefix):]
		case strings.HasPrefix(line, fileLinePrefix):
			url = line[len(fileLinePrefix):]
		default:
			nl = -1
		}
		if nl == -1 {
			break
		}
		env.Attachments = append([]platform.Attachment{{URL: url}}, env.Attachments...)
		rest = rest[:nl]
	}

	open := strings.Index(rest, authorOpen)
	if open == -1 {
		return nil, false
	}
	env.Permalink = rest[:open]
	rest = rest[open+len(authorOpen):]

	closeIdx := strings.Index(rest, authorClose)
	if closeIdx == -1 {
		return nil, false
	}
	env.AuthorDisplay = rest[:closeIdx]
	env.Body = rest[closeIdx+len(authorClose):]

	return env, true
}

func isImage(filename string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".webp"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
