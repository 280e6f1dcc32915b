package relay

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/crosslink-chat/crosslink-server/internal/platform"
	"github.com/crosslink-chat/crosslink-server/internal/room"
)

// urlPatterns match anything that reads as a link: scheme URLs, www-prefixed hosts, bare domain/path forms, common
// TLDs, invite links, and the usual shorteners.
var urlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)https?://\S+`),
	regexp.MustCompile(`(?i)www\.\S+\.[a-z]{2,}`),
	regexp.MustCompile(`(?i)\S+\.[a-z]{2,}/\S*`),
	regexp.MustCompile(`(?i)\S+\.(com|org|net|edu|gov|io|co|me|tv|gg)\S*`),
	regexp.MustCompile(`(?i)discord\.gg/\S+`),
	regexp.MustCompile(`(?i)bit\.ly/\S+`),
	regexp.MustCompile(`(?i)t\.co/\S+`),
	regexp.MustCompile(`(?i)youtu\.be/\S+`),
}

// defaultBannedWords is the base block list applied when the room's bad-word filter is enabled, before the room's own
// list.
var defaultBannedWords = []string{
	"spam", "hack", "cheat", "exploit", "scam", "fraud", "phishing",
	"malware", "virus", "trojan", "bitcoin", "crypto", "investment",
	"get rich quick", "click here", "free money",
}

var (
	userMentionPattern  = regexp.MustCompile(`<@!?(\d+)>`)
	roleMentionPattern  = regexp.MustCompile(`<@&(\d+)>`)
	customEmojiPattern  = regexp.MustCompile(`<(a?):(\w+):(\d+)>`)
	massMentionReplacer = strings.NewReplacer("@everyone", "@\u200beveryone", "@here", "@\u200bhere")
	spaceRunPattern     = regexp.MustCompile(`[ \t]{2,}`)
)

// Rejection carries the policy reason a message was refused, plus an optional detail for the author notice (e.g. the
// retry-after for rate limiting).
type Rejection struct {
	Reason Reason
	Detail string
}

// Accepted is the filter output for a message that passed all rules.
type Accepted struct {
	Text        string
	Attachments []platform.Attachment
}

// Filter applies per-room content rules.
type Filter struct {
	sanitize *bluemonday.Policy
}

// NewFilter creates a content filter. The HTML policy strips markup entirely; chat messages carry markdown, not HTML.
func NewFilter() *Filter {
	return &Filter{sanitize: bluemonday.StrictPolicy()}
}

// Apply runs the room's rules in order; the first failing rule wins. Mention and emoji handling are normalizations,
// not rejections. The returned text is whitespace-normalized with user-visible markup preserved.
func (f *Filter) Apply(perms room.Permissions, content string, attachments []platform.Attachment) (*Accepted, *Rejection) {
	// Sanitize strips markup but entity-escapes the text that remains; unescape so mention and emoji tokens like
	// <@id> keep their literal form.
	text := normalize(html.UnescapeString(f.sanitize.Sanitize(content)))

	if len([]rune(text)) > perms.MaxMessageLength {
		return nil, &Rejection{Reason: ReasonTooLong}
	}

	if !perms.AllowURLs && containsURL(text) {
		return nil, &Rejection{Reason: ReasonUrlsDisallowed}
	}

	if !perms.AllowFiles && len(attachments) > 0 {
		return nil, &Rejection{Reason: ReasonAttachmentsDisallowed}
	}

	if !perms.AllowMentions {
		text = stripMentions(text)
	}
	if !perms.AllowEmojis {
		text = customEmojiPattern.ReplaceAllString(text, ":$2:")
	}

	if perms.EnableBadWordFilter {
		if word := matchBannedWord(text, perms.BannedWordList()); word != "" {
			return nil, &Rejection{Reason: ReasonBannedWord, Detail: word}
		}
	}

	return &Accepted{Text: text, Attachments: attachments}, nil
}

func containsURL(text string) bool {
	for _, pattern := range urlPatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// matchBannedWord checks the default list and the room's own list against the lowercased text and returns the first
// hit.
func matchBannedWord(text string, roomWords []string) string {
	lower := strings.ToLower(text)
	for _, word := range defaultBannedWords {
		if strings.Contains(lower, word) {
			return word
		}
	}
	for _, word := range roomWords {
		if strings.Contains(lower, word) {
			return word
		}
	}
	return ""
}

// stripMentions converts pinging tokens to inert text: mass mentions get a zero-width space, user and role mentions
// collapse to plain markers.
func stripMentions(text string) string {
	text = massMentionReplacer.Replace(text)
	text = userMentionPattern.ReplaceAllString(text, "@user")
	text = roleMentionPattern.ReplaceAllString(text, "@role")
	return text
}

// normalize trims the message, drops control characters (keeping newlines), and collapses horizontal whitespace runs.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' || r >= 0x20 {
			b.WriteRune(r)
		}
	}
	out := spaceRunPattern.ReplaceAllString(b.String(), " ")
	return strings.TrimSpace(out)
}
