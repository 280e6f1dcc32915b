package relay

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/crosslink-chat/crosslink-server/internal/messagelog"
	"github.com/crosslink-chat/crosslink-server/internal/platform"
)

// maxQuoteLength caps the visible length of a reply quote.
const maxQuoteLength = 80

// ReplyResolver reconstructs reply context across relay boundaries. It only reads: the message log, and the platform
// as a fallback when the referenced message is not inlined in the event.
type ReplyResolver struct {
	logs     messagelog.Repository
	platform platform.Client
	log      zerolog.Logger
}

// NewReplyResolver creates a ReplyResolver.
func NewReplyResolver(logs messagelog.Repository, client platform.Client, logger zerolog.Logger) *ReplyResolver {
	return &ReplyResolver{logs: logs, platform: client, log: logger}
}

// Resolve returns the reply context for an inbound message, or nil when it is not a reply. Resolution order:
//
//  1. The referenced message was logged by this relay → use the logged author and content (a native message from a
//     subscribed channel).
//  2. The referenced message is one of our own envelopes → parse it to recover the original author and content. A
//     nested reply surfaces only the innermost author and quote.
//  3. Anything else → quote the referenced message's native author and content.
//
// Failures degrade to relaying without reply context rather than dropping the message.
func (r *ReplyResolver) Resolve(ctx context.Context, in *Inbound) *ReplyContext {
	ref := in.Referenced
	if ref == nil {
		return nil
	}

	if ref.Content == "" && ref.Author.Username == "" {
		fetched, err := r.platform.FetchMessage(ctx, in.ChannelID, ref.ID)
		if err != nil {
			r.log.Warn().Err(err).Int64("message_id", ref.ID).Msg("Referenced message fetch failed")
			return nil
		}
		ref = fetched
	}

	if entry, err := r.logs.GetBySourceMessage(ctx, ref.ID); err == nil {
		return &ReplyContext{
			AuthorDisplay: entry.AuthorDisplay,
			Quote:         truncateQuote(entry.Content),
			Origin:        OriginNative,
		}
	} else if !errors.Is(err, messagelog.ErrNotFound) {
		r.log.Warn().Err(err).Int64("message_id", ref.ID).Msg("Reply log lookup failed")
	}

	if ref.Author.Bot {
		if env, ok := Parse(ref.Content); ok {
			origin := OriginRelayed
			if env.Reply != nil {
				origin = OriginRelayedNested
			}
			return &ReplyContext{
				AuthorDisplay: env.AuthorDisplay,
				Quote:         truncateQuote(env.Body),
				Origin:        origin,
			}
		}
	}

	return &ReplyContext{
		AuthorDisplay: ref.Author.Username,
		Quote:         truncateQuote(ref.Content),
		Origin:        OriginNative,
	}
}

// truncateQuote flattens the quoted text to a single markdown-free line of at most maxQuoteLength visible characters.
func truncateQuote(content string) string {
	quote := strings.ReplaceAll(content, "**", "")
	quote = strings.ReplaceAll(quote, "*", "")
	quote = strings.ReplaceAll(quote, "\n", " ")
	quote = strings.TrimSpace(quote)

	runes := []rune(quote)
	if len(runes) > maxQuoteLength {
		quote = string(runes[:maxQuoteLength-1]) + ellipsis
	}
	return quote
}
