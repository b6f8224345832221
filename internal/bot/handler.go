// Package bot is the control layer between the webhook boundary and the
// card-set services. It classifies inbound Feishu events, interprets text
// commands (falling back to natural-language translation), and resolves
// reaction events into idempotent weight adjustments.
package bot

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tbourn/feishu-roll-bot/internal/feishu"
	"github.com/tbourn/feishu-roll-bot/internal/nlp"
	"github.com/tbourn/feishu-roll-bot/internal/services"
)

// Handler owns the bot's event processing. All dependencies are injected;
// there is no package-level state.
type Handler struct {
	Sets      *services.CardSetService
	Reactions *services.ReactionService
	Messenger feishu.Messenger
	// Translator may be nil; free text then gets the usage card.
	Translator nlp.Translator
	// AppOpenID is the bot's own open id, used to tell "mentioned me"
	// apart from "mentioned someone else" in group chats.
	AppOpenID string
}

// HandleEvent dispatches one decoded webhook event. Unknown event types are
// logged and acknowledged. Errors returned here mean the event could not be
// processed at all; per-command failures are reported to the chat instead.
func (h *Handler) HandleEvent(ctx context.Context, ev *feishu.Event) error {
	switch ev.Type() {
	case feishu.EventMessageReceive:
		return h.handleMessage(ctx, ev)
	case feishu.EventReactionCreated:
		return h.handleReaction(ctx, ev, false)
	case feishu.EventReactionDeleted:
		return h.handleReaction(ctx, ev, true)
	default:
		zerolog.Ctx(ctx).Warn().Str("event_type", ev.Type()).Msg("unknown event type")
		return nil
	}
}

// handleMessage filters group noise, then routes the text: commands go to
// the verb dispatcher, anything else through the translator.
func (h *Handler) handleMessage(ctx context.Context, ev *feishu.Event) error {
	text, ok := ev.Text()
	if !ok {
		zerolog.Ctx(ctx).Debug().Str("msg_id", ev.MsgID()).Msg("non-text message ignored")
		return nil
	}

	// In group chats the bot only answers when it is the sole mention or
	// the text is an explicit command.
	if ev.Event.Message.ChatType == "group" {
		mentions := ev.Event.Message.Mentions
		switch {
		case len(mentions) > 1:
			return nil
		case len(mentions) == 1:
			if mentions[0].ID.OpenID != h.AppOpenID {
				return nil
			}
			text = strings.Replace(text, mentions[0].Key, "", 1)
		case !strings.HasPrefix(strings.TrimSpace(text), "/"):
			return nil
		}
	}

	text = strings.TrimSpace(text)
	msg := message{
		chatID:   ev.Event.Message.ChatID,
		senderID: ev.Event.Sender.SenderID.OpenID,
		msgID:    ev.MsgID(),
	}
	if strings.HasPrefix(text, "/") {
		return h.handleCommand(ctx, msg, text)
	}
	return h.handleFreeText(ctx, msg, text)
}

// handleFreeText runs the translator and re-dispatches its output once.
// Translator failures of any kind degrade to the usage card.
func (h *Handler) handleFreeText(ctx context.Context, msg message, text string) error {
	if h.Translator == nil {
		return h.replyUsage(ctx, msg)
	}
	cmd, err := h.Translator.Translate(ctx, text)
	if err != nil {
		if !errors.Is(err, nlp.ErrUnrecognized) {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("translator failed")
		}
		return h.replyUsage(ctx, msg)
	}
	if !strings.HasPrefix(cmd, "/") {
		return h.replyUsage(ctx, msg)
	}
	zerolog.Ctx(ctx).Info().Str("command", cmd).Msg("translated free text")
	return h.handleCommand(ctx, msg, cmd)
}

// handleReaction maps a reaction event back to a weight adjustment via the
// roll-record store. Reactions that are not up/down votes by a user are
// ignored outright.
func (h *Handler) handleReaction(ctx context.Context, ev *feishu.Event, removed bool) error {
	lg := zerolog.Ctx(ctx)

	emoji := ev.Event.ReactionType.EmojiType
	var vote services.Vote
	switch emoji {
	case feishu.EmojiThumbsUp:
		vote = services.VoteUp
	case feishu.EmojiThumbsDown:
		vote = services.VoteDown
	default:
		return nil
	}
	if ev.Event.OperatorType != feishu.OperatorUser {
		return nil
	}

	outcome, err := h.Reactions.Apply(ctx, ev.MsgID(), ev.ReactorID(), emoji, vote, removed)
	if err != nil {
		return err
	}
	switch outcome {
	case services.OutcomeApplied:
		lg.Info().
			Str("msg_id", ev.MsgID()).
			Str("emoji", emoji).
			Bool("removed", removed).
			Msg("adjusted card weight")
	case services.OutcomeSetGone:
		lg.Warn().Str("msg_id", ev.MsgID()).Msg("card set gone since roll")
	case services.OutcomeCardGone:
		lg.Warn().Str("msg_id", ev.MsgID()).Msg("card gone since roll")
	case services.OutcomeDuplicate:
		lg.Debug().Str("msg_id", ev.MsgID()).Msg("duplicate reaction event dropped")
	}
	return nil
}
