// Command interpretation.
//
// Commands are space-delimited, the first token is the verb, and the
// remaining argument count selects the sub-operation. A malformed argument
// count answers with a usage hint, never an error. Outbound sends are
// fire-and-forget: a failed confirmation must not undo state that was
// already committed, so send errors are logged and swallowed — with the one
// exception of the roll reply, whose message id gates the RollRecord write.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tbourn/feishu-roll-bot/internal/domain"
	"github.com/tbourn/feishu-roll-bot/internal/feishu"
	"github.com/tbourn/feishu-roll-bot/internal/repo"
	"github.com/tbourn/feishu-roll-bot/internal/services"
)

// message carries the inbound context a command needs to reply.
type message struct {
	chatID   string
	senderID string
	msgID    string
}

func (h *Handler) handleCommand(ctx context.Context, msg message, text string) error {
	argv := strings.Fields(text)
	verb, args := argv[0], argv[1:]
	switch verb {
	case "/add":
		return h.handleAdd(ctx, msg, args)
	case "/ls":
		return h.handleLs(ctx, msg, args)
	case "/del":
		return h.handleDel(ctx, msg, args)
	case "/roll":
		return h.handleRoll(ctx, msg, args)
	default:
		return h.replyUsage(ctx, msg)
	}
}

func (h *Handler) handleAdd(ctx context.Context, msg message, args []string) error {
	switch {
	case len(args) == 1:
		err := h.Sets.CreateSet(ctx, msg.chatID, args[0], msg.senderID)
		if errors.Is(err, services.ErrSetExists) {
			h.sendText(ctx, msg, "set already exists")
			return nil
		}
		if err != nil {
			return err
		}
		h.sendReaction(ctx, msg, feishu.EmojiDone)
		return nil
	case len(args) >= 2:
		_, err := h.Sets.AddCards(ctx, msg.chatID, args[0], msg.senderID, args[1:]...)
		if errors.Is(err, repo.ErrPayloadTooLarge) {
			h.sendText(ctx, msg, "set is full, remove members before adding more")
			return nil
		}
		if err != nil {
			return err
		}
		h.sendReaction(ctx, msg, feishu.EmojiDone)
		return nil
	}
	h.sendText(ctx, msg, "/add <set> [<member>...]")
	return nil
}

func (h *Handler) handleLs(ctx context.Context, msg message, args []string) error {
	switch {
	case len(args) == 0:
		sets, err := h.Sets.ListSets(ctx, msg.chatID)
		if err != nil {
			return err
		}
		if len(sets) == 0 {
			h.sendText(ctx, msg, "no sets yet, create one with /add")
			return nil
		}
		lines := make([][]feishu.PostSpan, 0, len(sets))
		for _, set := range sets {
			lines = append(lines, []feishu.PostSpan{
				feishu.TextSpan(fmt.Sprintf("%s (%d members)", set.Name, set.Len())),
			})
		}
		h.sendPost(ctx, msg, "sets", lines)
		return nil
	case len(args) == 1:
		set, err := h.Sets.GetSet(ctx, msg.chatID, args[0])
		if errors.Is(err, services.ErrSetNotFound) {
			h.sendText(ctx, msg, "set not found")
			return nil
		}
		if err != nil {
			return err
		}
		lines := make([][]feishu.PostSpan, 0, set.Len())
		for _, card := range set.Cards() {
			lines = append(lines, []feishu.PostSpan{
				feishu.TextSpan(fmt.Sprintf("%s (weight %d)", card.Name, card.Weight)),
			})
		}
		h.sendPost(ctx, msg, fmt.Sprintf("members of %s", set.Name), lines)
		return nil
	}
	h.sendText(ctx, msg, "/ls [<set>]")
	return nil
}

func (h *Handler) handleDel(ctx context.Context, msg message, args []string) error {
	switch {
	case len(args) == 1:
		err := h.Sets.DeleteSet(ctx, msg.chatID, args[0])
		var nonEmpty *services.NonEmptySetError
		switch {
		case errors.Is(err, services.ErrSetNotFound):
			h.sendText(ctx, msg, "set not found")
			return nil
		case errors.As(err, &nonEmpty):
			h.sendText(ctx, msg, fmt.Sprintf("set has %d members, only empty sets can be deleted", nonEmpty.Count))
			return nil
		case err != nil:
			return err
		}
		h.sendReaction(ctx, msg, feishu.EmojiDone)
		return nil
	case len(args) == 2:
		removed, err := h.Sets.DeleteCard(ctx, msg.chatID, args[0], args[1])
		switch {
		case errors.Is(err, services.ErrSetNotFound):
			h.sendText(ctx, msg, "set not found")
			return nil
		case errors.Is(err, services.ErrCardNotFound):
			h.sendText(ctx, msg, "member not found")
			return nil
		case err != nil:
			return err
		}
		h.sendReaction(ctx, msg, feishu.EmojiDone)
		h.sendText(ctx, msg, fmt.Sprintf("removed %s (weight %d)", removed.Name, removed.Weight))
		return nil
	}
	h.sendText(ctx, msg, "/del <set> [<member>]")
	return nil
}

func (h *Handler) handleRoll(ctx context.Context, msg message, args []string) error {
	if len(args) > 1 {
		h.sendText(ctx, msg, "/roll [<set>]")
		return nil
	}
	name := ""
	if len(args) == 1 {
		name = args[0]
	}

	card, set, err := h.Sets.Roll(ctx, msg.chatID, name)
	switch {
	case errors.Is(err, services.ErrSetNotFound):
		if name == "" {
			h.sendText(ctx, msg, "no sets yet, create one with /add")
		} else {
			h.sendText(ctx, msg, "set not found")
		}
		return nil
	case errors.Is(err, services.ErrAmbiguousSet):
		return h.replyWhichSet(ctx, msg)
	case errors.Is(err, domain.ErrEmptySet):
		h.sendText(ctx, msg, "set is empty")
		return nil
	case errors.Is(err, domain.ErrZeroWeight):
		h.sendText(ctx, msg, "every member has weight 0, vote some back up first")
		return nil
	case err != nil:
		return err
	}

	lines := [][]feishu.PostSpan{
		{
			feishu.TextSpan("drew "),
			feishu.BoldSpan(card.Name),
			feishu.TextSpan(" from "),
			feishu.BoldSpan(set.Name),
			feishu.TextSpan(fmt.Sprintf(", weight %d", card.Weight)),
		},
		{feishu.TextSpan("-----------------")},
		{feishu.TextSpan("react with thumbs up/down on this message to adjust the weight by 1")},
	}
	replyID, err := h.Messenger.ReplyPost(ctx, msg.msgID, "roll result", lines)
	if err != nil {
		// The draw itself had no side effects; without a delivered reply
		// there is nothing to track.
		zerolog.Ctx(ctx).Error().Err(err).Msg("roll reply failed")
		return nil
	}
	if replyID == "" {
		zerolog.Ctx(ctx).Warn().Msg("roll reply delivered without a message id, skipping roll record")
		return nil
	}

	rec := &domain.RollRecord{
		ChatID:      msg.chatID,
		CardSetName: set.Name,
		CardName:    card.Name,
		MsgID:       replyID,
		CreatedBy:   msg.senderID,
	}
	if err := h.Sets.RecordRoll(ctx, rec); err != nil {
		return fmt.Errorf("record roll: %w", err)
	}

	// Pre-attach the voting affordances to the reply itself.
	h.sendReactionTo(ctx, replyID, feishu.EmojiThumbsUp)
	h.sendReactionTo(ctx, replyID, feishu.EmojiThumbsDown)
	return nil
}

// replyWhichSet answers an ambiguous bare /roll by listing the candidates.
func (h *Handler) replyWhichSet(ctx context.Context, msg message) error {
	sets, err := h.Sets.ListSets(ctx, msg.chatID)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(sets))
	for _, set := range sets {
		names = append(names, set.Name)
	}
	h.sendText(ctx, msg, "several sets exist, pick one: /roll "+strings.Join(names, " | /roll "))
	return nil
}

func (h *Handler) replyUsage(ctx context.Context, msg message) error {
	lines := [][]feishu.PostSpan{
		{feishu.TextSpan("create a set or add members: /add <set> [<member>...]")},
		{feishu.TextSpan("list sets or members: /ls [<set>]")},
		{feishu.TextSpan("delete a set or a member: /del <set> [<member>]")},
		{feishu.TextSpan("draw from a set: /roll [<set>]")},
	}
	h.sendPost(ctx, msg, "usage", lines)
	return nil
}

// sendText replies to the triggering message, logging delivery failures.
func (h *Handler) sendText(ctx context.Context, msg message, text string) {
	if err := h.Messenger.ReplyText(ctx, msg.msgID, text); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("msg_id", msg.msgID).Msg("text reply failed")
	}
}

func (h *Handler) sendPost(ctx context.Context, msg message, title string, lines [][]feishu.PostSpan) {
	if _, err := h.Messenger.ReplyPost(ctx, msg.msgID, title, lines); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("msg_id", msg.msgID).Msg("post reply failed")
	}
}

func (h *Handler) sendReaction(ctx context.Context, msg message, emoji string) {
	h.sendReactionTo(ctx, msg.msgID, emoji)
}

func (h *Handler) sendReactionTo(ctx context.Context, msgID, emoji string) {
	if err := h.Messenger.React(ctx, msgID, emoji); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("msg_id", msgID).Msg("reaction send failed")
	}
}
