package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/feishu-roll-bot/internal/feishu"
	"github.com/tbourn/feishu-roll-bot/internal/nlp"
	"github.com/tbourn/feishu-roll-bot/internal/repo"
	"github.com/tbourn/feishu-roll-bot/internal/services"
)

// fakeMessenger records outbound calls instead of hitting the platform.
type fakeMessenger struct {
	reactions []string // "msgID:emoji"
	texts     []string // "msgID:text"
	posts     []string // "msgID:title"
	postLines [][][]feishu.PostSpan

	replyPostID  string // message id ReplyPost reports, counter-suffixed
	replyPostN   int
	failReplies  bool
	failReaction bool
}

func (m *fakeMessenger) React(_ context.Context, msgID, emoji string) error {
	if m.failReaction {
		return errors.New("reaction refused")
	}
	m.reactions = append(m.reactions, msgID+":"+emoji)
	return nil
}

func (m *fakeMessenger) ReplyText(_ context.Context, msgID, text string) error {
	if m.failReplies {
		return errors.New("send refused")
	}
	m.texts = append(m.texts, msgID+":"+text)
	return nil
}

func (m *fakeMessenger) ReplyPost(_ context.Context, msgID, title string, lines [][]feishu.PostSpan) (string, error) {
	if m.failReplies {
		return "", errors.New("send refused")
	}
	m.posts = append(m.posts, msgID+":"+title)
	m.postLines = append(m.postLines, lines)
	if m.replyPostID == "" {
		return "", nil
	}
	m.replyPostN++
	return fmt.Sprintf("%s_%d", m.replyPostID, m.replyPostN), nil
}

// fakeTranslator returns a canned command for any input.
type fakeTranslator struct {
	out string
	err error
}

func (f *fakeTranslator) Translate(_ context.Context, _ string) (string, error) {
	return f.out, f.err
}

func newBotHarness(t *testing.T) (*Handler, *fakeMessenger) {
	t.Helper()
	dsn := fmt.Sprintf("file:bot_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	sets := services.NewCardSetService(db)
	m := &fakeMessenger{replyPostID: "om_reply"}
	h := &Handler{
		Sets:      sets,
		Reactions: &services.ReactionService{DB: db, Locks: sets.Locks},
		Messenger: m,
		AppOpenID: "ou_bot",
	}
	return h, m
}

func textEvent(chatID, sender, msgID, text string) *feishu.Event {
	ev := &feishu.Event{}
	ev.Header.EventID = "ev_" + msgID
	ev.Header.EventType = feishu.EventMessageReceive
	ev.Event.Message.MessageID = msgID
	ev.Event.Message.ChatID = chatID
	ev.Event.Message.ChatType = "p2p"
	content, _ := json.Marshal(map[string]string{"text": text})
	ev.Event.Message.Content = string(content)
	ev.Event.Sender.SenderID.OpenID = sender
	return ev
}

func reactionEvent(msgID, userID, emoji string, removed bool) *feishu.Event {
	ev := &feishu.Event{}
	ev.Header.EventID = "ev_react_" + msgID
	if removed {
		ev.Header.EventType = feishu.EventReactionDeleted
		ev.Event.OperatorID.OpenID = userID
	} else {
		ev.Header.EventType = feishu.EventReactionCreated
		ev.Event.UserID.OpenID = userID
	}
	ev.Event.MessageID = msgID
	ev.Event.OperatorType = feishu.OperatorUser
	ev.Event.ReactionType.EmojiType = emoji
	return ev
}

func mustHandle(t *testing.T, h *Handler, ev *feishu.Event) {
	t.Helper()
	if err := h.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
}

func TestAddCreateThenList(t *testing.T) {
	h, m := newBotHarness(t)

	mustHandle(t, h, textEvent("c1", "u1", "m1", "/add lunch"))
	if len(m.reactions) != 1 || m.reactions[0] != "m1:"+feishu.EmojiDone {
		t.Fatalf("expected done reaction on m1, got %v", m.reactions)
	}

	mustHandle(t, h, textEvent("c1", "u1", "m2", "/add lunch pizza ramen"))
	mustHandle(t, h, textEvent("c1", "u1", "m3", "/ls lunch"))
	if len(m.posts) != 1 {
		t.Fatalf("expected one post reply, got %v", m.posts)
	}
	lines := m.postLines[0]
	if len(lines) != 2 {
		t.Fatalf("expected 2 member lines, got %d", len(lines))
	}
	if got := lines[0][0].Text; !strings.Contains(got, "pizza") || !strings.Contains(got, "weight 10") {
		t.Fatalf("unexpected member line %q", got)
	}
}

func TestAddDuplicateSetReported(t *testing.T) {
	h, m := newBotHarness(t)

	mustHandle(t, h, textEvent("c1", "u1", "m1", "/add lunch"))
	mustHandle(t, h, textEvent("c1", "u2", "m2", "/add lunch"))
	if len(m.texts) != 1 || !strings.Contains(m.texts[0], "already exists") {
		t.Fatalf("expected duplicate-set reply, got %v", m.texts)
	}
}

func TestLsWithoutSets(t *testing.T) {
	h, m := newBotHarness(t)

	mustHandle(t, h, textEvent("c1", "u1", "m1", "/ls"))
	if len(m.texts) != 1 || !strings.Contains(m.texts[0], "no sets yet") {
		t.Fatalf("expected empty-list reply, got %v", m.texts)
	}
}

func TestDelGuardsNonEmptySet(t *testing.T) {
	h, m := newBotHarness(t)

	mustHandle(t, h, textEvent("c1", "u1", "m1", "/add lunch pizza ramen"))
	mustHandle(t, h, textEvent("c1", "u1", "m2", "/del lunch"))
	if len(m.texts) != 1 || !strings.Contains(m.texts[0], "2 members") {
		t.Fatalf("expected non-empty guard reply, got %v", m.texts)
	}

	mustHandle(t, h, textEvent("c1", "u1", "m3", "/del lunch pizza"))
	mustHandle(t, h, textEvent("c1", "u1", "m4", "/del lunch ramen"))
	mustHandle(t, h, textEvent("c1", "u1", "m5", "/del lunch"))
	// m3/m4/m5 all get the done reaction plus the initial /add.
	if len(m.reactions) != 4 {
		t.Fatalf("expected 4 done reactions, got %v", m.reactions)
	}
}

func TestDelReportsRemovedWeight(t *testing.T) {
	h, m := newBotHarness(t)

	mustHandle(t, h, textEvent("c1", "u1", "m1", "/add lunch pizza"))
	mustHandle(t, h, textEvent("c1", "u1", "m2", "/del lunch pizza"))
	found := false
	for _, txt := range m.texts {
		if strings.Contains(txt, "removed pizza") && strings.Contains(txt, "weight 10") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected removal summary, got %v", m.texts)
	}
}

func TestRollRecordsAndPreattachesVotes(t *testing.T) {
	h, m := newBotHarness(t)

	mustHandle(t, h, textEvent("c1", "u1", "m1", "/add lunch pizza"))
	mustHandle(t, h, textEvent("c1", "u1", "m2", "/roll lunch"))

	if len(m.posts) != 1 || m.posts[0] != "m2:roll result" {
		t.Fatalf("expected roll reply to m2, got %v", m.posts)
	}
	replyID := fmt.Sprintf("om_reply_%d", m.replyPostN)
	wantUp := replyID + ":" + feishu.EmojiThumbsUp
	wantDown := replyID + ":" + feishu.EmojiThumbsDown
	joined := strings.Join(m.reactions, ",")
	if !strings.Contains(joined, wantUp) || !strings.Contains(joined, wantDown) {
		t.Fatalf("expected vote reactions on %s, got %v", replyID, m.reactions)
	}

	// The reply id must now resolve back to the drawn card.
	mustHandle(t, h, reactionEvent(replyID, "u2", feishu.EmojiThumbsUp, false))
	set, err := h.Sets.GetSet(context.Background(), "c1", "lunch")
	if err != nil {
		t.Fatalf("GetSet: %v", err)
	}
	card := set.GetCard("pizza")
	if card == nil || card.Weight != 11 {
		t.Fatalf("expected weight 11 after upvote, got %+v", card)
	}
}

func TestRollWithoutReplyIDSkipsRecord(t *testing.T) {
	h, m := newBotHarness(t)
	m.replyPostID = ""

	mustHandle(t, h, textEvent("c1", "u1", "m1", "/add lunch pizza"))
	mustHandle(t, h, textEvent("c1", "u1", "m2", "/roll lunch"))

	// Only the /add confirmation reaction; no vote affordances were sent.
	if len(m.reactions) != 1 {
		t.Fatalf("expected no vote reactions, got %v", m.reactions)
	}
}

func TestRollBareNameSingleSet(t *testing.T) {
	h, m := newBotHarness(t)

	mustHandle(t, h, textEvent("c1", "u1", "m1", "/add lunch pizza"))
	mustHandle(t, h, textEvent("c1", "u1", "m2", "/roll"))
	if len(m.posts) != 1 || m.posts[0] != "m2:roll result" {
		t.Fatalf("expected implicit roll, got %v", m.posts)
	}
}

func TestRollBareNameAmbiguous(t *testing.T) {
	h, m := newBotHarness(t)

	mustHandle(t, h, textEvent("c1", "u1", "m1", "/add lunch pizza"))
	mustHandle(t, h, textEvent("c1", "u1", "m2", "/add dinner sushi"))
	mustHandle(t, h, textEvent("c1", "u1", "m3", "/roll"))

	var hint string
	for _, txt := range m.texts {
		if strings.HasPrefix(txt, "m3:") {
			hint = txt
		}
	}
	if !strings.Contains(hint, "lunch") || !strings.Contains(hint, "dinner") {
		t.Fatalf("expected candidate list, got %q", hint)
	}
}

func TestRollEmptyAndZeroWeightSets(t *testing.T) {
	h, m := newBotHarness(t)

	mustHandle(t, h, textEvent("c1", "u1", "m1", "/add lunch"))
	mustHandle(t, h, textEvent("c1", "u1", "m2", "/roll lunch"))
	if len(m.texts) != 1 || !strings.Contains(m.texts[0], "empty") {
		t.Fatalf("expected empty-set reply, got %v", m.texts)
	}

	// Drive the single member's weight to zero through reactions: roll
	// once, then downvote ten times with distinct users.
	mustHandle(t, h, textEvent("c1", "u1", "m3", "/add lunch pizza"))
	mustHandle(t, h, textEvent("c1", "u1", "m4", "/roll lunch"))
	replyID := fmt.Sprintf("om_reply_%d", m.replyPostN)
	for i := 0; i < 10; i++ {
		user := fmt.Sprintf("u_down_%d", i)
		mustHandle(t, h, reactionEvent(replyID, user, feishu.EmojiThumbsDown, false))
	}
	mustHandle(t, h, textEvent("c1", "u1", "m5", "/roll lunch"))

	var zeroHint bool
	for _, txt := range m.texts {
		if strings.HasPrefix(txt, "m5:") && strings.Contains(txt, "weight 0") {
			zeroHint = true
		}
	}
	if !zeroHint {
		t.Fatalf("expected zero-weight reply, got %v", m.texts)
	}
}

func TestReactionUndoRestoresWeight(t *testing.T) {
	h, m := newBotHarness(t)
	ctx := context.Background()

	mustHandle(t, h, textEvent("c1", "u1", "m1", "/add lunch pizza"))
	mustHandle(t, h, textEvent("c1", "u1", "m2", "/roll lunch"))
	replyID := fmt.Sprintf("om_reply_%d", m.replyPostN)

	mustHandle(t, h, reactionEvent(replyID, "u2", feishu.EmojiThumbsUp, false))
	mustHandle(t, h, reactionEvent(replyID, "u2", feishu.EmojiThumbsUp, true))

	set, err := h.Sets.GetSet(ctx, "c1", "lunch")
	if err != nil {
		t.Fatalf("GetSet: %v", err)
	}
	card := set.GetCard("pizza")
	if card == nil || card.Weight != 10 {
		t.Fatalf("expected weight back at 10, got %+v", card)
	}
}

func TestReactionIgnoresOtherEmojiAndOperators(t *testing.T) {
	h, m := newBotHarness(t)
	ctx := context.Background()

	mustHandle(t, h, textEvent("c1", "u1", "m1", "/add lunch pizza"))
	mustHandle(t, h, textEvent("c1", "u1", "m2", "/roll lunch"))
	replyID := fmt.Sprintf("om_reply_%d", m.replyPostN)

	mustHandle(t, h, reactionEvent(replyID, "u2", "HEART", false))
	botReact := reactionEvent(replyID, "u2", feishu.EmojiThumbsUp, false)
	botReact.Event.OperatorType = "app"
	mustHandle(t, h, botReact)

	set, err := h.Sets.GetSet(ctx, "c1", "lunch")
	if err != nil {
		t.Fatalf("GetSet: %v", err)
	}
	card := set.GetCard("pizza")
	if card == nil || card.Weight != 10 {
		t.Fatalf("expected weight unchanged, got %+v", card)
	}
}

func TestGroupChatFiltering(t *testing.T) {
	h, m := newBotHarness(t)

	// Command with no mention is handled.
	ev := textEvent("c1", "u1", "m1", "/add lunch")
	ev.Event.Message.ChatType = "group"
	mustHandle(t, h, ev)
	if len(m.reactions) != 1 {
		t.Fatalf("expected group command handled, got %v", m.reactions)
	}

	// Free text without a mention is ignored.
	ev = textEvent("c1", "u1", "m2", "where should we eat")
	ev.Event.Message.ChatType = "group"
	mustHandle(t, h, ev)

	// Mentioning someone else is ignored even for commands.
	ev = textEvent("c1", "u1", "m3", "@_user_1 /ls")
	ev.Event.Message.ChatType = "group"
	ev.Event.Message.Mentions = []feishu.Mention{{Key: "@_user_1"}}
	ev.Event.Message.Mentions[0].ID.OpenID = "ou_other"
	mustHandle(t, h, ev)

	if len(m.texts)+len(m.posts) != 0 {
		t.Fatalf("expected ignored group messages, got texts=%v posts=%v", m.texts, m.posts)
	}

	// Mentioning the bot strips the placeholder and handles the rest.
	ev = textEvent("c1", "u1", "m4", "@_user_1 /ls")
	ev.Event.Message.ChatType = "group"
	ev.Event.Message.Mentions = []feishu.Mention{{Key: "@_user_1"}}
	ev.Event.Message.Mentions[0].ID.OpenID = "ou_bot"
	mustHandle(t, h, ev)
	if len(m.texts) != 1 || !strings.Contains(m.texts[0], "no sets yet") {
		t.Fatalf("expected /ls handled after mention strip, got %v", m.texts)
	}
}

func TestFreeTextTranslated(t *testing.T) {
	h, m := newBotHarness(t)
	h.Translator = &fakeTranslator{out: "/add lunch"}

	mustHandle(t, h, textEvent("c1", "u1", "m1", "please create a lunch set"))
	if len(m.reactions) != 1 || m.reactions[0] != "m1:"+feishu.EmojiDone {
		t.Fatalf("expected translated command applied, got %v", m.reactions)
	}
}

func TestFreeTextUnrecognizedGetsUsage(t *testing.T) {
	h, m := newBotHarness(t)
	h.Translator = &fakeTranslator{err: nlp.ErrUnrecognized}

	mustHandle(t, h, textEvent("c1", "u1", "m1", "what is the meaning of life"))
	if len(m.posts) != 1 || m.posts[0] != "m1:usage" {
		t.Fatalf("expected usage card, got %v", m.posts)
	}
}

func TestFreeTextWithoutTranslatorGetsUsage(t *testing.T) {
	h, m := newBotHarness(t)

	mustHandle(t, h, textEvent("c1", "u1", "m1", "hello"))
	if len(m.posts) != 1 || m.posts[0] != "m1:usage" {
		t.Fatalf("expected usage card, got %v", m.posts)
	}
}

func TestUnknownVerbGetsUsage(t *testing.T) {
	h, m := newBotHarness(t)

	mustHandle(t, h, textEvent("c1", "u1", "m1", "/rm lunch"))
	if len(m.posts) != 1 || m.posts[0] != "m1:usage" {
		t.Fatalf("expected usage card, got %v", m.posts)
	}
}

func TestSendFailuresDoNotFailHandling(t *testing.T) {
	h, m := newBotHarness(t)
	m.failReplies = true
	m.failReaction = true

	mustHandle(t, h, textEvent("c1", "u1", "m1", "/add lunch pizza"))

	// State still committed despite the messenger refusing everything.
	set, err := h.Sets.GetSet(context.Background(), "c1", "lunch")
	if err != nil {
		t.Fatalf("GetSet: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("expected committed set, got %d members", set.Len())
	}
}
