// Webhook HTTP handler.
//
// Feishu pushes every subscribed event to a single endpoint:
//   - POST /webhook/event
//
// The handler is transport-thin: it verifies the request, deduplicates the
// envelope by event id, and hands the decoded event to the bot. The platform
// retries deliveries that do not get a 2xx back, so processing failures are
// still acknowledged with 200 and a body of {"msg":"error"}; retrying would
// not help and only multiplies the reply traffic.
package handlers

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/feishu-roll-bot/internal/feishu"
	"github.com/tbourn/feishu-roll-bot/internal/http/middleware"
	"github.com/tbourn/feishu-roll-bot/internal/repo"
)

// EventProcessor consumes one decoded webhook event.
//
// Implementations must be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type EventProcessor interface {
	HandleEvent(ctx context.Context, ev *feishu.Event) error
}

// Handlers groups the HTTP endpoints of the bot. It depends on an abstract
// event processor to keep transport concerns separate from bot logic.
type Handlers struct {
	db  *gorm.DB
	bot EventProcessor

	// verifyToken is the subscription verification token; empty disables
	// the check (tests, local runs without a configured app).
	verifyToken string
	// eventTTL bounds how long a processed event id is remembered.
	eventTTL time.Duration
}

// New constructs a Handlers instance bound to the given dependencies.
func New(db *gorm.DB, bot EventProcessor, verifyToken string, eventTTL time.Duration) *Handlers {
	return &Handlers{db: db, bot: bot, verifyToken: verifyToken, eventTTL: eventTTL}
}

// Webhook handles POST /webhook/event.
//
// Three request kinds arrive here:
//  1. url_verification: echo the challenge back.
//  2. A redelivered event: acknowledged without reprocessing.
//  3. A first-seen event: dispatched to the bot.
func (h *Handlers) Webhook(c *gin.Context) {
	var ev feishu.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "malformed event payload")
		return
	}

	if h.verifyToken != "" && subtle.ConstantTimeCompare([]byte(ev.VerifyToken()), []byte(h.verifyToken)) != 1 {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "verification token mismatch")
		return
	}

	if ev.Challenge != "" {
		middleware.ObserveEvent(ev.Type(), middleware.EventResultOK)
		ok(c, http.StatusOK, gin.H{"challenge": ev.Challenge})
		return
	}

	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c)

	if id := ev.Header.EventID; id != "" {
		first, err := repo.MarkEventProcessed(ctx, h.db, id, h.eventTTL)
		if err != nil {
			lg.Error().Err(err).Str("event_id", id).Msg("event dedup failed")
			middleware.ObserveEvent(ev.Type(), middleware.EventResultError)
			ok(c, http.StatusOK, gin.H{"msg": "error"})
			return
		}
		if !first {
			lg.Debug().Str("event_id", id).Msg("redelivered event acknowledged")
			middleware.ObserveEvent(ev.Type(), middleware.EventResultDuplicate)
			ok(c, http.StatusOK, gin.H{"msg": "ok"})
			return
		}
	}

	if err := h.dispatch(lg.WithContext(ctx), &ev); err != nil {
		lg.Error().Err(err).
			Str("event_id", ev.Header.EventID).
			Str("event_type", ev.Type()).
			Msg("event processing failed")
		middleware.ObserveEvent(ev.Type(), middleware.EventResultError)
		ok(c, http.StatusOK, gin.H{"msg": "error"})
		return
	}
	middleware.ObserveEvent(ev.Type(), middleware.EventResultOK)
	ok(c, http.StatusOK, gin.H{"msg": "ok"})
}

// dispatch hands the event to the bot, converting a panic into an ordinary
// error. Feishu retries anything but a 2xx, so even a programming fault in
// event handling must come back as the acknowledgement envelope rather than
// bubbling up to the recovery middleware's 500.
func (h *Handlers) dispatch(ctx context.Context, ev *feishu.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
		}
	}()
	return h.bot.HandleEvent(ctx, ev)
}
