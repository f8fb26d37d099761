// Package telegram implements the delivery boundary over the Telegram Bot
// API. It is send-only: the engine never consumes updates, so no poller is
// started.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"remindd/internal/transport"
	logx "remindd/pkg/logx"
)

// Telegram rejects messages over 4096 runes; stay under with margin.
const textLimit = 4000

type Config struct {
	Token string
	// RatePerSec throttles outgoing sends across all chats. Telegram's
	// global bot limit is ~30 msg/s; default well below it.
	RatePerSec float64
	Burst      int
}

type Adapter struct {
	log     logx.Logger
	bot     *tele.Bot
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: 15 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{
		log:     log.With(logx.String("component", "telegram")),
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}, nil
}

var _ transport.Adapter = (*Adapter)(nil)

// Deliver sends one reminder to its owner's private chat. For Telegram the
// owner id doubles as the chat id of that private chat.
func (a *Adapter) Deliver(ctx context.Context, ownerID int64, text string) error {
	return a.SendText(ctx, transport.ChatTarget{ChatID: ownerID}, text)
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string) error {
	chat := &tele.Chat{ID: to.ChatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		opt := &tele.SendOptions{ThreadID: to.ThreadID}
		if err := a.sendChunk(ctx, chat, chunk, opt); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk sends one message, honoring a single flood-control backoff. The
// retry_after pause is slept through only while ctx allows.
func (a *Adapter) sendChunk(ctx context.Context, chat *tele.Chat, text string, opt *tele.SendOptions) error {
	_, err := a.bot.Send(chat, text, opt)
	var flood *tele.FloodError
	if !errors.As(err, &flood) {
		return err
	}

	wait := time.Duration(flood.RetryAfter) * time.Second
	a.log.Warn("flood control, backing off",
		logx.Int64("chat", chat.ID),
		logx.Duration("retry_after", wait))
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	_, err = a.bot.Send(chat, text, opt)
	return err
}

// Stop is a no-op beyond interface symmetry: with no poller there is nothing
// long-running to shut down.
func (a *Adapter) Stop(ctx context.Context) error {
	_ = ctx
	return nil
}

// splitText chunks long text, preferring newline boundaries so a multi-line
// reminder is not cut mid-sentence.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end >= len(rs) {
			out = append(out, string(rs[start:]))
			break
		}
		cut := end
		for i := end - 1; i > start+limit/3; i-- {
			if rs[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, string(rs[start:cut]))
		start = cut
	}
	return out
}
