// Package telegram implements transport.Sender on top of telebot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"livewatch/internal/transport"
	logx "livewatch/pkg/logx"
)

const (
	telegramTextLimit = 4000
	defaultTimeout    = 10 * time.Second
)

type Config struct {
	Token string
	// APIURL overrides https://api.telegram.org (tests).
	APIURL  string
	Timeout time.Duration
}

// Adapter is send-only: livewatch never reads updates.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

var _ transport.Sender = (*Adapter)(nil)

// New validates the token with getMe.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	b, err := tele.NewBot(tele.Settings{
		URL:    strings.TrimRight(cfg.APIURL, "/"),
		Token:  cfg.Token,
		Client: &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	if b.Me != nil {
		log.Info("telegram session ready", logx.String("bot", b.Me.Username))
	}
	return a, nil
}

// LocateChat checks that the bot can see the target chat (getChat).
func (a *Adapter) LocateChat(ctx context.Context, to transport.ChatTarget) (transport.Chat, error) {
	if err := ctx.Err(); err != nil {
		return transport.Chat{}, err
	}
	if to.ChatID == 0 {
		return transport.Chat{}, transport.ErrChatNotFound
	}
	c, err := a.bot.ChatByID(to.ChatID)
	if err != nil {
		if errors.Is(err, tele.ErrChatNotFound) {
			return transport.Chat{}, fmt.Errorf("%w: %d", transport.ErrChatNotFound, to.ChatID)
		}
		return transport.Chat{}, err
	}
	title := c.Title
	if title == "" {
		title = strings.TrimSpace(c.FirstName + " " + c.LastName)
	}
	return transport.Chat{ID: c.ID, Title: title, Type: string(c.Type)}, nil
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}

	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first transport.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.send(ctx, chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

type sendResult struct {
	msg *tele.Message
	err error
}

// send bounds a single telebot call by ctx. telebot has no context
// plumbing, so an abandoned request runs on until the client timeout.
func (a *Adapter) send(ctx context.Context, chat *tele.Chat, text string, opts *tele.SendOptions) (*tele.Message, error) {
	done := make(chan sendResult, 1)
	go func() {
		msg, err := a.bot.Send(chat, text, opts)
		done <- sendResult{msg: msg, err: err}
	}()
	select {
	case r := <-done:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// splitTelegramText splits long messages into chunks Telegram accepts.
// It prefers newline boundaries and, for HTML, avoids cutting inside a tag.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, transport.ParseModeHTML) && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
