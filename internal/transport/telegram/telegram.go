package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"newsfan/internal/transport"
	"newsfan/pkg/logx"
)

type Config struct {
	Token string
	// Offline disables the initial getMe probe so the adapter can be
	// constructed in tests and air-gapped environments.
	Offline bool
}

// Sender is the Telegram direct-message channel.
type Sender struct {
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	settings := tele.Settings{Token: cfg.Token, Offline: cfg.Offline}
	b, err := tele.NewBot(settings)
	if err != nil {
		return nil, err
	}
	return &Sender{log: log, bot: b}, nil
}

const telegramTextLimit = 4000

func (s *Sender) SendDirect(ctx context.Context, to transport.DirectTarget, text string, opt *transport.SendOptions) error {
	if opt == nil {
		opt = &transport.SendOptions{}
	}

	chunks := splitText(text, telegramTextLimit)
	chat := &tele.Chat{ID: to.ChatID}

	start := time.Now()
	for _, chunk := range chunks {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		}
		if _, err := s.bot.Send(chat, chunk, sendOpt); err != nil {
			return err
		}
	}
	s.log.Trace("direct message sent",
		logx.Int64("chat_id", to.ChatID),
		logx.Int("chunks", len(chunks)),
		logx.Duration("took", time.Since(start)))
	return nil
}

// splitText splits long messages into chunks Telegram accepts, preferring
// newline boundaries so rendered events don't tear mid-line.
func splitText(s string, limit int) []string {
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
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			cut := -1
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					cut = i + 1
					break
				}
			}
			if cut != -1 {
				end = cut
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
