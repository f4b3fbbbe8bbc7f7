package sender

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"blastd/pkg/logx"
)

// TelegramConfig configures the Bot API sender.
type TelegramConfig struct {
	// Timeout bounds each API call.
	Timeout time.Duration
	// Offline skips the getMe probe when constructing bots. Used in tests.
	Offline bool
}

// Telegram delivers through the Telegram Bot API. The session string is the
// bot token; bots are constructed lazily and cached per token.
type Telegram struct {
	cfg  TelegramConfig
	log  logx.Logger
	http *http.Client

	mu   sync.Mutex
	bots map[string]*tele.Bot
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) *Telegram {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.Timeout = timeout
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{
		cfg:  cfg,
		log:  log.With(logx.String("component", "sender.telegram")),
		http: &http.Client{Timeout: timeout},
		bots: make(map[string]*tele.Bot),
	}
}

// recipient lets us address chats by "@username" or a raw numeric id
// without resolving them first.
type recipient string

func (r recipient) Recipient() string { return string(r) }

func (t *Telegram) Send(ctx context.Context, req Request) error {
	b, err := t.bot(req.SessionString)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	to := recipient(strings.TrimSpace(req.Channel))
	switch req.Message.Type {
	case TypeText, "":
		_, err = b.Send(to, req.Message.Body)
	case TypePhoto:
		_, err = b.Send(to, &tele.Photo{
			File:    tele.FromDisk(req.Message.Media),
			Caption: req.Message.Body,
		})
	case TypeVideo:
		_, err = b.Send(to, &tele.Video{
			File:    tele.FromDisk(req.Message.Media),
			Caption: req.Message.Body,
		})
	default:
		return ErrUnsupportedType
	}
	if err != nil {
		t.log.Debug("send failed",
			logx.String("channel", req.Channel),
			logx.String("type", req.Message.Type),
			logx.Err(err),
		)
	}
	return err
}

func (t *Telegram) bot(token string) (*tele.Bot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.bots[token]; ok {
		return b, nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: t.cfg.Offline,
		Client:  t.http,
	})
	if err != nil {
		return nil, err
	}
	t.bots[token] = b
	return b, nil
}
