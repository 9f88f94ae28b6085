package infra

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

const (
	// DefaultPollTimeout is the long-poll timeout in seconds.
	DefaultPollTimeout = 30

	botRetryInterval = time.Minute
)

// TelegramConfig holds the bot credentials and transport settings.
type TelegramConfig struct {
	Token       string
	ChatID      string
	APIEndpoint string // format string with token and method; tgbotapi.APIEndpoint if empty
	PollTimeout int    // seconds
	CurlPath    string // fallback client; "curl" if empty
}

// Configured reports whether both credentials are present.
func (c TelegramConfig) Configured() bool {
	return c.Token != "" && c.ChatID != ""
}

// Telegram implements domain.Notifier and domain.CommandSource on the
// Telegram Bot API. The bot client is created lazily; while it cannot be
// created, sends go through the curl fallback and polls fail.
type Telegram struct {
	cfg    TelegramConfig
	client *http.Client
	curl   *CurlSender
	logger *zap.Logger

	mu       sync.Mutex
	bot      *tgbotapi.BotAPI
	botErr   error
	failedAt time.Time

	unconfigured sync.Once
}

// NewTelegram creates the transport. No network call is made until the
// first Send or Poll.
func NewTelegram(cfg TelegramConfig, logger *zap.Logger) *Telegram {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	return &Telegram{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.PollTimeout+15) * time.Second},
		curl:   NewCurlSender(cfg, logger),
		logger: logger,
	}
}

// ChatID returns the configured chat.
func (t *Telegram) ChatID() string {
	return t.cfg.ChatID
}

// botAPI returns the bot client, creating it on first use. Creation is
// retried at most once per botRetryInterval; failures wrap
// domain.ErrTransportUnavailable.
func (t *Telegram) botAPI() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bot != nil {
		return t.bot, nil
	}
	if t.botErr != nil && time.Since(t.failedAt) < botRetryInterval {
		return nil, t.botErr
	}

	bot, err := tgbotapi.NewBotAPIWithClient(t.cfg.Token, t.cfg.APIEndpoint, t.client)
	if err != nil {
		t.botErr = fmt.Errorf("%w: failed to create bot client: %w", domain.ErrTransportUnavailable, err)
		t.failedAt = time.Now()
		t.logger.Warn("telegram client unavailable", zap.Error(err))
		return nil, t.botErr
	}

	t.logger.Info("telegram client ready", zap.String("bot", bot.Self.UserName))
	t.bot = bot
	t.botErr = nil
	return bot, nil
}

// Send delivers msg once. Returns false on any failure.
func (t *Telegram) Send(ctx context.Context, msg domain.Message) bool {
	if !t.cfg.Configured() {
		t.unconfigured.Do(func() {
			t.logger.Warn("telegram credentials missing, notifications disabled",
				zap.Error(domain.ErrNotConfigured))
		})
		return false
	}

	bot, err := t.botAPI()
	if err != nil {
		return t.curl.Send(ctx, msg)
	}

	out, err := t.messageConfig(msg)
	if err != nil {
		t.logger.Error("invalid chat id", zap.String("chat_id", t.cfg.ChatID), zap.Error(err))
		return false
	}
	if _, err := bot.Send(out); err != nil {
		t.logger.Warn("telegram send failed", zap.Error(err))
		return false
	}
	return true
}

func (t *Telegram) messageConfig(msg domain.Message) (tgbotapi.MessageConfig, error) {
	var out tgbotapi.MessageConfig
	if strings.HasPrefix(t.cfg.ChatID, "@") {
		out = tgbotapi.NewMessageToChannel(t.cfg.ChatID, msg.Text)
	} else {
		id, err := strconv.ParseInt(t.cfg.ChatID, 10, 64)
		if err != nil {
			return out, err
		}
		out = tgbotapi.NewMessage(id, msg.Text)
	}
	out.ParseMode = msg.ParseMode
	out.DisableWebPagePreview = true
	if len(msg.Controls) > 0 {
		out.ReplyMarkup = inlineKeyboard(msg.Controls)
	}
	return out, nil
}

func inlineKeyboard(controls [][]domain.Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(controls))
	for _, row := range controls {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

type pollResult struct {
	updates []tgbotapi.Update
	err     error
}

// Poll long-polls for updates with ID >= offset. Cancelling ctx returns
// immediately; the in-flight request is abandoned.
func (t *Telegram) Poll(ctx context.Context, offset int64) ([]domain.Update, error) {
	if !t.cfg.Configured() {
		return nil, domain.ErrNotConfigured
	}
	bot, err := t.botAPI()
	if err != nil {
		return nil, err
	}

	u := tgbotapi.NewUpdate(int(offset))
	u.Timeout = t.cfg.PollTimeout
	u.AllowedUpdates = []string{"message", "callback_query"}

	done := make(chan pollResult, 1)
	go func() {
		updates, err := bot.GetUpdates(u)
		done <- pollResult{updates: updates, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("failed to get updates: %w", res.err)
		}
		return convertUpdates(res.updates), nil
	}
}

func convertUpdates(in []tgbotapi.Update) []domain.Update {
	out := make([]domain.Update, 0, len(in))
	for _, u := range in {
		upd := domain.Update{ID: int64(u.UpdateID)}
		switch {
		case u.CallbackQuery != nil:
			upd.CallbackID = u.CallbackQuery.ID
			upd.Text = u.CallbackQuery.Data
			if m := u.CallbackQuery.Message; m != nil && m.Chat != nil {
				upd.ChatID = strconv.FormatInt(m.Chat.ID, 10)
			}
		case u.Message != nil:
			upd.Text = u.Message.Text
			if u.Message.Chat != nil {
				upd.ChatID = strconv.FormatInt(u.Message.Chat.ID, 10)
			}
		}
		out = append(out, upd)
	}
	return out
}

// Acknowledge answers a button callback so the client stops its spinner.
func (t *Telegram) Acknowledge(ctx context.Context, callbackID string) error {
	bot, err := t.botAPI()
	if err != nil {
		return err
	}
	if _, err := bot.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}

// Ensure Telegram implements the transport interfaces.
var (
	_ domain.Notifier      = (*Telegram)(nil)
	_ domain.CommandSource = (*Telegram)(nil)
)
