package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

const curlTimeout = 15 * time.Second

// CurlSender posts sendMessage through an external curl process. It is the
// fallback when the bot client cannot be created.
type CurlSender struct {
	binary   string
	endpoint string
	token    string
	chatID   string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewCurlSender creates a fallback sender from the bot configuration.
func NewCurlSender(cfg TelegramConfig, logger *zap.Logger) *CurlSender {
	binary := cfg.CurlPath
	if binary == "" {
		binary = "curl"
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	return &CurlSender{
		binary:   binary,
		endpoint: endpoint,
		token:    cfg.Token,
		chatID:   cfg.ChatID,
		timeout:  curlTimeout,
		logger:   logger,
	}
}

// Args builds the curl argument list for msg.
func (c *CurlSender) Args(msg domain.Message) ([]string, error) {
	args := []string{
		"-s", "-S",
		"-m", fmt.Sprintf("%d", int(c.timeout.Seconds())),
		"-X", "POST",
		fmt.Sprintf(c.endpoint, c.token, "sendMessage"),
		"--data-urlencode", "chat_id=" + c.chatID,
		"--data-urlencode", "text=" + msg.Text,
		"-d", "disable_web_page_preview=true",
	}
	if msg.ParseMode != "" {
		args = append(args, "-d", "parse_mode="+msg.ParseMode)
	}
	if len(msg.Controls) > 0 {
		markup, err := json.Marshal(inlineKeyboard(msg.Controls))
		if err != nil {
			return nil, fmt.Errorf("failed to encode reply markup: %w", err)
		}
		args = append(args, "--data-urlencode", "reply_markup="+string(markup))
	}
	return args, nil
}

// Send runs curl once and reports whether the API answered ok.
func (c *CurlSender) Send(ctx context.Context, msg domain.Message) bool {
	args, err := c.Args(msg)
	if err != nil {
		c.logger.Error("curl fallback failed", zap.Error(err))
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout+time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		c.logger.Warn("curl fallback failed",
			zap.Error(err),
			zap.String("stderr", strings.TrimSpace(stderr.String())))
		return false
	}

	var resp tgbotapi.APIResponse
	if err := json.Unmarshal(out, &resp); err != nil || !resp.Ok {
		c.logger.Warn("curl fallback rejected",
			zap.String("description", resp.Description),
			zap.Error(err))
		return false
	}
	return true
}

// Ensure CurlSender implements domain.Notifier.
var _ domain.Notifier = (*CurlSender)(nil)
