// Package notify delivers operational messages about job runs.
package notify

import (
	"context"
	"fmt"
	"strings"

	"affiliate-pipeline/internal/service"
	"affiliate-pipeline/internal/util"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramNotifier posts failed and partially failed job runs to an ops chat
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegramNotifier connects the bot. An empty endpoint uses the public Bot API.
func NewTelegramNotifier(token string, chatID int64, endpoint string) (*TelegramNotifier, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}

	logger := util.GetLogger()
	logger.Info("Telegram ops notifier ready", zap.String("bot", bot.Self.UserName))

	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		logger: logger,
	}, nil
}

// NotifyJobRun sends a summary of the run
func (n *TelegramNotifier) NotifyJobRun(ctx context.Context, result *service.JobResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, formatJobRun(result))
	msg.DisableWebPagePreview = true

	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}

	n.logger.Debug("Ops notification sent",
		zap.String("job", result.JobName),
		zap.String("status", result.Status))
	return nil
}

func formatJobRun(result *service.JobResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %s\n", result.Status, result.JobName)
	fmt.Fprintf(&b, "%s\n", result.Message)
	fmt.Fprintf(&b, "processed=%d updated=%d notifications=%d errors=%d duration=%dms",
		result.Processed, result.Updated, result.NotificationsSent, result.Errors, result.DurationMS)

	for _, detail := range result.ErrorDetails {
		fmt.Fprintf(&b, "\n- %s", detail)
	}
	if hidden := result.Errors - len(result.ErrorDetails); hidden > 0 {
		fmt.Fprintf(&b, "\n(+%d more)", hidden)
	}

	return b.String()
}
