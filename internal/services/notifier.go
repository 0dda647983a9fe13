package services

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/quantflow-ai/quantflow/internal/config"
	"github.com/quantflow-ai/quantflow/internal/ledger"
	"github.com/quantflow-ai/quantflow/internal/logging"
)

// TelegramSender is the subset of the bot API the notifier needs.
type TelegramSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// Notifier announces position opens and closes over Telegram. Delivery is
// best-effort: a failed or disabled notification never affects a trade.
type Notifier struct {
	bot    TelegramSender
	chatID int64
	logger logging.Logger
}

// NewNotifier creates a trade notifier. Returns a disabled notifier when
// telegram is not configured.
func NewNotifier(cfg config.TelegramConfig, logger logging.Logger) *Notifier {
	n := &Notifier{logger: logger.WithComponent("notifier")}
	if !cfg.Enabled || cfg.BotToken == "" {
		return n
	}

	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		n.logger.WithError(err).Warn("Invalid telegram chat id, notifications disabled")
		return n
	}

	b, err := bot.New(cfg.BotToken)
	if err != nil {
		n.logger.WithError(err).Warn("Failed to initialize telegram bot, notifications disabled")
		return n
	}
	n.bot = b
	n.chatID = chatID
	return n
}

// NewNotifierWithSender creates a notifier on an existing sender.
func NewNotifierWithSender(sender TelegramSender, chatID int64, logger logging.Logger) *Notifier {
	return &Notifier{
		bot:    sender,
		chatID: chatID,
		logger: logger.WithComponent("notifier"),
	}
}

// NotifyOutcome reports a completed open or close. Holds and no-ops are not
// announced.
func (n *Notifier) NotifyOutcome(ctx context.Context, out *ledger.Outcome) {
	if n.bot == nil || out == nil {
		return
	}

	var text string
	switch out.Action {
	case ledger.ActionOpen:
		text = fmt.Sprintf("🟢 Opened %s\nSize: %s\nEntry: %s",
			out.Symbol, out.Position.Size.String(), out.Position.EntryPrice.String())
	case ledger.ActionClose:
		emoji := "🔴"
		if out.RealizedPnl.IsPositive() {
			emoji = "💰"
		}
		text = fmt.Sprintf("%s Closed %s (%s)\nProceeds: %s\nPnL: %s",
			emoji, out.Symbol, out.Reason, out.Proceeds.String(), out.RealizedPnl.String())
	default:
		return
	}

	if _, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   text,
	}); err != nil {
		n.logger.WithSymbol(out.Symbol).WithError(err).Warn("Failed to send trade notification")
	}
}
