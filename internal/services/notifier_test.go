package services

import (
	"context"
	"errors"
	"testing"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantflow-ai/quantflow/internal/config"
	"github.com/quantflow-ai/quantflow/internal/ledger"
	"github.com/quantflow-ai/quantflow/internal/logging"
	"github.com/quantflow-ai/quantflow/internal/models"
)

type stubSender struct {
	sent []*bot.SendMessageParams
	err  error
}

func (s *stubSender) SendMessage(_ context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	s.sent = append(s.sent, params)
	return &tgmodels.Message{}, s.err
}

func TestNotifier_NotifyOutcome_Open(t *testing.T) {
	sender := &stubSender{}
	n := NewNotifierWithSender(sender, 42, logging.NewNopLogger())

	n.NotifyOutcome(context.Background(), &ledger.Outcome{
		Symbol: "SOL",
		Action: ledger.ActionOpen,
		Reason: ledger.ReasonBuySignal,
		Position: &models.Position{
			Size:       decimal.NewFromInt(5),
			EntryPrice: decimal.NewFromInt(200),
		},
	})

	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(42), sender.sent[0].ChatID)
	assert.Contains(t, sender.sent[0].Text, "Opened SOL")
	assert.Contains(t, sender.sent[0].Text, "200")
}

func TestNotifier_NotifyOutcome_Close(t *testing.T) {
	sender := &stubSender{}
	n := NewNotifierWithSender(sender, 42, logging.NewNopLogger())

	n.NotifyOutcome(context.Background(), &ledger.Outcome{
		Symbol:      "SOL",
		Action:      ledger.ActionClose,
		Reason:      ledger.ReasonStopLoss,
		Proceeds:    decimal.NewFromInt(975),
		RealizedPnl: decimal.NewFromInt(-25),
	})

	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Text, "Closed SOL")
	assert.Contains(t, sender.sent[0].Text, ledger.ReasonStopLoss)
	assert.Contains(t, sender.sent[0].Text, "-25")
}

func TestNotifier_HoldsAndNoopsAreSilent(t *testing.T) {
	sender := &stubSender{}
	n := NewNotifierWithSender(sender, 42, logging.NewNopLogger())

	n.NotifyOutcome(context.Background(), &ledger.Outcome{Symbol: "SOL", Action: ledger.ActionHold})
	n.NotifyOutcome(context.Background(), &ledger.Outcome{Symbol: "SOL", Action: ledger.ActionNone})
	n.NotifyOutcome(context.Background(), nil)

	assert.Empty(t, sender.sent)
}

func TestNotifier_SendFailureIsSwallowed(t *testing.T) {
	sender := &stubSender{err: errors.New("telegram down")}
	n := NewNotifierWithSender(sender, 42, logging.NewNopLogger())

	// Must not panic or propagate; delivery is best-effort.
	n.NotifyOutcome(context.Background(), &ledger.Outcome{
		Symbol:      "SOL",
		Action:      ledger.ActionClose,
		Proceeds:    decimal.NewFromInt(1100),
		RealizedPnl: decimal.NewFromInt(100),
	})
}

func TestNewNotifier_DisabledConfig(t *testing.T) {
	n := NewNotifier(config.TelegramConfig{Enabled: false}, logging.NewNopLogger())
	// Disabled notifier is inert but safe to call.
	n.NotifyOutcome(context.Background(), &ledger.Outcome{Symbol: "SOL", Action: ledger.ActionOpen})
}

func TestNewNotifier_InvalidChatID(t *testing.T) {
	n := NewNotifier(config.TelegramConfig{
		Enabled:  true,
		BotToken: "token",
		ChatID:   "not-a-number",
	}, logging.NewNopLogger())
	assert.Nil(t, n.bot)
}
