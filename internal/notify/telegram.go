package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantbelt/orbgate/internal/config"
)

// Notifier pushes trade events to a Telegram chat. A disabled or
// misconfigured notifier degrades to a no-op; notification failures
// never affect trading.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func New(cfg config.TelegramConfig) *Notifier {
	if !cfg.Enabled || cfg.Token == "" || cfg.ChatID == 0 {
		return &Notifier{}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Telegram init failed, notifications disabled")
		return &Notifier{}
	}

	log.Info().Str("bot", bot.Self.UserName).Msg("💬 Telegram notifications enabled")
	return &Notifier{bot: bot, chatID: cfg.ChatID}
}

func (n *Notifier) send(text string) {
	if n == nil || n.bot == nil {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Telegram send failed")
	}
}

// Entry announces a filled entry.
func (n *Notifier) Entry(symbol string, size int64, entryPrice decimal.Decimal) {
	n.send(fmt.Sprintf("🟢 ENTRY %s\nsize %d @ %s", symbol, size, entryPrice.StringFixed(0)))
}

// Exit announces a completed exit cycle.
func (n *Notifier) Exit(symbol, reason string, qty int64, pnl decimal.Decimal) {
	emoji := "🔵"
	if pnl.IsNegative() {
		emoji = "🔴"
	}
	n.send(fmt.Sprintf("%s EXIT %s (%s)\nqty %d, P&L %s", emoji, symbol, reason, qty, pnl.StringFixed(0)))
}

// KillSwitch announces an operator liquidation.
func (n *Notifier) KillSwitch(symbols []string) {
	n.send(fmt.Sprintf("🚨 KILL SWITCH: liquidating %d position(s) %v", len(symbols), symbols))
}

// EngineState announces lifecycle transitions.
func (n *Notifier) EngineState(state string) {
	n.send("⚙️ Engine state: " + state)
}
