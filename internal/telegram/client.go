// Package telegram provides a client for sending notifications via Telegram Bot API
// and for steering the agent with bot commands.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/neurotrader/internal/agent"
	"github.com/rewired-gh/neurotrader/internal/ledger"
	"github.com/rewired-gh/neurotrader/internal/logger"
	"github.com/rewired-gh/neurotrader/internal/models"
	"github.com/rewired-gh/neurotrader/internal/strategy"
)

const commandTimeout = 10 * time.Second

// Controller is the part of the agent reachable from chat commands.
type Controller interface {
	Status(ctx context.Context) (agent.Status, error)
	Report(ctx context.Context) (ledger.Report, error)
	Force(ctx context.Context, side models.Side, reason string) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Reset(ctx context.Context) error
	SetBaseBet(ctx context.Context, bet float64) error
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	controller     Controller
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and routes
// bot commands to ctrl. Only the configured chat is served.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, ctrl Controller) {
	c.controller = ctrl
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(ctx, update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat.ID != c.chatID {
		logger.Warn("Ignoring /%s from chat %d", msg.Command(), msg.Chat.ID)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	reply := tgbotapi.NewMessage(msg.Chat.ID, c.respond(ctx, msg.Command(), msg.CommandArguments()))
	c.bot.Send(reply) //nolint:errcheck
}

// respond executes one command and returns the plain-text reply.
func (c *Client) respond(ctx context.Context, command, args string) string {
	if command == "ping" {
		return "Pong"
	}
	if c.controller == nil {
		return "Agent is not available"
	}

	switch command {
	case "status":
		s, err := c.controller.Status(ctx)
		if err != nil {
			return "Status unavailable: " + err.Error()
		}
		return formatStatus(s)
	case "report":
		r, err := c.controller.Report(ctx)
		if err != nil {
			return "Report unavailable: " + err.Error()
		}
		return r.String()
	case "buy", "sell":
		side := models.Buy
		if command == "sell" {
			side = models.Sell
		}
		reason := strings.TrimSpace(args)
		if reason == "" {
			reason = "manual " + strings.ToLower(string(side)) + " via Telegram"
		}
		if err := c.controller.Force(ctx, side, reason); err != nil {
			return "Force failed: " + err.Error()
		}
		return fmt.Sprintf("Next decision will be %s", side)
	case "pause":
		if err := c.controller.Pause(ctx); err != nil {
			return "Pause failed: " + err.Error()
		}
		return "Paused, pending evaluations cancelled"
	case "resume":
		if err := c.controller.Resume(ctx); err != nil {
			return "Resume failed: " + err.Error()
		}
		return "Resumed"
	case "reset":
		if strings.TrimSpace(args) != "confirm" {
			return "This forgets balance, experience and model weights. Send /reset confirm to proceed"
		}
		if err := c.controller.Reset(ctx); err != nil {
			return "Reset failed: " + err.Error()
		}
		return "Agent reset"
	case "bet":
		bet, err := strconv.ParseFloat(strings.TrimSpace(args), 64)
		if err != nil {
			return "Usage: /bet <amount>"
		}
		if err := c.controller.SetBaseBet(ctx, bet); err != nil {
			return "Bet not changed: " + err.Error()
		}
		return fmt.Sprintf("Base bet set to %.2f", bet)
	default:
		return "Commands: /status /report /buy /sell /pause /resume /bet <amount> /reset confirm /ping"
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a trading loop error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Trading error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Trading recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendDecision announces a new decision.
func (c *Client) SendDecision(d models.Decision, explanation string) error {
	return c.sendMarkdownV2(formatDecision(d, explanation))
}

// SendResult announces a settled decision.
func (c *Client) SendResult(d models.Decision, balance float64) error {
	return c.sendMarkdownV2(formatResult(d, balance))
}

func formatDecision(d models.Decision, explanation string) string {
	emoji := "📈"
	if d.Side == models.Sell {
		emoji = "📉"
	}
	title := "Decision"
	if d.Forced {
		title = "Forced decision"
	}

	message := fmt.Sprintf("%s *%s: %s* %s @ %s\n", emoji, title, d.Side,
		escapeMarkdownV2(d.Symbol), escapeMarkdownV2(fmt.Sprintf("%.2f", d.Price)))
	message += fmt.Sprintf("Confidence: %s \\(%s\\)\n",
		escapeMarkdownV2(fmt.Sprintf("%.1f%%", d.Probability*100)),
		strategy.ConfidenceLevel(d.Probability))
	message += fmt.Sprintf("Bet: %s\n", escapeMarkdownV2(fmt.Sprintf("%.2f", d.AdjustedBetSize)))
	if explanation != "" {
		message += fmt.Sprintf("_%s_\n", escapeMarkdownV2(explanation))
	}
	return message
}

func formatResult(d models.Decision, balance float64) string {
	if d.Result == nil {
		return fmt.Sprintf("⏳ *%s* %s is still pending\n", d.Side, escapeMarkdownV2(d.Symbol))
	}
	r := d.Result
	mark := "❌ *WRONG*"
	if r.IsCorrect {
		mark = "✅ *CORRECT*"
	}
	message := fmt.Sprintf("%s %s %s\n", mark, d.Side, escapeMarkdownV2(d.Symbol))
	message += fmt.Sprintf("%s → %s \\(%s\\)\n",
		escapeMarkdownV2(fmt.Sprintf("%.2f", d.Price)),
		escapeMarkdownV2(fmt.Sprintf("%.2f", r.ActualPrice)),
		escapeMarkdownV2(fmt.Sprintf("%+.3f%%", r.PriceChangePercent)))
	message += fmt.Sprintf("Profit: %s, balance: %s\n",
		escapeMarkdownV2(fmt.Sprintf("%+.2f", r.Profit)),
		escapeMarkdownV2(fmt.Sprintf("%.2f", balance)))
	return message
}

func formatStatus(s agent.Status) string {
	state := "running"
	if s.Paused {
		state = "paused"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%s)\n", s.Symbol, s.Interval, state)
	fmt.Fprintf(&b, "Price: %.2f, candles: %d\n", s.LastPrice, s.Candles)
	fmt.Fprintf(&b, "Market: %s\n", s.Context.Key())
	fmt.Fprintf(&b, "Balance: %.2f (%+.2f)\n", s.Balance, s.Profit)
	fmt.Fprintf(&b, "Accuracy: %.1f%% over %d evaluations\n", s.Accuracy, s.Evaluations)
	fmt.Fprintf(&b, "Pending: %d, base bet: %.2f\n", s.Pending, s.BaseBet)
	fmt.Fprintf(&b, "Stage: %s, understanding %d%%\n", s.Learning.Stage, s.Learning.Understanding)
	fmt.Fprintf(&b, "Patterns: %d, memory: %d bytes\n", s.Patterns, s.MemoryUsage)
	if s.ForcedSide != "" {
		fmt.Fprintf(&b, "Next decision forced: %s\n", s.ForcedSide)
	}
	if s.Explanation != "" {
		fmt.Fprintf(&b, "Last: %s\n", s.Explanation)
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
