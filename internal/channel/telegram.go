package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"wordchat/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

const telegramIntro = "Hello! I am wordchat.\n\n" +
	"Ask me anything, or use a trigger word: weather <city>, remind me to <text> in 10 minutes, " +
	"timer 5 minutes, mirror, visualize <words>, the <term>.\n\n" +
	"Type /help for conversation commands."

// Telegram implements domain.Channel for a Telegram bot.
type Telegram struct {
	token     string
	allowFrom []int64 // allowed user IDs, empty allows everyone
	parseMode string

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	bus.OnOutbound("telegram", t.deliver)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: StopReceivingUpdates runs when Start's context ends and
// panics if called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) Send(_ context.Context, chatID string, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	t.sendMessage(id, content, "text")
	return nil
}

// deliver maps an outbound bus message to Telegram API calls.
func (t *Telegram) deliver(msg domain.OutboundMessage) {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
		return
	}
	if msg.StreamEvent != nil {
		switch msg.StreamEvent.Type {
		case domain.StreamThinking:
			_, _ = t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
			return
		case domain.StreamDone:
			return
		}
	}

	text := plainText(msg.Content, msg.Format)
	switch {
	case msg.Title != "":
		text = msg.Title + "\n" + text
	case msg.Label != "":
		text = msg.Label + ":\n" + text
	}
	t.sendMessage(chatID, text, msg.Format)
	for _, url := range msg.Attachments {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(url))
		if _, err := t.bot.Send(photo); err != nil {
			t.logger.Warn("telegram photo send failed", "url", url, "err", err)
		}
	}
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user", "user_id", userID, "username", update.Message.From.UserName)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.", "text")
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}
	if update.Message.IsCommand() && update.Message.Command() == "start" {
		t.sendMessage(chatID, telegramIntro, "text")
		return
	}

	t.logger.Info("telegram message received", "user_id", userID, "chat_id", chatID, "text_len", len(text))

	// Other slash commands (/new, /list, ...) are handled by the agent.
	t.bus.Publish(domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(userID, 10),
		Content:   text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	})
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// splitMessage cuts text into chunks of at most maxLen characters, preferring
// line breaks. Cuts always fall on rune boundaries.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for text != "" {
		if utf8.RuneCountInString(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		limit := 0
		for n := 0; n < maxLen; n++ {
			_, size := utf8.DecodeRuneInString(text[limit:])
			limit += size
		}
		cutAt := strings.LastIndex(text[:limit], "\n")
		if cutAt <= 0 || cutAt < limit/2 {
			cutAt = limit
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

func (t *Telegram) sendMessage(chatID int64, text, format string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk, format == "markdown")
	}
}

// sendChunk sends one chunk. Markdown is tried first and dropped on a parse
// error; rate limits and transient errors are retried with backoff.
func (t *Telegram) sendChunk(chatID int64, text string, markdown bool) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if markdown && attempt == 0 {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}
		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", retryAfter, "attempt", attempt+1)
			time.Sleep(retryAfter)
			continue
		}

		if msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
			continue
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}
		t.logger.Error("telegram send failed after retries", "err", err, "attempts", telegramMaxSendRetries+1)
	}
}
