// Package telegram is the chat front end. Every Telegram chat is one
// conversation session.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/mtzanidakis/relay/internal/config"
	"github.com/mtzanidakis/relay/internal/orchestrator"
	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Handler answers chat messages. *orchestrator.Orchestrator satisfies it.
type Handler interface {
	HandleMessage(ctx context.Context, sessionID, text string) (orchestrator.Reply, error)
	Reset(sessionID string) error
}

// api is the subset of the Bot API the bot uses.
type api interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error
}

const helpText = `Send a message to talk to the assistant.

/plan <request> runs a request as a workflow plan
/chat <message> talks to the agents even for multi-step requests
/reset forgets this conversation`

type Bot struct {
	bot     *telego.Bot
	api     api
	handler *th.BotHandler
	orch    Handler
	cfg     config.TelegramConfig
	cancel  context.CancelFunc

	mu    sync.RWMutex
	allow []int64
}

func NewBot(cfg config.TelegramConfig, orch Handler) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Bot{bot: bot, api: bot, orch: orch, cfg: cfg, allow: cfg.AllowFrom}, nil
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.handleMessage(ctx, message)
		return nil
	})

	go handler.Start()
	slog.Info("telegram bot started")

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
}

// SessionID names the conversation session of a chat.
func SessionID(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

// SetAllowFrom replaces the user allow list. An empty list admits everyone.
func (b *Bot) SetAllowFrom(ids []int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allow = slices.Clone(ids)
}

func (b *Bot) allowed(userID int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.allow) == 0 || slices.Contains(b.allow, userID)
}

func (b *Bot) handleMessage(ctx context.Context, msg telego.Message) {
	chatID := msg.Chat.ID
	if msg.From == nil {
		return
	}
	userID := msg.From.ID

	if !b.allowed(userID) {
		slog.Warn("unauthorized telegram user", "user_id", userID, "chat_id", chatID)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" {
		return
	}

	session := SessionID(chatID)
	text, done := b.command(ctx, chatID, session, text)
	if done {
		return
	}

	_ = b.api.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping))

	reply, err := b.orch.HandleMessage(ctx, session, text)
	if err != nil {
		slog.Error("handle message failed", "session", session, "error", err)
		if reply.Text == "" {
			reply.Text = "Sorry, I encountered an error processing your message."
		}
	}
	if err := b.SendMessage(ctx, chatID, reply.Text); err != nil {
		slog.Error("failed to send telegram message", "chat", chatID, "error", err)
	}
}

// command handles bot commands. It returns the text to route and whether
// the message was fully handled.
func (b *Bot) command(ctx context.Context, chatID int64, session, text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return text, false
	}
	name, rest, _ := strings.Cut(text, " ")
	name, _, _ = strings.Cut(name, "@") // /cmd@botname
	rest = strings.TrimSpace(rest)

	switch name {
	case "/start", "/help":
		_ = b.SendMessage(ctx, chatID, helpText)
		return "", true
	case "/reset":
		msg := "Conversation cleared."
		if err := b.orch.Reset(session); err != nil {
			slog.Error("reset session failed", "session", session, "error", err)
			msg = "Could not clear the conversation."
		}
		_ = b.SendMessage(ctx, chatID, msg)
		return "", true
	case "/plan", "/chat":
		if rest == "" {
			_ = b.SendMessage(ctx, chatID, "Usage: "+name+" <request>")
			return "", true
		}
		return "@" + strings.TrimPrefix(name, "/") + " " + rest, false
	}
	return text, false
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range chunkMessage(text, maxMessageLen) {
		if _, err := b.api.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}
