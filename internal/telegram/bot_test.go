package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/mtzanidakis/relay/internal/config"
	"github.com/mtzanidakis/relay/internal/orchestrator"
	"github.com/mymmrac/telego"
)

func TestChunkMessage(t *testing.T) {
	// Short message
	chunks := chunkMessage("hello", maxMessageLen)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}

	// Exact limit
	chunks = chunkMessage(strings.Repeat("a", 4096), maxMessageLen)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk for exact limit, got %d", len(chunks))
	}

	// Over limit
	chunks = chunkMessage(strings.Repeat("a", 8193), maxMessageLen)
	if len(chunks) != 3 || len(chunks[2]) != 1 {
		t.Errorf("expected 3 chunks, got %d", len(chunks))
	}

	// Split at newline
	msg := []byte(strings.Repeat("a", 5000))
	msg[3000] = '\n'
	chunks = chunkMessage(string(msg), maxMessageLen)
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks with newline split, got %d", len(chunks))
	}
	if len(chunks[0]) != 3001 { // Up to and including the newline
		t.Errorf("expected first chunk length 3001, got %d", len(chunks[0]))
	}
}

func TestChunkMessageKeepsRunes(t *testing.T) {
	text := strings.Repeat("ä", 3000) // 6000 bytes
	chunks := chunkMessage(text, maxMessageLen)
	if strings.Join(chunks, "") != text {
		t.Fatal("chunks do not reassemble the message")
	}
	for i, c := range chunks {
		if len(c) > maxMessageLen || !utf8.ValidString(c) {
			t.Errorf("chunk %d invalid: %d bytes", i, len(c))
		}
	}
}

type fakeAPI struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeAPI) SendMessage(_ context.Context, p *telego.SendMessageParams) (*telego.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p.Text)
	return &telego.Message{}, nil
}

func (f *fakeAPI) SendChatAction(context.Context, *telego.SendChatActionParams) error {
	return nil
}

type fakeHandler struct {
	sessions []string
	texts    []string
	resets   []string
	reply    string
}

func (h *fakeHandler) HandleMessage(_ context.Context, sessionID, text string) (orchestrator.Reply, error) {
	h.sessions = append(h.sessions, sessionID)
	h.texts = append(h.texts, text)
	return orchestrator.Reply{Text: h.reply}, nil
}

func (h *fakeHandler) Reset(sessionID string) error {
	h.resets = append(h.resets, sessionID)
	return nil
}

func newTestBot(allow ...int64) (*Bot, *fakeAPI, *fakeHandler) {
	a := &fakeAPI{}
	h := &fakeHandler{reply: strings.Repeat("x", 5000)}
	return &Bot{api: a, orch: h, cfg: config.TelegramConfig{AllowFrom: allow}, allow: allow}, a, h
}

func message(chatID, userID int64, text string) telego.Message {
	return telego.Message{
		Chat: telego.Chat{ID: chatID},
		From: &telego.User{ID: userID},
		Text: text,
	}
}

func TestHandleMessageRoutesChatSession(t *testing.T) {
	b, a, h := newTestBot()
	b.handleMessage(context.Background(), message(42, 7, "hello"))

	if len(h.sessions) != 1 || h.sessions[0] != "tg:42" {
		t.Fatalf("expected session tg:42, got %v", h.sessions)
	}
	if len(a.sent) != 2 {
		t.Errorf("expected reply in 2 chunks, got %d", len(a.sent))
	}
}

func TestHandleMessageAllowList(t *testing.T) {
	b, a, h := newTestBot(1, 2)
	b.handleMessage(context.Background(), message(42, 7, "hello"))
	if len(h.texts) != 0 || len(a.sent) != 0 {
		t.Error("expected message from unlisted user to be ignored")
	}
	b.handleMessage(context.Background(), message(42, 2, "hello"))
	if len(h.texts) != 1 {
		t.Error("expected message from listed user to be handled")
	}

	b.SetAllowFrom([]int64{7})
	b.handleMessage(context.Background(), message(42, 7, "again"))
	b.handleMessage(context.Background(), message(42, 2, "again"))
	if len(h.texts) != 2 || h.texts[1] != "again" {
		t.Errorf("expected only user 7 after reload, got %v", h.texts)
	}
}

func TestCommands(t *testing.T) {
	b, a, h := newTestBot()
	ctx := context.Background()

	b.handleMessage(ctx, message(5, 1, "/plan add part PART_001 to RO_001"))
	b.handleMessage(ctx, message(5, 1, "/chat@relay_bot hi there"))
	if len(h.texts) != 2 || h.texts[0] != "@plan add part PART_001 to RO_001" || h.texts[1] != "@chat hi there" {
		t.Errorf("unexpected routed texts %q", h.texts)
	}

	a.sent = nil
	b.handleMessage(ctx, message(5, 1, "/reset"))
	if len(h.resets) != 1 || h.resets[0] != "tg:5" {
		t.Errorf("expected reset of tg:5, got %v", h.resets)
	}
	if len(a.sent) != 1 || a.sent[0] != "Conversation cleared." {
		t.Errorf("unexpected reset reply %v", a.sent)
	}

	a.sent = nil
	b.handleMessage(ctx, message(5, 1, "/plan"))
	if len(a.sent) != 1 || !strings.HasPrefix(a.sent[0], "Usage:") {
		t.Errorf("expected usage reply, got %v", a.sent)
	}
	if len(h.texts) != 2 {
		t.Error("expected empty /plan not to be routed")
	}
}
