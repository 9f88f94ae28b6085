package fixtures

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SentMessage is one sendMessage call received by FakeBotAPI.
type SentMessage struct {
	ChatID      string
	Text        string
	ParseMode   string
	ReplyMarkup string
}

// FakeBotAPI is an in-process Telegram Bot API. Tests queue operator
// input with Type and Press and inspect what the bot sent.
type FakeBotAPI struct {
	Server *httptest.Server
	ChatID int64

	mu        sync.Mutex
	nextID    int
	updates   []map[string]any
	sent      []SentMessage
	callbacks []string
	offsets   []int
}

// NewFakeBotAPI starts a server talking to a single chat.
func NewFakeBotAPI(chatID int64) *FakeBotAPI {
	f := &FakeBotAPI{ChatID: chatID, nextID: 100}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	return f
}

// Endpoint returns the API endpoint format string for the bot client.
func (f *FakeBotAPI) Endpoint() string {
	return f.Server.URL + "/bot%s/%s"
}

// Close shuts the server down.
func (f *FakeBotAPI) Close() {
	f.Server.Close()
}

// Type queues a text message from chatID.
func (f *FakeBotAPI) Type(chatID int64, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.updates = append(f.updates, map[string]any{
		"update_id": f.nextID,
		"message": map[string]any{
			"message_id": f.nextID,
			"date":       time.Now().Unix(),
			"chat":       map[string]any{"id": chatID, "type": "private"},
			"text":       text,
		},
	})
}

// Press queues a button callback carrying data from the configured chat.
func (f *FakeBotAPI) Press(data string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "cb-" + strconv.Itoa(f.nextID)
	f.updates = append(f.updates, map[string]any{
		"update_id": f.nextID,
		"callback_query": map[string]any{
			"id":   id,
			"from": map[string]any{"id": 1, "is_bot": false, "first_name": "operator"},
			"message": map[string]any{
				"message_id": 1,
				"date":       time.Now().Unix(),
				"chat":       map[string]any{"id": f.ChatID, "type": "private"},
			},
			"data": data,
		},
	})
	return id
}

// Sent returns every message the bot sent, oldest first.
func (f *FakeBotAPI) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.sent...)
}

// SentContaining returns sent messages whose text contains s.
func (f *FakeBotAPI) SentContaining(s string) []SentMessage {
	var out []SentMessage
	for _, m := range f.Sent() {
		if strings.Contains(m.Text, s) {
			out = append(out, m)
		}
	}
	return out
}

// Callbacks returns the answered callback IDs.
func (f *FakeBotAPI) Callbacks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.callbacks...)
}

// Offsets returns the getUpdates offsets seen, consecutive repeats collapsed.
func (f *FakeBotAPI) Offsets() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.offsets...)
}

func (f *FakeBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	switch method {
	case "getMe":
		writeResult(w, map[string]any{"id": 1, "is_bot": true, "first_name": "errwatch", "username": "errwatch_bot"})
	case "sendMessage":
		writeResult(w, f.recordSend(r.PostForm))
	case "getUpdates":
		offset, _ := strconv.Atoi(r.PostForm.Get("offset"))
		writeResult(w, f.pending(offset))
	case "answerCallbackQuery":
		f.mu.Lock()
		f.callbacks = append(f.callbacks, r.PostForm.Get("callback_query_id"))
		f.mu.Unlock()
		writeResult(w, true)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *FakeBotAPI) recordSend(form url.Values) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, SentMessage{
		ChatID:      form.Get("chat_id"),
		Text:        form.Get("text"),
		ParseMode:   form.Get("parse_mode"),
		ReplyMarkup: form.Get("reply_markup"),
	})
	return map[string]any{
		"message_id": len(f.sent),
		"date":       time.Now().Unix(),
		"chat":       map[string]any{"id": f.ChatID, "type": "private"},
	}
}

// pending returns queued updates at or after offset, waiting briefly when
// there are none so the client does not spin.
func (f *FakeBotAPI) pending(offset int) []map[string]any {
	deadline := time.Now().Add(200 * time.Millisecond)
	for {
		f.mu.Lock()
		if len(f.offsets) == 0 || f.offsets[len(f.offsets)-1] != offset {
			f.offsets = append(f.offsets, offset)
		}
		var out []map[string]any
		for _, u := range f.updates {
			if u["update_id"].(int) >= offset {
				out = append(out, u)
			}
		}
		f.mu.Unlock()

		if len(out) > 0 || time.Now().After(deadline) {
			if out == nil {
				out = []map[string]any{}
			}
			return out
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}
