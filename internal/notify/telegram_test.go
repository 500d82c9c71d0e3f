package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTelegram_Notify(t *testing.T) {
	var gotPath string
	var gotMsg telegramSendMessage

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotMsg); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram("token-abc", "chat-1", srv.Client())
	tg.baseURL = srv.URL

	if err := tg.Notify(context.Background(), "3 stale claims need review"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if gotPath != "/bottoken-abc/sendMessage" {
		t.Errorf("path = %s", gotPath)
	}
	if gotMsg.ChatID != "chat-1" || gotMsg.Text != "3 stale claims need review" {
		t.Errorf("payload = %+v", gotMsg)
	}
}

func TestTelegram_NotifyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"ok":false,"description":"bot was blocked"}`))
	}))
	defer srv.Close()

	tg := NewTelegram("token-abc", "chat-1", srv.Client())
	tg.baseURL = srv.URL

	if err := tg.Notify(context.Background(), "alert"); err == nil {
		t.Error("Notify() expected error")
	}
}
