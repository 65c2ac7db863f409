package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kingrea/tpm-runner/internal/bridge"
)

func newTestServer(t *testing.T, posted *[]map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		*posted = append(*posted, map[string]string{
			"channel":    r.FormValue("channel"),
			"text":       r.FormValue("text"),
			"username":   r.FormValue("username"),
			"icon_emoji": r.FormValue("icon_emoji"),
			"thread_ts":  r.FormValue("thread_ts"),
		})
		writeJSON(w, map[string]any{"ok": true, "channel": r.FormValue("channel"), "ts": "1708500000.000100"})
	})
	mux.HandleFunc("/conversations.history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"ok": true,
			"messages": []map[string]any{
				{"type": "message", "ts": "1708500200.000200", "text": "run risk", "user": "U1"},
				{"type": "message", "ts": "1708500100.000100", "text": "status posted", "bot_id": "B1"},
			},
			"has_more": false,
		})
	})
	mux.HandleFunc("/conversations.list", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.FormValue("cursor") == "" {
			writeJSON(w, map[string]any{
				"ok":                true,
				"channels":          []map[string]any{{"id": "C0GENERAL", "name": "general"}},
				"response_metadata": map[string]any{"next_cursor": "page2"},
			})
			return
		}
		writeJSON(w, map[string]any{
			"ok":                true,
			"channels":          []map[string]any{{"id": "C0TPM", "name": "tpm"}},
			"response_metadata": map[string]any{"next_cursor": ""},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestSendPostsWithPersonaAndThread(t *testing.T) {
	var posted []map[string]string
	server := newTestServer(t, &posted)
	client, err := New("xoxb-test", server.URL)
	if err != nil {
		t.Fatal(err)
	}

	ref, err := client.Send(context.Background(), bridge.Post{
		Channel:  "C0TPM",
		Text:     "hello",
		Username: "Delivery Bot",
		Icon:     ":truck:",
		ThreadTS: "1708500000.000001",
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if ref.Channel != "C0TPM" || ref.Thread != "1708500000.000100" {
		t.Fatalf("ref = %+v", ref)
	}
	if len(posted) != 1 {
		t.Fatalf("expected one request, got %d", len(posted))
	}
	got := posted[0]
	if got["username"] != "Delivery Bot" || got["icon_emoji"] != ":truck:" || got["thread_ts"] != "1708500000.000001" || got["text"] != "hello" {
		t.Fatalf("posted form = %v", got)
	}
}

func TestReadReturnsOldestFirst(t *testing.T) {
	var posted []map[string]string
	client, _ := New("xoxb-test", newTestServer(t, &posted).URL)

	messages, err := client.Read(context.Background(), "C0TPM", 20)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].BotID != "B1" || messages[1].Text != "run risk" || messages[1].User != "U1" {
		t.Fatalf("messages = %+v", messages)
	}
	if !messages[0].Time.Before(messages[1].Time) {
		t.Fatalf("messages not in chronological order")
	}
}

func TestSearchFollowsCursor(t *testing.T) {
	var posted []map[string]string
	client, _ := New("xoxb-test", newTestServer(t, &posted).URL)

	id, err := client.Search(context.Background(), "#tpm")
	if err != nil || id != "C0TPM" {
		t.Fatalf("Search = %q, %v", id, err)
	}
	if _, err := client.Search(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown channel")
	}
}

func TestParseTimestamp(t *testing.T) {
	got := ParseTimestamp("1708500000.123456")
	want := time.Unix(1708500000, 123456000).UTC()
	if !got.Equal(want) {
		t.Fatalf("ParseTimestamp = %v, want %v", got, want)
	}
	if !ParseTimestamp("garbage").IsZero() {
		t.Fatalf("invalid ts should parse to zero time")
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(" ", ""); err == nil {
		t.Fatalf("expected error without token")
	}
}
