package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/candree7-rgb/Systemic.Systems/config"
	"github.com/candree7-rgb/Systemic.Systems/models"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c := NewClient(config.Discord{
		Token:      "Bot test",
		ChannelID:  "555",
		BaseURL:    baseURL,
		RequestsPS: 1000, // don't pace tests
	}, zap.NewNop())
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatal(err)
	}
}

func TestFetchAfterPagination(t *testing.T) {
	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.Query().Get("after"))
		switch r.URL.Query().Get("after") {
		case "100":
			// Full page, newest first like the real endpoint.
			writeJSON(t, w, []Message{{ID: "103"}, {ID: "102"}, {ID: "101"}})
		case "103":
			// Short page ends pagination.
			writeJSON(t, w, []Message{{ID: "104"}})
		default:
			t.Errorf("unexpected after=%q", r.URL.Query().Get("after"))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	msgs, err := c.FetchAfter(context.Background(), "100", 3)
	if err != nil {
		t.Fatal(err)
	}

	if len(requests) != 2 {
		t.Fatalf("issued %d requests, want 2 (%v)", len(requests), requests)
	}
	want := []models.MessageID{"101", "102", "103", "104"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Errorf("msgs[%d].ID = %s, want %s (ascending order)", i, msgs[i].ID, id)
		}
	}
}

func TestFetchAfterLimitClamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "100" {
			t.Errorf("limit = %s, want clamped 100", got)
		}
		writeJSON(t, w, []Message{})
	}))
	defer srv.Close()

	if _, err := newTestClient(t, srv.URL).FetchAfter(context.Background(), "", 500); err != nil {
		t.Fatal(err)
	}
}

func TestFetchAfterRateLimit(t *testing.T) {
	var calls int
	var slept []time.Duration
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"retry_after": 1.5}`)
			return
		}
		writeJSON(t, w, []Message{{ID: "7"}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	msgs, err := c.FetchAfter(context.Background(), "", 50)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want the same request retried once", calls)
	}
	if len(msgs) != 1 || msgs[0].ID != "7" {
		t.Errorf("unexpected result %+v", msgs)
	}
	if len(slept) != 1 || slept[0] != 1500*time.Millisecond+500*time.Millisecond {
		t.Errorf("slept %v, want advised 1.5s plus margin", slept)
	}
}

func TestFetchAfterServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := newTestClient(t, srv.URL).FetchAfter(context.Background(), "", 50); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

func TestLatestMessageID(t *testing.T) {
	t.Run("newest_message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("limit"); got != "1" {
				t.Errorf("limit = %s, want 1", got)
			}
			if r.URL.Query().Has("after") {
				t.Error("latest lookup must not page")
			}
			writeJSON(t, w, []Message{{ID: "999"}})
		}))
		defer srv.Close()

		id, err := newTestClient(t, srv.URL).LatestMessageID(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if id != "999" {
			t.Errorf("id = %s, want 999", id)
		}
	})

	t.Run("empty_channel", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, []Message{})
		}))
		defer srv.Close()

		id, err := newTestClient(t, srv.URL).LatestMessageID(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if !id.IsZero() {
			t.Errorf("id = %s, want zero", id)
		}
	})
}

func TestMessageDecoding(t *testing.T) {
	raw := `{"id":"123","content":"hello","embeds":[{"title":"T","description":"D","fields":[{"name":"N","value":"V"}],"footer":{"text":"F"}}]}`
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatal(err)
	}
	if m.ID != "123" || m.Content != "hello" {
		t.Errorf("unexpected message %+v", m)
	}
	if len(m.Embeds) != 1 || m.Embeds[0].Footer == nil || m.Embeds[0].Footer.Text != "F" {
		t.Errorf("unexpected embeds %+v", m.Embeds)
	}
}
