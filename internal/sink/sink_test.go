package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/domguard/dbopen"

	_ "modernc.org/sqlite"
)

type failing struct{}

func (failing) Emit(context.Context, Event) error { return errors.New("boom") }
func (failing) Close() error                      { return nil }

func TestRouter_FanOutAndStamp(t *testing.T) {
	var got []Event
	cb := NewCallback(func(_ context.Context, ev Event) error {
		got = append(got, ev)
		return nil
	})
	r := NewRouter(nil, failing{}, cb)

	err := r.Emit(context.Background(), Event{Source: "test", Message: "hello"})
	if err == nil {
		t.Error("expected first sink error to be returned")
	}
	if len(got) != 1 {
		t.Fatalf("callback got %d events, want 1 (one failing sink must not block others)", len(got))
	}
	ev := got[0]
	if !strings.HasPrefix(ev.ID, "evt_") {
		t.Errorf("ID: got %q, want evt_ prefix", ev.ID)
	}
	if ev.Timestamp == 0 {
		t.Error("Timestamp not stamped")
	}
	if ev.Level != LevelInfo {
		t.Errorf("Level: got %q, want info", ev.Level)
	}
}

func TestRouter_Add(t *testing.T) {
	var n int
	r := NewRouter(nil)
	r.Add(NewCallback(func(context.Context, Event) error { n++; return nil }))
	r.Emit(context.Background(), Event{Message: "x"})
	if n != 1 {
		t.Errorf("got %d, want 1", n)
	}
	r.Close()
	r.Emit(context.Background(), Event{Message: "after close"})
	if n != 1 {
		t.Errorf("closed router still delivered")
	}
}

func TestStdout_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	s.Emit(context.Background(), Event{ID: "1", Source: "src", Level: LevelWarn, Message: "m"})
	s.Emit(context.Background(), Event{ID: "2", Source: "src", Message: "<div> removed", Strategy: "remove"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var env struct {
		Type string `json:"type"`
		Data Event  `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "notice" || env.Data.Level != LevelWarn || env.Data.ID != "1" {
		t.Errorf("unexpected envelope: %+v", env)
	}
	if !strings.Contains(lines[1], `"type":"suppression"`) || !strings.Contains(lines[1], "<div>") {
		t.Errorf("second line: %s", lines[1])
	}
}

func TestWebhook_RetryThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"message":"removed"`) {
			t.Errorf("unexpected body: %s", body)
		}
		if r.Header.Get("X-Domguard-Event") != "evt_1" {
			t.Errorf("event header = %q", r.Header.Get("X-Domguard-Event"))
		}
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := wh.Emit(context.Background(), Event{ID: "evt_1", Message: "removed"}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls: got %d, want 2", calls.Load())
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	if err := wh.Emit(context.Background(), Event{Message: "x"}); err == nil {
		t.Fatal("expected error after retries")
	}
}

func TestWebhook_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := wh.Emit(context.Background(), Event{Message: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestSQLite_EmitAndRecent(t *testing.T) {
	db := dbopen.OpenMemory(t)
	s, err := NewSQLite(db)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	r := NewRouter(nil, s)
	for i, page := range []string{"a", "b", "a"} {
		if err := r.Emit(ctx, Event{Source: "src", Message: "removed", PageID: page, Timestamp: int64(1000 + i)}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.Recent(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("all: got %d, want 3", len(all))
	}
	if all[0].Timestamp != 1002 {
		t.Errorf("newest first: got ts %d", all[0].Timestamp)
	}

	pageA, err := s.Recent(ctx, "a", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pageA) != 2 {
		t.Errorf("page a: got %d, want 2", len(pageA))
	}
	if pageA[0].Level != LevelInfo {
		t.Errorf("Level: got %q", pageA[0].Level)
	}
}
