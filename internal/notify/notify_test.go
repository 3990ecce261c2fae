package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"papertrader/internal/models"
)

type recordingChannel struct {
	mu      sync.Mutex
	entries []models.ActivityEntry
	err     error
}

func (r *recordingChannel) Name() string { return "recording" }

func (r *recordingChannel) Send(_ context.Context, e models.ActivityEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return r.err
}

func (r *recordingChannel) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Message
	}
	return out
}

func entry(level models.LogLevel, msg string) models.ActivityEntry {
	return models.ActivityEntry{Timestamp: time.Date(2025, 1, 1, 12, 30, 0, 0, time.UTC), Level: level, AgentID: "a1", Message: msg}
}

func TestMultiNotifierFiltersByLevel(t *testing.T) {
	ch := &recordingChannel{}
	mn := NewMultiNotifier(models.LevelError, time.Second, zerolog.Nop(), ch)

	for _, e := range []models.ActivityEntry{
		entry(models.LevelInfo, "info"),
		entry(models.LevelWarning, "warn"),
		entry(models.LevelError, "boom"),
	} {
		if err := mn.Notify(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
	mn.Close()

	if got := ch.messages(); len(got) != 1 || got[0] != "boom" {
		t.Fatalf("delivered %v", got)
	}
}

func TestMultiNotifierDefaultsToWarning(t *testing.T) {
	ch := &recordingChannel{}
	mn := NewMultiNotifier("", time.Second, zerolog.Nop(), ch)
	_ = mn.Notify(context.Background(), entry(models.LevelSuccess, "target"))
	_ = mn.Notify(context.Background(), entry(models.LevelWarning, "cap"))
	mn.Close()

	if got := ch.messages(); len(got) != 1 || got[0] != "cap" {
		t.Fatalf("delivered %v", got)
	}
}

func TestSendCollectsChannelErrors(t *testing.T) {
	good := &recordingChannel{}
	bad := &recordingChannel{err: errors.New("offline")}
	mn := NewMultiNotifier(models.LevelWarning, time.Second, zerolog.Nop(), bad, good)
	defer mn.Close()

	err := mn.Send(context.Background(), entry(models.LevelError, "x"))
	if err == nil || !strings.Contains(err.Error(), "offline") {
		t.Fatalf("err = %v", err)
	}
	if len(good.messages()) != 1 {
		t.Fatal("healthy channel skipped")
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhookNotifier(srv.URL, time.Second)
	if err := wh.Send(context.Background(), entry(models.LevelError, "Alpha: Stopped due to max drawdown (15.00%)")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Level != "error" || got.AgentID != "a1" || got.Timestamp != "2025-01-01T12:30:00Z" || !strings.HasPrefix(got.Message, "Alpha:") {
		t.Fatalf("payload %+v", got)
	}
}

func TestWebhookNotifierStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL, time.Second).Send(context.Background(), entry(models.LevelError, "x")); err == nil {
		t.Fatal("expected error")
	}
}

func TestTerminalNotifier(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	var buf bytes.Buffer
	tn := NewTerminalNotifier(&buf)
	if err := tn.Send(context.Background(), entry(models.LevelWarning, "Maximum concurrent agents (10) reached")); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "12:30:00 [WARN] Maximum concurrent agents (10) reached\n" {
		t.Fatalf("output %q", got)
	}
}
