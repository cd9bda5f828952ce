package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mailsink/mailsink/internal/blob"
	"github.com/mailsink/mailsink/internal/bus"
	"github.com/mailsink/mailsink/internal/mail"
	"github.com/mailsink/mailsink/internal/query"
	"github.com/mailsink/mailsink/internal/store"
)

func TestEventsStream(t *testing.T) {
	mails := store.NewMemory()
	blobs := blob.NewMemory()
	b := bus.New()
	engine := query.New(mails, blobs, b, testLogger)

	srv := httptest.NewServer(New(engine, blobs, b, testLogger).Router())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q", got)
	}

	// Wait until the handler has registered both subscriptions, then
	// publish through the bus as intake and deletion would.
	deadline := time.Now().Add(2 * time.Second)
	for b.Subscribers() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	msg := &mail.Message{ID: mail.NewID(), Subject: "live"}
	b.PublishAdded([]*mail.Message{msg})
	b.PublishDeleted([]string{msg.Cursor()})

	scanner := bufio.NewScanner(resp.Body)
	var events []string
	var lastEvent string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			lastEvent = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			events = append(events, lastEvent)
			data := strings.TrimPrefix(line, "data: ")
			switch lastEvent {
			case "messagesAdded":
				if !strings.Contains(data, "live") {
					t.Errorf("added payload = %q", data)
				}
			case "messagesDeleted":
				if !strings.Contains(data, msg.Cursor()) {
					t.Errorf("deleted payload = %q", data)
				}
			}
		}
		if len(events) == 2 {
			break
		}
	}
	if err := scanner.Err(); err != nil && len(events) != 2 {
		t.Fatalf("read stream: %v", err)
	}

	// The handler drains two independent channels, so the relative order
	// of the two events is not fixed.
	seen := map[string]bool{}
	for _, e := range events {
		seen[e] = true
	}
	if !seen["messagesAdded"] || !seen["messagesDeleted"] {
		t.Errorf("events = %v, want both messagesAdded and messagesDeleted", events)
	}
}
