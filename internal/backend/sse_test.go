package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSSEChannel_ParsesFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("Accept = %q, want text/event-stream", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)

		frames := []string{
			"data: {\"status\": \"connected\"}\n\n",
			": keepalive comment\n\n",
			"data: {\"resource\": \"cameras/C1\", \"properties\": {\"batteryLevel\": 90}}\n\n",
			"data: {not valid json\n\n",
			"data: {\"resource\": \"modes\", \"properties\": {}}\n\n",
		}
		for _, frame := range frames {
			w.Write([]byte(frame))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	ch := newSSEChannel(c)
	messages, err := ch.open(context.Background())
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}
	defer ch.close()

	var got []map[string]any
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case msg, ok := <-messages:
			if !ok {
				t.Fatalf("channel closed after %d messages, want 3", len(got))
			}
			got = append(got, msg)
		case <-timeout:
			t.Fatalf("timed out after %d messages, want 3", len(got))
		}
	}

	if got[0]["status"] != "connected" {
		t.Errorf("first message = %v, want connected status", got[0])
	}
	if got[1]["resource"] != "cameras/C1" {
		t.Errorf("second message = %v, want cameras/C1", got[1])
	}
	// The malformed frame is skipped, not delivered.
	if got[2]["resource"] != "modes" {
		t.Errorf("third message = %v, want modes", got[2])
	}
}

func TestSSEChannel_ClosedStreamEndsChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"status\": \"connected\"}\n\n"))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	ch := newSSEChannel(c)
	messages, err := ch.open(context.Background())
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}

	<-messages // connected marker
	select {
	case _, ok := <-messages:
		if ok {
			t.Error("expected channel close after server hangup")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after server hangup")
	}
}
