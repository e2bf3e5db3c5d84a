package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// eventChannel is one push-transport connection. open returns a message
// stream that closes when the connection drops; close tears it down.
type eventChannel interface {
	open(ctx context.Context) (<-chan map[string]any, error)
	close()
}

// sseChannel reads the text/event-stream subscription on the API host.
// The server writes one JSON object per "data:" frame.
type sseChannel struct {
	client *Client

	mu   sync.Mutex
	resp *http.Response
}

func newSSEChannel(client *Client) *sseChannel {
	return &sseChannel{client: client}
}

func (s *sseChannel) open(ctx context.Context) (<-chan map[string]any, error) {
	c := s.client
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL(SubscribePath), nil)
	if err != nil {
		return nil, fmt.Errorf("building subscribe request: %w", err)
	}
	for k, vs := range c.apiHeaders() {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")

	// The subscription outlives any sane request timeout; use the bare
	// transport, not the timeout-wrapped client.
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("subscribe: status %d", resp.StatusCode)
	}

	s.mu.Lock()
	s.resp = resp
	s.mu.Unlock()

	messages := make(chan map[string]any, 64)
	go s.readLoop(resp, messages)
	return messages, nil
}

// readLoop parses SSE frames until the connection drops. Malformed frames
// are skipped, not fatal.
func (s *sseChannel) readLoop(resp *http.Response, messages chan<- map[string]any) {
	defer close(messages)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "":
			if data.Len() == 0 {
				continue
			}
			frame := data.String()
			data.Reset()

			var msg map[string]any
			if err := json.Unmarshal([]byte(frame), &msg); err != nil {
				s.client.logger.Debug("skipping malformed event frame", "error", err)
				continue
			}
			messages <- msg
		default:
			// comment or field we do not use (event:, id:, retry:)
		}
	}
}

func (s *sseChannel) close() {
	s.mu.Lock()
	resp := s.resp
	s.resp = nil
	s.mu.Unlock()
	if resp != nil {
		resp.Body.Close()
	}
}
