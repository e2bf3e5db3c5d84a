package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/reedholm/skymirror/internal/infrastructure/config"
)

// ConnState is the connection lifecycle state.
type ConnState string

const (
	StateDisconnected   ConnState = "disconnected"
	StateAuthenticating ConnState = "authenticating"
	StateSubscribing    ConnState = "subscribing"
	StateConnected      ConnState = "connected"
	StateReconnecting   ConnState = "reconnecting"
	StateLoggedOut      ConnState = "logged_out"
)

// EventHandler receives every inbound channel message as (resource, event).
// Handlers run on the channel read goroutine and must not block; anything
// slow hands off to the background scheduler.
type EventHandler func(resource string, event map[string]any)

// Scheduler is the slice of the background scheduler the client needs for
// reconnect and re-login timers.
type Scheduler interface {
	RunNow(name string, fn func()) bool
	RunIn(name string, delay time.Duration, fn func()) string
	Cancel(token string)
}

// Logger defines the logging interface used by the backend.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// reconnect backoff, per consecutive failure; the last entry repeats.
var reconnectBackoff = []time.Duration{
	5 * time.Second, 15 * time.Second, 30 * time.Second, 60 * time.Second,
}

// Client owns the authenticated session, the request path and the event
// channel. One Client serves the whole process.
type Client struct {
	cfg    *config.Config
	http   *http.Client
	logger Logger
	sched  Scheduler
	tfa    CodeProvider

	mu        sync.Mutex
	state     ConnState
	lastError string
	session   sessionInfo
	failures  int
	xCloudIDs []string

	listenerMu sync.Mutex
	listeners  []EventHandler
	onConnect  func()

	pendingMu sync.Mutex
	pending   map[string]chan map[string]any

	channel      eventChannel
	reloginToken string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// sessionInfo is what a successful login leaves behind.
type sessionInfo struct {
	token     string
	authValue string // header form of token
	userID    string
	webID     string
	expiry    time.Time
	mqttURL   string
}

// New creates a client. The scheduler is required for reconnect handling;
// the code provider may be nil when the account has no second factor.
func New(cfg *config.Config, sched Scheduler, tfa CodeProvider) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout()},
		logger:  noopLogger{},
		sched:   sched,
		tfa:     tfa,
		state:   StateDisconnected,
		pending: make(map[string]chan map[string]any),
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// SetOnConnect registers a hook run after every successful (re)connect,
// used by the hub to re-poll full device state since the channel carries
// deltas only.
func (c *Client) SetOnConnect(fn func()) {
	c.listenerMu.Lock()
	c.onConnect = fn
	c.listenerMu.Unlock()
}

// AddListener registers an event handler. Handlers are called in
// registration order for every message, in per-connection arrival order.
func (c *Client) AddListener(fn EventHandler) {
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenerMu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the event channel is up.
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// LastError returns the most recent transport failure description, empty
// when the last call succeeded.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// UserID returns the logged-in account's user id.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.userID
}

// WebID returns the "from" identity used in notify bodies.
func (c *Client) WebID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.webID
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.logger.Debug("connection state change", "from", string(prev), "to", string(s))
	}
}

func (c *Client) setLastError(msg string) {
	c.mu.Lock()
	c.lastError = msg
	c.mu.Unlock()
}

// Get issues a GET against the API host. Returns the decoded "data"
// payload, or nil on any transport or API failure (see LastError).
func (c *Client) Get(path string) any {
	return c.request(http.MethodGet, path, nil)
}

// Post issues a POST with a JSON body. Nil on failure.
func (c *Client) Post(path string, body any) any {
	return c.request(http.MethodPost, path, body)
}

// Put issues a PUT with a JSON body. Nil on failure.
func (c *Client) Put(path string, body any) any {
	return c.request(http.MethodPut, path, body)
}

// PostFull issues a POST and returns the complete decoded response body
// rather than just the data payload. Used where the caller must inspect
// the acknowledgement envelope itself. Nil on transport failure only; a
// success=false body is returned as-is.
func (c *Client) PostFull(path string, body any) map[string]any {
	decoded, err := c.roundTrip(context.Background(), http.MethodPost, c.apiURL(path), body, c.apiHeaders())
	if err != nil {
		c.setLastError(err.Error())
		c.logger.Warn("request failed", "method", "POST", "path", path, "error", err)
		return nil
	}
	c.setLastError("")
	full, _ := decoded.(map[string]any)
	return full
}

// GetRaw fetches a URL and returns the raw body bytes. Used for presigned
// media downloads, which are plain HTTPS objects outside the API envelope
// and carry their own auth in the URL.
func (c *Client) GetRaw(url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// PostWithHeaders issues a POST with extra request headers merged over
// the standard set. Some endpoints route on an xCloudId header. Nil on
// failure.
func (c *Client) PostWithHeaders(path string, body any, extra map[string]string) any {
	h := c.apiHeaders()
	for k, v := range extra {
		h.Set(k, v)
	}
	return c.requestWith(http.MethodPost, path, body, h)
}

// request runs one API round trip and unwraps the standard
// {"success": bool, "data": ...} envelope.
func (c *Client) request(method, path string, body any) any {
	return c.requestWith(method, path, body, c.apiHeaders())
}

func (c *Client) requestWith(method, path string, body any, headers http.Header) any {
	decoded, err := c.roundTrip(context.Background(), method, c.apiURL(path), body, headers)
	if err != nil {
		c.setLastError(err.Error())
		c.logger.Warn("request failed", "method", method, "path", path, "error", err)
		return nil
	}

	envelope, ok := decoded.(map[string]any)
	if !ok {
		c.setLastError("")
		return decoded
	}
	if success, ok := envelope["success"].(bool); ok && !success {
		reason, _ := envelope["data"].(map[string]any)
		msg := fmt.Sprintf("api rejected %s %s", method, path)
		if reason != nil {
			if m, ok := reason["message"].(string); ok {
				msg = m
			}
		}
		c.setLastError(msg)
		c.logger.Warn("request rejected", "method", method, "path", path, "reason", msg)
		return nil
	}
	c.setLastError("")
	if data, ok := envelope["data"]; ok {
		return data
	}
	return envelope
}

// roundTrip performs the HTTP exchange and JSON decode. Non-2xx statuses
// are errors; an empty body decodes to nil.
func (c *Client) roundTrip(ctx context.Context, method, url string, body any, headers http.Header) (any, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(firstN(string(raw), 200)))
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return decoded, nil
}

func (c *Client) apiURL(path string) string {
	if strings.HasPrefix(path, "http") {
		return path
	}
	return c.cfg.Cloud.Host + path
}

func (c *Client) apiHeaders() http.Header {
	c.mu.Lock()
	auth := c.session.authValue
	c.mu.Unlock()

	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("User-Agent", c.cfg.Cloud.UserAgent)
	if auth != "" {
		h.Set("Authorization", auth)
	}
	return h
}

// Start logs in, opens the event channel and keeps both alive until the
// context is cancelled. The xCloudIDs are the device routing ids the MQTT
// flavour subscribes to; callers discover devices between Login and Start.
// Returns only the initial failure; later channel losses reconnect
// internally.
func (c *Client) Start(ctx context.Context, xCloudIDs []string) error {
	c.mu.Lock()
	c.xCloudIDs = append([]string(nil), xCloudIDs...)
	c.mu.Unlock()

	c.ctx, c.cancel = context.WithCancel(ctx)
	if err := c.openChannel(); err != nil {
		return err
	}
	c.scheduleRelogin()
	return nil
}

// Stop closes the event channel and logs out.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	channel := c.channel
	relogin := c.reloginToken
	c.mu.Unlock()
	if relogin != "" {
		c.sched.Cancel(relogin)
	}
	if channel != nil {
		channel.close()
	}
	c.wg.Wait()

	c.Put(LogoutPath, nil)
	c.setState(StateLoggedOut)
}

// openChannel selects and opens the event transport, then starts the read
// loop.
func (c *Client) openChannel() error {
	c.setState(StateSubscribing)

	channel := c.selectChannel()
	messages, err := channel.open(c.ctx)
	if err != nil {
		c.setState(StateReconnecting)
		return fmt.Errorf("opening event channel: %w", err)
	}

	c.mu.Lock()
	c.channel = channel
	c.failures = 0
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(messages)
	return nil
}

func (c *Client) selectChannel() eventChannel {
	transport := strings.ToLower(c.cfg.Cloud.EventTransport)
	c.mu.Lock()
	mqttURL := c.session.mqttURL
	userID := c.session.userID
	xCloudIDs := append([]string(nil), c.xCloudIDs...)
	c.mu.Unlock()

	useMQTT := transport == "mqtt" || (transport == "auto" && (mqttURL != "" || c.cfg.Cloud.MQTTHost != ""))
	if useMQTT {
		return newMQTTChannel(c.cfg, c.logger, userID, c.sessionToken(), xCloudIDs)
	}
	return newSSEChannel(c)
}

func (c *Client) sessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.token
}

// readLoop drains the event channel until it closes, then arranges a
// reconnect. It never blocks on consumer code beyond the synchronous
// handler contract.
func (c *Client) readLoop(messages <-chan map[string]any) {
	defer c.wg.Done()
	for msg := range messages {
		c.handleMessage(msg)
	}

	select {
	case <-c.ctx.Done():
		return
	default:
	}
	c.logger.Warn("event channel lost")
	c.setState(StateReconnecting)
	c.scheduleReconnect()
}

// handleMessage routes one inbound message: connection status, transaction
// correlation, session kill, or listener fan-out, in that order.
func (c *Client) handleMessage(msg map[string]any) {
	if status, ok := msg["status"].(string); ok && status == "connected" {
		c.setState(StateConnected)
		c.logger.Info("event channel connected")
		c.listenerMu.Lock()
		hook := c.onConnect
		c.listenerMu.Unlock()
		if hook != nil {
			c.sched.RunNow("on-connect", hook)
		}
		return
	}

	if transID, ok := msg["transId"].(string); ok && transID != "" {
		if c.deliverPending(transID, msg) {
			return
		}
	}

	resource, _ := msg["resource"].(string)
	if resource == "" {
		c.logger.Debug("skipping event without resource")
		return
	}

	// The server announces a competing session by logging this one out.
	if action, _ := msg["action"].(string); resource == "subscriptions" && action == "logout" {
		c.logger.Warn("server ended session, reconnecting")
		c.setState(StateReconnecting)
		c.mu.Lock()
		channel := c.channel
		c.mu.Unlock()
		if channel != nil {
			channel.close()
		}
		return
	}

	c.listenerMu.Lock()
	listeners := append([]EventHandler(nil), c.listeners...)
	c.listenerMu.Unlock()
	for _, fn := range listeners {
		fn(resource, msg)
	}
}

// scheduleReconnect queues a re-login + channel reopen with backoff.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	delay := reconnectBackoff[min(c.failures, len(reconnectBackoff)-1)]
	c.failures++
	c.mu.Unlock()

	c.sched.RunIn("backend-reconnect", delay, func() {
		select {
		case <-c.ctx.Done():
			return
		default:
		}
		if err := c.Login(c.ctx); err != nil {
			c.logger.Error("reconnect login failed", "error", err)
			c.scheduleReconnect()
			return
		}
		if err := c.openChannel(); err != nil {
			c.logger.Error("reconnect subscribe failed", "error", err)
			c.scheduleReconnect()
			return
		}
		c.scheduleRelogin()
	})
}

// scheduleRelogin arms the session-expiry and optional forced-reconnect
// timers.
func (c *Client) scheduleRelogin() {
	c.mu.Lock()
	expiry := c.session.expiry
	prev := c.reloginToken
	c.mu.Unlock()
	if prev != "" {
		c.sched.Cancel(prev)
	}

	delay := time.Duration(0)
	if !expiry.IsZero() {
		// Renew with an hour in hand.
		delay = time.Until(expiry) - time.Hour
	}
	if every := c.cfg.Refresh.ReconnectEvery; every > 0 {
		forced := time.Duration(every) * time.Minute
		if delay <= 0 || forced < delay {
			delay = forced
		}
	}
	if delay <= 0 {
		return
	}

	token := c.sched.RunIn("backend-relogin", delay, func() {
		c.logger.Info("forcing session renewal")
		c.mu.Lock()
		channel := c.channel
		c.mu.Unlock()
		c.setState(StateReconnecting)
		if channel != nil {
			channel.close() // read loop notices and reconnects
		}
	})
	c.mu.Lock()
	c.reloginToken = token
	c.mu.Unlock()
}

func firstN(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
