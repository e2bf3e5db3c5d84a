package backend

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Wait selects how Notify acknowledges.
type Wait int

const (
	// WaitNone fires and forgets; the HTTP response body is returned as-is.
	WaitNone Wait = iota
	// WaitResponse blocks on the synchronous HTTP response only.
	WaitResponse
	// WaitEvent blocks until a channel event carrying the same transaction
	// id arrives, or the request timeout elapses. Newer hardware only
	// acknowledges this way.
	WaitEvent
)

// GenTransID builds a client transaction id in the server's expected
// web!<uuid>!<millis> form.
func GenTransID() string {
	return fmt.Sprintf("%s!%s!%d", transIDPrefix, uuid.NewString(), time.Now().UnixMilli())
}

// Notify posts a command to a hub device's notify endpoint. The body's
// to/from/transId fields are filled in here. Returns the acknowledgement
// (HTTP payload or correlated event, per wait), or nil on failure or
// timeout.
func (c *Client) Notify(hubID string, body map[string]any, wait Wait) any {
	transID := GenTransID()
	body["to"] = hubID
	body["from"] = c.WebID()
	body["transId"] = transID

	if wait != WaitEvent {
		return c.Post(NotifyPath+hubID, body)
	}

	waiter := make(chan map[string]any, 1)
	c.pendingMu.Lock()
	c.pending[transID] = waiter
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, transID)
		c.pendingMu.Unlock()
	}()

	if c.Post(NotifyPath+hubID, body) == nil {
		return nil
	}

	select {
	case event := <-waiter:
		return event
	case <-time.After(c.cfg.RequestTimeout()):
		c.logger.Warn("notify acknowledgement timed out", "hub", hubID, "transId", transID)
		return nil
	}
}

// deliverPending hands a correlated event to its blocked caller. Returns
// false when nobody is waiting on the transaction id, in which case the
// event flows to the normal listeners.
func (c *Client) deliverPending(transID string, event map[string]any) bool {
	c.pendingMu.Lock()
	waiter, ok := c.pending[transID]
	if ok {
		delete(c.pending, transID)
	}
	c.pendingMu.Unlock()
	if !ok {
		return false
	}
	waiter <- event
	return true
}
