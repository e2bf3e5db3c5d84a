package backend

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/reedholm/skymirror/internal/infrastructure/config"
)

type fakeScheduler struct {
	immediate []string
	delayed   []string
}

func (f *fakeScheduler) RunNow(name string, fn func()) bool {
	f.immediate = append(f.immediate, name)
	fn()
	return true
}

func (f *fakeScheduler) RunIn(name string, _ time.Duration, _ func()) string {
	f.delayed = append(f.delayed, name)
	return name
}

func (f *fakeScheduler) Cancel(string) {}

func testClient(host string) *Client {
	cfg := &config.Config{}
	cfg.Cloud.Host = host
	cfg.Cloud.UserAgent = "test"
	cfg.Timeouts.Request = 2
	return New(cfg, &fakeScheduler{}, nil)
}

func TestClient_Get_UnwrapsDataEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "data": {"deviceId": "C1"}}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	got := c.Get("/hmsweb/v2/users/devices")

	data, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("Get() = %T, want map", got)
	}
	if data["deviceId"] != "C1" {
		t.Errorf("deviceId = %v, want C1", data["deviceId"])
	}
	if c.LastError() != "" {
		t.Errorf("LastError() = %q, want empty", c.LastError())
	}
}

func TestClient_Get_NilOnRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "data": {"message": "no session"}}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if got := c.Get("/hmsweb/v2/users/devices"); got != nil {
		t.Errorf("Get() = %v, want nil", got)
	}
	if c.LastError() != "no session" {
		t.Errorf("LastError() = %q, want %q", c.LastError(), "no session")
	}
}

func TestClient_Get_NilOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if got := c.Get("/hmsweb/users/library"); got != nil {
		t.Errorf("Get() = %v, want nil", got)
	}
	if c.LastError() == "" {
		t.Error("LastError() empty after failed request")
	}
}

func TestGenTransID_Shape(t *testing.T) {
	pattern := regexp.MustCompile(`^web![0-9a-f-]{36}!\d{13}$`)
	id := GenTransID()
	if !pattern.MatchString(id) {
		t.Errorf("GenTransID() = %q, want web!<uuid>!<millis>", id)
	}
	if id == GenTransID() {
		t.Error("consecutive transaction ids should differ")
	}
}

func TestDeliverPending_CorrelatesWaiter(t *testing.T) {
	c := testClient("http://unused")
	waiter := make(chan map[string]any, 1)
	c.pendingMu.Lock()
	c.pending["web!abc!1"] = waiter
	c.pendingMu.Unlock()

	event := map[string]any{"transId": "web!abc!1", "properties": map[string]any{"activityState": "idle"}}
	if !c.deliverPending("web!abc!1", event) {
		t.Fatal("deliverPending() = false, want true")
	}

	select {
	case got := <-waiter:
		if got["transId"] != "web!abc!1" {
			t.Errorf("waiter got %v", got)
		}
	default:
		t.Fatal("waiter channel empty")
	}

	// Second delivery for the same id has nobody waiting.
	if c.deliverPending("web!abc!1", event) {
		t.Error("deliverPending() delivered twice for one registration")
	}
}

func TestHandleMessage_UncorrelatedEventReachesListeners(t *testing.T) {
	c := testClient("http://unused")
	var got []string
	c.AddListener(func(resource string, _ map[string]any) {
		got = append(got, resource)
	})

	c.handleMessage(map[string]any{"resource": "cameras/C1", "properties": map[string]any{}})
	c.handleMessage(map[string]any{"resource": "modes", "properties": map[string]any{}})
	c.handleMessage(map[string]any{"properties": map[string]any{}}) // no resource, skipped

	if len(got) != 2 || got[0] != "cameras/C1" || got[1] != "modes" {
		t.Errorf("listeners saw %v, want [cameras/C1 modes]", got)
	}
}

func TestHandleMessage_ConnectedStatusFlipsState(t *testing.T) {
	c := testClient("http://unused")
	c.handleMessage(map[string]any{"status": "connected"})
	if c.State() != StateConnected {
		t.Errorf("State() = %v, want %v", c.State(), StateConnected)
	}
}

func TestTokenExpiry_JWTClaim(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()})
	signed, err := token.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	got := tokenExpiry(signed, nil)
	if !got.Equal(exp) {
		t.Errorf("tokenExpiry() = %v, want %v", got, exp)
	}
}

func TestTokenExpiry_FallbackField(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	got := tokenExpiry("not-a-jwt", map[string]any{"expiresIn": float64(exp)})
	if got.Unix() != exp {
		t.Errorf("tokenExpiry() = %v, want %v", got.Unix(), exp)
	}

	if got := tokenExpiry("not-a-jwt", map[string]any{}); !got.IsZero() {
		t.Errorf("tokenExpiry() with no hints = %v, want zero", got)
	}
}
