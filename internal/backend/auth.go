package backend

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const factorsPath = "/api/getFactors"

// Login performs the full authentication exchange: password login against
// the auth host, the two-factor dance when the account demands it, then a
// session fetch against the API host. On success the client holds a valid
// token and knows its user/web identity.
func (c *Client) Login(ctx context.Context) error {
	c.setState(StateAuthenticating)

	auth, err := c.passwordLogin(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	if !boolField(auth, "authCompleted") {
		auth, err = c.secondFactor(ctx, auth)
		if err != nil {
			c.setState(StateDisconnected)
			return err
		}
	}

	token, _ := auth["token"].(string)
	if token == "" {
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: no token in auth response", ErrAuthFailed)
	}

	c.mu.Lock()
	c.session.token = token
	c.session.authValue = base64.StdEncoding.EncodeToString([]byte(token))
	c.session.expiry = tokenExpiry(token, auth)
	c.mu.Unlock()

	if err := c.fetchSession(); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	c.logger.Info("logged in", "user", c.UserID())
	return nil
}

// passwordLogin exchanges credentials for an auth record.
func (c *Client) passwordLogin(ctx context.Context) (map[string]any, error) {
	body := map[string]any{
		"email":     c.cfg.Cloud.Username,
		"password":  base64.StdEncoding.EncodeToString([]byte(c.cfg.Cloud.Password)),
		"language":  "en",
		"EnvSource": "prod",
	}
	data, err := c.authRequest(ctx, http.MethodPost, AuthPath, body, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAuthFailed, err)
	}
	if !boolField(data, "authenticated") {
		return nil, fmt.Errorf("%w: credentials rejected", ErrAuthFailed)
	}
	return data, nil
}

// secondFactor runs the start/get/finish exchange with the configured code
// provider.
func (c *Client) secondFactor(ctx context.Context, auth map[string]any) (map[string]any, error) {
	if c.tfa == nil {
		return nil, fmt.Errorf("%w: account requires a second factor but none is configured", ErrTFAFailed)
	}
	token, _ := auth["token"].(string)
	authHeader := base64.StdEncoding.EncodeToString([]byte(token))

	factorID, err := c.pickFactor(ctx, authHeader)
	if err != nil {
		return nil, err
	}

	if !c.tfa.Start() {
		return nil, fmt.Errorf("%w: code provider failed to start", ErrTFAFailed)
	}
	defer c.tfa.Stop()

	started, err := c.authRequest(ctx, http.MethodPost, AuthStartPath,
		map[string]any{"factorId": factorID}, authHeader)
	if err != nil {
		return nil, fmt.Errorf("%w: startAuth: %s", ErrTFAFailed, err)
	}
	factorAuthCode, _ := started["factorAuthCode"].(string)
	if factorAuthCode == "" {
		return nil, fmt.Errorf("%w: no factorAuthCode", ErrTFAFailed)
	}

	code, ok := c.tfa.Get()
	if !ok {
		return nil, fmt.Errorf("%w: no code arrived", ErrTFAFailed)
	}

	finished, err := c.authRequest(ctx, http.MethodPost, AuthFinishPath,
		map[string]any{"factorAuthCode": factorAuthCode, "otp": code}, authHeader)
	if err != nil {
		return nil, fmt.Errorf("%w: finishAuth: %s", ErrTFAFailed, err)
	}
	return finished, nil
}

// pickFactor chooses the server-side factor matching the configured
// delivery type (EMAIL, SMS, PUSH).
func (c *Client) pickFactor(ctx context.Context, authHeader string) (string, error) {
	data, err := c.authRequest(ctx, http.MethodGet, factorsPath+"?data="+fmt.Sprint(time.Now().Unix()), nil, authHeader)
	if err != nil {
		return "", fmt.Errorf("%w: getFactors: %s", ErrTFAFailed, err)
	}
	items, _ := data["items"].([]any)
	want := strings.ToUpper(c.cfg.TFA.Type)
	for _, item := range items {
		factor, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if kind, _ := factor["factorType"].(string); strings.ToUpper(kind) == want {
			if id, _ := factor["factorId"].(string); id != "" {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no %s factor on account", ErrTFAFailed, want)
}

// authRequest runs one call against the auth host. The auth API wraps
// responses in {"meta": {"code": 200}, "data": {...}}.
func (c *Client) authRequest(ctx context.Context, method, path string, body any, authHeader string) (map[string]any, error) {
	headers := http.Header{}
	headers.Set("Accept", "application/json")
	headers.Set("User-Agent", c.cfg.Cloud.UserAgent)
	headers.Set("Origin", c.cfg.Cloud.AuthHost)
	if authHeader != "" {
		headers.Set("Authorization", authHeader)
	}

	req, err := c.roundTrip(ctx, method, c.cfg.Cloud.AuthHost+path, body, headers)
	if err != nil {
		return nil, err
	}
	envelope, ok := req.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected auth response shape")
	}
	if meta, ok := envelope["meta"].(map[string]any); ok {
		if code, ok := meta["code"].(float64); ok && int(code) != 200 {
			msg, _ := meta["message"].(string)
			return nil, fmt.Errorf("auth code %d: %s", int(code), msg)
		}
	}
	data, _ := envelope["data"].(map[string]any)
	if data == nil {
		return nil, fmt.Errorf("auth response missing data")
	}
	return data, nil
}

// fetchSession validates the token against the API host and records the
// user identity plus the server-selected event transport hints.
func (c *Client) fetchSession() error {
	data := c.Get(SessionPath + "?eventId=" + GenTransID())
	session, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: session fetch failed: %s", ErrAuthFailed, c.LastError())
	}

	userID, _ := session["userId"].(string)
	if userID == "" {
		return fmt.Errorf("%w: session has no user id", ErrAuthFailed)
	}

	c.mu.Lock()
	c.session.userID = userID
	c.session.webID = userID + "_web"
	if u, _ := session["mqttUrl"].(string); u != "" {
		c.session.mqttURL = u
	}
	if token, _ := session["token"].(string); token != "" {
		c.session.token = token
		c.session.authValue = base64.StdEncoding.EncodeToString([]byte(token))
		c.session.expiry = tokenExpiry(token, session)
	}
	c.mu.Unlock()
	return nil
}

// tokenExpiry extracts the session deadline: the JWT exp claim when the
// token is a JWT, else an expiresIn epoch field from the response, else
// zero (no known expiry).
func tokenExpiry(token string, data map[string]any) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if expiresIn, ok := data["expiresIn"].(float64); ok && expiresIn > 0 {
		return time.Unix(int64(expiresIn), 0)
	}
	return time.Time{}
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}
