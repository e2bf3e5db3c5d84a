package backend

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/reedholm/skymirror/internal/infrastructure/config"
)

// CodeProvider delivers the six-digit second-factor code. Start primes the
// source, Get polls until a code arrives or the provider's total timeout
// elapses, Stop releases whatever Start acquired.
type CodeProvider interface {
	Start() bool
	Get() (string, bool)
	Stop()
}

// NewCodeProvider builds the provider named by tfa.source. Unknown sources
// fall back to the console prompt.
func NewCodeProvider(cfg *config.Config, logger Logger) CodeProvider {
	switch strings.ToLower(cfg.TFA.Source) {
	case "rest-api":
		return newRestCodeProvider(cfg, logger)
	default:
		return &consoleCodeProvider{logger: logger}
	}
}

// consoleCodeProvider reads the code from stdin. Interactive use only.
type consoleCodeProvider struct {
	logger Logger
}

func (p *consoleCodeProvider) Start() bool {
	p.logger.Debug("2fa console: starting")
	return true
}

func (p *consoleCodeProvider) Get() (string, bool) {
	fmt.Print("Enter code: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return "", false
	}
	code := strings.TrimSpace(scanner.Text())
	return code, code != ""
}

func (p *consoleCodeProvider) Stop() {
	p.logger.Debug("2fa console: stopping")
}

// restCodeProvider polls an external mailbox-watcher service that exposes
// the forwarded code over two endpoints: /clear resets the slot, /get
// returns {"data": {"code": "123456"}} once the email lands.
type restCodeProvider struct {
	cfg    *config.Config
	logger Logger
	http   *http.Client
}

func newRestCodeProvider(cfg *config.Config, logger Logger) *restCodeProvider {
	return &restCodeProvider{
		cfg:    cfg,
		logger: logger,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *restCodeProvider) endpoint(op string) string {
	username := p.cfg.TFA.Username
	if username == "" {
		username = p.cfg.Cloud.Username
	}
	return fmt.Sprintf("%s/%s?email=%s&token=%s",
		p.cfg.TFA.Host, op, url.QueryEscape(username), url.QueryEscape(p.cfg.TFA.Password))
}

func (p *restCodeProvider) Start() bool {
	if p.cfg.TFA.Host == "" || p.cfg.TFA.Password == "" {
		p.logger.Warn("2fa rest-api: host or token not configured")
		return false
	}
	resp, err := p.http.Get(p.endpoint("clear"))
	if err != nil {
		p.logger.Warn("2fa rest-api: clear failed", "error", err)
		return true // stale slot is survivable, the poll may still work
	}
	resp.Body.Close()
	return true
}

func (p *restCodeProvider) Get() (string, bool) {
	deadline := time.Now().Add(time.Duration(p.cfg.TFA.TotalTimeout) * time.Second)
	for {
		time.Sleep(time.Duration(p.cfg.TFA.Timeout) * time.Second)
		if time.Now().After(deadline) {
			return "", false
		}

		resp, err := p.http.Get(p.endpoint("get"))
		if err != nil {
			p.logger.Debug("2fa rest-api: poll failed", "error", err)
			continue
		}
		var body struct {
			Data struct {
				Code string `json:"code"`
			} `json:"data"`
		}
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			continue
		}
		if body.Data.Code != "" {
			p.logger.Debug("2fa rest-api: code received")
			return body.Data.Code, true
		}
	}
}

func (p *restCodeProvider) Stop() {
	p.logger.Debug("2fa rest-api: stopping")
}
