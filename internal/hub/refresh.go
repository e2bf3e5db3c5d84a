package hub

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/reedholm/skymirror/internal/device"
)

// refresher runs the periodic maintenance cycles. The event channel is
// the primary state source; these cycles cover what it cannot: silent
// session decay, missed deltas and day rollover.
type refresher struct {
	hub  *Controller
	cron *cron.Cron

	mu      sync.Mutex
	lastDay int
}

func newRefresher(h *Controller) *refresher {
	return &refresher{hub: h, cron: cron.New()}
}

func (r *refresher) start() {
	cfg := r.hub.cfg.Refresh
	r.mu.Lock()
	r.lastDay = time.Now().YearDay()
	r.mu.Unlock()

	r.cron.AddFunc(fmt.Sprintf("@every %ds", cfg.FastInterval), r.fast)
	r.cron.AddFunc(fmt.Sprintf("@every %ds", cfg.SlowInterval), r.slow)
	if cfg.DevicesEvery > 0 {
		r.cron.AddFunc(fmt.Sprintf("@every %dh", cfg.DevicesEvery), r.hub.reloadDevices)
	}
	if cfg.ModesEvery > 0 {
		r.cron.AddFunc(fmt.Sprintf("@every %ds", cfg.ModesEvery), r.reloadModes)
	}
	r.cron.Start()
}

func (r *refresher) stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// fast is the seconds-scale cycle: persist state, ping the bases that
// tolerate it, and reload the media library when the day rolls over so
// captured-today counts reset.
func (r *refresher) fast() {
	r.hub.saveState()

	for _, b := range r.hub.BaseStations() {
		if b.Has(device.CapPing) {
			b.Ping()
		}
	}

	day := time.Now().YearDay()
	r.mu.Lock()
	rolled := day != r.lastDay
	r.lastDay = day
	r.mu.Unlock()
	if rolled {
		r.hub.log.Info("day changed, reloading media library")
		r.hub.media.Refresh()
	}
}

// slow is the minutes-scale cycle: full state queries against older hubs
// and ambient history pulls from cameras that carry sensors.
func (r *refresher) slow() {
	for _, b := range r.hub.BaseStations() {
		b.UpdateStates()
	}
	for _, c := range r.hub.Cameras() {
		c.RequestAmbientHistory()
	}
}

// reloadModes re-reads mode tables and active modes everywhere.
func (r *refresher) reloadModes() {
	for _, b := range r.hub.BaseStations() {
		b.Modes().UpdateModes()
		b.Modes().UpdateMode()
	}
	for _, l := range r.hub.Locations() {
		l.Modes().UpdateModes()
		l.Modes().UpdateMode()
	}
}
