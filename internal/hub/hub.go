package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reedholm/skymirror/internal/backend"
	"github.com/reedholm/skymirror/internal/background"
	"github.com/reedholm/skymirror/internal/device"
	"github.com/reedholm/skymirror/internal/infrastructure/config"
	"github.com/reedholm/skymirror/internal/infrastructure/logging"
	"github.com/reedholm/skymirror/internal/storage"
)

// Controller is the process-wide coordinator. It implements device.Owner.
type Controller struct {
	cfg       *config.Config
	log       *logging.Logger
	store     *storage.Store
	snapshot  *storage.Snapshot
	be        *backend.Client
	sched     *background.Scheduler
	media     *Library
	refresh   *refresher
	telemetry *telemetry

	mu        sync.Mutex
	devices   []device.Device
	bases     []*device.Base
	cameras   []*device.Camera
	doorbells []*device.Doorbell
	lights    []*device.Light
	sensors   []*device.Sensor
	locations []*device.Location
	xCloudIDs []string
}

// New builds the controller and its service stack. Nothing touches the
// network until Run.
func New(cfg *config.Config, log *logging.Logger) *Controller {
	h := &Controller{
		cfg:   cfg,
		log:   log,
		store: storage.New(),
		sched: background.New(cfg.Worker.Pool),
	}
	h.store.SetLogger(log.With("component", "storage"))
	h.sched.SetLogger(log.With("component", "background"))

	h.be = backend.New(cfg, h.sched, backend.NewCodeProvider(cfg, log.With("component", "tfa")))
	h.be.SetLogger(log.With("component", "backend"))

	h.media = newLibrary(h)
	h.refresh = newRefresher(h)
	return h
}

// device.Owner implementation.

func (h *Controller) Store() *storage.Store            { return h.store }
func (h *Controller) Backend() *backend.Client         { return h.be }
func (h *Controller) Scheduler() *background.Scheduler { return h.sched }
func (h *Controller) Config() *config.Config           { return h.cfg }
func (h *Controller) Logger() device.Logger            { return h.log }

func (h *Controller) BaseStations() []*device.Base {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*device.Base(nil), h.bases...)
}

func (h *Controller) QueueMediaRefresh(cameraID string, delay time.Duration) {
	h.media.QueueRefresh(cameraID, delay)
}

// Media exposes the recording library.
func (h *Controller) Media() *Library { return h.media }

// ConnectionState reports the event channel lifecycle state.
func (h *Controller) ConnectionState() string { return string(h.be.State()) }

// LastError reports the most recent backend failure, empty when healthy.
func (h *Controller) LastError() string { return h.be.LastError() }

// Recordings returns the mirrored recording index, newest first.
func (h *Controller) Recordings() []Recording { return h.media.Videos() }

// RecordingsFor returns one camera's recordings, newest first.
func (h *Controller) RecordingsFor(cameraID string) []Recording {
	return h.media.VideosFor(cameraID)
}

// Run brings the mirror up and blocks until the context is cancelled.
func (h *Controller) Run(ctx context.Context) error {
	h.sched.Start()
	defer h.sched.Stop()

	if err := h.openSnapshot(); err != nil {
		return err
	}
	h.startTelemetry()

	if err := h.be.Login(ctx); err != nil {
		return fmt.Errorf("logging in: %w", err)
	}
	h.log.Info("logged in", "user", h.be.UserID())

	h.discoverLocations()
	if err := h.discoverDevices(); err != nil {
		return err
	}

	h.be.AddListener(h.dispatch)
	h.be.SetOnConnect(h.onConnect)
	if err := h.be.Start(ctx, h.cloudIDs()); err != nil {
		return fmt.Errorf("opening event channel: %w", err)
	}

	h.initialRefresh()
	h.refresh.start()

	<-ctx.Done()
	h.shutdown()
	return nil
}

func (h *Controller) openSnapshot() error {
	if h.cfg.State.Path == "" {
		return nil
	}
	snap, err := storage.OpenSnapshot(h.cfg.State.Path)
	if err != nil {
		return fmt.Errorf("opening state snapshot: %w", err)
	}
	snap.SetLogger(h.log.With("component", "storage"))
	h.snapshot = snap
	if err := snap.Load(h.store); err != nil {
		h.log.Warn("state snapshot load failed", "error", err)
	}
	return nil
}

// initialRefresh pulls the first full state after the channel opens:
// mode tables, active modes, base reachability and the media library.
// Synchronous mode runs it inline so startup completes with state loaded.
func (h *Controller) initialRefresh() {
	work := func() {
		for _, b := range h.BaseStations() {
			b.Modes().UpdateModes()
			b.Modes().UpdateMode()
			if b.Has(device.CapPing) {
				b.Ping()
			}
			b.UpdateStates()
		}
		for _, l := range h.Locations() {
			l.Modes().UpdateModes()
			l.Modes().UpdateMode()
		}
		h.media.Refresh()
	}
	if h.cfg.Cloud.Synchronous {
		work()
		return
	}
	h.sched.RunNow("initial-refresh", work)
}

// onConnect re-polls full state after every (re)connect; the channel only
// carries deltas, so anything missed while down is gone.
func (h *Controller) onConnect() {
	h.log.Info("channel up, refreshing state")
	for _, b := range h.BaseStations() {
		b.Modes().UpdateMode()
		b.UpdateStates()
	}
	for _, l := range h.Locations() {
		l.Modes().UpdateMode()
	}
}

// dispatch fans one channel event out to every device and location, in
// registration order. Devices filter on resource themselves.
func (h *Controller) dispatch(resource string, event map[string]any) {
	h.mu.Lock()
	devices := append([]device.Device(nil), h.devices...)
	locations := append([]*device.Location(nil), h.locations...)
	h.mu.Unlock()

	for _, d := range devices {
		d.HandleEvent(resource, event)
	}
	for _, l := range locations {
		l.HandleEvent(resource, event)
	}
}

func (h *Controller) shutdown() {
	h.refresh.stop()
	h.be.Stop()
	h.saveState()
	if h.telemetry != nil {
		h.telemetry.close()
	}
	if h.snapshot != nil {
		h.snapshot.Close()
	}
	h.log.Info("shut down")
}

// saveState persists the attribute store.
func (h *Controller) saveState() {
	if h.snapshot == nil {
		return
	}
	if err := h.snapshot.Save(h.store); err != nil {
		h.log.Warn("state snapshot save failed", "error", err)
	}
}

// Device lookups.

// Devices returns every known device.
func (h *Controller) Devices() []device.Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]device.Device(nil), h.devices...)
}

// Cameras returns every known camera.
func (h *Controller) Cameras() []*device.Camera {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*device.Camera(nil), h.cameras...)
}

// Doorbells returns every known doorbell.
func (h *Controller) Doorbells() []*device.Doorbell {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*device.Doorbell(nil), h.doorbells...)
}

// Lights returns every known light.
func (h *Controller) Lights() []*device.Light {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*device.Light(nil), h.lights...)
}

// Sensors returns every known sensor.
func (h *Controller) Sensors() []*device.Sensor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*device.Sensor(nil), h.sensors...)
}

// Locations returns the account's armable locations, empty on
// single-location accounts.
func (h *Controller) Locations() []*device.Location {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*device.Location(nil), h.locations...)
}

// LookupCamera finds a camera by device id or name, nil when unknown.
func (h *Controller) LookupCamera(idOrName string) *device.Camera {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.cameras {
		if c.DeviceID() == idOrName || c.Name() == idOrName {
			return c
		}
	}
	return nil
}

// LookupBase finds a base by device id or name, nil when unknown.
func (h *Controller) LookupBase(idOrName string) *device.Base {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range h.bases {
		if b.DeviceID() == idOrName || b.Name() == idOrName {
			return b
		}
	}
	return nil
}

// LookupDevice finds any device by id, nil when unknown.
func (h *Controller) LookupDevice(id string) device.Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range h.devices {
		if d.DeviceID() == id {
			return d
		}
	}
	return nil
}

func (h *Controller) cloudIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.xCloudIDs...)
}

// multiLocation reports whether arming is location-scoped on this
// account, which selects the v3 protocol for every base.
func (h *Controller) multiLocation() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.locations) > 1
}
