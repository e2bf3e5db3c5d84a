// Package api provides the local HTTP status API and WebSocket feed.
//
// It exposes the mirrored device state, the arming surface and the
// recording index to host integrations on the local network. Reads come
// straight from the attribute store; the only writes are arming changes
// and snapshot requests, which queue through the same paths the rest of
// the process uses.
//
// The server follows the usual lifecycle:
//
//	server := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/reedholm/skymirror/internal/device"
	"github.com/reedholm/skymirror/internal/hub"
	"github.com/reedholm/skymirror/internal/infrastructure/config"
	"github.com/reedholm/skymirror/internal/infrastructure/logging"
	"github.com/reedholm/skymirror/internal/storage"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Mirror is what the server needs from the hub controller.
type Mirror interface {
	ConnectionState() string
	LastError() string

	Devices() []device.Device
	Cameras() []*device.Camera
	BaseStations() []*device.Base
	Locations() []*device.Location
	LookupDevice(id string) device.Device
	LookupCamera(idOrName string) *device.Camera
	LookupBase(idOrName string) *device.Base

	Recordings() []hub.Recording
	RecordingsFor(cameraID string) []hub.Recording

	Store() *storage.Store
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	Logger *logging.Logger
	Mirror Mirror
}

// Server is the local HTTP API server.
type Server struct {
	cfg    config.APIConfig
	logger *logging.Logger
	mirror Mirror
	server *http.Server
	wsHub  *Hub
	cancel context.CancelFunc
}

// New creates the server. It is not listening until Start.
func New(deps Deps) *Server {
	return &Server{
		cfg:    deps.Config,
		logger: deps.Logger,
		mirror: deps.Mirror,
	}
}

// Start builds the router, hooks the WebSocket feed into the attribute
// store and launches the listener in the background.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.wsHub = NewHub(s.logger)
	go s.wsHub.Run(srvCtx)
	s.mirror.Store().OnAnyChange(s.broadcastChange)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", err)
		}
	}()
	s.logger.Info("api server listening", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the listener and the WebSocket hub.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}
	return nil
}
