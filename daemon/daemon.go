// Package daemon is the local control plane: it owns the backend process
// supervisor and the request registry, reacts to configuration changes, and
// serves a loopback control API bridging the UI surface to the backend.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	msconsole "github.com/msconsole/msconsole-go"
	"github.com/msconsole/msconsole-go/config"
	"github.com/msconsole/msconsole-go/supervisor"
)

// DefaultListen is the control API's loopback address.
const DefaultListen = "127.0.0.1:8766"

// Config holds configuration for the daemon.
type Config struct {
	Listen string

	// ManifestPath overrides where backend.yaml is looked up. Defaults to
	// backend.yaml in the config directory.
	ManifestPath string

	// Watch enables restarting the backend when connection-relevant
	// configuration changes.
	Watch bool

	Manager *config.Manager
	Logger  *slog.Logger
}

// Daemon wires one supervisor, one registry and the config store behind a
// local HTTP control API.
type Daemon struct {
	cfg     Config
	logger  *slog.Logger
	manager *config.Manager
	client  *msconsole.Client
	sup     *supervisor.Supervisor
	reg     *msconsole.Registry
	hub     *hub
	server  *http.Server
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Backend supervisor.Status `json:"backend"`
	Config  ConfigSummary     `json:"config"`
}

// ConfigSummary is the redacted configuration the control API exposes.
// Credentials only ever appear in redacted form.
type ConfigSummary struct {
	Model        string `json:"model,omitempty"`
	BackendPort  int    `json:"backend_port"`
	APIKey       string `json:"api_key"`
	DatabaseHost string `json:"database_host,omitempty"`
	DatabaseName string `json:"database_name,omitempty"`
}

// LogsResponse is the body of GET /api/backend/logs.
type LogsResponse struct {
	Lines []string `json:"lines"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Outcome    string `json:"outcome"`
	Ok         bool   `json:"ok"`
	StatusCode int    `json:"status_code,omitempty"`
	Attempts   int    `json:"attempts"`
	ElapsedMs  int64  `json:"elapsed_ms"`
}

// New creates the daemon, resolving the backend but not starting it.
func New(cfg Config) (*Daemon, error) {
	if cfg.Manager == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	port := cfg.Manager.BackendPort()
	client := msconsole.New(
		msconsole.WithPort(port),
		msconsole.WithLogger(cfg.Logger),
	)

	backend, err := resolveBackend(cfg, port)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:     cfg,
		logger:  cfg.Logger,
		manager: cfg.Manager,
		client:  client,
		reg:     msconsole.NewRegistry(client),
		hub:     newHub(cfg.Logger),
	}

	sup, err := supervisor.New(supervisor.Config{
		Command:      backend.Command,
		Args:         backend.Args,
		Dir:          backend.Dir,
		Port:         port,
		ReadyMarkers: backend.ReadyMarkers,
		UsePTY:       cfg.Manager.Get().UsePTY,
		Prober:       client,
		OnState:      d.hub.broadcastState,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	d.sup = sup

	return d, nil
}

// resolveBackend finds the launchable backend: an explicit interpreter
// override from config wins, otherwise the manifest drives resolution.
func resolveBackend(cfg Config, port int) (*supervisor.Backend, error) {
	manifestPath := cfg.ManifestPath
	if manifestPath == "" {
		manifestPath = cfg.Manager.Get().ManifestPath
	}
	if manifestPath == "" {
		dir, err := config.Dir()
		if err != nil {
			return nil, err
		}
		manifestPath = dir + "/backend.yaml"
	}

	m, err := supervisor.LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	if interp := cfg.Manager.Get().Interpreter; interp != "" {
		m.Interpreters = []string{interp}
	}

	backend, err := supervisor.ResolveBackend(m, cfg.Logger)
	if err != nil {
		return nil, err
	}
	if backend.Port == 0 {
		backend.Port = port
	}
	return backend, nil
}

// Run starts the backend, the config watcher and the control API, then
// blocks until ctx is cancelled. Backend readiness is advisory: a Degraded
// start is logged and served, never fatal.
func (d *Daemon) Run(ctx context.Context) error {
	env, err := d.manager.BackendEnv()
	if err != nil {
		d.logger.Warn("backend environment incomplete, starting anyway", "error", err)
	} else {
		d.sup.SetEnv(env)
	}

	state, err := d.sup.Start(ctx)
	switch {
	case err != nil:
		d.logger.Error("backend failed to start", "error", err)
	case state == supervisor.StateDegraded:
		d.logger.Warn("backend started but readiness is unverified")
	default:
		d.logger.Info("backend ready")
	}

	if d.cfg.Watch {
		if err := d.watchConfig(ctx); err != nil {
			d.logger.Error("failed to watch config", "error", err)
		}
	}

	ln, err := net.Listen("tcp", d.cfg.Listen)
	if err != nil {
		d.stopBackend()
		return fmt.Errorf("failed to listen on %s: %w", d.cfg.Listen, err)
	}

	d.server = &http.Server{Handler: d.routes()}
	d.logger.Info("control API listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		d.stopBackend()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Error("failed to shut down control API", "error", err)
	}
	d.hub.closeAll()
	d.stopBackend()
	return nil
}

func (d *Daemon) stopBackend() {
	d.reg.Cancel()
	if err := d.sup.Stop(); err != nil {
		d.logger.Error("failed to stop backend", "error", err)
	}
}

// watchConfig restarts the backend when the connection fingerprint changes.
// Cosmetic edits to the config file do not bounce the process.
func (d *Daemon) watchConfig(ctx context.Context) error {
	fingerprint := d.manager.ConnectionFingerprint()

	_, err := d.manager.Watch(ctx, func() {
		if err := d.manager.Load(); err != nil {
			d.logger.Error("failed to reload config", "error", err)
			return
		}

		next := d.manager.ConnectionFingerprint()
		if next == fingerprint {
			d.logger.Debug("config changed but connection settings are unchanged")
			return
		}
		fingerprint = next

		d.logger.Info("connection settings changed, restarting backend")
		if env, err := d.manager.BackendEnv(); err == nil {
			d.sup.SetEnv(env)
		}
		if _, err := d.sup.Restart(ctx); err != nil {
			d.logger.Error("failed to restart backend", "error", err)
		}
	})
	return err
}

func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", d.handleStatus)
	mux.HandleFunc("POST /api/backend/start", d.handleStart)
	mux.HandleFunc("POST /api/backend/stop", d.handleStop)
	mux.HandleFunc("POST /api/backend/restart", d.handleRestart)
	mux.HandleFunc("GET /api/backend/logs", d.handleLogs)
	mux.HandleFunc("GET /api/health", d.handleHealth)
	mux.HandleFunc("POST /api/test-connection", d.handleTestConnection)
	mux.HandleFunc("GET /api/models", d.handleModels)
	mux.HandleFunc("POST /api/chat", d.handleChat)
	mux.HandleFunc("POST /api/chat/cancel", d.handleChatCancel)
	mux.HandleFunc("GET /api/events", d.hub.handleSubscribe)

	return mux
}

func (d *Daemon) statusResponse() StatusResponse {
	cfg := d.manager.Get()
	apiKey, _ := d.manager.APIKey()
	return StatusResponse{
		Backend: d.sup.Status(),
		Config: ConfigSummary{
			Model:        cfg.Model,
			BackendPort:  d.manager.BackendPort(),
			APIKey:       config.Redact(apiKey),
			DatabaseHost: cfg.Database.Host,
			DatabaseName: cfg.Database.Database,
		},
	}
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.statusResponse())
}

func (d *Daemon) handleStart(w http.ResponseWriter, r *http.Request) {
	if env, err := d.manager.BackendEnv(); err == nil {
		d.sup.SetEnv(env)
	}
	if _, err := d.sup.Start(r.Context()); err != nil && !errors.Is(err, supervisor.ErrAlreadyRunning) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, d.statusResponse())
}

func (d *Daemon) handleStop(w http.ResponseWriter, r *http.Request) {
	d.reg.Cancel()
	if err := d.sup.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, d.statusResponse())
}

func (d *Daemon) handleRestart(w http.ResponseWriter, r *http.Request) {
	d.reg.Cancel()
	if env, err := d.manager.BackendEnv(); err == nil {
		d.sup.SetEnv(env)
	}
	if _, err := d.sup.Restart(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, d.statusResponse())
}

func (d *Daemon) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LogsResponse{Lines: d.sup.RecentOutput()})
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	retries := 0
	delay := time.Second
	if v := r.URL.Query().Get("retries"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			retries = n
		}
	}
	if v := r.URL.Query().Get("delay_ms"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			delay = time.Duration(n) * time.Millisecond
		}
	}

	res := d.client.ProbeHealth(r.Context(), retries, delay)
	writeJSON(w, http.StatusOK, HealthResponse{
		Outcome:    res.Outcome.String(),
		Ok:         res.Ok(),
		StatusCode: res.StatusCode,
		Attempts:   res.Attempts,
		ElapsedMs:  res.Elapsed.Milliseconds(),
	})
}

func (d *Daemon) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	res, err := d.client.TestConnection(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (d *Daemon) handleModels(w http.ResponseWriter, r *http.Request) {
	res, err := d.client.Models(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleChat streams one chat exchange, forwarding every event to the
// websocket subscribers, and responds with the final resolution.
func (d *Daemon) handleChat(w http.ResponseWriter, r *http.Request) {
	var req msconsole.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid chat request: %w", err))
		return
	}
	if req.Model == "" {
		req.Model = d.manager.Model()
	}

	res := d.reg.StreamChat(r.Context(), req, d.hub.broadcastEvent)
	writeJSON(w, http.StatusOK, res)
}

func (d *Daemon) handleChatCancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.reg.Cancel())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
