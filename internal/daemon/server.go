package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/g960059/pnp/internal/api"
	"github.com/g960059/pnp/internal/config"
	"github.com/g960059/pnp/internal/db"
	"github.com/g960059/pnp/internal/model"
	"github.com/g960059/pnp/internal/picker"
	"github.com/g960059/pnp/internal/target"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
	maxPipeBodyBytes    = 4 << 10
)

// History reads journaled operations.
type History interface {
	ListOperations(ctx context.Context, limit int) ([]model.Operation, error)
	GetOperation(ctx context.Context, operationID string) (model.Operation, error)
}

type Server struct {
	cfg         config.Config
	httpSrv     *http.Server
	listener    net.Listener
	lockFile    *os.File
	loop        *Loop
	history     History
	health      *target.HealthTracker
	target      model.Target
	logger      *slog.Logger
	mu          sync.Mutex
	shutdown    sync.Once
	shutdownErr error
}

func NewServer(cfg config.Config, loop *Loop, history History, health *target.HealthTracker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	mux := http.NewServeMux()
	s := &Server{
		cfg:     cfg,
		loop:    loop,
		history: history,
		health:  health,
		target:  target.FromConfig(cfg),
		logger:  logger,
		httpSrv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	mux.HandleFunc("/v1/health", s.healthHandler)
	mux.HandleFunc("/v1/pipe", s.pipeHandler)
	mux.HandleFunc("/v1/render", s.renderHandler)
	mux.HandleFunc("/v1/history", s.historyHandler)
	return s
}

// Handler exposes the API mux for in-process use.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := s.acquireLock(); err != nil {
		return err
	}
	if st, err := os.Lstat(s.cfg.SocketPath); err == nil {
		if st.Mode()&os.ModeSocket == 0 {
			s.releaseLock() //nolint:errcheck
			return fmt.Errorf("socket path exists and is not unix socket: %s", s.cfg.SocketPath)
		}
		if err := os.Remove(s.cfg.SocketPath); err != nil {
			s.releaseLock() //nolint:errcheck
			return fmt.Errorf("remove stale socket: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		s.releaseLock() //nolint:errcheck
		return fmt.Errorf("stat socket path: %w", err)
	}
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		s.releaseLock() //nolint:errcheck
		return fmt.Errorf("listen uds: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		ln.Close()      //nolint:errcheck
		s.releaseLock() //nolint:errcheck
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("listening", "socket", s.cfg.SocketPath)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve uds: %w", err)
		}
		return nil
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		var errs []error
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		s.mu.Lock()
		listener := s.listener
		s.listener = nil
		s.mu.Unlock()
		if listener != nil {
			if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if s.cfg.SocketPath != "" {
			if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		if err := s.releaseLock(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			s.shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return s.shutdownErr
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	resp := api.HealthResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Status:        "ok",
		Target:        s.target.TargetID,
		TargetHealth:  string(model.TargetHealthOK),
		Backend:       s.cfg.Backend,
	}
	if s.health != nil {
		resp.TargetHealth = string(s.health.Current())
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	snap, err := s.loop.State(ctx)
	if err != nil {
		resp.Status = "degraded"
	} else {
		resp.Permission = string(snap.Permission)
	}
	if resp.TargetHealth != string(model.TargetHealthOK) {
		resp.Status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) pipeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req api.PipeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPipeBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid pipe request")
		return
	}
	res, err := s.loop.Pipe(r.Context(), strings.TrimSpace(req.RequestID), req.Payload)
	if err != nil {
		s.writePipeError(w, err)
		return
	}
	executed := make([]api.OperationItem, 0, len(res.Executed))
	for _, op := range res.Executed {
		executed = append(executed, toOperationItem(op))
	}
	s.writeJSON(w, http.StatusOK, api.PipeResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		RequestID:     res.RequestID,
		Accepted:      true,
		Executed:      executed,
		State:         toStateResponse(res.Snapshot),
	})
}

func (s *Server) writePipeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, picker.ErrUnknownCommand):
		s.writeError(w, http.StatusBadRequest, model.ErrCommandUnknown, err.Error())
	case errors.Is(err, picker.ErrPermissionDenied):
		s.writeError(w, http.StatusForbidden, model.ErrPermissionDenied, err.Error())
	case errors.Is(err, ErrLoopStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusServiceUnavailable, model.ErrUnavailable, "picker unavailable")
	default:
		s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, err.Error())
	}
}

func (s *Server) renderHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	rows, err := parseDimension(r.URL.Query().Get("rows"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid rows")
		return
	}
	cols, err := parseDimension(r.URL.Query().Get("cols"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid cols")
		return
	}
	text, snap, err := s.loop.Render(r.Context(), rows, cols)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, model.ErrUnavailable, "picker unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, api.RenderResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Rows:          rows,
		Cols:          cols,
		Text:          text,
		State:         toStateResponse(snap),
	})
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, model.ErrUnavailable, "journal disabled")
		return
	}
	if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
		s.operationHandler(w, r, id)
		return
	}
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "invalid limit")
			return
		}
		limit = n
	}
	ops, err := s.history.ListOperations(r.Context(), limit)
	if err != nil {
		s.logger.Error("list operations", "error", err)
		s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, "failed to read journal")
		return
	}
	items := make([]api.OperationItem, 0, len(ops))
	for _, op := range ops {
		items = append(items, toOperationItem(op))
	}
	s.writeJSON(w, http.StatusOK, api.HistoryEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Operations:    items,
	})
}

// operationHandler answers /v1/history?id=... with a single-item envelope.
func (s *Server) operationHandler(w http.ResponseWriter, r *http.Request, id string) {
	op, err := s.history.GetOperation(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, model.ErrNotFound, fmt.Sprintf("operation %s not found", id))
		return
	}
	if err != nil {
		s.logger.Error("get operation", "operation_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, "failed to read journal")
		return
	}
	s.writeJSON(w, http.StatusOK, api.HistoryEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Operations:    []api.OperationItem{toOperationItem(op)},
	})
}

func parseDimension(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid dimension %q", raw)
	}
	return n, nil
}

func toOperationItem(op model.Operation) api.OperationItem {
	panes := make([]string, 0, len(op.Panes))
	for _, p := range op.Panes {
		panes = append(panes, p.String())
	}
	return api.OperationItem{
		OperationID: op.OperationID,
		RequestID:   op.RequestID,
		InstanceID:  op.InstanceID,
		Command:     string(op.Command),
		Outcome:     string(op.Outcome),
		Panes:       panes,
		TabPosition: op.TabPosition,
		CreatedAt:   op.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toStateResponse(snap Snapshot) api.StateResponse {
	picked := make([]string, 0, len(snap.Picked))
	for _, p := range snap.Picked {
		picked = append(picked, p.String())
	}
	resp := api.StateResponse{
		InstanceID:     snap.InstanceID,
		Permission:     string(snap.Permission),
		Picked:         picked,
		InventoryReady: snap.InventoryReady,
		Buffered:       snap.Buffered,
		Visible:        snap.Visible,
	}
	if snap.HasPending {
		resp.Pending = string(snap.Pending)
	}
	return resp
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	resp := api.ErrorResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Error: api.APIError{
			Code:    code,
			Message: msg,
		},
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allow ...string) {
	if len(allow) > 0 {
		w.Header().Set("Allow", strings.Join(allow, ", "))
	}
	s.writeError(w, http.StatusMethodNotAllowed, model.ErrRefInvalid, "method not allowed")
}

func (s *Server) acquireLock() error {
	lockPath := s.cfg.SocketPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("daemon already running")
	}
	s.mu.Lock()
	s.lockFile = f
	s.mu.Unlock()
	return nil
}

func (s *Server) releaseLock() error {
	s.mu.Lock()
	f := s.lockFile
	s.lockFile = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}
