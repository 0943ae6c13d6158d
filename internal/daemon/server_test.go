package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/g960059/pnp/internal/api"
	"github.com/g960059/pnp/internal/config"
	"github.com/g960059/pnp/internal/host"
	"github.com/g960059/pnp/internal/model"
	"github.com/g960059/pnp/internal/target"
)

func newTestServer(t *testing.T, cfg config.Config) (*Server, *host.Recorder, *memJournal) {
	t.Helper()
	rec := host.NewRecorder()
	rec.SetInventory(focusedOn("%1"), twoTabs())
	loop, journal := startLoop(t, rec, nil)
	return NewServer(cfg, loop, journal, target.NewHealthTracker(cfg), nil), rec, journal
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var resp api.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

func TestHealthEndpointOverUDS(t *testing.T) {
	tmp := t.TempDir()
	socketPath := filepath.Join(tmp, "pnpd.sock")
	cfg := config.DefaultConfig()
	cfg.SocketPath = socketPath

	srv, _, _ := newTestServer(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	waitForSocket(t, socketPath, errCh)

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}}
	resp, err := client.Get("http://unix/v1/health")
	if err != nil {
		t.Fatalf("get health over uds: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if payload.SchemaVersion != "v1" || payload.Status != "ok" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Permission != string(model.PermissionGranted) || payload.Target != "local" || payload.TargetHealth != "ok" {
		t.Fatalf("unexpected health details: %+v", payload)
	}
	st, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 socket, got %v", st.Mode().Perm())
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Fatalf("server error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for server shutdown")
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Fatalf("expected socket removed on shutdown, got %v", err)
	}
}

func TestStartFailsWhenSocketPathIsRegularFile(t *testing.T) {
	tmp := t.TempDir()
	socketPath := filepath.Join(tmp, "pnpd.sock")
	if err := os.WriteFile(socketPath, []byte("x"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.SocketPath = socketPath
	srv, _, _ := newTestServer(t, cfg)
	err := srv.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "not unix socket") {
		t.Fatalf("expected not unix socket error, got %v", err)
	}
}

func TestSecondServerCannotAcquireLock(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.SocketPath = filepath.Join(tmp, "pnpd.sock")
	first, _, _ := newTestServer(t, cfg)
	if err := first.acquireLock(); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	defer first.releaseLock() //nolint:errcheck

	second, _, _ := newTestServer(t, cfg)
	err := second.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected already running error, got %v", err)
	}
}

func TestPipeEndpoint(t *testing.T) {
	srv, rec, _ := newTestServer(t, config.DefaultConfig())

	rr := do(t, srv, http.MethodPost, "/v1/pipe", `{"request_id":"r1","payload":"pick"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp api.PipeResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode pipe response: %v", err)
	}
	if resp.RequestID != "r1" || !resp.Accepted || len(resp.Executed) != 1 {
		t.Fatalf("unexpected pipe response: %+v", resp)
	}
	if resp.Executed[0].Outcome != "picked" || resp.Executed[0].Panes[0] != "%1" {
		t.Fatalf("unexpected executed item: %+v", resp.Executed[0])
	}
	if len(resp.State.Picked) != 1 || resp.State.Permission != "granted" {
		t.Fatalf("unexpected state: %+v", resp.State)
	}
	found := false
	for _, c := range rec.Calls() {
		if c == "hide-pane %1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected hide-pane call, got %v", rec.Calls())
	}
}

func TestPipeEndpointErrors(t *testing.T) {
	srv, _, _ := newTestServer(t, config.DefaultConfig())

	rr := do(t, srv, http.MethodPost, "/v1/pipe", `{"payload":"Pick"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := decodeError(t, rr).Error.Code; got != model.ErrCommandUnknown {
		t.Fatalf("expected %s, got %s", model.ErrCommandUnknown, got)
	}

	rr = do(t, srv, http.MethodPost, "/v1/pipe", `{"payload":"pick","extra":1}`)
	if rr.Code != http.StatusBadRequest || decodeError(t, rr).Error.Code != model.ErrRefInvalid {
		t.Fatalf("expected invalid request error, got %d", rr.Code)
	}

	rr = do(t, srv, http.MethodGet, "/v1/pipe", "")
	if rr.Code != http.StatusMethodNotAllowed || rr.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected 405 with Allow header, got %d", rr.Code)
	}
}

func TestPipeEndpointPermissionDenied(t *testing.T) {
	rec := host.NewRecorder()
	rec.Permission = model.PermissionDenied
	loop, _ := startLoop(t, rec, nil)
	cfg := config.DefaultConfig()
	srv := NewServer(cfg, loop, nil, nil, nil)

	var body bytes.Buffer
	_ = json.NewEncoder(&body).Encode(api.PipeRequest{Payload: "place"})
	rr := do(t, srv, http.MethodPost, "/v1/pipe", body.String())
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if got := decodeError(t, rr).Error.Code; got != model.ErrPermissionDenied {
		t.Fatalf("expected %s, got %s", model.ErrPermissionDenied, got)
	}

	rr = do(t, srv, http.MethodGet, "/v1/history", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without journal, got %d", rr.Code)
	}
}

func TestRenderEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, config.DefaultConfig())
	do(t, srv, http.MethodPost, "/v1/pipe", `{"payload":"pick"}`)

	rr := do(t, srv, http.MethodGet, "/v1/render?rows=1&cols=40", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp api.RenderResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode render response: %v", err)
	}
	if resp.Text != "Picked panes: [%1]" {
		t.Fatalf("unexpected render text: %q", resp.Text)
	}

	rr = do(t, srv, http.MethodGet, "/v1/render?rows=-1", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative rows, got %d", rr.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, config.DefaultConfig())
	do(t, srv, http.MethodPost, "/v1/pipe", `{"payload":"pick"}`)
	do(t, srv, http.MethodPost, "/v1/pipe", `{"payload":"place"}`)

	rr := do(t, srv, http.MethodGet, "/v1/history?limit=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var env api.HistoryEnvelope
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(env.Operations) != 1 || env.Operations[0].Command != "place" {
		t.Fatalf("expected latest place operation, got %+v", env.Operations)
	}
	if env.Operations[0].TabPosition == nil || *env.Operations[0].TabPosition != 1 {
		t.Fatalf("expected tab position 1, got %+v", env.Operations[0])
	}

	rr = do(t, srv, http.MethodGet, "/v1/history?limit=abc", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid limit, got %d", rr.Code)
	}
}

func TestHistoryEndpointLooksUpOperationByID(t *testing.T) {
	srv, _, journal := newTestServer(t, config.DefaultConfig())
	do(t, srv, http.MethodPost, "/v1/pipe", `{"request_id":"req-7","payload":"pick"}`)
	ops, _ := journal.ListOperations(context.Background(), 1)
	if len(ops) != 1 {
		t.Fatalf("expected one journaled operation, got %+v", ops)
	}

	rr := do(t, srv, http.MethodGet, "/v1/history?id="+ops[0].OperationID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var env api.HistoryEnvelope
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(env.Operations) != 1 || env.Operations[0].RequestID != "req-7" || env.Operations[0].Command != "pick" {
		t.Fatalf("unexpected operation: %+v", env.Operations)
	}

	rr = do(t, srv, http.MethodGet, "/v1/history?id=nope", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", rr.Code)
	}
	var er api.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&er); err != nil || er.Error.Code != model.ErrNotFound {
		t.Fatalf("expected E_NOT_FOUND, got %+v (%v)", er, err)
	}
}

func waitForSocket(t *testing.T, path string, errCh <-chan error) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-errCh:
			if err == nil || err == context.Canceled {
				t.Fatalf("server exited before socket creation: %v", err)
			}
			if isUDSUnsupported(err) {
				t.Skipf("unix domain sockets unavailable in this environment: %v", err)
			}
			t.Fatalf("server start failed before socket creation: %v", err)
		default:
		}
		if st, err := os.Stat(path); err == nil {
			if st.Mode()&os.ModeSocket != 0 {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("socket was not created: %s", path)
}

func isUDSUnsupported(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "operation not permitted") || strings.Contains(msg, "address family not supported")
}
