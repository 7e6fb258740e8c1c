package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openinbox/inboxd/internal/config"
	"github.com/openinbox/inboxd/internal/domain/action"
	"github.com/openinbox/inboxd/internal/storage/memory"
	"github.com/openinbox/inboxd/pkg/logger"
)

func testSettings() config.APISettings {
	return config.APISettings{
		RateLimit:     1000,
		RateBurst:     1000,
		ReadTimeout:   config.Duration(time.Second),
		WriteTimeout:  config.Duration(time.Second),
		IdleTimeout:   config.Duration(time.Second),
		ShutdownGrace: config.Duration(time.Second),
	}
}

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	log := logger.New("api-test", "error", bytes.NewBuffer(nil))
	return New(0, store, testSettings(), false, log), store
}

func doRequest(s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthIsOpen(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
}

func TestActionsRequireBearerCredential(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(s, http.MethodGet, "/actions", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("missing WWW-Authenticate header")
	}
}

func TestCreateListGetScopedToNamespace(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/actions", "ns1", map[string]any{
		"type":    action.TypeArchive,
		"payload": map[string]string{"thread_id": "t1"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", w.Code, w.Body.String())
	}
	var created action.Action
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.NamespaceID != "ns1" || created.Status != action.StatusPending {
		t.Fatalf("unexpected created action: %#v", created)
	}

	w = doRequest(s, http.MethodGet, "/actions", "ns1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var listed []action.Action
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one action, got %d", len(listed))
	}

	// Another namespace sees neither the list entry nor the resource.
	w = doRequest(s, http.MethodGet, "/actions", "ns2", nil)
	var other []action.Action
	_ = json.Unmarshal(w.Body.Bytes(), &other)
	if len(other) != 0 {
		t.Fatalf("namespace isolation broken: %#v", other)
	}
	w = doRequest(s, http.MethodGet, "/actions/"+created.ID, "ns2", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 across namespaces, got %d", w.Code)
	}

	w = doRequest(s, http.MethodGet, "/actions/"+created.ID, "ns1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
}

func TestCreateActionValidatesType(t *testing.T) {
	s, _ := newTestServer(t)
	w := doRequest(s, http.MethodPost, "/actions", "ns1", map[string]any{"payload": map[string]string{}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRetryOnlyFailedActions(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()

	act, err := store.CreateAction(ctx, action.Action{NamespaceID: "ns1", Type: action.TypeSend})
	if err != nil {
		t.Fatalf("create action: %v", err)
	}

	w := doRequest(s, http.MethodPost, "/actions/"+act.ID+"/retry", "ns1", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending action, got %d", w.Code)
	}

	if err := store.MarkFailed(ctx, act.ID, 5, "gave up"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	w = doRequest(s, http.MethodPost, "/actions/"+act.ID+"/retry", "ns1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("retry status = %d body=%s", w.Code, w.Body.String())
	}
	got, _ := store.GetAction(ctx, act.ID)
	if got.Status != action.StatusPending || got.Attempts != 0 {
		t.Fatalf("retry did not requeue: %#v", got)
	}
}

func TestRunReturnsBindErrorWhenPortTaken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	store := memory.New()
	log := logger.New("api-test", "error", bytes.NewBuffer(nil))
	s := New(port, store, testSettings(), false, log)

	err = s.Run(context.Background())
	if !errors.Is(err, ErrBind) {
		t.Fatalf("expected ErrBind, got %v", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := memory.New()
	log := logger.New("api-test", "error", bytes.NewBuffer(nil))

	// Pick a free port, release it, then bind the server there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := New(port, store, testSettings(), false, log)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- s.Run(ctx) }()

	// Wait for the loop to accept connections.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("run returned error on graceful shutdown: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not return after cancellation")
	}
}
