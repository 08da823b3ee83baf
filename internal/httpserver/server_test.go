package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/crisisops/floodwatch/internal/models"
)

type fakeBackend struct {
	pingErr error
}

func (f *fakeBackend) ActiveIncidents(context.Context) ([]models.GeocodedEvent, error) {
	return nil, nil
}

func (f *fakeBackend) ToggleDispatch(context.Context, int64) (string, error) {
	return "", models.ErrNotFound
}

func (f *fakeBackend) CompleteIncident(context.Context, int64) error {
	return models.ErrNotFound
}

func (f *fakeBackend) Ping(context.Context) error { return f.pingErr }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	be := &fakeBackend{}
	w := get(t, NewRouter(be, be), "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestReady(t *testing.T) {
	be := &fakeBackend{}
	r := NewRouter(be, be)

	if w := get(t, r, "/ready"); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	be.pingErr = errors.New("dial tcp: connection refused")
	if w := get(t, r, "/ready"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestMetricsExposed(t *testing.T) {
	be := &fakeBackend{}
	w := get(t, NewRouter(be, be), "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatal("expected default process metrics in exposition")
	}
}
