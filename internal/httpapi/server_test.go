package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/erauner12/trendy-sync/internal/syncengine"
)

type fakeEngine struct {
	syncing   bool
	report    *syncengine.Report
	syncErr   error
	status    *syncengine.Status
	statusErr error
	resets    int
}

func (f *fakeEngine) Sync(ctx context.Context) (*syncengine.Report, error) {
	return f.report, f.syncErr
}

func (f *fakeEngine) Status(ctx context.Context) (*syncengine.Status, error) {
	return f.status, f.statusErr
}

func (f *fakeEngine) IsSyncing() bool { return f.syncing }
func (f *fakeEngine) ResetBreaker()   { f.resets++ }

func newTestServer(t *testing.T, eng Engine) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer((&Server{Engine: eng}).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestGetStatus(t *testing.T) {
	eng := &fakeEngine{status: &syncengine.Status{
		State:            syncengine.StateIdle,
		Cursor:           42,
		PendingMutations: 3,
	}}
	srv := newTestServer(t, eng)

	resp, err := http.Get(srv.URL + "/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got syncengine.Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Cursor != 42 || got.PendingMutations != 3 || got.State != syncengine.StateIdle {
		t.Fatalf("status = %+v", got)
	}
}

func TestTriggerSync(t *testing.T) {
	eng := &fakeEngine{report: &syncengine.Report{
		Mode:    syncengine.ModeIncremental,
		Flushed: 2,
		Applied: 5,
	}}
	srv := newTestServer(t, eng)

	resp, err := http.Post(srv.URL+"/v1/sync", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got syncengine.Report
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Flushed != 2 || got.Applied != 5 {
		t.Fatalf("report = %+v", got)
	}
}

func TestTriggerSyncWhileRunning(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{syncing: true})

	resp, err := http.Post(srv.URL+"/v1/sync", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 while a pass is in flight", resp.StatusCode)
	}
}

func TestTriggerSyncErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"breaker open", syncengine.BreakerOpenError{Remaining: 30 * time.Second}, http.StatusServiceUnavailable},
		{"coalesced", syncengine.ErrSyncInProgress, http.StatusAccepted},
		{"health check failed", syncengine.HealthCheckError{Err: context.DeadlineExceeded}, http.StatusBadGateway},
		{"storage failure", syncengine.StorageError{Op: "flush", Err: context.Canceled}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeEngine{syncErr: tt.err})
			resp, err := http.Post(srv.URL+"/v1/sync", "application/json", nil)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestResetBreaker(t *testing.T) {
	eng := &fakeEngine{}
	srv := newTestServer(t, eng)

	resp, err := http.Post(srv.URL+"/v1/breaker/reset", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if eng.resets != 1 {
		t.Fatalf("resets = %d, want 1", eng.resets)
	}
}

func TestCorrelationIDEchoed(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{status: &syncengine.Status{}})

	req, _ := http.NewRequest("GET", srv.URL+"/v1/status", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Correlation-ID"); got != "corr-123" {
		t.Fatalf("X-Correlation-ID = %q, want echoed corr-123", got)
	}

	// Generated when the client sends none.
	resp2, err := http.Get(srv.URL + "/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.Header.Get("X-Correlation-ID") == "" {
		t.Fatal("no correlation ID generated")
	}
}
