package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tgalerter/internal/control"
	"tgalerter/internal/event"
	"tgalerter/internal/storage"
	"tgalerter/internal/subscription"
	"tgalerter/pkg/logx"
)

func newMux(t *testing.T, ready ReadyFunc, token string) (http.Handler, *subscription.Memory) {
	t.Helper()
	reg := subscription.NewMemory()
	svc := control.New(reg, nil, nil, logx.Nop())
	return NewMux(svc, ready, token, logx.Nop()), reg
}

func do(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestProbes(t *testing.T) {
	t.Parallel()
	h, _ := newMux(t, nil, "")
	if rr := do(h, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("/healthz status=%d", rr.Code)
	}
	if rr := do(h, http.MethodGet, "/readyz", ""); rr.Code != http.StatusOK {
		t.Fatalf("/readyz status=%d", rr.Code)
	}

	notReady, _ := newMux(t, func() error { return errors.New("telegram not started") }, "")
	rr := do(notReady, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz status=%d, want 503", rr.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.Error != "telegram not started" {
		t.Fatalf("body = %s (%v)", rr.Body.String(), err)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	t.Parallel()
	h, reg := newMux(t, nil, "")

	rr := do(h, http.MethodPut, "/subscriptions/-100:4/action", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !reg.IsSubscribed("-100:4", event.TypeAction) {
		t.Fatal("registry not updated")
	}

	rr = do(h, http.MethodGet, "/subscriptions/-100:4", "")
	var got subscriptionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Destination != "-100:4" || len(got.Types) != 1 || got.Types[0] != "ACTION" {
		t.Fatalf("GET = %+v", got)
	}

	rr = do(h, http.MethodDelete, "/subscriptions/-100:4/ACTION", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("DELETE status=%d", rr.Code)
	}
	if reg.Len() != 0 {
		t.Fatalf("registry Len = %d after unsubscribe", reg.Len())
	}
}

func TestSubscriptionBadInput(t *testing.T) {
	t.Parallel()
	h, _ := newMux(t, nil, "")
	tests := []struct {
		method, path string
	}{
		{http.MethodGet, "/subscriptions/abc"},
		{http.MethodPut, "/subscriptions/0/ACTION"},
		{http.MethodPut, "/subscriptions/5/bad-type"},
		{http.MethodGet, "/audit?limit=0"},
	}
	for _, tt := range tests {
		if rr := do(h, tt.method, tt.path, ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s %s status=%d, want 400", tt.method, tt.path, rr.Code)
		}
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()
	h, _ := newMux(t, nil, "s3cret")
	if rr := do(h, http.MethodGet, "/subscriptions/5", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token status=%d, want 401", rr.Code)
	}
	if rr := do(h, http.MethodGet, "/subscriptions/5", "wrong"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status=%d, want 401", rr.Code)
	}
	if rr := do(h, http.MethodGet, "/subscriptions/5", "s3cret"); rr.Code != http.StatusOK {
		t.Fatalf("good token status=%d", rr.Code)
	}
	// probes stay open
	if rr := do(h, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("/healthz status=%d", rr.Code)
	}
}

type fakeAudit struct{ entries []storage.AuditEntry }

func (f *fakeAudit) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error) {
	out := make([]storage.AuditEntry, 0, limit)
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.entries[i])
	}
	return out, nil
}

func (f *fakeAudit) Close() error { return nil }

func TestAuditEndpoint(t *testing.T) {
	t.Parallel()
	audit := &fakeAudit{}
	svc := control.New(subscription.NewMemory(), audit, nil, logx.Nop())
	h := NewMux(svc, nil, "", logx.Nop())

	do(h, http.MethodPut, "/subscriptions/9/STOP", "")
	do(h, http.MethodDelete, "/subscriptions/9/STOP", "")

	rr := do(h, http.MethodGet, "/audit?limit=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var body struct {
		Entries []storage.AuditEntry `json:"entries"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Entries) != 1 || body.Entries[0].Action != control.ActionUnsubscribe || body.Entries[0].Source != control.SourceHTTP {
		t.Fatalf("entries = %+v", body.Entries)
	}
}

func TestMetricsUseRoutePattern(t *testing.T) {
	h, _ := newMux(t, nil, "")
	do(h, http.MethodGet, "/subscriptions/777", "")

	rr := do(h, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", rr.Code)
	}
	mrr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(mrr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := mrr.Body.Bytes()
	if !bytes.Contains(body, []byte(`path="/subscriptions/{destination}"`)) {
		t.Fatal("metrics should be labelled by route pattern")
	}
	if bytes.Contains(body, []byte(`path="/subscriptions/777"`)) {
		t.Fatal("raw destination leaked into metric labels")
	}
}

func TestProfilerMount(t *testing.T) {
	t.Parallel()
	svc := control.New(subscription.NewMemory(), nil, nil, logx.Nop())

	off := NewMux(svc, nil, "", logx.Nop())
	if rr := do(off, http.MethodGet, "/debug/pprof/", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("profiler off status=%d, want 404", rr.Code)
	}

	on := NewMux(svc, nil, "tok", logx.Nop(), WithProfiler(true))
	if rr := do(on, http.MethodGet, "/debug/pprof/", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("profiler without token status=%d, want 401", rr.Code)
	}
	if rr := do(on, http.MethodGet, "/debug/pprof/", "tok"); rr.Code != http.StatusOK {
		t.Fatalf("profiler status=%d", rr.Code)
	}
}
