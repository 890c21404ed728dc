package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/juspay/hippocampus/internal/config"
	"github.com/juspay/hippocampus/pkg/hippocampus"
	"github.com/juspay/hippocampus/pkg/store"
)

// testServer bundles the handler with its backing memory and a mutable
// clock.
type testServer struct {
	handler http.Handler
	memory  *hippocampus.Memory
	now     *time.Time
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Store.Driver = "memory"
	if mutate != nil {
		mutate(&cfg)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	memory, err := hippocampus.Open(context.Background(), cfg,
		hippocampus.WithLogger(zap.NewNop()),
		hippocampus.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if err := memory.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})

	srv := New(memory, cfg, zap.NewNop())
	return &testServer{handler: srv.Router(), memory: memory, now: &now}
}

// do runs one request through the router and decodes the JSON reply
// into out when out is non-nil.
func (ts *testServer) do(t *testing.T, method, target, body string, out any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode body %q: %v", method, target, rec.Body.String(), err)
		}
	}
	return rec
}

type engramsReply struct {
	Engrams []*store.Engram `json:"engrams"`
	Count   int             `json:"count"`
}

type chroniclesReply struct {
	Chronicles []*store.Chronicle `json:"chronicles"`
	Count      int                `json:"count"`
}

func assertErrorEnvelope(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	var env errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("error body %q: %v", rec.Body.String(), err)
	}
	if env.Error.Status != status {
		t.Errorf("envelope status = %d, want %d", env.Error.Status, status)
	}
	if env.Error.Message == "" {
		t.Error("envelope message is empty")
	}
}

func TestEngramLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	var created engramsReply
	rec := ts.do(t, http.MethodPost, "/engrams",
		`{"ownerId":"u","content":"gophers hold an annual conference"}`, &created)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if created.Count != 1 || len(created.Engrams) != 1 {
		t.Fatalf("count = %d, engrams = %d, want 1", created.Count, len(created.Engrams))
	}
	id := created.Engrams[0].ID

	var got store.Engram
	rec = ts.do(t, http.MethodGet, "/engrams/"+id+"?ownerId=u", "", &got)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if got.Content != "gophers hold an annual conference" {
		t.Errorf("content = %q", got.Content)
	}

	var updated store.Engram
	rec = ts.do(t, http.MethodPatch, "/engrams/"+id+"?ownerId=u",
		`{"tags":["go","events"]}`, &updated)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if len(updated.Tags) != 2 {
		t.Errorf("tags = %v", updated.Tags)
	}

	var listed engramsReply
	rec = ts.do(t, http.MethodGet, "/engrams?ownerId=u", "", &listed)
	if rec.Code != http.StatusOK || listed.Count != 1 {
		t.Fatalf("list status = %d, count = %d", rec.Code, listed.Count)
	}

	rec = ts.do(t, http.MethodDelete, "/engrams/"+id+"?ownerId=u", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/engrams/"+id+"?ownerId=u", "", nil)
	assertErrorEnvelope(t, rec, http.StatusNotFound)
}

func TestAddValidationAndBadJSON(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/engrams", `{"content":"no owner"}`, nil)
	assertErrorEnvelope(t, rec, http.StatusBadRequest)

	rec = ts.do(t, http.MethodPost, "/engrams", `{not json`, nil)
	assertErrorEnvelope(t, rec, http.StatusBadRequest)

	rec = ts.do(t, http.MethodGet, "/engrams?ownerId=u&limit=abc", "", nil)
	assertErrorEnvelope(t, rec, http.StatusBadRequest)
}

func TestSearchEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, content := range []string{
		"the cat sat on the warm windowsill",
		"deploys happen every friday afternoon",
	} {
		rec := ts.do(t, http.MethodPost, "/engrams", `{"ownerId":"u","content":"`+content+`"}`, nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed %q: status = %d", content, rec.Code)
		}
	}

	var result struct {
		Hits []struct {
			Engram     *store.Engram `json:"engram"`
			FinalScore float64       `json:"finalScore"`
		} `json:"hits"`
		Total int    `json:"total"`
		Query string `json:"query"`
	}
	rec := ts.do(t, http.MethodPost, "/engrams/search",
		`{"ownerId":"u","query":"the cat sat on the warm windowsill","minFinalScore":0}`, &result)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if result.Total == 0 || len(result.Hits) == 0 {
		t.Fatalf("no hits: %+v", result)
	}
	if result.Hits[0].Engram.Content != "the cat sat on the warm windowsill" {
		t.Errorf("top hit = %q", result.Hits[0].Engram.Content)
	}
	if result.Query != "the cat sat on the warm windowsill" {
		t.Errorf("query echo = %q", result.Query)
	}
}

func TestChronicleLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	var first store.Chronicle
	rec := ts.do(t, http.MethodPost, "/chronicles",
		`{"ownerId":"u","entity":"server-1","attribute":"status","value":"healthy"}`, &first)
	if rec.Code != http.StatusCreated {
		t.Fatalf("record status = %d (body %s)", rec.Code, rec.Body.String())
	}

	*ts.now = ts.now.Add(time.Hour)
	var second store.Chronicle
	rec = ts.do(t, http.MethodPost, "/chronicles",
		`{"ownerId":"u","entity":"server-1","attribute":"status","value":"degraded"}`, &second)
	if rec.Code != http.StatusCreated {
		t.Fatalf("supersede status = %d", rec.Code)
	}

	var current store.Chronicle
	rec = ts.do(t, http.MethodGet, "/chronicles/current?ownerId=u&entity=server-1&attribute=status", "", &current)
	if rec.Code != http.StatusOK {
		t.Fatalf("current status = %d", rec.Code)
	}
	if current.Value != "degraded" {
		t.Errorf("current value = %q, want degraded", current.Value)
	}

	var timeline chroniclesReply
	rec = ts.do(t, http.MethodGet, "/chronicles/timeline?ownerId=u&entity=server-1", "", &timeline)
	if rec.Code != http.StatusOK || timeline.Count != 2 {
		t.Fatalf("timeline status = %d, count = %d, want 2", rec.Code, timeline.Count)
	}
	if timeline.Chronicles[0].Value != "healthy" {
		t.Errorf("timeline starts with %q, want healthy", timeline.Chronicles[0].Value)
	}

	// Supersession closed the first fact and linked the two versions.
	var related chroniclesReply
	rec = ts.do(t, http.MethodGet, "/chronicles/"+first.ID+"/related?ownerId=u", "", &related)
	if rec.Code != http.StatusOK || related.Count != 1 {
		t.Fatalf("related status = %d, count = %d, want 1", rec.Code, related.Count)
	}
	if related.Chronicles[0].ID != second.ID {
		t.Errorf("related = %s, want %s", related.Chronicles[0].ID, second.ID)
	}

	var patched store.Chronicle
	rec = ts.do(t, http.MethodPatch, "/chronicles/"+second.ID+"?ownerId=u", `{"value":"recovering"}`, &patched)
	if rec.Code != http.StatusOK || patched.Value != "recovering" {
		t.Fatalf("patch status = %d, value = %q", rec.Code, patched.Value)
	}

	var expired store.Chronicle
	rec = ts.do(t, http.MethodDelete, "/chronicles/"+second.ID+"?ownerId=u", "", &expired)
	if rec.Code != http.StatusOK {
		t.Fatalf("expire status = %d", rec.Code)
	}
	if expired.EffectiveUntil == nil {
		t.Error("expired chronicle still open")
	}

	var query chroniclesReply
	rec = ts.do(t, http.MethodGet, "/chronicles?ownerId=u&entity=server-1&attribute=status", "", &query)
	if rec.Code != http.StatusOK || query.Count != 2 {
		t.Fatalf("query status = %d, count = %d, want 2", rec.Code, query.Count)
	}
}

func TestNexusEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	var a, b store.Chronicle
	ts.do(t, http.MethodPost, "/chronicles",
		`{"ownerId":"u","entity":"deploy-7","attribute":"state","value":"done"}`, &a)
	ts.do(t, http.MethodPost, "/chronicles",
		`{"ownerId":"u","entity":"incident-3","attribute":"state","value":"open"}`, &b)

	var nexus store.Nexus
	rec := ts.do(t, http.MethodPost, "/nexuses",
		`{"ownerId":"u","originId":"`+a.ID+`","linkedId":"`+b.ID+`","bondType":"caused_by"}`, &nexus)
	if rec.Code != http.StatusCreated {
		t.Fatalf("link status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if nexus.BondType != "caused_by" {
		t.Errorf("bondType = %q", nexus.BondType)
	}

	rec = ts.do(t, http.MethodPost, "/nexuses",
		`{"ownerId":"u","originId":"`+a.ID+`","linkedId":"ghost","bondType":"caused_by"}`, nil)
	assertErrorEnvelope(t, rec, http.StatusNotFound)
}

func TestDecayAndStats(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.do(t, http.MethodPost, "/engrams", `{"ownerId":"u","content":"standup happens at ten"}`, nil)

	var report struct {
		Affected  int64            `json:"affected"`
		PerStrand map[string]int64 `json:"perStrand"`
	}
	rec := ts.do(t, http.MethodPost, "/decay/run", `{"ownerId":"u"}`, &report)
	if rec.Code != http.StatusOK {
		t.Fatalf("decay status = %d", rec.Code)
	}
	if report.Affected != 1 {
		t.Errorf("affected = %d, want 1", report.Affected)
	}

	var stats store.Stats
	rec = ts.do(t, http.MethodGet, "/status?ownerId=u", "", &stats)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	if stats.Engrams != 1 {
		t.Errorf("engrams = %d, want 1", stats.Engrams)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	// A closed store is unhealthy.
	if err := ts.memory.Store().Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
	rec = ts.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health after close = %d, want 503", rec.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.APIKeys = []string{"sesame"}
	})

	rec := ts.do(t, http.MethodGet, "/engrams?ownerId=u", "", nil)
	assertErrorEnvelope(t, rec, http.StatusUnauthorized)

	req := httptest.NewRequest(http.MethodGet, "/engrams?ownerId=u", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assertErrorEnvelope(t, rr, http.StatusForbidden)

	req = httptest.NewRequest(http.MethodGet, "/engrams?ownerId=u", nil)
	req.Header.Set("Authorization", "Bearer sesame")
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("authorized status = %d", rr.Code)
	}

	// Health stays open for probes.
	rec = ts.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}
