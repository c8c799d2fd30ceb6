package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connbridge/pkg/binding"
	"connbridge/pkg/channel"
	"connbridge/pkg/config"
	"connbridge/pkg/datum"
	"connbridge/pkg/metrics"
	"connbridge/pkg/registry"
	"connbridge/pkg/scan"
	"connbridge/pkg/store"
	"connbridge/pkg/types"

	"github.com/google/uuid"
)

// fakeEngine hands the engine ends of new channels to the test.
type fakeEngine struct {
	cdc  chan channel.CdcReceiver
	sink chan channel.SinkWriter
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		cdc:  make(chan channel.CdcReceiver, 1),
		sink: make(chan channel.SinkWriter, 1),
	}
}

func (e *fakeEngine) ServeCdc(_ registry.Handle, rx channel.CdcReceiver) { e.cdc <- rx }
func (e *fakeEngine) ServeSink(_ registry.Handle, w channel.SinkWriter)  { e.sink <- w }

type testServer struct {
	*Server
	store   *store.Store
	engine  *fakeEngine
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.New(config.StorageConfig{MaxEntryBytes: 1 << 20}, 4)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	m := metrics.NewMemory()
	engine := newFakeEngine()
	s := NewServer(
		binding.New(st, config.Default().Bridge, binding.WithMetrics(m)),
		config.Default().Server,
		WithStore(st), WithMetrics(m), WithEngine(engine),
	)
	return &testServer{Server: s, store: st, engine: engine, handler: s.Handler()}
}

func (ts *testServer) do(t *testing.T, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d body=%s", want, rr.Code, rr.Body.String())
	}
}

func decodeResp(t *testing.T, rr *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response JSON: %v, body=%s", err, rr.Body.String())
	}
	return resp
}

func TestHealthHandler(t *testing.T) {
	id := uuid.New()
	s := NewServer(binding.New(nil, config.Default().Bridge), config.ServerConfig{}, WithInstanceID(id))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	s.Handler().ServeHTTP(rr, req)

	expectStatus(t, rr, http.StatusOK)
	resp := decodeResp(t, rr)
	if resp.Status != StatusOK {
		t.Fatalf("expected status %s, got %s", StatusOK, resp.Status)
	}
	if resp.Value != id.String() {
		t.Fatalf("expected instance %s, got %s", id, resp.Value)
	}
}

func TestChunkIteratorFlow(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/chunk-iterators", "text/plain; charset=utf-8", []byte("+ 1 alice\n- 2 bob\n"))
	expectStatus(t, rr, http.StatusCreated)
	it := decodeResp(t, rr).Handle

	var rows []*RowView
	for {
		rr = ts.do(t, http.MethodPost, fmt.Sprintf("/api/chunk-iterators/%d/next", it), "", nil)
		if rr.Code == http.StatusNoContent {
			break
		}
		expectStatus(t, rr, http.StatusOK)
		row := decodeResp(t, rr).Handle

		rr = ts.do(t, http.MethodGet, fmt.Sprintf("/api/rows/%d", row), "", nil)
		expectStatus(t, rr, http.StatusOK)
		rows = append(rows, decodeResp(t, rr).Row)

		rr = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/rows/%d", row), "", nil)
		expectStatus(t, rr, http.StatusOK)
	}

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Op != "+" || rows[1].Op != "-" {
		t.Fatalf("unexpected ops %q %q", rows[0].Op, rows[1].Op)
	}
	if got := rows[1].Columns; got[0].Type != "i" || got[0].Value != "2" || got[1].Value != "bob" {
		t.Fatalf("unexpected second row %+v", got)
	}

	// end of stream is sticky
	rr = ts.do(t, http.MethodPost, fmt.Sprintf("/api/chunk-iterators/%d/next", it), "", nil)
	expectStatus(t, rr, http.StatusNoContent)

	rr = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/chunk-iterators/%d", it), "", nil)
	expectStatus(t, rr, http.StatusOK)
	rr = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/chunk-iterators/%d", it), "", nil)
	expectStatus(t, rr, http.StatusNotFound)
	if kind := decodeResp(t, rr).Kind; kind != "invalid_handle" {
		t.Fatalf("expected invalid_handle, got %q", kind)
	}
}

func TestChunkIteratorDecodeError(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/chunk-iterators", "application/octet-stream", []byte("garbage"))
	expectStatus(t, rr, http.StatusUnprocessableEntity)

	rr = ts.do(t, http.MethodPost, "/api/chunk-iterators", "text/plain", []byte("i\n+ nope\n"))
	expectStatus(t, rr, http.StatusUnprocessableEntity)
}

func TestRowColumnTypedRead(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/chunk-iterators", "text/plain", []byte("i T\n+ . x\n"))
	expectStatus(t, rr, http.StatusCreated)
	rr = ts.do(t, http.MethodPost, fmt.Sprintf("/api/chunk-iterators/%d/next", decodeResp(t, rr).Handle), "", nil)
	expectStatus(t, rr, http.StatusOK)
	row := decodeResp(t, rr).Handle

	cases := []struct {
		target string
		status int
	}{
		{fmt.Sprintf("/api/rows/%d/columns/0", row), http.StatusOK},
		{fmt.Sprintf("/api/rows/%d/columns/0?type=i", row), http.StatusUnprocessableEntity},
		{fmt.Sprintf("/api/rows/%d/columns/1?type=I", row), http.StatusBadRequest},
		{fmt.Sprintf("/api/rows/%d/columns/1?type=T", row), http.StatusOK},
		{fmt.Sprintf("/api/rows/%d/columns/5", row), http.StatusBadRequest},
		{fmt.Sprintf("/api/rows/%d/columns/x", row), http.StatusBadRequest},
		{"/api/rows/999999/columns/0", http.StatusNotFound},
		{"/api/rows/abc", http.StatusBadRequest},
	}
	for _, c := range cases {
		rr = ts.do(t, http.MethodGet, c.target, "", nil)
		expectStatus(t, rr, c.status)
	}

	rr = ts.do(t, http.MethodGet, fmt.Sprintf("/api/rows/%d/columns/1?type=T", row), "", nil)
	if v := decodeResp(t, rr).Value; v != "x" {
		t.Fatalf("expected x, got %q", v)
	}
}

func putRow(t *testing.T, ts *testServer, pk string, values ...*string) {
	t.Helper()
	body, _ := json.Marshal(rowRequest{Table: 1, Vnode: 3, PK: pk, Types: []string{"I", "T"}, Values: values})
	rr := ts.do(t, http.MethodPut, "/api/admin/rows", "application/json", body)
	expectStatus(t, rr, http.StatusOK)
}

func str(s string) *string { return &s }

func TestStorageScanFlow(t *testing.T) {
	ts := newTestServer(t)

	putRow(t, ts, "b", str("2"), nil)
	putRow(t, ts, "a", str("1"), str("first"))

	rr := ts.do(t, http.MethodGet, "/api/admin/committed", "", nil)
	expectStatus(t, rr, http.StatusOK)
	if v := decodeResp(t, rr).Value; v != "2" {
		t.Fatalf("expected committed 2, got %s", v)
	}

	desc := &scan.Descriptor{
		TableID:  1,
		Snapshot: 2,
		Vnodes:   []types.VirtualNode{3},
		Columns:  []datum.DataType{datum.TypeInt64, datum.TypeVarchar},
	}
	rr = ts.do(t, http.MethodPost, "/api/storage-iterators", "application/octet-stream", desc.Marshal())
	expectStatus(t, rr, http.StatusCreated)
	it := decodeResp(t, rr).Handle

	rr = ts.do(t, http.MethodPost, fmt.Sprintf("/api/storage-iterators/%d/next", it), "", nil)
	expectStatus(t, rr, http.StatusOK)
	rr = ts.do(t, http.MethodGet, fmt.Sprintf("/api/rows/%d", decodeResp(t, rr).Handle), "", nil)
	expectStatus(t, rr, http.StatusOK)
	row := decodeResp(t, rr).Row
	if !bytes.Equal(row.Key, scan.FullKey(1, 3, []byte("a"))) {
		t.Fatalf("unexpected key %x", row.Key)
	}
	if row.Columns[1].Value != "first" {
		t.Fatalf("unexpected row %+v", row)
	}

	rr = ts.do(t, http.MethodPost, fmt.Sprintf("/api/storage-iterators/%d/next", it), "", nil)
	expectStatus(t, rr, http.StatusOK)
	rr = ts.do(t, http.MethodPost, fmt.Sprintf("/api/storage-iterators/%d/next", it), "", nil)
	expectStatus(t, rr, http.StatusNoContent)
	rr = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/storage-iterators/%d", it), "", nil)
	expectStatus(t, rr, http.StatusOK)

	// a new version, then collect the old snapshot away
	putRow(t, ts, "a", str("1"), str("second"))
	rr = ts.do(t, http.MethodPost, "/api/admin/gc?watermark=3", "", nil)
	expectStatus(t, rr, http.StatusOK)

	rr = ts.do(t, http.MethodPost, "/api/storage-iterators", "application/octet-stream", desc.Marshal())
	expectStatus(t, rr, http.StatusServiceUnavailable)
	if kind := decodeResp(t, rr).Kind; kind != "storage_unavailable" {
		t.Fatalf("expected storage_unavailable, got %q", kind)
	}

	rr = ts.do(t, http.MethodPost, "/api/storage-iterators", "application/octet-stream", []byte{0x08})
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestAdminRejectsBadRows(t *testing.T) {
	ts := newTestServer(t)

	bad := []string{
		`{"vnode": 1, "pk": "a", "types": ["i"], "values": ["1"]}`,
		`{"table": 1, "vnode": 300, "pk": "a", "types": ["i"], "values": ["1"]}`,
		`{"table": 1, "pk": "a", "types": ["i"], "values": ["x"]}`,
		`{"table": 1, "pk": "a", "types": ["i", "T"], "values": ["1"]}`,
		`not json`,
	}
	for _, body := range bad {
		rr := ts.do(t, http.MethodPut, "/api/admin/rows", "application/json", []byte(body))
		expectStatus(t, rr, http.StatusBadRequest)
	}

	rr := ts.do(t, http.MethodPost, "/api/admin/gc?watermark=-1", "", nil)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestCdcChannelOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/cdc?capacity=2", "", nil)
	expectStatus(t, rr, http.StatusCreated)
	h := decodeResp(t, rr).Handle
	rx := <-ts.engine.cdc

	for _, m := range []string{"m1", "m2"} {
		rr = ts.do(t, http.MethodPost, fmt.Sprintf("/api/cdc/%d/messages", h), "application/octet-stream", []byte(m))
		expectStatus(t, rr, http.StatusOK)
	}
	rr = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/cdc/%d", h), "", nil)
	expectStatus(t, rr, http.StatusOK)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, want := range []string{"m1", "m2"} {
		p, ok, err := rx.Recv(ctx)
		if err != nil || !ok || string(p) != want {
			t.Fatalf("expected %s, got %q ok=%v err=%v", want, p, ok, err)
		}
	}
	if _, ok, _ := rx.Recv(ctx); ok {
		t.Fatal("expected closed after drain")
	}

	rr = ts.do(t, http.MethodPost, fmt.Sprintf("/api/cdc/%d/messages", h), "application/octet-stream", []byte("late"))
	expectStatus(t, rr, http.StatusNotFound)
}

func TestCdcSendAfterEngineClose(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/cdc", "", nil)
	expectStatus(t, rr, http.StatusCreated)
	h := decodeResp(t, rr).Handle
	(<-ts.engine.cdc).Close()

	rr = ts.do(t, http.MethodPost, fmt.Sprintf("/api/cdc/%d/messages", h), "application/octet-stream", []byte("x"))
	expectStatus(t, rr, http.StatusNoContent)
}

func TestSinkChannelOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/sink?capacity=1", "", nil)
	expectStatus(t, rr, http.StatusCreated)
	h := decodeResp(t, rr).Handle
	w := <-ts.engine.sink

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if ok, err := w.SendRequest(ctx, []byte("batch-1")); err != nil || !ok {
		t.Fatalf("send request: ok=%v err=%v", ok, err)
	}

	rr = ts.do(t, http.MethodPost, fmt.Sprintf("/api/sink/%d/requests/next", h), "", nil)
	expectStatus(t, rr, http.StatusOK)
	if body, _ := io.ReadAll(rr.Body); string(body) != "batch-1" {
		t.Fatalf("expected batch-1, got %q", body)
	}

	rr = ts.do(t, http.MethodPost, fmt.Sprintf("/api/sink/%d/responses", h), "application/octet-stream", []byte("ack-1"))
	expectStatus(t, rr, http.StatusOK)
	if p, ok, err := w.RecvResponse(ctx); err != nil || !ok || string(p) != "ack-1" {
		t.Fatalf("expected ack-1, got %q ok=%v err=%v", p, ok, err)
	}

	w.Close()
	rr = ts.do(t, http.MethodPost, fmt.Sprintf("/api/sink/%d/requests/next", h), "", nil)
	expectStatus(t, rr, http.StatusNoContent)
	rr = ts.do(t, http.MethodPost, fmt.Sprintf("/api/sink/%d/responses", h), "application/octet-stream", []byte("late"))
	expectStatus(t, rr, http.StatusNoContent)

	rr = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/sink/%d", h), "", nil)
	expectStatus(t, rr, http.StatusOK)
}

func TestChannelsNeedEngine(t *testing.T) {
	s := NewServer(binding.New(nil, config.Default().Bridge), config.ServerConfig{})
	for _, target := range []string{"/api/cdc", "/api/sink"} {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, target, nil))
		expectStatus(t, rr, http.StatusServiceUnavailable)
	}
}

func TestMetricsAndVnodes(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/api/chunk-iterators", "text/plain", []byte("+ 1\n"))
	expectStatus(t, rr, http.StatusCreated)

	rr = ts.do(t, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `bridge_live_handles{kind="chunk iterator"} 1`) {
		t.Fatalf("metrics missing live handles:\n%s", rr.Body.String())
	}

	rr = ts.do(t, http.MethodGet, "/api/vnodes", "", nil)
	expectStatus(t, rr, http.StatusOK)
	if v := decodeResp(t, rr).Value; v != "256" {
		t.Fatalf("expected 256 vnodes, got %s", v)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/health", "", nil)
	expectStatus(t, rr, http.StatusMethodNotAllowed)
	rr = ts.do(t, http.MethodGet, "/api/cdc", "", nil)
	expectStatus(t, rr, http.StatusMethodNotAllowed)
}
