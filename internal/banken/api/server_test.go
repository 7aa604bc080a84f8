package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/Banken/internal/banken/api"
	"github.com/bdobrica/Banken/internal/banken/runtime"
	"github.com/bdobrica/Banken/internal/banken/store"
)

// fakeRuntime is an in-memory Runtime for handler tests. Calls records the
// lifecycle operations in order.
type fakeRuntime struct {
	containers []runtime.ContainerSummary
	meta       map[string]runtime.ContainerMeta
	images     []runtime.ImageSummary
	networks   []runtime.NetworkSummary

	Calls   []string
	failOn  string
	failErr error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{meta: map[string]runtime.ContainerMeta{}}
}

func (f *fakeRuntime) call(op string) error {
	f.Calls = append(f.Calls, op)
	if f.failOn == op {
		return f.failErr
	}
	return nil
}

func (f *fakeRuntime) Inspect(_ context.Context, id string) (runtime.ContainerMeta, error) {
	if err := f.call("inspect " + id); err != nil {
		return runtime.ContainerMeta{}, err
	}
	m, ok := f.meta[id]
	if !ok {
		return runtime.ContainerMeta{}, fmt.Errorf("container %s: %w", id, runtime.ErrNotFound)
	}
	return m, nil
}

func (f *fakeRuntime) Containers(context.Context) ([]runtime.ContainerSummary, error) {
	return f.containers, f.call("list")
}

func (f *fakeRuntime) Create(_ context.Context, spec runtime.CreateSpec) (string, error) {
	if err := f.call("create " + spec.Name); err != nil {
		return "", err
	}
	return "cid-" + spec.Name, nil
}

func (f *fakeRuntime) Start(_ context.Context, id string) error   { return f.call("start " + id) }
func (f *fakeRuntime) Stop(_ context.Context, id string) error    { return f.call("stop " + id) }
func (f *fakeRuntime) Restart(_ context.Context, id string) error { return f.call("restart " + id) }
func (f *fakeRuntime) Remove(_ context.Context, id string) error  { return f.call("remove " + id) }

func (f *fakeRuntime) Images(context.Context) ([]runtime.ImageSummary, error) {
	return f.images, f.call("images")
}

func (f *fakeRuntime) PullImage(_ context.Context, ref string) error { return f.call("pull " + ref) }

func (f *fakeRuntime) Networks(context.Context) ([]runtime.NetworkSummary, error) {
	return f.networks, f.call("networks")
}

func (f *fakeRuntime) CreateNetwork(_ context.Context, name string) (string, error) {
	if err := f.call("netcreate " + name); err != nil {
		return "", err
	}
	return "nid-" + name, nil
}

func (f *fakeRuntime) RemoveNetwork(_ context.Context, id string) error {
	return f.call("netremove " + id)
}

// fakeAudit records WriteCommand calls in memory.
type fakeAudit struct {
	entries []store.AuditEntry
}

func (f *fakeAudit) WriteCommand(_ context.Context, traceID, action, target, result string, payload map[string]any, errorMsg string) error {
	f.entries = append(f.entries, store.AuditEntry{
		TraceID:      traceID,
		Action:       action,
		Target:       target,
		Payload:      payload,
		Result:       result,
		ErrorMessage: errorMsg,
	})
	return nil
}

func (f *fakeAudit) RecentCommands(_ context.Context, limit int) ([]store.AuditEntry, error) {
	if limit > len(f.entries) {
		limit = len(f.entries)
	}
	out := make([]store.AuditEntry, 0, limit)
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.entries[i])
	}
	return out, nil
}

func newTestServer(rt *fakeRuntime, audit *fakeAudit) *httptest.Server {
	mux := http.NewServeMux()
	api.New(rt, audit).RegisterRoutes(mux)
	return httptest.NewServer(mux)
}

func request(t *testing.T, method, url, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, out
}

func TestListContainers(t *testing.T) {
	rt := newFakeRuntime()
	rt.containers = []runtime.ContainerSummary{
		{ID: "abc", Name: "web", Image: "nginx:1.25", State: "running"},
	}
	ts := newTestServer(rt, &fakeAudit{})
	defer ts.Close()

	status, body := request(t, http.MethodGet, ts.URL+"/containers", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %s", status, body)
	}
	var got []runtime.ContainerSummary
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "web" {
		t.Errorf("containers = %+v", got)
	}
}

func TestCreateContainer(t *testing.T) {
	rt := newFakeRuntime()
	audit := &fakeAudit{}
	ts := newTestServer(rt, audit)
	defer ts.Close()

	spec := `{"name":"web","image":"nginx:1.25","env":{"DB_PASSWORD":"hunter2"}}`
	status, body := request(t, http.MethodPost, ts.URL+"/containers", spec)
	if status != http.StatusCreated {
		t.Fatalf("status = %d, body %s", status, body)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}
	if created.ID != "cid-web" {
		t.Errorf("id = %q", created.ID)
	}

	if len(audit.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(audit.entries))
	}
	entry := audit.entries[0]
	if entry.Action != "container.create" || entry.Target != "web" || entry.Result != store.ResultOK {
		t.Errorf("audit entry = %+v", entry)
	}
	if entry.Payload["image"] != "nginx:1.25" {
		t.Errorf("payload = %v", entry.Payload)
	}
}

func TestCreateContainerValidation(t *testing.T) {
	ts := newTestServer(newFakeRuntime(), &fakeAudit{})
	defer ts.Close()

	status, _ := request(t, http.MethodPost, ts.URL+"/containers", `{"name":"web"}`)
	if status != http.StatusBadRequest {
		t.Errorf("missing image: status = %d", status)
	}
	status, _ = request(t, http.MethodPost, ts.URL+"/containers", `{not json`)
	if status != http.StatusBadRequest {
		t.Errorf("bad JSON: status = %d", status)
	}
}

func TestInspectContainer(t *testing.T) {
	rt := newFakeRuntime()
	rt.meta["abc"] = runtime.ContainerMeta{
		ID: "abc", Name: "web", Image: "nginx:1.25", State: "running",
		Created: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	ts := newTestServer(rt, &fakeAudit{})
	defer ts.Close()

	status, body := request(t, http.MethodGet, ts.URL+"/containers/abc", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %s", status, body)
	}
	var meta runtime.ContainerMeta
	if err := json.Unmarshal(body, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Name != "web" || meta.Image != "nginx:1.25" {
		t.Errorf("meta = %+v", meta)
	}
}

func TestInspectContainerNotFound(t *testing.T) {
	ts := newTestServer(newFakeRuntime(), &fakeAudit{})
	defer ts.Close()

	status, _ := request(t, http.MethodGet, ts.URL+"/containers/missing", "")
	if status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestContainerLifecycle(t *testing.T) {
	rt := newFakeRuntime()
	audit := &fakeAudit{}
	ts := newTestServer(rt, audit)
	defer ts.Close()

	for _, action := range []string{"start", "stop", "restart"} {
		status, body := request(t, http.MethodPost, ts.URL+"/containers/abc/"+action, "")
		if status != http.StatusOK {
			t.Errorf("%s: status = %d, body %s", action, status, body)
		}
	}
	want := []string{"start abc", "stop abc", "restart abc"}
	if len(rt.Calls) != len(want) {
		t.Fatalf("calls = %v", rt.Calls)
	}
	for i, w := range want {
		if rt.Calls[i] != w {
			t.Errorf("call %d = %q, want %q", i, rt.Calls[i], w)
		}
	}
	if len(audit.entries) != 3 || audit.entries[1].Action != "container.stop" {
		t.Errorf("audit = %+v", audit.entries)
	}
}

func TestContainerLifecycleUnknownAction(t *testing.T) {
	ts := newTestServer(newFakeRuntime(), &fakeAudit{})
	defer ts.Close()

	status, _ := request(t, http.MethodPost, ts.URL+"/containers/abc/pause", "")
	if status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestContainerLifecycleFailureAudited(t *testing.T) {
	rt := newFakeRuntime()
	rt.failOn = "start abc"
	rt.failErr = fmt.Errorf("engine unavailable")
	audit := &fakeAudit{}
	ts := newTestServer(rt, audit)
	defer ts.Close()

	status, _ := request(t, http.MethodPost, ts.URL+"/containers/abc/start", "")
	if status != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", status)
	}
	if len(audit.entries) != 1 {
		t.Fatalf("audit entries = %d", len(audit.entries))
	}
	entry := audit.entries[0]
	if entry.Result != store.ResultError || entry.ErrorMessage != "engine unavailable" {
		t.Errorf("audit entry = %+v", entry)
	}
}

func TestRemoveContainer(t *testing.T) {
	rt := newFakeRuntime()
	audit := &fakeAudit{}
	ts := newTestServer(rt, audit)
	defer ts.Close()

	status, _ := request(t, http.MethodDelete, ts.URL+"/containers/abc", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if rt.Calls[0] != "remove abc" {
		t.Errorf("calls = %v", rt.Calls)
	}
	if len(audit.entries) != 1 || audit.entries[0].Action != "container.remove" {
		t.Errorf("audit = %+v", audit.entries)
	}
}

func TestPullImage(t *testing.T) {
	rt := newFakeRuntime()
	audit := &fakeAudit{}
	ts := newTestServer(rt, audit)
	defer ts.Close()

	status, _ := request(t, http.MethodPost, ts.URL+"/images/pull", `{"ref":"nginx:1.25"}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if rt.Calls[0] != "pull nginx:1.25" {
		t.Errorf("calls = %v", rt.Calls)
	}

	status, _ = request(t, http.MethodPost, ts.URL+"/images/pull", `{}`)
	if status != http.StatusBadRequest {
		t.Errorf("empty ref: status = %d", status)
	}
}

func TestNetworks(t *testing.T) {
	rt := newFakeRuntime()
	rt.networks = []runtime.NetworkSummary{{ID: "n1", Name: "bridge", Driver: "bridge"}}
	audit := &fakeAudit{}
	ts := newTestServer(rt, audit)
	defer ts.Close()

	status, body := request(t, http.MethodGet, ts.URL+"/networks", "")
	if status != http.StatusOK {
		t.Fatalf("list: status = %d", status)
	}
	var nets []runtime.NetworkSummary
	if err := json.Unmarshal(body, &nets); err != nil {
		t.Fatal(err)
	}
	if len(nets) != 1 || nets[0].Name != "bridge" {
		t.Errorf("networks = %+v", nets)
	}

	status, body = request(t, http.MethodPost, ts.URL+"/networks", `{"name":"appnet"}`)
	if status != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", status, body)
	}

	status, _ = request(t, http.MethodDelete, ts.URL+"/networks/appnet", "")
	if status != http.StatusOK {
		t.Fatalf("remove: status = %d", status)
	}
	if len(audit.entries) != 2 || audit.entries[1].Action != "network.remove" {
		t.Errorf("audit = %+v", audit.entries)
	}
}

func TestAuditEndpoint(t *testing.T) {
	audit := &fakeAudit{}
	ts := newTestServer(newFakeRuntime(), audit)
	defer ts.Close()

	// Generate two audited commands, then read them back.
	request(t, http.MethodPost, ts.URL+"/containers/abc/start", "")
	request(t, http.MethodPost, ts.URL+"/containers/abc/stop", "")

	status, body := request(t, http.MethodGet, ts.URL+"/audit?limit=1", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var entries []store.AuditEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Action != "container.stop" {
		t.Errorf("entries = %+v, want the newest entry only", entries)
	}

	status, _ = request(t, http.MethodGet, ts.URL+"/audit?limit=nope", "")
	if status != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d", status)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(newFakeRuntime(), &fakeAudit{})
	defer ts.Close()

	cases := []struct{ method, path string }{
		{http.MethodPut, "/containers"},
		{http.MethodPost, "/images"},
		{http.MethodGet, "/images/pull"},
		{http.MethodPost, "/audit"},
		{http.MethodGet, "/networks/n1"},
	}
	for _, tc := range cases {
		status, _ := request(t, tc.method, ts.URL+tc.path, "")
		if status != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: status = %d, want 405", tc.method, tc.path, status)
		}
	}
}
