package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nerrad567/jeedom-bridge/internal/device"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/config"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/influxdb"
)

// fakeJeedom answers jeeApi.php: POST is JSON-RPC, GET is the HTTP API.
type fakeJeedom struct {
	mu        sync.Mutex
	rpcCalls  []rpcRequest
	httpCalls []url.Values

	rpcStatus  int
	rpcBody    string
	rpcDelay   time.Duration
	httpStatus int
}

func newFakeJeedom() *fakeJeedom {
	return &fakeJeedom{
		rpcStatus:  http.StatusOK,
		rpcBody:    `{"jsonrpc":"2.0","id":1,"result":"ok"}`,
		httpStatus: http.StatusOK,
	}
}

func (f *fakeJeedom) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/core/api/jeeApi.php" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		var req rpcRequest
		_ = json.Unmarshal(body, &req)
		f.mu.Lock()
		f.rpcCalls = append(f.rpcCalls, req)
		status, resp, delay := f.rpcStatus, f.rpcBody, f.rpcDelay
		f.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	case http.MethodGet:
		f.mu.Lock()
		f.httpCalls = append(f.httpCalls, r.URL.Query())
		status := f.httpStatus
		f.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte("ok"))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeJeedom) counts() (rpc, plain int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rpcCalls), len(f.httpCalls)
}

type fakeRecorder struct {
	results []*Result
}

func (r *fakeRecorder) RecordDispatch(_ context.Context, res *Result) error {
	r.results = append(r.results, res)
	return nil
}

type fakeSampler struct {
	samples []influxdb.DispatchSample
}

func (s *fakeSampler) WriteDispatch(sample influxdb.DispatchSample) {
	s.samples = append(s.samples, sample)
}

func floatPtr(f float64) *float64 { return &f }

func testIndex() *device.EntityIndex {
	idx := device.NewEntityIndex()
	idx.Replace(10, []*device.EntityDescriptor{
		{
			Platform: device.PlatformNumber,
			Slug:     "chauffe_eau_consigne",
			States:   map[device.Role]int{device.RoleState: 100},
			Actions: map[device.Role]device.ActionBinding{
				device.ActionSet: {CmdID: 101, Slider: true},
			},
		},
		{
			Platform: device.PlatformSwitch,
			Slug:     "prise_salon",
			States:   map[device.Role]int{device.RoleState: 110},
			Actions: map[device.Role]device.ActionBinding{
				device.ActionOn:  {CmdID: 111},
				device.ActionOff: {CmdID: 112},
			},
		},
		{
			Platform: device.PlatformSensor,
			Slug:     "salon_temperature",
			States:   map[device.Role]int{device.RoleState: 120},
		},
	})
	return idx
}

func newTestDispatcher(t *testing.T, srv *httptest.Server, useRPC, fallback bool, client *resty.Client) (*Dispatcher, *fakeRecorder, *fakeSampler) {
	t.Helper()
	rec := &fakeRecorder{}
	sampler := &fakeSampler{}
	d, err := New(Options{
		Entities: testIndex(),
		Config: &config.JeedomConfig{
			Host:            srv.URL,
			APIKey:          "secret",
			UseJSONRPC:      useRPC,
			JSONRPCFallback: fallback,
			RequestTimeout:  2,
		},
		Client:   client,
		Recorder: rec,
		Sampler:  sampler,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d, rec, sampler
}

func TestDispatch_RPCSuccess(t *testing.T) {
	fake := newFakeJeedom()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	d, rec, sampler := newTestDispatcher(t, srv, true, true, nil)
	res, err := d.Dispatch(context.Background(), Request{Slug: "chauffe_eau_consigne", Value: 55, Source: "api"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !res.Success || res.Fallback || res.Transport != TransportJSONRPC {
		t.Errorf("result = %+v", res)
	}
	if res.Action != string(device.ActionSet) || res.CmdID != 101 || res.Value != "55" {
		t.Errorf("action/cmd/value = %s/%d/%s", res.Action, res.CmdID, res.Value)
	}
	if res.CorrelationID == "" {
		t.Error("missing correlation id")
	}

	rpc, plain := fake.counts()
	if rpc != 1 || plain != 0 {
		t.Fatalf("calls = rpc %d, http %d; want 1, 0", rpc, plain)
	}
	call := fake.rpcCalls[0]
	if call.Method != "cmd::execCmd" || call.JSONRPC != "2.0" {
		t.Errorf("envelope = %+v", call)
	}
	if call.Params["apikey"] != "secret" || call.Params["id"] != float64(101) {
		t.Errorf("params = %v", call.Params)
	}
	if call.Params["value"] != float64(55) {
		t.Errorf("value = %#v, want integer 55", call.Params["value"])
	}
	opts, _ := call.Params["options"].(map[string]any)
	if opts["slider"] != "55" {
		t.Errorf("options = %v", call.Params["options"])
	}

	if len(rec.results) != 1 || rec.results[0] != res {
		t.Errorf("recorder got %d results", len(rec.results))
	}
	if len(sampler.samples) != 1 || !sampler.samples[0].Success {
		t.Errorf("samples = %+v", sampler.samples)
	}
}

func TestDispatch_RPCErrorFallsBackOnce(t *testing.T) {
	fake := newFakeJeedom()
	fake.rpcBody = `{"jsonrpc":"2.0","id":1,"error":{"code":-32001,"message":"Commande introuvable"}}`
	srv := httptest.NewServer(fake)
	defer srv.Close()

	d, _, _ := newTestDispatcher(t, srv, true, true, nil)
	res, err := d.Dispatch(context.Background(), Request{Slug: "prise_salon", Action: "on"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !res.Fallback || res.Transport != TransportHTTP || !res.Success {
		t.Errorf("result = %+v", res)
	}

	rpc, plain := fake.counts()
	if rpc != 1 || plain != 1 {
		t.Fatalf("calls = rpc %d, http %d; want 1, 1", rpc, plain)
	}
	q := fake.httpCalls[0]
	if q.Get("apikey") != "secret" || q.Get("type") != "cmd" || q.Get("id") != "111" {
		t.Errorf("query = %v", q)
	}
	if q.Has("value") || q.Has("slider") {
		t.Errorf("fixed action should send no value: %v", q)
	}
}

// TestDispatch_RPCUndecodableSuccessDoesNotFallBack verifies a 2xx answer
// prefixed by PHP notices counts as executed and is not replayed over HTTP.
func TestDispatch_RPCUndecodableSuccessDoesNotFallBack(t *testing.T) {
	fake := newFakeJeedom()
	fake.rpcBody = "<br />\n<b>Notice</b>: Undefined index: options in cmd.class.php<br />\n" +
		`{"jsonrpc":"2.0","id":1,"result":"ok"}`
	srv := httptest.NewServer(fake)
	defer srv.Close()

	d, rec, _ := newTestDispatcher(t, srv, true, true, nil)
	res, err := d.Dispatch(context.Background(), Request{Slug: "prise_salon", Action: "on"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !res.Success || res.Fallback || res.Transport != TransportJSONRPC {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(res.Response, "Notice") {
		t.Errorf("Response = %q, want the raw body", res.Response)
	}

	rpc, plain := fake.counts()
	if rpc != 1 || plain != 0 {
		t.Fatalf("calls = rpc %d, http %d; want 1, 0", rpc, plain)
	}
	if len(rec.results) != 1 || !rec.results[0].Success {
		t.Errorf("recorded = %+v", rec.results)
	}
}

func TestDispatch_FallbackCarriesSlider(t *testing.T) {
	fake := newFakeJeedom()
	fake.rpcStatus = http.StatusInternalServerError
	srv := httptest.NewServer(fake)
	defer srv.Close()

	d, _, _ := newTestDispatcher(t, srv, true, true, nil)
	if _, err := d.Dispatch(context.Background(), Request{Slug: "chauffe_eau_consigne", Value: "21.5"}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	q := fake.httpCalls[0]
	if q.Get("value") != "21.5" || q.Get("slider") != "21.5" {
		t.Errorf("query = %v", q)
	}
}

func TestDispatch_FallbackDisabled(t *testing.T) {
	fake := newFakeJeedom()
	fake.rpcBody = `{"jsonrpc":"2.0","id":1,"error":{"code":-1,"message":"boom"}}`
	srv := httptest.NewServer(fake)
	defer srv.Close()

	d, rec, _ := newTestDispatcher(t, srv, true, false, nil)
	res, err := d.Dispatch(context.Background(), Request{Slug: "prise_salon", Action: "off"})
	if !errors.Is(err, ErrDispatch) || !errors.Is(err, ErrRPC) {
		t.Fatalf("error = %v, want ErrDispatch wrapping ErrRPC", err)
	}
	if res.Success || res.Fallback || res.Error == "" {
		t.Errorf("result = %+v", res)
	}
	if rpc, plain := fake.counts(); rpc != 1 || plain != 0 {
		t.Errorf("calls = rpc %d, http %d; want 1, 0", rpc, plain)
	}
	if len(rec.results) != 1 || rec.results[0].Success {
		t.Error("failed dispatch not recorded")
	}
}

func TestDispatch_BothTransportsFail(t *testing.T) {
	fake := newFakeJeedom()
	fake.rpcStatus = http.StatusBadGateway
	fake.httpStatus = http.StatusServiceUnavailable
	srv := httptest.NewServer(fake)
	defer srv.Close()

	d, _, _ := newTestDispatcher(t, srv, true, true, nil)
	res, err := d.Dispatch(context.Background(), Request{Slug: "prise_salon", Action: "on"})
	if !errors.Is(err, ErrDispatch) || !errors.Is(err, ErrTransport) {
		t.Fatalf("error = %v", err)
	}
	if !res.Fallback || res.Success {
		t.Errorf("result = %+v", res)
	}
	if rpc, plain := fake.counts(); rpc != 1 || plain != 1 {
		t.Errorf("calls = rpc %d, http %d; want exactly one of each", rpc, plain)
	}
}

func TestDispatch_TimeoutFallsBack(t *testing.T) {
	fake := newFakeJeedom()
	fake.rpcDelay = 500 * time.Millisecond
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := resty.New().SetTimeout(100 * time.Millisecond)
	d, _, _ := newTestDispatcher(t, srv, true, true, client)
	res, err := d.Dispatch(context.Background(), Request{Slug: "prise_salon", Action: "on"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !res.Fallback || res.Transport != TransportHTTP {
		t.Errorf("result = %+v, want HTTP fallback", res)
	}
}

func TestDispatch_HTTPOnly(t *testing.T) {
	fake := newFakeJeedom()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	d, _, _ := newTestDispatcher(t, srv, false, true, nil)
	res, err := d.Dispatch(context.Background(), Request{Slug: "prise_salon", Value: true})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res.Transport != TransportHTTP || res.Fallback || res.CmdID != 111 {
		t.Errorf("result = %+v", res)
	}
	if rpc, plain := fake.counts(); rpc != 0 || plain != 1 {
		t.Errorf("calls = rpc %d, http %d; want 0, 1", rpc, plain)
	}
}

func TestDispatch_Unresolved(t *testing.T) {
	fake := newFakeJeedom()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	d, rec, sampler := newTestDispatcher(t, srv, true, true, nil)
	res, err := d.Dispatch(context.Background(), Request{Slug: "nope", Action: "on"})
	if !errors.Is(err, ErrUnresolvedEntity) {
		t.Fatalf("error = %v, want ErrUnresolvedEntity", err)
	}
	if res == nil || res.Success {
		t.Fatalf("result = %+v", res)
	}
	if rpc, plain := fake.counts(); rpc+plain != 0 {
		t.Error("transport called for unresolved entity")
	}
	if len(rec.results) != 1 {
		t.Error("unresolved dispatch not recorded")
	}
	if len(sampler.samples) != 0 {
		t.Error("sample written without a transport")
	}
}

func TestDispatch_UnsupportedAction(t *testing.T) {
	fake := newFakeJeedom()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	d, _, _ := newTestDispatcher(t, srv, true, true, nil)
	_, err := d.Dispatch(context.Background(), Request{Slug: "salon_temperature", Value: 3})
	if !errors.Is(err, ErrUnsupportedAction) {
		t.Fatalf("error = %v, want ErrUnsupportedAction", err)
	}
	_, err = d.Dispatch(context.Background(), Request{Slug: "prise_salon", Action: "open"})
	if !errors.Is(err, ErrUnsupportedAction) {
		t.Fatalf("error = %v, want ErrUnsupportedAction", err)
	}
	if rpc, plain := fake.counts(); rpc+plain != 0 {
		t.Error("transport called for unsupported action")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error without entity resolver")
	}
	if _, err := New(Options{Entities: device.NewEntityIndex()}); err == nil {
		t.Error("expected error without config or transports")
	}
}
