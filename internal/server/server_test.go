package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crimson-sun/doccat/internal/corpus"
	"github.com/crimson-sun/doccat/internal/engine"
	"github.com/crimson-sun/doccat/internal/engine/feature"
	"github.com/crimson-sun/doccat/internal/engine/maxent"
	"github.com/crimson-sun/doccat/internal/engine/testdata"
	"github.com/crimson-sun/doccat/internal/engine/tokenizer"
	"github.com/crimson-sun/doccat/internal/logging"
	"github.com/crimson-sun/doccat/internal/model"
	"github.com/crimson-sun/doccat/internal/store/file"
)

var quiet = logging.Discard()

func trainCorpus(ctx context.Context) (*engine.Engine, error) {
	samples, err := testdata.Samples()
	if err != nil {
		return nil, err
	}
	ext, err := feature.Resolve([]string{"bow"})
	if err != nil {
		return nil, err
	}
	return engine.Train(ctx, corpus.NewSliceStream(samples), tokenizer.New(tokenizer.DefaultOptions()),
		ext, maxent.DefaultTrainConfig(), quiet)
}

type recorder struct {
	mu    sync.Mutex
	preds []model.Prediction
}

func (r *recorder) Write(_ context.Context, p model.Prediction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preds = append(r.preds, p)
	return nil
}

func (r *recorder) Close() error { return nil }

func newTestServer(t *testing.T, train TrainFunc, opts ...Option) (*Server, *httptest.Server, *file.Store) {
	t.Helper()
	st, err := file.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]Option{WithLogger(quiet)}, opts...)
	s := New(Config{ModelName: "documentcategorizer", Token: "secret"}, st, train, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts, st
}

func get(t *testing.T, u string) (int, string) {
	t.Helper()
	resp, err := http.Get(u)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func category(t *testing.T, base, desc string) string {
	t.Helper()
	code, body := get(t, base+"/commodity-category?shipmentDesc="+url.QueryEscape(desc))
	if code != http.StatusOK {
		t.Fatalf("commodity-category status %d: %s", code, body)
	}
	return body
}

func TestCommodityCategoryBeforeTraining(t *testing.T) {
	_, ts, _ := newTestServer(t, trainCorpus)
	if got := category(t, ts.URL, "steel coils"); got != "steel coils [ UNKNOWN]" {
		t.Errorf("body = %q", got)
	}
}

func TestTrainThenClassify(t *testing.T) {
	out := &recorder{}
	s, ts, st := newTestServer(t, trainCorpus, WithOutput(out))

	code, body := get(t, ts.URL+"/train-model")
	if code != http.StatusOK {
		t.Fatalf("train-model status %d: %s", code, body)
	}
	var tr TrainResponse
	if err := json.Unmarshal([]byte(body), &tr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tr.Model != "documentcategorizer" || len(tr.Labels) != 5 || tr.Features == 0 || tr.ModelID == "" {
		t.Errorf("train response = %+v", tr)
	}
	if names, _ := st.List(context.Background()); len(names) != 1 || names[0] != "documentcategorizer" {
		t.Errorf("stored models = %v", names)
	}

	tests := map[string]string{
		"fresh apples and bananas": "fresh apples and bananas [ Fruits]",
		"Hot rolled steel coils":   "Hot rolled steel coils [ Metals]",
		"cotton socks":             "cotton socks [ Textiles]",
	}
	for desc, want := range tests {
		if got := category(t, ts.URL, desc); got != want {
			t.Errorf("category(%q) = %q, want %q", desc, got, want)
		}
	}
	if len(out.preds) != len(tests) {
		t.Errorf("output recorded %d predictions, want %d", len(out.preds), len(tests))
	}

	e, _ := s.Engine(context.Background())
	if e == nil || e.Model().Metadata().ID != tr.ModelID {
		t.Error("serving engine should be the trained one")
	}
}

func TestCommodityCategoryMissingParam(t *testing.T) {
	_, ts, _ := newTestServer(t, trainCorpus)
	if code, _ := get(t, ts.URL+"/commodity-category"); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
	// An empty value is allowed and classifies to the uniform best label.
	get(t, ts.URL+"/train-model")
	if got := category(t, ts.URL, ""); !strings.HasPrefix(got, " [ ") {
		t.Errorf("empty description body = %q", got)
	}
}

func TestModelLoadedFromStore(t *testing.T) {
	e, err := trainCorpus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	_, ts, st := newTestServer(t, trainCorpus)
	if err := st.Save(context.Background(), "documentcategorizer", e.Model()); err != nil {
		t.Fatal(err)
	}
	if got := category(t, ts.URL, "laptop batteries"); got != "laptop batteries [ Electronics]" {
		t.Errorf("body = %q", got)
	}
}

func TestClassifyJSON(t *testing.T) {
	_, ts, _ := newTestServer(t, trainCorpus)

	post := func(body string) (*http.Response, []byte) {
		resp, err := http.Post(ts.URL+"/v1/classify", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return resp, data
	}

	if resp, _ := post(`{"text":"acid drums"}`); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("before training: status %d, want 503", resp.StatusCode)
	}
	get(t, ts.URL+"/train-model")

	resp, data := post(`{"text":"sulphuric acid drums"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	var p model.Prediction
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatal(err)
	}
	if p.Label != "Chemicals" || len(p.Outcomes) != 5 || p.ModelID == "" {
		t.Errorf("prediction = %+v", p)
	}

	if resp, _ := post(`{not json`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body: status %d, want 400", resp.StatusCode)
	}
}

func TestTrainErrors(t *testing.T) {
	insufficient := func(context.Context) (*engine.Engine, error) {
		return nil, &maxent.InsufficientDataError{Labels: 1}
	}
	_, ts, _ := newTestServer(t, insufficient)
	if code, body := get(t, ts.URL+"/train-model"); code != http.StatusUnprocessableEntity {
		t.Errorf("status %d, want 422: %s", code, body)
	}

	failing := func(context.Context) (*engine.Engine, error) { return nil, errors.New("corpus unreadable") }
	_, ts, _ = newTestServer(t, failing)
	code, body := get(t, ts.URL+"/train-model")
	if code != http.StatusInternalServerError || !strings.Contains(body, "corpus unreadable") {
		t.Errorf("status %d body %s", code, body)
	}
}

func TestTrainAcceptsConvergenceWarning(t *testing.T) {
	slow := func(ctx context.Context) (*engine.Engine, error) {
		e, err := trainCorpus(ctx)
		if err != nil {
			return nil, err
		}
		return e, &maxent.ConvergenceError{Iterations: 100}
	}
	_, ts, _ := newTestServer(t, slow)
	if code, body := get(t, ts.URL+"/train-model"); code != http.StatusOK {
		t.Errorf("status %d: %s", code, body)
	}
}

func TestConcurrentTrainingRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	blocking := func(ctx context.Context) (*engine.Engine, error) {
		close(started)
		<-release
		return trainCorpus(ctx)
	}
	_, ts, _ := newTestServer(t, blocking)

	done := make(chan int)
	go func() {
		resp, err := http.Get(ts.URL + "/train-model")
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()
	<-started
	if code, _ := get(t, ts.URL+"/train-model"); code != http.StatusConflict {
		t.Errorf("second training: status %d, want 409", code)
	}
	close(release)
	if code := <-done; code != http.StatusOK {
		t.Errorf("first training: status %d", code)
	}
}

func TestModelRoutes(t *testing.T) {
	s, ts, _ := newTestServer(t, trainCorpus)
	e, err := trainCorpus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	data, _ := e.Model().MarshalBinary()

	put := func(name, token string, body []byte) int {
		req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/models/"+name, bytes.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := put("documentcategorizer", "", data); code != http.StatusUnauthorized {
		t.Errorf("upload without token: %d, want 401", code)
	}
	if code := put("documentcategorizer", "secret", []byte("garbage")); code != http.StatusBadRequest {
		t.Errorf("upload garbage: %d, want 400", code)
	}
	if code := put("documentcategorizer", "secret", data); code != http.StatusNoContent {
		t.Fatalf("upload: %d, want 204", code)
	}
	if cur, _ := s.Engine(context.Background()); cur == nil || cur.Model().Metadata().ID != e.Model().Metadata().ID {
		t.Error("uploading the served model name should swap the engine")
	}

	code, body := get(t, ts.URL+"/v1/models")
	var list ListResponse
	json.Unmarshal([]byte(body), &list)
	if code != http.StatusOK || len(list.Models) != 1 {
		t.Errorf("list: %d %s", code, body)
	}

	code, body = get(t, ts.URL+"/v1/models/documentcategorizer")
	if code != http.StatusOK {
		t.Fatalf("download: %d", code)
	}
	m, err := maxent.Unmarshal([]byte(body))
	if err != nil || !m.Equal(e.Model(), 0) {
		t.Errorf("downloaded model differs: %v", err)
	}
	if code, _ := get(t, ts.URL+"/v1/models/absent"); code != http.StatusNotFound {
		t.Errorf("absent model: %d, want 404", code)
	}
}

func TestModelUploadNeedsConfiguredToken(t *testing.T) {
	st, err := file.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := New(Config{ModelName: "documentcategorizer"}, st, trainCorpus, WithLogger(quiet))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	e, err := trainCorpus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	data, _ := e.Model().MarshalBinary()
	for _, auth := range []string{"", "Bearer ", "Bearer anything"} {
		req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/models/documentcategorizer", bytes.NewReader(data))
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("upload with %q: %d, want 403", auth, resp.StatusCode)
		}
	}
	if names, _ := st.List(context.Background()); len(names) != 0 {
		t.Errorf("store = %v, want empty", names)
	}
	if cur := s.current.Load(); cur != nil {
		t.Error("rejected upload must not swap the engine")
	}
}

func TestHealth(t *testing.T) {
	_, ts, _ := newTestServer(t, trainCorpus)
	code, body := get(t, ts.URL+"/healthz")
	if code != http.StatusOK || !strings.Contains(body, `"status":"ok"`) {
		t.Errorf("healthz: %d %s", code, body)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	st, _ := file.New(t.TempDir())
	s := New(Config{ModelName: "m", ShutdownTimeout: time.Second}, st, trainCorpus, WithLogger(quiet))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if code, _ := get(t, "http://"+ln.Addr().String()+"/healthz"); code == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server did not come up")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
