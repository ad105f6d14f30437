package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"statehouse/pkg/engine"
	"statehouse/pkg/store/memdb"
)

func newTestClient(t *testing.T) (*http.Client, *engine.Engine) {
	t.Helper()
	eng, err := engine.Open(engine.Options{
		Backend:     memdb.Open(),
		SnapshotDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	srv := NewServer(eng, BuildInfo{Version: "test", Commit: "none", BuildDate: "now"}, 10000, 10000)
	ln := fasthttputil.NewInmemoryListener()
	fs := &fasthttp.Server{Handler: srv.Handler()}
	go fs.Serve(ln)
	t.Cleanup(func() {
		fs.Shutdown()
		ln.Close()
	})

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(context.Context, string, string) (net.Conn, error) {
				return ln.Dial()
			},
		},
		Timeout: 5 * time.Second,
	}
	return client, eng
}

func postJSON(t *testing.T, c *http.Client, url string, body interface{}, out interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	resp, err := c.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestTransactionRoundTripOverHTTP(t *testing.T) {
	c, _ := newTestClient(t)
	base := "http://statehouse"

	var begin struct {
		TxnID string `json:"txn_id"`
	}
	if resp := postJSON(t, c, base+"/v1/txns", map[string]int{"timeout_ms": 5000}, &begin); resp.StatusCode != 200 {
		t.Fatalf("begin status %d", resp.StatusCode)
	}
	if begin.TxnID == "" {
		t.Fatal("empty txn id")
	}

	write := map[string]interface{}{
		"namespace": "default", "agent_id": "a", "key": "x",
		"value": map[string]int{"n": 1},
	}
	if resp := postJSON(t, c, base+"/v1/txns/"+begin.TxnID+"/write", write, nil); resp.StatusCode != 200 {
		t.Fatalf("write status %d", resp.StatusCode)
	}

	var commit struct {
		CommitTS uint64 `json:"commit_ts"`
	}
	if resp := postJSON(t, c, base+"/v1/txns/"+begin.TxnID+"/commit", nil, &commit); resp.StatusCode != 200 {
		t.Fatalf("commit status %d", resp.StatusCode)
	}
	if commit.CommitTS != 1 {
		t.Fatalf("commit_ts = %d", commit.CommitTS)
	}

	resp, err := c.Get(base + "/v1/state?namespace=default&agent_id=a&key=x")
	if err != nil {
		t.Fatalf("GET state: %v", err)
	}
	defer resp.Body.Close()
	var state struct {
		Value    json.RawMessage `json:"value"`
		Version  uint64          `json:"version"`
		CommitTS uint64          `json:"commit_ts"`
		Exists   bool            `json:"exists"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if !state.Exists || state.Version != 1 || string(state.Value) != `{"n":1}` {
		t.Fatalf("state = %+v", state)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	c, _ := newTestClient(t)
	base := "http://statehouse"

	var resp *http.Response
	// unknown transaction
	resp = postJSON(t, c, base+"/v1/txns/ghost/commit", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown txn status %d", resp.StatusCode)
	}
	// invalid request: missing agent
	r, err := c.Get(base + "/v1/state?key=x")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid request status %d", r.StatusCode)
	}

	var begin struct {
		TxnID string `json:"txn_id"`
	}
	postJSON(t, c, base+"/v1/txns", nil, &begin)
	postJSON(t, c, base+"/v1/txns/"+begin.TxnID+"/abort", nil, nil)
	resp = postJSON(t, c, base+"/v1/txns/"+begin.TxnID+"/commit", nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("terminal txn status %d", resp.StatusCode)
	}
}

func TestHealthAndVersion(t *testing.T) {
	c, _ := newTestClient(t)
	base := "http://statehouse"

	r, err := c.Get(base + "/healthz")
	if err != nil || r.StatusCode != 200 {
		t.Fatalf("healthz: %v %d", err, r.StatusCode)
	}
	r.Body.Close()

	r, err = c.Get(base + "/version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	defer r.Body.Close()
	var v BuildInfo
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil || v.Version != "test" {
		t.Fatalf("version body: %+v %v", v, err)
	}
}

func TestReplayStreamsNDJSON(t *testing.T) {
	c, eng := newTestClient(t)
	base := "http://statehouse"

	for i := 1; i <= 3; i++ {
		txnID, _ := eng.Begin(0)
		if err := eng.Write(txnID, "default", "a", fmt.Sprintf("k%d", i), json.RawMessage(fmt.Sprintf(`%d`, i))); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if _, err := eng.Commit(context.Background(), txnID); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}

	r, err := c.Get(base + "/v1/replay?namespace=default&agent_id=a")
	if err != nil {
		t.Fatalf("GET replay: %v", err)
	}
	defer r.Body.Close()

	var lines []replayEventBody
	sc := bufio.NewScanner(r.Body)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var ev replayEventBody
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad ndjson line %q: %v", sc.Text(), err)
		}
		lines = append(lines, ev)
	}
	if len(lines) != 3 {
		t.Fatalf("replay yielded %d events, want 3", len(lines))
	}
	for i, ev := range lines {
		if ev.CommitTS != uint64(i+1) || len(ev.Operations) != 1 {
			t.Fatalf("event %d: %+v", i, ev)
		}
	}
}
