package service

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/common"
	"github.com/mosaicnetworks/memorychain/src/crypto/keys"
	"github.com/mosaicnetworks/memorychain/src/net"
	"github.com/mosaicnetworks/memorychain/src/node"
	"github.com/mosaicnetworks/memorychain/src/peers"
)

// initService starts a single node, which alone decides every proposal, and
// a Service in front of it.
func initService(t *testing.T, limit float64, burst int) (*Service, *node.Node) {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	validator := node.NewValidator(key, "solo")

	conf := node.TestConfig(t)
	conf.AutoVote = true
	conf.BoostTimeout = 0

	_, trans := net.NewInmemTransport("")

	logger := common.NewTestEntry(t, common.TestLogLevel)

	n, err := node.NewNode(conf,
		validator,
		peers.NewRegistry(validator.ID(), 20, logger),
		chain.NewInmemStore(),
		trans,
		nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Init(); err != nil {
		t.Fatal(err)
	}
	n.RunAsync()

	return NewService("", n, limit, burst, logger), n
}

func do(t *testing.T, s *Service, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServiceStats(t *testing.T) {
	s, n := initService(t, 0, 0)
	defer n.Shutdown()

	rec := do(t, s, http.MethodGet, "/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /stats should return 200, not %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("responses should allow any origin")
	}

	var stats map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats["id"] != n.ID() {
		t.Fatalf("stats id should be %s, not %s", n.ID(), stats["id"])
	}
}

func TestServiceSubmitMemory(t *testing.T) {
	s, n := initService(t, 0, 0)
	defer n.Shutdown()

	rec := do(t, s, http.MethodPost, "/memory", memoryRequest{
		Subject: "groceries",
		Content: "milk, eggs",
		Flags:   []string{"seen"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /memory should return 202, not %d: %s", rec.Code, rec.Body.String())
	}

	var resp proposalIDResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ProposalID == "" {
		t.Fatalf("response should carry the proposal id")
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(n.GetChain()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("memory was not committed")
		}
		time.Sleep(20 * time.Millisecond)
	}

	rec = do(t, s, http.MethodGet, "/block/0", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /block/0 should return 200, not %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "groceries") {
		t.Fatalf("block 0 should hold the memory: %s", rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/proposal/"+resp.ProposalID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /proposal should return 200, not %d", rec.Code)
	}
	var pr proposalResponse
	if err := json.NewDecoder(rec.Body).Decode(&pr); err != nil {
		t.Fatal(err)
	}
	if pr.Open || pr.Outcome == nil {
		t.Fatalf("proposal should be closed with an outcome: %+v", pr)
	}
}

func TestServiceErrors(t *testing.T) {
	s, n := initService(t, 0, 0)
	defer n.Shutdown()

	cases := []struct {
		method string
		path   string
		body   interface{}
		status int
	}{
		{http.MethodGet, "/task/missing", nil, http.StatusNotFound},
		{http.MethodGet, "/block/7", nil, http.StatusNotFound},
		{http.MethodGet, "/node/NZ", nil, http.StatusNotFound},
		{http.MethodGet, "/proposal/missing", nil, http.StatusNotFound},
		{http.MethodPost, "/vote", voteRequest{ProposalID: "p", Decision: "maybe"}, http.StatusBadRequest},
		{http.MethodPost, "/claim", claimRequest{TaskID: "missing", NodeID: "NZ"}, http.StatusNotFound},
		{http.MethodPost, "/transfer", transferRequest{To: "NB", Amount: 10}, http.StatusBadRequest},
		{http.MethodPost, "/memory", "not an object", http.StatusBadRequest},
	}

	for _, c := range cases {
		rec := do(t, s, c.method, c.path, c.body)
		if rec.Code != c.status {
			t.Fatalf("%s %s should return %d, not %d: %s",
				c.method, c.path, c.status, rec.Code, rec.Body.String())
		}
	}
}

func TestServiceStatus(t *testing.T) {
	s, n := initService(t, 0, 0)
	defer n.Shutdown()

	rec := do(t, s, http.MethodPost, "/status", statusRequest{
		State:   peers.Busy,
		AIModel: "local-7b",
		Load:    0.5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /status should return 200, not %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/network", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /network should return 200, not %d", rec.Code)
	}

	var status peers.NetworkStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Total != 1 || status.ByActivity[peers.Busy] != 1 {
		t.Fatalf("network should hold one busy node: %+v", status)
	}
}

func TestServiceMetrics(t *testing.T) {
	s, n := initService(t, 0, 0)
	defer n.Shutdown()

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics should return 200, not %d", rec.Code)
	}

	body, err := ioutil.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range []string{"memorychain_chain_length", "memorychain_node_info", "memorychain_proposals_finalized_total"} {
		if !strings.Contains(string(body), m) {
			t.Fatalf("metrics should contain %s", m)
		}
	}
}

func TestServiceRateLimit(t *testing.T) {
	s, n := initService(t, 1, 1)
	defer n.Shutdown()

	if rec := do(t, s, http.MethodGet, "/stats", nil); rec.Code != http.StatusOK {
		t.Fatalf("first request should return 200, not %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/stats", nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should return 429, not %d", rec.Code)
	}
}
