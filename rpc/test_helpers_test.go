package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"proofofwork/core"
	"proofofwork/core/events"
	"proofofwork/core/genesis"
	"proofofwork/crypto"
	"proofofwork/gateway/middleware"
	"proofofwork/observability"
	"proofofwork/storage"
)

const (
	testJWTSecret = "rpc-test-secret"
	testIssuer    = "rpc-tests"
	testAudience  = "unit-tests"
)

type testEnv struct {
	node     *core.Node
	server   *Server
	http     *httptest.Server
	stream   *events.Broadcaster
	business crypto.Address
	worker   crypto.Address
	stranger crypto.Address
}

func newTestAddress(t testing.TB) crypto.Address {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key.PubKey().Address()
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()
	return newTestEnvWithAnonymous(t, true)
}

func newTestEnvWithAnonymous(t testing.TB, allowAnonymous bool) *testEnv {
	t.Helper()
	env := &testEnv{
		business: newTestAddress(t),
		worker:   newTestAddress(t),
		stranger: newTestAddress(t),
	}
	node, err := core.NewNode(storage.NewMemDB(), core.NodeConfig{
		Owner: env.stranger.Raw(),
		Genesis: []genesis.Allocation{
			{Address: env.business.Raw(), Balance: big.NewInt(1_000)},
		},
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	node.SetMetrics(observability.NewEscrowMetrics(prometheus.NewRegistry()))
	env.stream = events.NewBroadcaster()
	node.SetEventSink(env.stream)
	env.node = node

	registry := prometheus.NewRegistry()
	env.server = NewServer(node, ServerConfig{
		Auth: middleware.AuthConfig{
			HMACSecret:     testJWTSecret,
			Issuer:         testIssuer,
			Audience:       testAudience,
			AllowAnonymous: allowAnonymous,
		},
		Registerer: registry,
		Gatherer:   registry,
	})
	env.server.SetEventSource(env.stream)
	env.http = httptest.NewServer(env.server.Handler())
	t.Cleanup(env.http.Close)
	return env
}

func (env *testEnv) token(t testing.TB, subject crypto.Address) string {
	t.Helper()
	token, err := middleware.IssueToken(testJWTSecret, testIssuer, testAudience, subject, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func marshalParam(t testing.TB, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal param: %v", err)
	}
	return raw
}

type rpcResult struct {
	status int
	result json.RawMessage
	err    *RPCError
}

// call posts a JSON-RPC request, authenticating as caller when it is non-nil.
func (env *testEnv) call(t testing.TB, caller *crypto.Address, method string, params ...interface{}) rpcResult {
	t.Helper()
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		raw = append(raw, marshalParam(t, p))
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: raw, ID: 1})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return env.post(t, caller, body)
}

func (env *testEnv) post(t testing.TB, caller *crypto.Address, body []byte) rpcResult {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, env.http.URL+"/", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+env.token(t, *caller))
	}
	resp, err := env.http.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rpcResult{status: resp.StatusCode, result: decoded.Result, err: decoded.Error}
}

func (r rpcResult) escrow(t testing.TB) escrowJSON {
	t.Helper()
	if r.err != nil {
		t.Fatalf("unexpected rpc error: %+v", r.err)
	}
	var out escrowJSON
	if err := json.Unmarshal(r.result, &out); err != nil {
		t.Fatalf("decode escrow: %v", err)
	}
	return out
}

func (r rpcResult) expectError(t testing.TB, status, code int) {
	t.Helper()
	if r.err == nil {
		t.Fatalf("expected error code %d, got result %s", code, string(r.result))
	}
	if r.err.Code != code {
		t.Fatalf("expected code %d got %d (%s)", code, r.err.Code, r.err.Message)
	}
	if r.status != status {
		t.Fatalf("expected http status %d got %d", status, r.status)
	}
}
