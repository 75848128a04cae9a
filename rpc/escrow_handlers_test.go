package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"proofofwork/core"
	"proofofwork/crypto"
	"proofofwork/native/escrow"
)

func createParams(env *testEnv, jobID uint64, amount string) map[string]interface{} {
	return map[string]interface{}{
		"jobId":     jobID,
		"worker":    env.worker.String(),
		"amount":    amount,
		"latitude":  -10,
		"longitude": 20,
		"radius":    5,
	}
}

func TestEscrowCreateVerifyRelease(t *testing.T) {
	env := newTestEnv(t)

	created := env.call(t, &env.business, "escrow_create", createParams(env, 1, "400")).escrow(t)
	if created.Status != "created" || created.Amount != "400" || created.Latitude != -10 {
		t.Fatalf("unexpected escrow %+v", created)
	}
	if created.Business != env.business.String() {
		t.Fatalf("expected business %s got %s", env.business, created.Business)
	}

	far := env.call(t, nil, "escrow_verifyAndRelease", map[string]interface{}{"jobId": 1, "latitude": -10, "longitude": 26})
	far.expectError(t, http.StatusUnprocessableEntity, codeEscrowOutOfRange)

	released := env.call(t, nil, "escrow_verifyAndRelease", map[string]interface{}{"jobId": 1, "latitude": -7, "longitude": 24}).escrow(t)
	if released.Status != "released" {
		t.Fatalf("expected released got %s", released.Status)
	}

	balance := env.call(t, nil, "pow_getBalance", map[string]string{"address": env.worker.String()})
	var out balanceResult
	if err := json.Unmarshal(balance.result, &out); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if out.Balance != "400" {
		t.Fatalf("expected worker balance 400 got %s", out.Balance)
	}

	again := env.call(t, nil, "escrow_verifyAndRelease", map[string]interface{}{"jobId": 1, "latitude": -10, "longitude": 20})
	again.expectError(t, http.StatusConflict, codeEscrowConflict)
}

func TestEscrowCreateRequiresCaller(t *testing.T) {
	env := newTestEnv(t)
	res := env.call(t, nil, "escrow_create", createParams(env, 1, "10"))
	res.expectError(t, http.StatusUnauthorized, codeUnauthorized)
}

func TestEscrowCreateRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"escrow_owner","params":[]}`
	req, err := http.NewRequest(http.MethodPost, env.http.URL+"/", strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err := env.http.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.StatusCode)
	}
}

func TestEscrowCreateInvalidParams(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]map[string]interface{}{
		"zero amount":     createParams(env, 1, "0"),
		"negative amount": createParams(env, 1, "-3"),
		"bad amount":      createParams(env, 1, "ten"),
		"bad worker": func() map[string]interface{} {
			p := createParams(env, 1, "10")
			p["worker"] = "invalid"
			return p
		}(),
		"unknown field": func() map[string]interface{} {
			p := createParams(env, 1, "10")
			p["deadline"] = 5
			return p
		}(),
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			res := env.call(t, &env.business, "escrow_create", params)
			res.expectError(t, http.StatusBadRequest, codeInvalidParams)
		})
	}

	noParams := env.call(t, &env.business, "escrow_create")
	noParams.expectError(t, http.StatusBadRequest, codeInvalidParams)
}

func TestEscrowCreateDuplicateAndInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	env.call(t, &env.business, "escrow_create", createParams(env, 3, "10")).escrow(t)

	dup := env.call(t, &env.business, "escrow_create", createParams(env, 3, "10"))
	dup.expectError(t, http.StatusConflict, codeEscrowConflict)

	poor := env.call(t, &env.business, "escrow_create", createParams(env, 4, "5000"))
	poor.expectError(t, http.StatusBadGateway, codeEscrowTransferFailed)

	missing := env.call(t, nil, "escrow_get", map[string]uint64{"jobId": 4})
	missing.expectError(t, http.StatusNotFound, codeEscrowNotFound)
}

func TestEscrowCancelAuthorization(t *testing.T) {
	env := newTestEnv(t)
	env.call(t, &env.business, "escrow_create", createParams(env, 7, "100")).escrow(t)

	denied := env.call(t, &env.stranger, "escrow_cancel", map[string]uint64{"jobId": 7})
	denied.expectError(t, http.StatusForbidden, codeEscrowForbidden)

	anonymous := env.call(t, nil, "escrow_cancel", map[string]uint64{"jobId": 7})
	anonymous.expectError(t, http.StatusUnauthorized, codeUnauthorized)

	cancelled := env.call(t, &env.business, "escrow_cancel", map[string]uint64{"jobId": 7}).escrow(t)
	if cancelled.Status != "cancelled" {
		t.Fatalf("expected cancelled got %s", cancelled.Status)
	}

	verify := env.call(t, nil, "escrow_verifyAndRelease", map[string]interface{}{"jobId": 7, "latitude": -10, "longitude": 20})
	verify.expectError(t, http.StatusConflict, codeEscrowConflict)
}

func TestEscrowRetryReleaseRequiresVerified(t *testing.T) {
	env := newTestEnv(t)
	env.call(t, &env.business, "escrow_create", createParams(env, 8, "10")).escrow(t)
	res := env.call(t, nil, "escrow_retryRelease", map[string]uint64{"jobId": 8})
	res.expectError(t, http.StatusConflict, codeEscrowConflict)
}

func TestEscrowListFilters(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []uint64{5, 2, 9} {
		env.call(t, &env.business, "escrow_create", createParams(env, id, "10")).escrow(t)
	}
	env.call(t, &env.business, "escrow_cancel", map[string]uint64{"jobId": 9}).escrow(t)

	decode := func(res rpcResult) []escrowJSON {
		t.Helper()
		if res.err != nil {
			t.Fatalf("list: %+v", res.err)
		}
		var out []escrowJSON
		if err := json.Unmarshal(res.result, &out); err != nil {
			t.Fatalf("decode list: %v", err)
		}
		return out
	}

	all := decode(env.call(t, nil, "escrow_list"))
	if len(all) != 3 || all[0].JobID != 2 || all[2].JobID != 9 {
		t.Fatalf("unexpected listing %+v", all)
	}
	open := decode(env.call(t, nil, "escrow_list", map[string]interface{}{"status": "created", "worker": env.worker.String()}))
	if len(open) != 2 {
		t.Fatalf("expected 2 open escrows got %d", len(open))
	}
	limited := decode(env.call(t, nil, "escrow_list", map[string]interface{}{"limit": 1}))
	if len(limited) != 1 {
		t.Fatalf("expected limit 1 got %d", len(limited))
	}
	none := decode(env.call(t, nil, "escrow_list", map[string]interface{}{"business": env.stranger.String()}))
	if len(none) != 0 {
		t.Fatalf("expected no escrows got %d", len(none))
	}

	badStatus := env.call(t, nil, "escrow_list", map[string]interface{}{"status": "paid"})
	badStatus.expectError(t, http.StatusBadRequest, codeInvalidParams)
}

type failingLister struct{}

func (failingLister) EscrowList(core.EscrowFilter) ([]*escrow.Escrow, error) {
	return nil, errors.New("index offline")
}

func TestEscrowListUsesConfiguredLister(t *testing.T) {
	env := newTestEnv(t)
	env.server.SetLister(failingLister{})
	res := env.call(t, nil, "escrow_list")
	res.expectError(t, http.StatusInternalServerError, codeEscrowInternal)
}

func TestEscrowOwner(t *testing.T) {
	env := newTestEnv(t)
	res := env.call(t, nil, "escrow_owner")
	var out escrowOwnerResult
	if err := json.Unmarshal(res.result, &out); err != nil {
		t.Fatalf("decode owner: %v", err)
	}
	if out.Owner != env.stranger.String() {
		t.Fatalf("expected owner %s got %s", env.stranger, out.Owner)
	}
	if out.Custody != crypto.FromRaw(escrow.CustodyAddress()).String() {
		t.Fatalf("unexpected custody %s", out.Custody)
	}
	if out.Metric != escrow.MetricPlanar {
		t.Fatalf("expected planar metric got %s", out.Metric)
	}
}

func TestEscrowErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   int
	}{
		{escrow.ErrInvalidParams, http.StatusBadRequest, codeInvalidParams},
		{escrow.ErrNotFound, http.StatusNotFound, codeEscrowNotFound},
		{escrow.ErrUnauthorized, http.StatusForbidden, codeEscrowForbidden},
		{escrow.ErrDuplicateJob, http.StatusConflict, codeEscrowConflict},
		{escrow.ErrInvalidState, http.StatusConflict, codeEscrowConflict},
		{escrow.ErrOutOfRange, http.StatusUnprocessableEntity, codeEscrowOutOfRange},
		{escrow.ErrTransferFailed, http.StatusBadGateway, codeEscrowTransferFailed},
		{core.ErrCommitFailed, http.StatusInternalServerError, codeEscrowInternal},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("job 1: %w", tc.err)
		rpcErr := escrowError(wrapped, nil)
		if rpcErr.Code != tc.code || rpcErr.status != tc.status {
			t.Fatalf("%v: expected %d/%d got %d/%d", tc.err, tc.code, tc.status, rpcErr.Code, rpcErr.status)
		}
	}

	verified := &escrow.Escrow{JobID: 3, Status: escrow.EscrowVerified}
	rpcErr := escrowError(escrow.ErrTransferFailed, verified)
	data, ok := rpcErr.Data.(escrowFailureData)
	if !ok || data.Escrow == nil || data.Escrow.Status != "verified" {
		t.Fatalf("expected verified escrow in error data, got %+v", rpcErr.Data)
	}
}

func TestClosedReadsStillAdmitTokenlessVerify(t *testing.T) {
	env := newTestEnvWithAnonymous(t, false)
	env.call(t, &env.business, "escrow_create", createParams(env, 7, "50")).escrow(t)

	env.call(t, nil, "escrow_get", map[string]uint64{"jobId": 7}).
		expectError(t, http.StatusUnauthorized, codeUnauthorized)
	env.call(t, nil, "escrow_list").
		expectError(t, http.StatusUnauthorized, codeUnauthorized)
	env.call(t, nil, "pow_getBalance", map[string]string{"address": env.worker.String()}).
		expectError(t, http.StatusUnauthorized, codeUnauthorized)

	got := env.call(t, &env.stranger, "escrow_get", map[string]uint64{"jobId": 7}).escrow(t)
	if got.Status != "created" {
		t.Fatalf("expected created got %s", got.Status)
	}

	released := env.call(t, nil, "escrow_verifyAndRelease", map[string]interface{}{"jobId": 7, "latitude": -10, "longitude": 20}).escrow(t)
	if released.Status != "released" {
		t.Fatalf("expected released got %s", released.Status)
	}
	// Retry is reachable without a token; the escrow is already settled.
	env.call(t, nil, "escrow_retryRelease", map[string]uint64{"jobId": 7}).
		expectError(t, http.StatusConflict, codeEscrowConflict)
}
