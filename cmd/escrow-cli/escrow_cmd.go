package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"strings"

	"proofofwork/crypto"
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

var escrowRPCCall = callEscrowRPC

func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "create":
		return runEscrowCreate(args[1:], stdout, stderr)
	case "verify":
		return runEscrowVerify(args[1:], stdout, stderr)
	case "retry":
		return runEscrowJob("escrow_retryRelease", "retry", false, args[1:], stdout, stderr)
	case "cancel":
		return runEscrowJob("escrow_cancel", "cancel", true, args[1:], stdout, stderr)
	case "get":
		return runEscrowJob("escrow_get", "get", false, args[1:], stdout, stderr)
	case "list":
		return runEscrowList(args[1:], stdout, stderr)
	case "owner":
		return invokeEscrow(stdout, stderr, "escrow_owner", nil, false)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		return 1
	}
}

func runEscrowCreate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("create", stderr)
	var (
		jobID  uint64
		worker string
		amount string
		lat    int64
		lng    int64
		radius uint64
	)
	fs.Uint64Var(&jobID, "job", 0, "job id")
	fs.StringVar(&worker, "worker", "", "worker bech32 address")
	fs.StringVar(&amount, "amount", "", "escrow amount in base units")
	fs.Int64Var(&lat, "lat", 0, "job site latitude in scaled integer units")
	fs.Int64Var(&lng, "lng", 0, "job site longitude in scaled integer units")
	fs.Uint64Var(&radius, "radius", 0, "accepted radius in metric units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, "unexpected positional arguments")
	}
	if !flagSet(fs, "job") {
		return printError(stderr, "--job is required")
	}
	if strings.TrimSpace(worker) == "" {
		return printError(stderr, "--worker is required")
	}
	if _, err := crypto.DecodeAddress(worker); err != nil {
		return printError(stderr, fmt.Sprintf("--worker: %v", err))
	}
	normalized, err := normalizeAmount(amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	params := map[string]interface{}{
		"jobId":     jobID,
		"worker":    strings.TrimSpace(worker),
		"amount":    normalized,
		"latitude":  lat,
		"longitude": lng,
		"radius":    radius,
	}
	return invokeEscrow(stdout, stderr, "escrow_create", params, true)
}

func runEscrowVerify(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("verify", stderr)
	var (
		jobID uint64
		lat   int64
		lng   int64
	)
	fs.Uint64Var(&jobID, "job", 0, "job id")
	fs.Int64Var(&lat, "lat", 0, "claimed latitude")
	fs.Int64Var(&lng, "lng", 0, "claimed longitude")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !flagSet(fs, "job") {
		return printError(stderr, "--job is required")
	}
	if !flagSet(fs, "lat") || !flagSet(fs, "lng") {
		return printError(stderr, "--lat and --lng are required")
	}
	params := map[string]interface{}{"jobId": jobID, "latitude": lat, "longitude": lng}
	return invokeEscrow(stdout, stderr, "escrow_verifyAndRelease", params, false)
}

func runEscrowJob(method, name string, requireAuth bool, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr)
	var jobID uint64
	fs.Uint64Var(&jobID, "job", 0, "job id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !flagSet(fs, "job") {
		return printError(stderr, "--job is required")
	}
	return invokeEscrow(stdout, stderr, method, map[string]interface{}{"jobId": jobID}, requireAuth)
}

func runEscrowList(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("list", stderr)
	var (
		business string
		worker   string
		status   string
		limit    int
	)
	fs.StringVar(&business, "business", "", "filter by business address")
	fs.StringVar(&worker, "worker", "", "filter by worker address")
	fs.StringVar(&status, "status", "", "filter by status (created|verified|released|cancelled)")
	fs.IntVar(&limit, "limit", 0, "maximum number of escrows")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if limit < 0 {
		return printError(stderr, "--limit must not be negative")
	}
	params := map[string]interface{}{}
	if v := strings.TrimSpace(business); v != "" {
		params["business"] = v
	}
	if v := strings.TrimSpace(worker); v != "" {
		params["worker"] = v
	}
	if v := strings.TrimSpace(status); v != "" {
		params["status"] = v
	}
	if limit > 0 {
		params["limit"] = limit
	}
	return invokeEscrow(stdout, stderr, "escrow_list", params, false)
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		return printError(stderr, "usage: balance <address>")
	}
	address := strings.TrimSpace(fs.Arg(0))
	if _, err := crypto.DecodeAddress(address); err != nil {
		return printError(stderr, err.Error())
	}
	return invokeEscrow(stdout, stderr, "pow_getBalance", map[string]string{"address": address}, false)
}

func invokeEscrow(stdout, stderr io.Writer, method string, params interface{}, requireAuth bool) int {
	result, rpcErr, err := escrowRPCCall(method, params, requireAuth)
	if err != nil {
		fmt.Fprintf(stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		fmt.Fprintf(stderr, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		if len(rpcErr.Data) > 0 {
			fmt.Fprintf(stderr, "%s\n", rpcErr.Data)
		}
		return 1
	}
	writeRPCResult(stdout, result)
	return 0
}

func writeRPCResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	if _, err := w.Write(result); err == nil && result[len(result)-1] != '\n' {
		fmt.Fprintln(w)
	}
}

func normalizeAmount(value string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("--amount is required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return "", fmt.Errorf("--amount must be an integer in base units")
	}
	if amount.Sign() <= 0 {
		return "", fmt.Errorf("--amount must be positive")
	}
	return amount.String(), nil
}

// flagSet reports whether name was given on the command line.
func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func callEscrowRPC(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	resp, err := doRPCRequest(body, requireAuth)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response (HTTP %d): %w", resp.StatusCode, err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}
