package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const (
	rpcURLEnv    = "POW_RPC_URL"
	rpcTokenEnv  = "POW_RPC_TOKEN"
	keystorePass = "POW_KEYSTORE_PASS"
)

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = strings.TrimSpace(os.Getenv(rpcTokenEnv))
)

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(run(args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "token":
		return runToken(args[1:], stdout, stderr)
	case "create", "verify", "retry", "cancel", "get", "list", "owner":
		return runEscrowCommand(args, stdout, stderr)
	case "balance":
		return runBalance(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli [--rpc URL] [--token JWT] <command> [flags]

Commands:
  keygen   Generate a key and write it to an encrypted keystore
  token    Issue a bearer token for an address (requires the node's HMAC secret)
  create   Fund a new job escrow from the token's address
  verify   Submit a presence claim and release the payment
  retry    Retry the payout of a verified escrow
  cancel   Refund an unverified escrow to its business
  get      Fetch an escrow by job id
  list     List escrows by business, worker or status
  balance  Show the balance of an address
  owner    Show the ledger owner, custody account and distance metric

Environment:
  POW_RPC_URL, POW_RPC_TOKEN, POW_KEYSTORE_PASS, POW_RPC_JWT_SECRET
`)
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv(rpcURLEnv)); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc" || arg == "--token":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for %s", arg)
			}
			setGlobal(arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--rpc="):
			setGlobal("--rpc", strings.TrimPrefix(arg, "--rpc="))
		case strings.HasPrefix(arg, "--token="):
			setGlobal("--token", strings.TrimPrefix(arg, "--token="))
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

func setGlobal(flag, value string) {
	if flag == "--rpc" {
		rpcEndpoint = strings.TrimSpace(value)
		return
	}
	rpcAuthToken = strings.TrimSpace(value)
}

func doRPCRequest(payload []byte, requireAuth bool) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if requireAuth {
		if rpcAuthToken == "" {
			return nil, fmt.Errorf("this command requires a bearer token; set %s or pass --token", rpcTokenEnv)
		}
		req.Header.Set("Authorization", "Bearer "+rpcAuthToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	return resp, nil
}
