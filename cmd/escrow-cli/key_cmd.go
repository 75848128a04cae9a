package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"proofofwork/cmd/internal/passphrase"
	"proofofwork/crypto"
	"proofofwork/gateway/middleware"
)

const jwtSecretEnv = "POW_RPC_JWT_SECRET"

var newPassphraseSource = func() func() (string, error) {
	return passphrase.NewSource(keystorePass, "Enter keystore passphrase: ").Get
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	var out string
	fs.StringVar(&out, "out", "escrow.keystore", "keystore output path")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := os.Stat(out); err == nil {
		return printError(stderr, fmt.Sprintf("%s already exists", out))
	}
	pass, err := newPassphraseSource()()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := crypto.SaveToKeystore(out, key, pass); err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Address: %s\nKeystore: %s\n", key.PubKey().Address(), out)
	return 0
}

func runToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	var (
		address  string
		keystore string
		secret   string
		issuer   string
		audience string
		ttl      time.Duration
	)
	fs.StringVar(&address, "address", "", "subject bech32 address")
	fs.StringVar(&keystore, "keystore", "", "derive the subject from this keystore")
	fs.StringVar(&secret, "secret", os.Getenv(jwtSecretEnv), "HMAC secret shared with escrowd")
	fs.StringVar(&issuer, "issuer", "escrowd", "token issuer")
	fs.StringVar(&audience, "audience", "escrow-clients", "token audience")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(secret) == "" {
		return printError(stderr, fmt.Sprintf("--secret or %s is required", jwtSecretEnv))
	}
	subject, err := resolveSubject(address, keystore)
	if err != nil {
		return printError(stderr, err.Error())
	}
	token, err := middleware.IssueToken(secret, issuer, audience, subject, ttl)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func resolveSubject(address, keystore string) (crypto.Address, error) {
	address = strings.TrimSpace(address)
	keystore = strings.TrimSpace(keystore)
	switch {
	case address != "" && keystore != "":
		return crypto.Address{}, fmt.Errorf("use either --address or --keystore")
	case address != "":
		return crypto.DecodeAddress(address)
	case keystore != "":
		pass, err := newPassphraseSource()()
		if err != nil {
			return crypto.Address{}, err
		}
		key, err := crypto.LoadFromKeystore(keystore, pass)
		if err != nil {
			return crypto.Address{}, err
		}
		return key.PubKey().Address(), nil
	default:
		return crypto.Address{}, fmt.Errorf("--address or --keystore is required")
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}
