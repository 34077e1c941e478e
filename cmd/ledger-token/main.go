// Command ledger-token mints a bearer token signed with the configured AUTH_JWT_SECRET, for local
// development and smoke tests.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/cimillas/ticket-ledger/internal/auth"
	"github.com/cimillas/ticket-ledger/internal/clock"
	"github.com/cimillas/ticket-ledger/internal/config"
)

func main() {
	subject := pflag.StringP("subject", "s", "", "identity the token names (required)")
	roles := pflag.StringSliceP("role", "r", nil, "role to grant; repeat or comma-separate")
	ttl := pflag.Duration("ttl", 24*time.Hour, "token lifetime")
	pflag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "ledger-token: --subject is required")
		pflag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, clock.NewSystem())
	raw, err := tokens.Issue(auth.Principal{Subject: *subject, Roles: *roles}, *ttl)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(raw)
}
