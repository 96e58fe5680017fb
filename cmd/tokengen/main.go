// Command tokengen mints operator bearer tokens for the arbiter API.
// Tokens are signed with the development operator secret and will NOT work
// against a production deployment unless the secret matches.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"arbiter/internal/token"
)

const (
	// Matches config.go when ARBITER_OPERATOR_JWT_SECRET is not set.
	devOperatorSecret = "dev-operator-secret-change-in-production"

	defaultIssuer = "arbiter"
	defaultTTL    = 8 * time.Hour
)

type tokenOutput struct {
	Token     string            `json:"token"`
	Subject   string            `json:"subject"`
	Role      string            `json:"role"`
	ExpiresIn string            `json:"expires_in"`
	Usage     map[string]string `json:"usage"`
}

func main() {
	subject := flag.String("subject", "", "Operator subject recorded on resolutions (required)")
	role := flag.String("role", "operator", "Operator role claim")
	secret := flag.String("secret", "", "Signing secret. Defaults to ARBITER_OPERATOR_JWT_SECRET, then the dev secret.")
	ttl := flag.Duration("ttl", defaultTTL, "Token time-to-live")
	jsonOut := flag.Bool("json", false, "Output as JSON")
	flag.Usage = printUsage
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "Error: -subject is required")
		printUsage()
		os.Exit(1)
	}

	signingKey := *secret
	if signingKey == "" {
		signingKey = os.Getenv("ARBITER_OPERATOR_JWT_SECRET")
	}
	if signingKey == "" {
		signingKey = devOperatorSecret
	}

	svc := token.NewService(signingKey, defaultIssuer, *ttl)
	signed, err := svc.Mint(*subject, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error minting token: %v\n", err)
		os.Exit(1)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tokenOutput{
			Token:     signed,
			Subject:   *subject,
			Role:      *role,
			ExpiresIn: ttl.String(),
			Usage: map[string]string{
				"header": "Authorization: Bearer <token>",
			},
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println("Operator Token")
	fmt.Println("==============")
	fmt.Printf("Subject:    %s\n", *subject)
	fmt.Printf("Role:       %s\n", *role)
	fmt.Printf("Expires In: %s\n", *ttl)
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(signed)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  curl -H \"Authorization: Bearer <token>\" http://localhost:8080/audit")
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `tokengen - Mint operator tokens for the arbiter API

WARNING: Tokens signed with the dev secret only work against a server
         running with the default ARBITER_OPERATOR_JWT_SECRET.

Usage:
  tokengen -subject <operator> [flags]

Examples:
  # Token for an operator named ops@example.com
  tokengen -subject ops@example.com

  # Short-lived admin token as JSON
  tokengen -subject admin -role admin -ttl 15m -json`)
	flag.PrintDefaults()
}
