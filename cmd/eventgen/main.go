// Command eventgen signs change-event payloads for the webhook ingress.
// It prints the signature header and a ready-to-run curl line so a local
// server can be exercised without the real ERP.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"arbiter/internal/ingress"
)

const (
	// Matches config.go when ARBITER_WEBHOOK_SECRET is not set.
	devWebhookSecret = "dev-webhook-secret-change-in-production"

	defaultServerURL = "http://localhost:8080"
)

func main() {
	file := flag.String("file", "", "JSON payload file. Reads stdin when omitted and no -entity-type is given.")
	entityType := flag.String("entity-type", "", "Entity type for a generated payload (e.g. invoice)")
	entityID := flag.Int64("entity-id", 1, "Entity id for a generated payload")
	operation := flag.String("operation", "created", "Operation for a generated payload: created|updated|deleted")
	secret := flag.String("secret", "", "Webhook secret. Defaults to ARBITER_WEBHOOK_SECRET, then the dev secret.")
	serverURL := flag.String("url", defaultServerURL, "Server base URL for the printed curl line")
	bodyOnly := flag.Bool("signature-only", false, "Print only the signature hex digest")
	flag.Usage = printUsage
	flag.Parse()

	body, err := buildBody(*file, *entityType, *entityID, *operation)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	key := *secret
	if key == "" {
		key = os.Getenv("ARBITER_WEBHOOK_SECRET")
	}
	if key == "" {
		key = devWebhookSecret
	}

	signature := ingress.ComputeSignature([]byte(key), body)

	if *bodyOnly {
		fmt.Println(signature)
		return
	}

	fmt.Println("Signed Change Event")
	fmt.Println("===================")
	fmt.Printf("Body:      %s\n", body)
	fmt.Printf("Signature: %s\n", signature)
	fmt.Println()
	fmt.Println("Send it:")
	fmt.Printf("  curl -X POST %s/events \\\n", *serverURL)
	fmt.Printf("    -H '%s: %s' \\\n", ingress.SignatureHeader, signature)
	fmt.Println("    -H 'Content-Type: application/json' \\")
	fmt.Printf("    -d '%s'\n", body)
}

// buildBody returns the exact bytes to sign: a file, stdin, or a payload
// assembled from flags. The signature covers these bytes verbatim, so they
// must be sent unmodified.
func buildBody(file, entityType string, entityID int64, operation string) ([]byte, error) {
	switch {
	case file != "":
		body, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		return body, nil
	case entityType != "":
		body, err := json.Marshal(map[string]any{
			"entity_type": entityType,
			"entity_id":   entityID,
			"operation":   operation,
			"payload":     map[string]any{},
		})
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		return body, nil
	default:
		body, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		if len(body) == 0 {
			return nil, fmt.Errorf("empty payload: pass -file, -entity-type, or pipe a body on stdin")
		}
		return body, nil
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `eventgen - Sign change-event payloads for the webhook ingress

Usage:
  eventgen [flags]

Examples:
  # Generate and sign a minimal invoice event
  eventgen -entity-type invoice -entity-id 42

  # Sign an existing payload file
  eventgen -file event.json

  # Sign stdin and print only the digest
  echo -n '{"entity_type":"invoice","entity_id":42,"operation":"created"}' | eventgen -signature-only`)
	flag.PrintDefaults()
}
