// Command dispatch-test drives the full dispatch pipeline in-process with
// scripted reasoner and ERP stubs: signed ingress, queue, decision, gate,
// ledger, executor and approval resolution, all against in-memory stores.
// Useful for eyeballing the end-to-end flow without Postgres, Redis or the
// real ERP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arbiter/internal/decision"
	"arbiter/internal/decision/ports"
	"arbiter/internal/erp"
	eventstore "arbiter/internal/event/store"
	"arbiter/internal/executor"
	"arbiter/internal/gate"
	"arbiter/internal/ingress"
	ledgerservice "arbiter/internal/ledger/service"
	ledgerstore "arbiter/internal/ledger/store"
	"arbiter/internal/outbox"
	"arbiter/internal/pipeline"
	"arbiter/internal/queue"
	rulemodels "arbiter/internal/rule/models"
	ruleservice "arbiter/internal/rule/service"
	rulestore "arbiter/internal/rule/store"
)

const webhookSecret = "dispatch-test-secret"

// scriptedReasoner maps entity ids to fixed confidences so each verdict
// band is exercised deterministically.
type scriptedReasoner struct{}

func (scriptedReasoner) Analyze(_ context.Context, req ports.Request) (*ports.Analysis, error) {
	switch req.EntityID {
	case 1:
		return &ports.Analysis{Action: "approve_invoice", Confidence: 0.97, Rationale: "matches purchase order"}, nil
	case 2:
		return &ports.Analysis{Action: "approve_invoice", Confidence: 0.90, Rationale: "amount above usual range"}, nil
	case 3:
		return &ports.Analysis{Action: "approve_invoice", Confidence: 0.40, Rationale: "vendor unknown"}, nil
	default:
		return nil, fmt.Errorf("reasoner outage for entity %d", req.EntityID)
	}
}

// scriptedERP acknowledges every apply.
type scriptedERP struct{}

func (scriptedERP) Apply(_ context.Context, req erp.Request) (*erp.Result, error) {
	return &erp.Result{Reference: "erp-ref-" + req.IdempotencyKey[:8]}, nil
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	events := eventstore.New()
	decisions := decision.NewInMemoryStore()
	rules := rulestore.New()
	audits := ledgerstore.New()
	stream := outbox.NewInMemoryStore()
	work := queue.NewMemory()

	engine := decision.New(decisions, scriptedReasoner{}, decision.WithLogger(logger))
	ledger := ledgerservice.NewService(audits, logger, ledgerservice.WithOutbox(stream))
	exec := executor.New(scriptedERP{}, ledger, events, executor.WithLogger(logger))
	ledger.SetExecutor(exec)
	ruleSvc := ruleservice.NewService(rules, logger)
	admission := ingress.NewService([]byte(webhookSecret), events, ledger, work, ingress.WithLogger(logger))
	pipe := pipeline.New(work, events, engine, ruleSvc, ledger, exec,
		pipeline.WithWorkers(2),
		pipeline.WithPollInterval(10*time.Millisecond),
		pipeline.WithLogger(logger),
	)

	// Metrics land on the default registry; expose them like the server does.
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		fmt.Println("Metrics available at http://localhost:9090/metrics")
		if err := http.ListenAndServe(":9090", nil); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pipe.Run(ctx) //nolint:errcheck // smoke harness, canceled below

	fmt.Println("\n=== Dispatch Pipeline Test ===")

	fmt.Println("1. Seeding invoice rule (auto >= 0.95, review >= 0.85)...")
	if _, err := ruleSvc.Create(ctx, &rulemodels.AutomationRule{
		EntityType:      "invoice",
		ActionName:      "approve_invoice",
		Enabled:         true,
		ThresholdAuto:   0.95,
		ThresholdReview: 0.85,
	}); err != nil {
		fmt.Printf("   rule create failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n2. Ingesting four signed events (auto, review, log-only, reasoner outage)...")
	for _, entityID := range []int{1, 2, 3, 4} {
		body, _ := json.Marshal(map[string]any{
			"entity_type": "invoice",
			"entity_id":   entityID,
			"operation":   "created",
			"payload":     map[string]any{"amount": 100 * entityID},
		})
		sig := ingress.ComputeSignature([]byte(webhookSecret), body)
		res, err := admission.Ingest(ctx, body, sig, fmt.Sprintf("trace-%d", entityID))
		if err != nil {
			fmt.Printf("   entity %d rejected: %v\n", entityID, err)
			continue
		}
		fmt.Printf("   entity %d accepted as %s\n", entityID, res.EventID)
	}

	fmt.Println("\n3. Re-ingesting entity 1 (idempotent duplicate)...")
	body, _ := json.Marshal(map[string]any{
		"entity_type": "invoice",
		"entity_id":   1,
		"operation":   "created",
		"payload":     map[string]any{"amount": 100},
	})
	sig := ingress.ComputeSignature([]byte(webhookSecret), body)
	if res, err := admission.Ingest(ctx, body, sig, "trace-1-redelivery"); err == nil {
		fmt.Printf("   duplicate returned same id %s, accepted=%v\n", res.EventID, res.Accepted)
	}

	// Let the workers settle everything.
	time.Sleep(500 * time.Millisecond)

	fmt.Println("\n4. Ledger after pipeline settle:")
	printLedger(ctx, ledger)

	fmt.Println("\n5. Approving the parked record...")
	records, _, _ := ledger.List(ctx, ledgerstore.Filter{}, ledgerstore.Page{Limit: 100})
	for _, rec := range records {
		if rec.Verdict == string(gate.VerdictNeedsApproval) {
			final, err := ledger.Resolve(ctx, rec.AuditID, true, "dispatch-test")
			if err != nil {
				fmt.Printf("   resolve failed: %v\n", err)
				continue
			}
			fmt.Printf("   audit %d approved -> %s\n", final.AuditID, final.Status)

			// A second resolve must report the record as settled.
			if _, err := ledger.Resolve(ctx, rec.AuditID, false, "dispatch-test"); err != nil {
				fmt.Printf("   duplicate resolve correctly refused: %v\n", err)
			}
		}
	}

	fmt.Println("\n6. Final ledger:")
	printLedger(ctx, ledger)

	fmt.Println("\nPress Ctrl+C to exit (metrics stay up)...")
	select {}
}

func printLedger(ctx context.Context, ledger *ledgerservice.Service) {
	records, total, err := ledger.List(ctx, ledgerstore.Filter{}, ledgerstore.Page{Limit: 100})
	if err != nil {
		fmt.Printf("   list failed: %v\n", err)
		return
	}
	fmt.Printf("   %d records\n", total)
	for _, rec := range records {
		fmt.Printf("   audit=%d entity=%s/%d action=%s confidence=%.2f verdict=%s status=%s attempts=%d\n",
			rec.AuditID, rec.EntityType, rec.EntityID, rec.Action, rec.Confidence, rec.Verdict, rec.Status, rec.Attempts)
	}
}
