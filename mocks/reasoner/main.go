package main

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"
)

const (
	defaultPort      = "9090"
	defaultLatencyMs = "50"
	defaultSlowMs    = "5000"
)

type AnalyzeRequest struct {
	EventID    string          `json:"event_id"`
	EntityType string          `json:"entity_type"`
	EntityID   int64           `json:"entity_id"`
	Operation  string          `json:"operation"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type AnalyzeResponse struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

var (
	latencyMs = getEnvInt("LATENCY_MS", defaultLatencyMs)
	slowMs    = getEnvInt("SLOW_MS", defaultSlowMs)
)

// magicEntities contains predefined analyses for specific entity IDs.
// These "magic" IDs let e2e tests steer an event into a known pipeline
// path regardless of the deterministic fallback below.
var magicEntities = map[int64]func(req AnalyzeRequest) *AnalyzeResponse{
	// High confidence - lands in the auto-execute band of typical rules
	1001: func(req AnalyzeRequest) *AnalyzeResponse {
		return &AnalyzeResponse{
			Action:     actionFor(req.EntityType),
			Confidence: 0.98,
			Rationale:  "matches historical pattern with strong signal",
		}
	},
	// Mid confidence - lands in the needs-approval band
	2002: func(req AnalyzeRequest) *AnalyzeResponse {
		return &AnalyzeResponse{
			Action:     actionFor(req.EntityType),
			Confidence: 0.87,
			Rationale:  "amount above usual range for this vendor",
		}
	},
	// Low confidence - lands in the log-only band
	3003: func(req AnalyzeRequest) *AnalyzeResponse {
		return &AnalyzeResponse{
			Action:     actionFor(req.EntityType),
			Confidence: 0.31,
			Rationale:  "vendor not seen before, weak match",
		}
	},
	// Out-of-range confidence - callers are expected to clamp to [0,1]
	5005: func(req AnalyzeRequest) *AnalyzeResponse {
		return &AnalyzeResponse{
			Action:     actionFor(req.EntityType),
			Confidence: 1.7,
			Rationale:  "overconfident model output",
		}
	},
}

// failEntities contains entity IDs that should return HTTP 500, forcing
// the caller into its zero-confidence fallback.
var failEntities = map[int64]bool{
	4004: true,
}

// slowEntities contains entity IDs that respond only after SLOW_MS,
// tripping caller-side timeouts.
var slowEntities = map[int64]bool{
	6006: true,
}

func main() {
	port := getEnv("PORT", defaultPort)

	http.HandleFunc("/health", handleHealth)
	http.HandleFunc("/analyze", handleAnalyze)

	log.Printf("🧠 Mock Reasoner API starting on port %s", port)
	log.Printf("⏱️  Simulated latency: %dms (slow entities: %dms)", latencyMs, slowMs)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "reasoner",
		"version": "1.0.0",
	})
}

func handleAnalyze(w http.ResponseWriter, r *http.Request) {
	// Simulate latency
	time.Sleep(time.Duration(latencyMs) * time.Millisecond)

	// Log request
	log.Printf("📥 Incoming request: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)

	// Only accept POST
	if r.Method != http.MethodPost {
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse request body
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	// Validate required fields
	if req.EntityType == "" {
		sendError(w, "entity_type is required", http.StatusBadRequest)
		return
	}
	if req.Operation == "" {
		sendError(w, "operation is required", http.StatusBadRequest)
		return
	}

	// Check for test failure IDs
	if failEntities[req.EntityID] {
		log.Printf("🧪 Forced failure for entity %d", req.EntityID)
		sendError(w, "model backend unavailable", http.StatusInternalServerError)
		return
	}

	// Check for test slow IDs
	if slowEntities[req.EntityID] {
		log.Printf("🧪 Slow response for entity %d (%dms)", req.EntityID, slowMs)
		time.Sleep(time.Duration(slowMs) * time.Millisecond)
	}

	// Check for predefined test analyses
	var analysis AnalyzeResponse
	if testFn, ok := magicEntities[req.EntityID]; ok {
		analysis = *testFn(req)
		log.Printf("🧪 Using test analysis for entity %d", req.EntityID)
	} else {
		// Generate deterministic analysis based on the event context
		analysis = generateAnalysis(req)
	}

	// Send response
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(analysis)

	log.Printf("✅ Analysis: %s/%d %s -> %s (confidence=%.2f)",
		req.EntityType, req.EntityID, req.Operation, analysis.Action, analysis.Confidence)
}

// actionFor maps an entity type to the automation it usually triggers.
func actionFor(entityType string) string {
	switch entityType {
	case "invoice":
		return "approve_invoice"
	case "purchase_order":
		return "auto_close"
	case "payment":
		return "reconcile_payment"
	case "stock_move":
		return "update_stock"
	default:
		return "review_" + entityType
	}
}

func generateAnalysis(req AnalyzeRequest) AnalyzeResponse {
	// Use hash to generate deterministic but pseudo-random data
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", req.EntityType, req.EntityID, req.Operation)))
	hashInt := int(hash[0])

	// Confidence between 0.00 and 0.99, stable per event context
	confidence := float64(int(hash[1])%100) / 100.0

	rationales := []string{
		"consistent with recent activity for this entity",
		"partial match against known automation patterns",
		"derived from operation history, moderate support",
		"limited prior data for this entity type",
		"strong correlation with previously applied actions",
	}

	return AnalyzeResponse{
		Action:     actionFor(req.EntityType),
		Confidence: confidence,
		Rationale:  rationales[hashInt%len(rationales)],
	}
}

func sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
	log.Printf("❌ Error response: %d - %s", code, message)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key, defaultValue string) int {
	value := getEnv(key, defaultValue)
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("⚠️  Invalid integer value for %s, using default: %s", key, defaultValue)
		intValue, _ = strconv.Atoi(defaultValue)
	}
	return intValue
}
