package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultPort       = "8069"
	defaultLatencyMs  = "75"
	defaultFlakyFails = "2"
)

type ActionRequest struct {
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   int64           `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type ActionResponse struct {
	Reference  string `json:"reference"`
	Action     string `json:"action"`
	EntityType string `json:"entity_type"`
	EntityID   int64  `json:"entity_id"`
	AppliedAt  string `json:"applied_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

var (
	latencyMs  = getEnvInt("LATENCY_MS", defaultLatencyMs)
	flakyFails = getEnvInt("FLAKY_FAILS", defaultFlakyFails)
)

// applied records every action keyed by its Idempotency-Key so that a
// retried request returns the original reference instead of applying twice.
var (
	mu       sync.Mutex
	applied  = map[string]ActionResponse{}
	attempts = map[string]int{}
)

// Magic action names let e2e tests force specific failure modes.
// "reject_*" actions return 422 (permanent, never retried); "flaky_*"
// actions fail with 503 until FLAKY_FAILS attempts have been made with the
// same idempotency key; "outage_*" actions always return 503.
const (
	rejectPrefix = "reject_"
	flakyPrefix  = "flaky_"
	outagePrefix = "outage_"
)

// rateLimitedEntities contains entity IDs that always get a 429 back.
var rateLimitedEntities = map[int64]bool{
	9999: true,
}

func main() {
	port := getEnv("PORT", defaultPort)

	http.HandleFunc("/health", handleHealth)
	http.HandleFunc("/api/actions", handleAction)
	http.HandleFunc("/actions", handleAction) // Simplified path for adapter

	log.Printf("🏭 Mock ERP API starting on port %s", port)
	log.Printf("⏱️  Simulated latency: %dms", latencyMs)
	log.Printf("🔁 Flaky actions fail %d time(s) before succeeding", flakyFails)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "erp",
		"version": "1.0.0",
	})
}

func handleAction(w http.ResponseWriter, r *http.Request) {
	// Simulate latency
	time.Sleep(time.Duration(latencyMs) * time.Millisecond)

	// Log request
	log.Printf("📥 Incoming request: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)

	// Only accept POST
	if r.Method != http.MethodPost {
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// An idempotency key is mandatory; without one a retried write could
	// apply twice.
	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey == "" {
		sendError(w, "Missing Idempotency-Key header", http.StatusBadRequest)
		return
	}

	// Parse request body
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	// Validate required fields
	if req.Action == "" {
		sendError(w, "action is required", http.StatusBadRequest)
		return
	}
	if req.EntityType == "" {
		sendError(w, "entity_type is required", http.StatusBadRequest)
		return
	}

	// Replay: the same idempotency key returns the original result.
	mu.Lock()
	if prev, ok := applied[idemKey]; ok {
		mu.Unlock()
		log.Printf("🔁 Replay for idempotency key %s -> %s", idemKey, prev.Reference)
		sendJSON(w, http.StatusOK, prev)
		return
	}
	attempts[idemKey]++
	attempt := attempts[idemKey]
	mu.Unlock()

	// Check for magic failure actions
	switch {
	case strings.HasPrefix(req.Action, rejectPrefix):
		log.Printf("🧪 Permanent rejection for action %s", req.Action)
		sendError(w, "action rejected by business rules", http.StatusUnprocessableEntity)
		return
	case strings.HasPrefix(req.Action, outagePrefix):
		log.Printf("🧪 Simulated outage for action %s", req.Action)
		sendError(w, "service temporarily unavailable", http.StatusServiceUnavailable)
		return
	case strings.HasPrefix(req.Action, flakyPrefix) && attempt <= flakyFails:
		log.Printf("🧪 Flaky failure %d/%d for action %s", attempt, flakyFails, req.Action)
		sendError(w, "transient backend error", http.StatusServiceUnavailable)
		return
	}

	// Check for rate-limited test entities
	if rateLimitedEntities[req.EntityID] {
		log.Printf("🧪 Rate limiting entity %d", req.EntityID)
		sendError(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	resp := ActionResponse{
		Reference:  generateReference(idemKey),
		Action:     req.Action,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		AppliedAt:  time.Now().UTC().Format(time.RFC3339),
	}

	mu.Lock()
	applied[idemKey] = resp
	mu.Unlock()

	sendJSON(w, http.StatusOK, resp)

	log.Printf("✅ Applied %s on %s/%d -> %s (attempt %d)",
		req.Action, req.EntityType, req.EntityID, resp.Reference, attempt)
}

// generateReference builds a stable ERP document reference from the
// idempotency key, so retried requests would produce the same reference
// even without the replay cache.
func generateReference(idemKey string) string {
	hash := sha256.Sum256([]byte(idemKey))
	return "ERP-" + strings.ToUpper(hex.EncodeToString(hash[:5]))
}

func sendJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
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
