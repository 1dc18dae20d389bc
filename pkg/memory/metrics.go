package memory

import (
	"strings"
	"sync"
)

// CaptureMetrics counts capture attempts and outcomes.
type CaptureMetrics struct {
	Attempts    int     `json:"attempts"`
	Stored      int     `json:"stored"`
	Skipped     int     `json:"skipped"`
	Duplicates  int     `json:"duplicates"`
	SuccessRate float64 `json:"success_rate"`
}

// RetrievalMetrics counts retrieval requests and latency.
type RetrievalMetrics struct {
	Requests        int            `json:"requests"`
	Hits            int            `json:"hits"`
	Misses          int            `json:"misses"`
	HitRate         float64        `json:"hit_rate"`
	AvgLatencyMS    float64        `json:"avg_latency_ms"`
	OperationCounts map[string]int `json:"operation_counts"`
}

// Metrics aggregates capture and retrieval counters for the service.
// Safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	captureAttempts   int
	captureStored     int
	captureSkipped    int
	captureDuplicates int

	retrievalRequests int
	retrievalHits     int
	retrievalMisses   int
	totalLatencyMS    float64
	operationCounts   map[string]int
}

// NewMetrics creates an empty metrics aggregate.
func NewMetrics() *Metrics {
	return &Metrics{operationCounts: make(map[string]int)}
}

// RecordCapture tallies one capture attempt.
func (m *Metrics) RecordCapture(stored, duplicateDetected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captureAttempts++
	if stored {
		m.captureStored++
	} else {
		m.captureSkipped++
	}
	if duplicateDetected {
		m.captureDuplicates++
	}
}

// RecordRetrieval tallies one retrieval request.
func (m *Metrics) RecordRetrieval(operation string, matchCount int, latencyMS float64, success bool) {
	key := strings.TrimSpace(strings.ToLower(operation))
	if key == "" {
		key = "unknown"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.retrievalRequests++
	m.operationCounts[key]++
	if success && matchCount > 0 {
		m.retrievalHits++
	} else {
		m.retrievalMisses++
	}
	if latencyMS > 0 {
		m.totalLatencyMS += latencyMS
	}
}

// Capture returns a snapshot of the capture counters.
func (m *Metrics) Capture() CaptureMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := CaptureMetrics{
		Attempts:   m.captureAttempts,
		Stored:     m.captureStored,
		Skipped:    m.captureSkipped,
		Duplicates: m.captureDuplicates,
	}
	if m.captureAttempts > 0 {
		snapshot.SuccessRate = float64(m.captureStored) / float64(m.captureAttempts)
	}
	return snapshot
}

// Retrieval returns a snapshot of the retrieval counters.
func (m *Metrics) Retrieval() RetrievalMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := RetrievalMetrics{
		Requests:        m.retrievalRequests,
		Hits:            m.retrievalHits,
		Misses:          m.retrievalMisses,
		OperationCounts: make(map[string]int, len(m.operationCounts)),
	}
	for op, count := range m.operationCounts {
		snapshot.OperationCounts[op] = count
	}
	if m.retrievalRequests > 0 {
		snapshot.HitRate = float64(m.retrievalHits) / float64(m.retrievalRequests)
		snapshot.AvgLatencyMS = m.totalLatencyMS / float64(m.retrievalRequests)
	}
	return snapshot
}
