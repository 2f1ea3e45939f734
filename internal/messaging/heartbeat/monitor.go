package heartbeat

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/privtrain/privtrain/pkg/logger"
)

// Monitor is the coordinator-side receiving end of the heartbeat protocol.
// It records the last beat per worker; staleness checks are advisory, the
// run's failure policy stays with the driver's connection errors.
type Monitor struct {
	mu       sync.RWMutex
	lastSeen map[string]time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{lastSeen: make(map[string]time.Time)}
}

func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("heartbeat_monitor")

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid heartbeat payload", http.StatusBadRequest)
		return
	}
	if payload.Worker == "" {
		http.Error(w, "heartbeat missing worker name", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.lastSeen[payload.Worker] = time.Now()
	m.mu.Unlock()

	log.Debug().
		Str("worker", payload.Worker).
		Float64("uptime_sec", payload.UptimeSec).
		Msg("Heartbeat received")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// LastSeen reports when the worker last beat, if it ever did.
func (m *Monitor) LastSeen(worker string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.lastSeen[worker]
	return t, ok
}

// Workers lists every worker that has beaten at least once, sorted.
func (m *Monitor) Workers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.lastSeen))
	for name := range m.lastSeen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stale lists workers whose last beat is older than threshold.
func (m *Monitor) Stale(threshold time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := time.Now().Add(-threshold)
	var stale []string
	for name, seen := range m.lastSeen {
		if seen.Before(cutoff) {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)
	return stale
}
