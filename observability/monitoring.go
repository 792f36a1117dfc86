package observability

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Snapshot aggregates the relay metrics exposed on the debug endpoint.
type Snapshot struct {
	OpenSessions      int     `json:"open_sessions"`
	ConnectionsTotal  uint64  `json:"connections_total"`
	AuthRejected      uint64  `json:"auth_rejected"`
	MessagesPersisted uint64  `json:"messages_persisted"`
	MessagesDelivered uint64  `json:"messages_delivered"`
	OfflineStores     uint64  `json:"offline_stores"`
	SendsRejected     uint64  `json:"sends_rejected"`
	AllocMemMb        uint64  `json:"alloc_mem_mb"`
	NumGC             uint32  `json:"num_gc"`
	CPUPercent        float64 `json:"cpu_percent"`
	RAMPercent        float32 `json:"ram_percent"`
	Timestamp         string  `json:"timestamp"`
}

// RelayStats collects counters from the handshake gate, the router and the
// registry. Counters are atomic; the snapshot is refreshed periodically by
// Listen. All methods are nil-safe so wiring the collector stays optional.
type RelayStats struct {
	log      *slog.Logger
	sessions func() int
	proc     *process.Process

	connectionsTotal  uint64
	authRejected      uint64
	messagesPersisted uint64
	messagesDelivered uint64
	offlineStores     uint64
	sendsRejected     uint64

	mu     sync.RWMutex
	latest Snapshot
}

func NewRelayStats(log *slog.Logger, sessions func() int) *RelayStats {
	// Self-inspection only; a missing process handle degrades to zero CPU/RAM.
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Debug("Process handle unavailable", "err", err)
	}
	return &RelayStats{log: log, sessions: sessions, proc: proc}
}

func (s *RelayStats) IncrConnection() {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.connectionsTotal, 1)
}

func (s *RelayStats) IncrAuthRejected() {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.authRejected, 1)
}

func (s *RelayStats) IncrPersisted() {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.messagesPersisted, 1)
}

func (s *RelayStats) AddDelivered(n int) {
	if s == nil || n <= 0 {
		return
	}
	atomic.AddUint64(&s.messagesDelivered, uint64(n))
}

func (s *RelayStats) IncrOfflineStore() {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.offlineStores, 1)
}

func (s *RelayStats) IncrSendRejected() {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.sendsRejected, 1)
}

// Listen refreshes the snapshot until the context is cancelled.
func (s *RelayStats) Listen(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("Stats collector stopped")
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

func (s *RelayStats) refresh() {
	snapshot := Snapshot{
		ConnectionsTotal:  atomic.LoadUint64(&s.connectionsTotal),
		AuthRejected:      atomic.LoadUint64(&s.authRejected),
		MessagesPersisted: atomic.LoadUint64(&s.messagesPersisted),
		MessagesDelivered: atomic.LoadUint64(&s.messagesDelivered),
		OfflineStores:     atomic.LoadUint64(&s.offlineStores),
		SendsRejected:     atomic.LoadUint64(&s.sendsRejected),
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}
	if s.sessions != nil {
		snapshot.OpenSessions = s.sessions()
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	snapshot.AllocMemMb = m.Alloc / 1024 / 1024
	snapshot.NumGC = m.NumGC

	if s.proc != nil {
		if cpu, err := s.proc.CPUPercent(); err == nil {
			snapshot.CPUPercent = cpu
		}
		if ram, err := s.proc.MemoryPercent(); err == nil {
			snapshot.RAMPercent = ram
		}
	}

	s.mu.Lock()
	s.latest = snapshot
	s.mu.Unlock()
}

// Latest returns the most recent snapshot. Safe to call before Listen runs.
func (s *RelayStats) Latest() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}
