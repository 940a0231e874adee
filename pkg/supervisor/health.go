package supervisor

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/mihaimyh/hookq/pkg/hookq"
)

const mib = 1 << 20

func (s *Supervisor) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkHealth(ctx)
		}
	}
}

// checkHealth samples process memory, logs it, pings the uptime monitor,
// and escalates sustained heap pressure into the same graceful drain used
// for termination signals so a restart happens before the OOM killer loses
// in-flight jobs.
func (s *Supervisor) checkHealth(ctx context.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	s.cfg.Metrics.RecordHeapUsage(m.HeapAlloc)

	for name, q := range s.queues {
		depth, err := q.Depth(ctx)
		if err != nil {
			continue
		}
		s.cfg.Metrics.RecordQueueDepth(name, depth)
	}

	s.cfg.Logger.Info("health check",
		hookq.Field{Key: "heap_alloc_mb", Value: m.HeapAlloc / mib},
		hookq.Field{Key: "heap_sys_mb", Value: m.HeapSys / mib},
		hookq.Field{Key: "sys_mb", Value: m.Sys / mib},
		hookq.Field{Key: "goroutines", Value: runtime.NumGoroutine()},
	)

	s.heartbeat(ctx)

	if m.HeapAlloc <= s.cfg.HeapWarnBytes {
		return
	}
	s.cfg.Logger.Warn("heap usage above threshold, requesting GC",
		hookq.Field{Key: "heap_alloc_mb", Value: m.HeapAlloc / mib},
		hookq.Field{Key: "threshold_mb", Value: s.cfg.HeapWarnBytes / mib},
	)
	runtime.GC()
	runtime.ReadMemStats(&m)

	criticalAt := s.cfg.HeapWarnBytes + s.cfg.HeapWarnBytes/2
	if m.HeapAlloc <= criticalAt {
		return
	}
	s.cfg.Logger.Error("heap usage critical after GC, initiating graceful shutdown",
		hookq.Field{Key: "heap_alloc_mb", Value: m.HeapAlloc / mib},
		hookq.Field{Key: "critical_mb", Value: criticalAt / mib},
	)
	s.criticOnce.Do(func() { close(s.critical) })
}

// heartbeat pings the uptime-monitoring collaborator. Absent configuration
// makes this a no-op; failures are logged, never escalated.
func (s *Supervisor) heartbeat(ctx context.Context) {
	if s.cfg.HeartbeatURL == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.HeartbeatURL, nil)
	if err != nil {
		return
	}
	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		s.cfg.Logger.Warn("heartbeat ping failed",
			hookq.Field{Key: "error", Value: err.Error()},
		)
		return
	}
	resp.Body.Close()
}
