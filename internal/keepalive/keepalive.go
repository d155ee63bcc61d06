// Package keepalive implements the per-session liveness probe described in
// §4.E. The façade starts a Scheduler for a session whenever it is given a
// positive interval, whatever the transport; on the REST transport the
// probe it calls is a no-op.
package keepalive

import (
	"context"
	"log"
	"time"
)

// Prober sends a single keep-alive probe for a session and discards the
// reply. Implemented by both transports' KeepAlive operation; the REST one
// does nothing.
type Prober interface {
	KeepAlive(ctx context.Context, sessionID uint64, timeout time.Duration) error
}

// Scheduler ticks a Prober for one session every interval until stopped.
// On a probe failure the task logs the failure and stops without reporting
// it to any caller: the spec (§4.E) assigns
// liveness detection to the server's own Timeout event, not to the
// scheduler noticing a failed probe.
type Scheduler struct {
	sessionID    uint64
	interval     time.Duration
	prober       Prober
	probeTimeout time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the keep-alive loop in a background goroutine and returns
// a Scheduler that can be stopped with Stop.
func Start(sessionID uint64, interval, probeTimeout time.Duration, prober Prober) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		sessionID:    sessionID,
		interval:     interval,
		prober:       prober,
		probeTimeout: probeTimeout,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
			err := s.prober.KeepAlive(probeCtx, s.sessionID, s.probeTimeout)
			cancel()
			if err != nil {
				log.Printf("[keepalive] session %d: probe failed, stopping scheduler: %v", s.sessionID, err)
				return
			}
		}
	}
}

// Stop cancels the keep-alive loop and waits for its goroutine to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.done
}
