package lease

import (
	"context"
	"time"
)

// StartHeartbeat launches a goroutine that refreshes the lease every
// interval. It returns a channel that receives the first heartbeat failure
// (typically ErrLeaseLost after a takeover); the goroutine exits after
// reporting it or when ctx is cancelled.
func (m *Manager) StartHeartbeat(ctx context.Context, interval time.Duration) <-chan error {
	if interval <= 0 {
		interval = m.interval
	}

	errCh := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Heartbeat(); err != nil {
					errCh <- err
					return
				}
			}
		}
	}()

	return errCh
}
