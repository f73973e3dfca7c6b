package sessiondb

import (
	"context"
	"log"
	"time"

	"github.com/zulandar/sessionyard/internal/lease"
)

// Standby keeps a reader ready to become the writer. Every interval it
// checks the lease: a released lease is claimed with RegisterWriter and a
// timed-out one with TryTakeover. It returns when ctx is cancelled.
func (d *DB) Standby(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = d.lease.HeartbeatInterval()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		d.promote()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// promote makes one attempt to become the writer.
func (d *DB) promote() {
	if d.Role() == lease.RoleWriter {
		return
	}
	health, err := d.CheckWriterHealth()
	if err != nil {
		log.Printf("sessiondb: standby: %v", err)
		return
	}
	switch health {
	case lease.HealthReleased:
		if _, err := d.RegisterWriter(""); err != nil {
			log.Printf("sessiondb: standby register: %v", err)
		}
	case lease.HealthTimeout:
		ok, err := d.TryTakeover()
		if err != nil {
			log.Printf("sessiondb: standby takeover: %v", err)
		} else if ok {
			log.Printf("sessiondb: took over a timed-out writer lease")
		}
	}
}
