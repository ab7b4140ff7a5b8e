package websocket

import (
	"time"

	"go.uber.org/zap"
)

// DiagnosticsBroadcaster pushes diagnostics snapshots to feed clients on a
// fixed cadence, so dashboards converge even when no state changes arrive.
type DiagnosticsBroadcaster struct {
	hub      *Hub
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
}

// NewDiagnosticsBroadcaster creates a broadcaster over the given hub.
func NewDiagnosticsBroadcaster(hub *Hub, interval time.Duration, logger *zap.Logger) *DiagnosticsBroadcaster {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &DiagnosticsBroadcaster{
		hub:      hub,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background broadcast loop
func (b *DiagnosticsBroadcaster) Start() {
	go b.loop()
	b.logger.Info("Diagnostics broadcaster started",
		zap.Duration("interval", b.interval))
}

// Stop gracefully stops the broadcaster
func (b *DiagnosticsBroadcaster) Stop() {
	close(b.stopChan)
	b.logger.Info("Diagnostics broadcaster stopped")
}

func (b *DiagnosticsBroadcaster) loop() {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if b.hub.ClientCount() == 0 {
				continue
			}
			b.hub.BroadcastDiagnostics()
		}
	}
}
