package gateway

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/banshee-data/rover.gateway/internal/monitoring"
	"github.com/banshee-data/rover.gateway/internal/syncutil"
	"github.com/banshee-data/rover.gateway/internal/timeutil"
)

// Gateway bundles the shared state and stop flag so auxiliary surfaces
// (the monitoring listener) can attach before the workers start.
type Gateway struct {
	SH   *SharedState
	Stop *syncutil.StopFlag
}

// New normalizes cfg and builds the gateway state.
func New(cfg *RuntimeConfig) *Gateway {
	cfg.Normalize()
	return &Gateway{
		SH:   NewSharedState(cfg, timeutil.RealClock{}),
		Stop: &syncutil.StopFlag{},
	}
}

// Run starts the four workers and blocks until a termination signal or a
// fatal worker error raises the stop flag, then joins every worker.
func (g *Gateway) Run() {
	// Bridge SIGINT/SIGTERM onto the stop flag. Broken pipes surface as
	// write errors on the affected socket, never as a signal.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			monitoring.Logf("[main] termination signal")
			g.Stop.Stop()
		case <-g.Stop.Done():
		}
	}()

	monitoring.Logf("[main] starting gateway")

	var wg sync.WaitGroup
	workers := []interface{ Run() }{
		NewUSBWorker(g.SH, g.Stop, nil),
		NewTCPWorker(g.SH, g.Stop, nil),
		NewControllerWorker(g.SH, g.Stop),
		NewLogWorker(g.SH, g.Stop, nil),
	}
	for _, w := range workers {
		wg.Add(1)
		go func(w interface{ Run() }) {
			defer wg.Done()
			w.Run()
		}(w)
	}

	<-g.Stop.Done()
	wg.Wait()

	monitoring.Logf("[main] shutdown complete")
}
