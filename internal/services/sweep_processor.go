package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"folhaponto/internal/log"
)

// Sweeper removes fichas whose employee no longer exists.
type Sweeper interface {
	SweepOrphans(ctx context.Context) (int, error)
}

// SweepProcessorConfig holds configuration for the sweep processor
type SweepProcessorConfig struct {
	// Interval is how often orphan fichas are swept (default: 1h)
	Interval time.Duration

	// Timeout bounds a single sweep (default: 1m)
	Timeout time.Duration
}

func DefaultSweepProcessorConfig() SweepProcessorConfig {
	return SweepProcessorConfig{
		Interval: time.Hour,
		Timeout:  time.Minute,
	}
}

// SweepProcessor runs Sweeper periodically until stopped.
type SweepProcessor struct {
	sweeper Sweeper
	config  SweepProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	removed int
}

func NewSweepProcessor(sweeper Sweeper, config SweepProcessorConfig) *SweepProcessor {
	if config.Interval <= 0 {
		config.Interval = DefaultSweepProcessorConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultSweepProcessorConfig().Timeout
	}
	return &SweepProcessor{sweeper: sweeper, config: config}
}

// Start begins the sweep loop. Returns an error if already running.
func (p *SweepProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sweep processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Sweep processor started", log.FieldComponent, log.ComponentSweep, "interval", p.config.Interval)
	return nil
}

// Stop signals the loop and waits for the running sweep to finish.
func (p *SweepProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Sweep processor stopped gracefully", log.FieldComponent, log.ComponentSweep)
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sweep processor stop timed out", log.FieldComponent, log.ComponentSweep)
		return ctx.Err()
	}
}

func (p *SweepProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Removed returns the number of fichas removed since the processor was created.
func (p *SweepProcessor) Removed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removed
}

func (p *SweepProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	// sweep once on startup
	p.sweep(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns its result.
func (p *SweepProcessor) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	n, err := p.sweeper.SweepOrphans(ctx)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	p.removed += n
	p.mu.Unlock()
	return n, nil
}

func (p *SweepProcessor) sweep(ctx context.Context) {
	n, err := p.RunOnce(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Orphan sweep failed", log.FieldComponent, log.ComponentSweep, log.FieldError, err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "Orphan sweep removed fichas", log.FieldComponent, log.ComponentSweep, log.FieldCount, n)
	}
}
