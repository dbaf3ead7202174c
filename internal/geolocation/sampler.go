package geolocation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Source names where a sample came from.
type Source string

const (
	SourceInitial Source = "initial"
	SourceWatch   Source = "watch"
	SourcePoll    Source = "poll"
)

// Sample is either a position or a classified error.
type Sample struct {
	Position Position
	Err      error
	Source   Source
}

// Sampler merges the initial read, the watch and the poll of a Provider.
type Sampler struct {
	provider Provider
	logger   *slog.Logger

	mu  sync.Mutex
	cur *run
}

type run struct {
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopWatch func()

	sendMu sync.RWMutex
	closed bool
	out    chan Sample
}

// send delivers a sample unless the run is shutting down.
func (r *run) send(s Sample) {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.out <- s:
	case <-r.ctx.Done():
	}
}

// NewSampler creates a sampler. A nil provider makes Start fail with ErrUnsupported.
func NewSampler(provider Provider, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		provider: provider,
		logger:   logger.With("component", "geolocation"),
	}
}

// Running reports whether the sampler has been started and not stopped.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// Start begins sampling. The returned channel is closed by Stop or when ctx is done.
func (s *Sampler) Start(ctx context.Context, opts Options) (<-chan Sample, error) {
	if s.provider == nil {
		return nil, ErrUnsupported
	}
	opts = opts.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		return nil, ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		ctx:    runCtx,
		cancel: cancel,
		out:    make(chan Sample, 16),
	}
	s.cur = r

	r.wg.Add(2)
	go s.initial(r, opts)
	go s.poll(r, opts)

	stop, err := s.provider.Watch(runCtx, opts, func(pos Position, err error) {
		if err != nil {
			r.send(Sample{Err: Classify(err), Source: SourceWatch})
			return
		}
		r.send(Sample{Position: pos, Source: SourceWatch})
	})
	if err != nil {
		s.logger.Warn("location watch unavailable", "error", err)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.send(Sample{Err: Classify(err), Source: SourceWatch})
		}()
	}
	r.stopWatch = stop

	go func() {
		<-runCtx.Done()
		s.stopRun(r)
	}()

	return r.out, nil
}

func (s *Sampler) initial(r *run, opts Options) {
	defer r.wg.Done()
	ctx, cancel := context.WithTimeout(r.ctx, opts.Timeout)
	defer cancel()

	pos, err := s.provider.CurrentPosition(ctx, opts)
	if r.ctx.Err() != nil {
		return
	}
	if err != nil {
		r.send(Sample{Err: Classify(err), Source: SourceInitial})
		return
	}
	r.send(Sample{Position: pos, Source: SourceInitial})
}

// poll reads on a fixed period. Its failures are only logged.
func (s *Sampler) poll(r *run, opts Options) {
	defer r.wg.Done()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(r.ctx, opts.PollTimeout)
		pos, err := s.provider.CurrentPosition(ctx, opts)
		cancel()
		if r.ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Debug("location poll failed", "error", err)
			continue
		}
		r.send(Sample{Position: pos, Source: SourcePoll})
	}
}

// Stop releases the watch and the poll and closes the sample channel.
// It is a no-op when the sampler is not running.
func (s *Sampler) Stop() {
	s.mu.Lock()
	r := s.cur
	s.mu.Unlock()
	if r != nil {
		s.stopRun(r)
	}
}

func (s *Sampler) stopRun(r *run) {
	s.mu.Lock()
	if s.cur != r {
		s.mu.Unlock()
		return
	}
	s.cur = nil
	s.mu.Unlock()

	r.cancel()
	if r.stopWatch != nil {
		r.stopWatch()
	}
	r.wg.Wait()

	r.sendMu.Lock()
	r.closed = true
	close(r.out)
	r.sendMu.Unlock()
}
