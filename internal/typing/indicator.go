// Package typing tracks typing presence: the outbound indicator for the local
// user and the inbound set of peers currently typing.
package typing

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultIdle is how long after the last keystroke "stopped typing" is sent.
const DefaultIdle = 3 * time.Second

// EmitFunc publishes a typing state change. It is called with the indicator
// lock held and must not call back into the Indicator.
type EmitFunc func(isTyping bool)

// IndicatorConfig configures an Indicator.
type IndicatorConfig struct {
	// Emit is required.
	Emit EmitFunc
	// Idle defaults to DefaultIdle.
	Idle   time.Duration
	Logger *slog.Logger
}

// Indicator debounces local input into typing:true/typing:false events.
//
// Every input change emits typing:true and restarts one idle timer; when the
// timer fires typing:false is emitted. After Close the indicator is sealed and
// late timer callbacks cannot restart it.
type Indicator struct {
	mu     sync.Mutex
	emit   EmitFunc
	idle   time.Duration
	logger *slog.Logger

	active bool
	sealed bool
	timer  *time.Timer
	gen    uint64
}

// NewIndicator creates an indicator. A nil Emit makes every call a no-op.
func NewIndicator(cfg IndicatorConfig) *Indicator {
	idle := cfg.Idle
	if idle <= 0 {
		idle = DefaultIdle
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Indicator{
		emit:   cfg.Emit,
		idle:   idle,
		logger: logger,
	}
}

// Activity records an input change.
func (i *Indicator) Activity() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.sealed || i.emit == nil {
		return
	}

	i.active = true
	i.emit(true)

	if i.timer != nil {
		i.timer.Stop()
	}
	i.gen++
	gen := i.gen
	i.timer = time.AfterFunc(i.idle, func() { i.expire(gen) })
}

func (i *Indicator) expire(gen uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	// A newer Activity or a Flush superseded this timer.
	if i.sealed || gen != i.gen || !i.active {
		return
	}
	i.logger.Debug("typing idle timeout", "idle", i.idle)
	i.stopLocked()
}

// Flush sends typing:false now if typing is active. Used right before sending a message.
func (i *Indicator) Flush() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.sealed {
		return
	}
	i.stopLocked()
}

func (i *Indicator) stopLocked() {
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
	i.gen++
	if !i.active {
		return
	}
	i.active = false
	if i.emit != nil {
		i.emit(false)
	}
}

// Close flushes and seals the indicator.
func (i *Indicator) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.sealed {
		return
	}
	i.stopLocked()
	i.sealed = true
}

// IsActive reports whether typing:true is the last state sent.
func (i *Indicator) IsActive() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active
}

// IsSealed reports whether Close was called.
func (i *Indicator) IsSealed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.sealed
}
