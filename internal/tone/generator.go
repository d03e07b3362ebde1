// Package tone plays the audible part of an alarm: a bounded sequence of
// short sine pulses on the host audio device.
package tone

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hray3182/MedAlarm/internal/log"
	"github.com/rs/zerolog"
)

// Device is the audio output the generator drives
type Device interface {
	// Resume asks the device to start processing audio. It may complete
	// asynchronously; Ready reports when it has.
	Resume() error
	Ready() bool
	// Play starts a PCM buffer and returns without waiting for it to finish
	Play(pcm []byte) error
	// Suspend stops all output and releases the hardware stream
	Suspend() error
}

// Opener acquires the audio device
type Opener func() (Device, error)

// ErrNoDevice is returned by Start when no audio device could be acquired
var ErrNoDevice = errors.New("audio device unavailable")

// Generator drives one Device. Start is a no-op while a sequence is already
// playing, so the device is never driven by two sequences at once.
type Generator struct {
	mu      sync.Mutex
	open    Opener
	device  Device
	pattern Pattern
	pulses  [][]byte
	count   int
	stopCh  chan struct{}
	logger  zerolog.Logger
}

// New creates a generator. The device is opened on first Start.
func New(open Opener, pattern Pattern) *Generator {
	pulses := make([][]byte, len(pattern.Frequencies))
	for i, f := range pattern.Frequencies {
		pulses[i] = renderPulse(f, pattern)
	}
	return &Generator{
		open:    open,
		pattern: pattern,
		pulses:  pulses,
		logger:  log.WithComponent("tone"),
	}
}

// Start begins the pulse sequence. It resumes the device best-effort and
// does not wait for it: pulses that come due before the device is ready
// are skipped.
func (g *Generator) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopCh != nil {
		return nil
	}

	if g.device == nil {
		if g.open == nil {
			return ErrNoDevice
		}
		device, err := g.open()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoDevice, err)
		}
		g.device = device
	}

	if err := g.device.Resume(); err != nil {
		g.logger.Warn().Err(err).Msg("Audio device resume failed, continuing")
	}

	stopCh := make(chan struct{})
	g.stopCh = stopCh
	go g.run(stopCh)
	return nil
}

// Stop cancels pending pulses and suspends the device. Calling Stop while
// idle is a no-op.
func (g *Generator) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopCh == nil {
		return
	}
	close(g.stopCh)
	g.stopCh = nil
	g.suspend()
}

// Active reports whether a sequence is playing
func (g *Generator) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopCh != nil
}

// Count returns the number of pulses played since the generator was created
func (g *Generator) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

func (g *Generator) run(stopCh chan struct{}) {
	ticker := time.NewTicker(g.pattern.Interval)
	defer ticker.Stop()

	for i := 0; i < g.pattern.MaxPulses; i++ {
		if i > 0 {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
			}
		}
		if !g.pulse(stopCh, i) {
			return
		}
	}

	// Sequence finished on its own
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopCh == stopCh {
		g.stopCh = nil
		g.suspend()
	}
}

// pulse plays pulse i unless the sequence was stopped meanwhile
func (g *Generator) pulse(stopCh chan struct{}, i int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopCh != stopCh {
		return false
	}
	if !g.device.Ready() {
		g.logger.Debug().Int("pulse", i).Msg("Audio device not ready, skipping pulse")
		return true
	}
	if err := g.device.Play(g.pulses[i%len(g.pulses)]); err != nil {
		g.logger.Warn().Err(err).Int("pulse", i).Msg("Failed to play pulse")
		return true
	}
	g.count++
	return true
}

// suspend must be called with g.mu held
func (g *Generator) suspend() {
	if g.device == nil {
		return
	}
	if err := g.device.Suspend(); err != nil {
		g.logger.Warn().Err(err).Msg("Failed to suspend audio device")
	}
}
