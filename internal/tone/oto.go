package tone

import (
	"bytes"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/hray3182/MedAlarm/internal/log"
)

// oto allows a single context per process
var (
	globalAudioCtx     *oto.Context
	globalAudioReady   chan struct{}
	globalAudioErr     error
	globalAudioCtxOnce sync.Once
)

// otoDevice plays pulses through the process-wide oto context
type otoDevice struct {
	mu      sync.Mutex
	ctx     *oto.Context
	ready   chan struct{}
	players []*oto.Player
}

// OpenOto returns the shared oto-backed device, creating the context on
// first use. It does not wait for the hardware to become ready.
func OpenOto() (Device, error) {
	globalAudioCtxOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   SampleRate,
			ChannelCount: ChannelCount,
			Format:       oto.FormatSignedInt16LE,
		}

		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			globalAudioErr = err
			logger := log.WithComponent("tone")
			logger.Error().Err(err).Msg("Failed to initialize audio context")
			return
		}

		globalAudioCtx = ctx
		globalAudioReady = readyChan
		logger := log.WithComponent("tone")
		logger.Info().Msg("Audio context initialized")
	})

	if globalAudioErr != nil {
		return nil, globalAudioErr
	}
	return &otoDevice{ctx: globalAudioCtx, ready: globalAudioReady}, nil
}

func (d *otoDevice) Resume() error {
	return d.ctx.Resume()
}

func (d *otoDevice) Ready() bool {
	select {
	case <-d.ready:
		return true
	default:
		return false
	}
}

func (d *otoDevice) Play(pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.reap()
	p := d.ctx.NewPlayer(bytes.NewReader(pcm))
	p.Play()
	d.players = append(d.players, p)
	return d.ctx.Err()
}

func (d *otoDevice) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range d.players {
		p.Pause()
		p.Close()
	}
	d.players = nil
	return d.ctx.Suspend()
}

// reap closes players that finished, must be called with d.mu held
func (d *otoDevice) reap() {
	live := d.players[:0]
	for _, p := range d.players {
		if p.IsPlaying() {
			live = append(live, p)
			continue
		}
		p.Close()
	}
	d.players = live
}
