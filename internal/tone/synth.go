package tone

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// SampleRate used for every synthesized pulse
	SampleRate = 44100
	// ChannelCount is mono
	ChannelCount = 1
)

// Pattern describes the alert: pulses cycle through Frequencies, one every
// Interval, for at most MaxPulses.
type Pattern struct {
	Frequencies []float64
	Interval    time.Duration
	PulseLength time.Duration
	Attack      time.Duration
	Volume      float64 // peak gain, 0..1
	MaxPulses   int
}

// DefaultPattern is a C5 E5 G5 E5 arpeggio lasting about twelve seconds
var DefaultPattern = Pattern{
	Frequencies: []float64{523, 659, 784, 659},
	Interval:    400 * time.Millisecond,
	PulseLength: 300 * time.Millisecond,
	Attack:      50 * time.Millisecond,
	Volume:      0.3,
	MaxPulses:   30,
}

// renderPulse returns signed 16-bit little-endian mono PCM for one sine
// pulse with a linear attack and an exponential decay down to 1% gain.
func renderPulse(freq float64, p Pattern) []byte {
	n := int(float64(SampleRate) * p.PulseLength.Seconds())
	attack := p.Attack.Seconds()
	length := p.PulseLength.Seconds()
	floor := 0.01

	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(SampleRate)

		var gain float64
		if t < attack {
			gain = p.Volume * t / attack
		} else {
			progress := (t - attack) / (length - attack)
			gain = p.Volume * math.Pow(floor/p.Volume, progress)
		}

		s := int16(math.Sin(2*math.Pi*freq*t) * 32767 * gain)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
