package transcript

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

const (
	// voiceRMS is the energy floor below which a frame counts as silence.
	voiceRMS = 250.0
	// defaultSilenceGap is how long audio must stay quiet before the gap
	// callback fires.
	defaultSilenceGap = 1500 * time.Millisecond
)

// LevelMonitor watches the audio energy of a capture stream and fires a
// callback once the level stays below the voice floor for the silence gap.
// The session layer uses the gap as a turn boundary hint.
type LevelMonitor struct {
	gap   time.Duration
	onGap func()

	mu       sync.Mutex
	timer    *time.Timer
	stopped  bool
	speaking bool
}

// NewLevelMonitor creates a monitor firing onGap after gap of silence. A zero
// gap uses the default.
func NewLevelMonitor(gap time.Duration, onGap func()) *LevelMonitor {
	if gap == 0 {
		gap = defaultSilenceGap
	}
	return &LevelMonitor{gap: gap, onGap: onGap}
}

// Feed consumes a frame of 16-bit little-endian PCM. Voiced frames cancel any
// pending gap timer; the first quiet frame after speech arms it.
func (m *LevelMonitor) Feed(pcm []byte) {
	voiced := frameRMS(pcm) >= voiceRMS

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if voiced {
		m.speaking = true
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
		return
	}
	if !m.speaking || m.timer != nil {
		return
	}
	m.timer = time.AfterFunc(m.gap, func() {
		m.mu.Lock()
		m.timer = nil
		m.speaking = false
		stopped := m.stopped
		m.mu.Unlock()
		if stopped {
			return
		}
		if m.onGap != nil {
			m.onGap()
		}
	})
}

// Stop cancels any pending gap timer; the monitor stays stopped.
func (m *LevelMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func frameRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}
