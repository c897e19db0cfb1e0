package audio

import (
	"sync"

	"voicechat/internal/domain"
	"voicechat/internal/metrics"
)

const (
	defaultFrameSize   = 4096
	defaultFrameBuffer = 64
)

// frameAssembler turns a stream of float samples into fixed-size PCM16
// frames. Push is safe to call from a device callback thread; it never blocks.
type frameAssembler struct {
	frameSize  int
	sampleRate int
	metrics    *metrics.Metrics

	mu      sync.Mutex
	active  bool
	pending []float32
	carry   []byte
	seq     uint64
	frames  chan domain.AudioFrame
}

func newFrameAssembler(frameSize int, sampleRate int, m *metrics.Metrics) *frameAssembler {
	if frameSize <= 0 {
		frameSize = defaultFrameSize
	}
	return &frameAssembler{
		frameSize:  frameSize,
		sampleRate: sampleRate,
		metrics:    m,
		active:     true,
		pending:    make([]float32, 0, frameSize*2),
		frames:     make(chan domain.AudioFrame, defaultFrameBuffer),
	}
}

func (a *frameAssembler) Frames() <-chan domain.AudioFrame {
	return a.frames
}

// PushF32LE accepts raw little-endian float32 bytes, possibly split at
// arbitrary byte boundaries.
func (a *frameAssembler) PushF32LE(data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return
	}

	if len(a.carry) > 0 {
		data = append(a.carry, data...)
		a.carry = nil
	}
	var rest []byte
	a.pending, rest = decodeF32LE(a.pending, data)
	if len(rest) > 0 {
		a.carry = append([]byte(nil), rest...)
	}
	a.flushLocked()
}

// PushSamples accepts already-decoded float samples.
func (a *frameAssembler) PushSamples(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return
	}
	a.pending = append(a.pending, samples...)
	a.flushLocked()
}

func (a *frameAssembler) flushLocked() {
	for len(a.pending) >= a.frameSize {
		frame := domain.AudioFrame{
			Seq:        a.seq,
			SampleRate: a.sampleRate,
			Samples:    EncodePCM16(a.pending[:a.frameSize]),
		}
		a.seq++
		n := copy(a.pending, a.pending[a.frameSize:])
		a.pending = a.pending[:n]

		select {
		case a.frames <- frame:
			a.metrics.FrameCaptured()
		default:
			a.metrics.FrameDropped("capture_backlog")
		}
	}
}

// Close stops delivery and reports whether this call closed the frame
// channel. No frame is delivered after Close returns.
func (a *frameAssembler) Close() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return false
	}
	a.active = false
	a.pending = nil
	a.carry = nil
	close(a.frames)
	return true
}
