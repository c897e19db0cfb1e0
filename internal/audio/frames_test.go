package audio

import (
	"testing"
)

func TestFrameAssemblerEmitsFixedSizeFramesInOrder(t *testing.T) {
	t.Parallel()

	a := newFrameAssembler(4, 16000, nil)
	a.PushSamples([]float32{0, 0.5, -0.5})
	a.PushSamples([]float32{1, -1, 0, 0, 0, 0, 0.25})

	first := <-a.Frames()
	second := <-a.Frames()

	if first.Seq != 0 || second.Seq != 1 {
		t.Fatalf("unexpected sequence numbers: %d %d", first.Seq, second.Seq)
	}
	if len(first.Samples) != 4 || len(second.Samples) != 4 {
		t.Fatalf("unexpected frame sizes: %d %d", len(first.Samples), len(second.Samples))
	}
	if first.Samples[3] != 32767 || second.Samples[0] != -32768 {
		t.Fatalf("unexpected samples: %v %v", first.Samples, second.Samples)
	}
	if first.SampleRate != 16000 {
		t.Fatalf("unexpected sample rate: %d", first.SampleRate)
	}

	select {
	case f := <-a.Frames():
		t.Fatalf("unexpected partial frame delivered: %+v", f)
	default:
	}
}

func TestFrameAssemblerJoinsSplitFloatBytes(t *testing.T) {
	t.Parallel()

	a := newFrameAssembler(2, 16000, nil)
	// 1.0 and -1.0 as float32 LE, split mid-sample.
	a.PushF32LE([]byte{0x00, 0x00, 0x80})
	a.PushF32LE([]byte{0x3f, 0x00, 0x00, 0x80, 0xbf})

	frame := <-a.Frames()
	if frame.Samples[0] != 32767 || frame.Samples[1] != -32768 {
		t.Fatalf("unexpected samples: %v", frame.Samples)
	}
}

func TestFrameAssemblerCloseStopsDelivery(t *testing.T) {
	t.Parallel()

	a := newFrameAssembler(1, 16000, nil)
	if !a.Close() {
		t.Fatalf("first close must report that it closed the channel")
	}
	if a.Close() {
		t.Fatalf("second close must be a no-op")
	}
	a.PushSamples([]float32{0.1, 0.2})

	if _, ok := <-a.Frames(); ok {
		t.Fatalf("expected closed channel without frames")
	}
}

func TestFrameAssemblerDropsWhenBacklogFull(t *testing.T) {
	t.Parallel()

	a := newFrameAssembler(1, 16000, nil)
	samples := make([]float32, defaultFrameBuffer+10)
	a.PushSamples(samples)

	if got := len(a.frames); got != defaultFrameBuffer {
		t.Fatalf("expected backlog capped at %d, got %d", defaultFrameBuffer, got)
	}
}
