package usecase

import (
	"log/slog"

	"voicechat/internal/domain"
	"voicechat/internal/metrics"
	"voicechat/internal/ports"
)

// pumpAudioFrames forwards captured frames to the client in capture order
// until the frame channel closes. Frames arriving while forward reports false
// are dropped.
func pumpAudioFrames(
	frames <-chan domain.AudioFrame,
	forward func() bool,
	client ports.RealtimeClient,
	m *metrics.Metrics,
	logger *slog.Logger,
	done chan struct{},
) {
	defer close(done)

	for frame := range frames {
		if !forward() {
			m.FrameDropped("not_recording")
			continue
		}
		if err := client.SendAudio(frame.Bytes()); err != nil {
			logger.Warn("failed to send audio frame",
				slog.Uint64("seq", frame.Seq),
				slog.String("error", err.Error()),
			)
		}
	}
}
