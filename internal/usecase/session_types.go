package usecase

import (
	"context"

	"voicechat/internal/ports"
)

// activeConnection is one realtime client owned by the controller, from the
// start of dialing until disconnect or remote close.
type activeConnection struct {
	client ports.RealtimeClient
	cancel context.CancelFunc
}

// activeCapture is one microphone session and the pump draining it.
type activeCapture struct {
	session ports.CaptureSession
	done    chan struct{}
}

func (a *activeCapture) stop() error {
	if a == nil {
		return nil
	}
	err := a.session.Stop()
	<-a.done
	return err
}
