package audio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"

	"voicechat/internal/domain"
)

// classifyStartErr maps device acquisition failures onto the capture error
// taxonomy: permission, missing device, or generic start failure.
func classifyStartErr(err error, detail string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrMicPermissionDenied) ||
		errors.Is(err, domain.ErrNoInputDevice) ||
		errors.Is(err, domain.ErrCaptureStart) {
		return err
	}

	switch {
	case errors.Is(err, malgo.ErrAccessDenied):
		return fmt.Errorf("%w: %v", domain.ErrMicPermissionDenied, err)
	case errors.Is(err, malgo.ErrNoDevice):
		return fmt.Errorf("%w: %v", domain.ErrNoInputDevice, err)
	}

	text := strings.ToLower(err.Error() + " " + detail)
	switch {
	case strings.Contains(text, "permission denied"),
		strings.Contains(text, "access denied"),
		strings.Contains(text, "not allowed"):
		return fmt.Errorf("%w: %v", domain.ErrMicPermissionDenied, err)
	case strings.Contains(text, "no such device"),
		strings.Contains(text, "no device"),
		strings.Contains(text, "no such file or directory") && strings.Contains(text, "/dev/"),
		strings.Contains(text, "no such audio device"),
		strings.Contains(text, "device not found"):
		return fmt.Errorf("%w: %v", domain.ErrNoInputDevice, err)
	}

	if detail != "" {
		return fmt.Errorf("%w: %w: %s", domain.ErrCaptureStart, err, detail)
	}
	return fmt.Errorf("%w: %w", domain.ErrCaptureStart, err)
}
