// Package capture asks a device for a fresh reference frame and keeps the
// resulting image alive only as long as its owner needs it.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cityeye-service/internal/metrics"
	"cityeye-service/internal/model"
)

const CaptureCommand = "capture_image"

var (
	ErrCaptureFailed = errors.New("device reported capture failure")
	ErrStreamEnded   = errors.New("status stream ended without a terminal status")
	ErrEmptyImage    = errors.New("device returned an empty image")
)

type DeviceCommander interface {
	SendDeviceCommand(ctx context.Context, token, deviceID string, cmd model.DeviceCommand) (string, error)
	StreamCommandStatus(ctx context.Context, token, messageID string, fn func(model.CommandStatusEvent) bool) error
	FetchDeviceImage(ctx context.Context, token, deviceID string) ([]byte, string, error)
}

type Capturer struct {
	devices DeviceCommander
	timeout time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

func NewCapturer(devices DeviceCommander, timeout time.Duration, log zerolog.Logger) *Capturer {
	return &Capturer{devices: devices, timeout: timeout, log: log, now: time.Now}
}

// Capture dispatches the capture command, follows the command status stream
// until SUCCESS or FAILED, then downloads the image.
func (c *Capturer) Capture(ctx context.Context, token, deviceID string) (*Image, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	messageID, err := c.devices.SendDeviceCommand(ctx, token, deviceID, model.DeviceCommand{Command: CaptureCommand})
	if err != nil {
		metrics.CaptureAttemptsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("dispatch capture command: %w", err)
	}

	log := c.log.With().Str("device_id", deviceID).Str("message_id", messageID).Logger()
	log.Debug().Msg("capture command dispatched")

	var final model.CommandStatusEvent
	err = c.devices.StreamCommandStatus(ctx, token, messageID, func(event model.CommandStatusEvent) bool {
		if !event.Status.Terminal() {
			return true
		}
		final = event
		return false
	})
	if err != nil {
		metrics.CaptureAttemptsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("follow capture status: %w", err)
	}

	switch final.Status {
	case model.CommandSuccess:
	case model.CommandFailed:
		metrics.CaptureAttemptsTotal.WithLabelValues("failed").Inc()
		if final.Detail != "" {
			return nil, fmt.Errorf("%w: %s", ErrCaptureFailed, final.Detail)
		}
		return nil, ErrCaptureFailed
	default:
		metrics.CaptureAttemptsTotal.WithLabelValues("error").Inc()
		return nil, ErrStreamEnded
	}

	data, contentType, err := c.devices.FetchDeviceImage(ctx, token, deviceID)
	if err != nil {
		metrics.CaptureAttemptsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch captured image: %w", err)
	}
	if len(data) == 0 {
		metrics.CaptureAttemptsTotal.WithLabelValues("error").Inc()
		return nil, ErrEmptyImage
	}

	metrics.CaptureAttemptsTotal.WithLabelValues("success").Inc()
	log.Info().Int("bytes", len(data)).Msg("reference image captured")

	return NewImage(data, contentType, c.now()), nil
}
