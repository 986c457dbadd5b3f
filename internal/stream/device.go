package stream

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/media"
)

// DeviceClient captures frames from a local camera device. A
// long-lived ffmpeg process reads the device and emits a JPEG stream
// at the capture rate.
type DeviceClient struct {
	*clientBase
}

// NewDeviceClient creates a local camera stream client. The descriptor
// target is the device path, e.g. /dev/video0.
func NewDeviceClient(desc Descriptor, cfg ClientConfig, ffmpeg *FFmpegWrapper, log *logger.Logger) *DeviceClient {
	c := &DeviceClient{}
	c.clientBase = newClientBase(desc, cfg, log, func(ctx context.Context) (session, error) {
		return dialDevice(ctx, desc, cfg, ffmpeg)
	})
	return c
}

type deviceSession struct {
	pipe    io.ReadCloser
	cmd     *exec.Cmd
	scanner *jpegScanner
	cancel  context.CancelFunc
}

func dialDevice(ctx context.Context, desc Descriptor, cfg ClientConfig, ffmpeg *FFmpegWrapper) (session, error) {
	procCtx, cancel := context.WithCancel(ctx)

	pipe, cmd, err := ffmpeg.CapturePipe(procCtx, desc.Target, cfg.CaptureFPS)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open device %s: %w", desc.Target, err)
	}

	return &deviceSession{
		pipe:    pipe,
		cmd:     cmd,
		scanner: newJPEGScanner(pipe),
		cancel:  cancel,
	}, nil
}

// ReadFrame reads the next JPEG still from the capture pipe
func (s *deviceSession) ReadFrame(ctx context.Context) (*media.Frame, error) {
	data, err := s.scanner.Next()
	if err != nil {
		return nil, fmt.Errorf("device capture failed: %w", err)
	}

	return &media.Frame{
		Data:      data,
		Codec:     media.CodecJPEG,
		Timestamp: time.Now(),
	}, nil
}

func (s *deviceSession) Close() error {
	s.cancel()
	s.pipe.Close()
	// Reap the ffmpeg process; the context cancel above kills it.
	_ = s.cmd.Wait()
	return nil
}
