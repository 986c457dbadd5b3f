package stream

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/media"
)

// MJPEGClient captures frames from an HTTP multipart MJPEG source: one
// long-lived GET whose body is a multipart stream of JPEG parts.
type MJPEGClient struct {
	*clientBase
}

// NewMJPEGClient creates an MJPEG-over-HTTP stream client
func NewMJPEGClient(desc Descriptor, cfg ClientConfig, log *logger.Logger) *MJPEGClient {
	c := &MJPEGClient{}
	c.clientBase = newClientBase(desc, cfg, log, func(ctx context.Context) (session, error) {
		return dialMJPEG(ctx, desc, cfg)
	})
	return c
}

type mjpegSession struct {
	body   io.ReadCloser
	reader *multipart.Reader
	cancel context.CancelFunc
}

func dialMJPEG(ctx context.Context, desc Descriptor, cfg ClientConfig) (session, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, desc.Target, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if username := desc.Option("username", ""); username != "" {
		req.SetBasicAuth(username, desc.Option("password", ""))
	}

	client := &http.Client{
		// No overall timeout: the body is a long-lived stream. The
		// dial and header phases are bounded instead.
		Transport: &http.Transport{
			ResponseHeaderTimeout: cfg.ReadTimeout,
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("failed to parse content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("not a multipart stream: %s", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("multipart stream has no boundary")
	}

	return &mjpegSession{
		body:   resp.Body,
		reader: multipart.NewReader(resp.Body, boundary),
		cancel: cancel,
	}, nil
}

// ReadFrame reads the next multipart part as a JPEG still
func (s *mjpegSession) ReadFrame(ctx context.Context) (*media.Frame, error) {
	part, err := s.reader.NextPart()
	if err != nil {
		return nil, fmt.Errorf("multipart read failed: %w", err)
	}

	data, err := io.ReadAll(part)
	part.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read part body: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	return &media.Frame{
		Data:      data,
		Codec:     media.CodecJPEG,
		Timestamp: time.Now(),
	}, nil
}

func (s *mjpegSession) Close() error {
	s.cancel()
	return s.body.Close()
}
