package stream

import (
	"context"
	"fmt"
	"net/url"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/pion/rtp"

	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/media"
)

// RTSPClient captures frames from an RTSP source. Each session keeps a
// persistent RTSP connection, depacketizes H264 access units, and
// decodes keyframes to JPEG at the configured capture rate.
type RTSPClient struct {
	*clientBase
}

// NewRTSPClient creates an RTSP stream client. Username and password
// come from the descriptor options.
func NewRTSPClient(desc Descriptor, cfg ClientConfig, ffmpeg *FFmpegWrapper, log *logger.Logger) *RTSPClient {
	c := &RTSPClient{}
	c.clientBase = newClientBase(desc, cfg, log, func(ctx context.Context) (session, error) {
		return dialRTSP(ctx, desc.Target, desc, cfg, ffmpeg, log)
	})
	return c
}

// rtspSession is one live RTSP connection
type rtspSession struct {
	client *gortsplib.Client
	stills *h264Stills
	errCh  chan error
}

func dialRTSP(ctx context.Context, target string, desc Descriptor, cfg ClientConfig, ffmpeg *FFmpegWrapper, log *logger.Logger) (session, error) {
	u, err := base.ParseURL(target)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RTSP URL: %w", err)
	}

	username := desc.Option("username", "")
	password := desc.Option("password", "")
	if username != "" && password != "" && u.User == nil {
		u.User = url.UserPassword(username, password)
	}

	sess := &rtspSession{
		stills: newH264Stills(ffmpeg, log, cfg.CaptureFPS),
		errCh:  make(chan error, 1),
	}

	client := &gortsplib.Client{
		ReadTimeout: cfg.ReadTimeout,
	}

	rtspDesc, _, err := client.Describe(u)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to describe stream: %w", err)
	}

	var h264Format *format.H264
	var h264Media *description.Media
	for _, medi := range rtspDesc.Medias {
		for _, forma := range medi.Formats {
			if h264, ok := forma.(*format.H264); ok {
				h264Format = h264
				h264Media = medi
				break
			}
		}
		if h264Format != nil {
			break
		}
	}
	if h264Format == nil {
		client.Close()
		return nil, fmt.Errorf("H.264 format not found in stream")
	}

	if err := client.SetupAll(rtspDesc.BaseURL, rtspDesc.Medias); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to setup stream: %w", err)
	}

	decoder := &rtph264.Decoder{}
	if err := decoder.Init(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to init decoder: %w", err)
	}

	sess.stills.SetParams(h264Format.SPS, h264Format.PPS)

	client.OnPacketRTP(h264Media, h264Format, func(pkt *rtp.Packet) {
		nalus, err := decoder.Decode(pkt)
		if err != nil {
			return
		}
		sess.stills.HandleAccessUnit(ctx, nalus)
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to play stream: %w", err)
	}

	sess.client = client

	go func() {
		err := client.Wait()
		if err == nil {
			err = fmt.Errorf("rtsp session closed")
		}
		select {
		case sess.errCh <- err:
		default:
		}
	}()

	return sess, nil
}

// ReadFrame returns the next decoded frame or the session's fatal error
func (s *rtspSession) ReadFrame(ctx context.Context) (*media.Frame, error) {
	select {
	case frame := <-s.stills.Frames():
		return frame, nil
	case err := <-s.errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *rtspSession) Close() error {
	s.client.Close()
	return nil
}
