package stream

import (
	"context"
	"sync"
	"time"

	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/media"
)

// h264Stills turns depacketized H264 access units into JPEG stills at
// a capped rate. It tracks in-band parameter sets, decodes only IDR
// units, and runs ffmpeg off the packet path so slow decodes never
// stall reception. Shared by the RTSP and WebRTC sessions.
type h264Stills struct {
	ffmpeg *FFmpegWrapper
	logger *logger.Logger
	frames chan *media.Frame

	mu         sync.Mutex
	sps, pps   []byte
	lastDecode time.Time
	interval   time.Duration
	decoding   bool
}

func newH264Stills(ffmpeg *FFmpegWrapper, log *logger.Logger, fps float64) *h264Stills {
	if fps <= 0 {
		fps = 2
	}
	return &h264Stills{
		ffmpeg:   ffmpeg,
		logger:   log,
		frames:   make(chan *media.Frame, 4),
		interval: time.Duration(float64(time.Second) / fps),
	}
}

// SetParams seeds out-of-band SPS/PPS, typically from SDP
func (p *h264Stills) SetParams(sps, pps []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sps != nil {
		p.sps = sps
	}
	if pps != nil {
		p.pps = pps
	}
}

// Frames returns the decoded still channel
func (p *h264Stills) Frames() <-chan *media.Frame {
	return p.frames
}

// HandleAccessUnit ingests one access unit, decoding it to JPEG when
// it is a keyframe and the rate cap allows
func (p *h264Stills) HandleAccessUnit(ctx context.Context, nalus [][]byte) {
	p.mu.Lock()
	isIDR := false
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch nalu[0] & 0x1F {
		case 7:
			p.sps = nalu
		case 8:
			p.pps = nalu
		case 5:
			isIDR = true
		}
	}

	if !isIDR || p.decoding || time.Since(p.lastDecode) < p.interval || p.sps == nil || p.pps == nil {
		p.mu.Unlock()
		return
	}
	p.decoding = true
	p.lastDecode = time.Now()
	accessUnit := annexB(p.sps, p.pps, nalus)
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			p.decoding = false
			p.mu.Unlock()
		}()

		jpeg, err := p.ffmpeg.DecodeH264AU(ctx, accessUnit, 2)
		if err != nil {
			p.logger.Debug("Keyframe decode failed", "error", err)
			return
		}

		frame := &media.Frame{
			Data:      jpeg,
			Codec:     media.CodecJPEG,
			Timestamp: time.Now(),
		}
		select {
		case p.frames <- frame:
		default:
		}
	}()
}

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// annexB builds an Annex-B access unit, prepending SPS and PPS when
// the unit does not already carry them
func annexB(sps, pps []byte, nalus [][]byte) []byte {
	hasSPS, hasPPS := false, false
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch nalu[0] & 0x1F {
		case 7:
			hasSPS = true
		case 8:
			hasPPS = true
		}
	}

	var out []byte
	if !hasSPS && sps != nil {
		out = append(out, annexBStartCode...)
		out = append(out, sps...)
	}
	if !hasPPS && pps != nil {
		out = append(out, annexBStartCode...)
		out = append(out, pps...)
	}
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		out = append(out, annexBStartCode...)
		out = append(out, nalu...)
	}
	return out
}
