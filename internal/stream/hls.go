package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/grafov/m3u8"

	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/media"
)

// errPlaylistEnded marks a VOD playlist whose segments are exhausted
var errPlaylistEnded = errors.New("hls playlist ended")

// HLSClient captures frames from an HLS source: fetch the playlist,
// download unseen segments in order, demux each to JPEG stills, and
// refresh the playlist for live streams.
type HLSClient struct {
	*clientBase
}

// NewHLSClient creates an HLS stream client
func NewHLSClient(desc Descriptor, cfg ClientConfig, ffmpeg *FFmpegWrapper, log *logger.Logger) *HLSClient {
	c := &HLSClient{}
	c.clientBase = newClientBase(desc, cfg, log, func(ctx context.Context) (session, error) {
		return dialHLS(ctx, desc, cfg, ffmpeg, log)
	})
	return c
}

type hlsSession struct {
	playlistURL *url.URL
	httpClient  *http.Client
	ffmpeg      *FFmpegWrapper
	logger      *logger.Logger
	captureFPS  float64

	pending []*media.Frame
	seen    map[string]bool
	ended   bool
	wait    time.Duration
}

func dialHLS(ctx context.Context, desc Descriptor, cfg ClientConfig, ffmpeg *FFmpegWrapper, log *logger.Logger) (session, error) {
	u, err := url.Parse(desc.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to parse playlist URL: %w", err)
	}

	sess := &hlsSession{
		playlistURL: u,
		httpClient:  &http.Client{Timeout: cfg.ReadTimeout},
		ffmpeg:      ffmpeg,
		logger:      log,
		captureFPS:  cfg.CaptureFPS,
		seen:        make(map[string]bool),
		wait:        2 * time.Second,
	}

	// Validate the playlist up front so a dead source counts as a
	// failed connect attempt rather than a read failure.
	if _, err := sess.fetchMediaPlaylist(ctx); err != nil {
		return nil, err
	}

	return sess, nil
}

// ReadFrame returns the next demuxed frame, refreshing the playlist
// and downloading segments as needed
func (s *hlsSession) ReadFrame(ctx context.Context) (*media.Frame, error) {
	for {
		if len(s.pending) > 0 {
			frame := s.pending[0]
			s.pending = s.pending[1:]
			return frame, nil
		}
		if s.ended {
			return nil, errPlaylistEnded
		}

		playlist, err := s.fetchMediaPlaylist(ctx)
		if err != nil {
			return nil, err
		}

		advanced, err := s.ingestSegments(ctx, playlist)
		if err != nil {
			return nil, err
		}

		if playlist.Closed && !advanced {
			s.ended = true
			continue
		}
		if !advanced {
			// Live playlist has not advanced yet; wait for new
			// segments.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.wait):
			}
		}
	}
}

func (s *hlsSession) Close() error {
	return nil
}

// fetchMediaPlaylist downloads the playlist, following a master
// playlist to its highest-bandwidth variant
func (s *hlsSession) fetchMediaPlaylist(ctx context.Context) (*m3u8.MediaPlaylist, error) {
	playlist, listType, err := s.fetchPlaylist(ctx, s.playlistURL)
	if err != nil {
		return nil, err
	}

	if listType == m3u8.MASTER {
		master := playlist.(*m3u8.MasterPlaylist)
		variant := pickVariant(master)
		if variant == nil {
			return nil, fmt.Errorf("master playlist has no variants")
		}

		variantURL, err := s.playlistURL.Parse(variant.URI)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve variant URL: %w", err)
		}
		// Subsequent refreshes go straight to the chosen variant.
		s.playlistURL = variantURL

		playlist, listType, err = s.fetchPlaylist(ctx, variantURL)
		if err != nil {
			return nil, err
		}
	}

	mediaPlaylist, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok || listType != m3u8.MEDIA {
		return nil, fmt.Errorf("expected media playlist, got type %d", listType)
	}

	if mediaPlaylist.TargetDuration > 0 {
		s.wait = time.Duration(mediaPlaylist.TargetDuration/2*float64(time.Second)) + time.Millisecond
	}

	return mediaPlaylist, nil
}

func (s *hlsSession) fetchPlaylist(ctx context.Context, u *url.URL) (m3u8.Playlist, m3u8.ListType, error) {
	body, err := s.get(ctx, u.String())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch playlist: %w", err)
	}
	defer body.Close()

	playlist, listType, err := m3u8.DecodeFrom(body, true)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode playlist: %w", err)
	}
	return playlist, listType, nil
}

// ingestSegments downloads and demuxes unseen segments in playlist
// order. Returns whether any new segment was consumed.
func (s *hlsSession) ingestSegments(ctx context.Context, playlist *m3u8.MediaPlaylist) (bool, error) {
	advanced := false
	current := make(map[string]bool, len(playlist.Segments))
	for _, segment := range playlist.Segments {
		if segment == nil {
			continue
		}

		segURL, err := s.playlistURL.Parse(segment.URI)
		if err != nil {
			s.logger.Warn("Skipping unresolvable segment", "uri", segment.URI, "error", err)
			continue
		}
		key := segURL.String()
		current[key] = true
		if s.seen[key] {
			continue
		}
		s.seen[key] = true
		advanced = true

		frames, err := s.downloadAndDemux(ctx, key)
		if err != nil {
			// A single broken segment degrades that segment only.
			s.logger.Warn("Segment demux failed", "uri", key, "error", err)
			continue
		}
		s.pending = append(s.pending, frames...)
	}

	// On live streams the playlist is a sliding window. Segments that
	// have rotated out of it can never repeat, so drop them to keep the
	// seen set bounded by the window size.
	for key := range s.seen {
		if !current[key] {
			delete(s.seen, key)
		}
	}
	return advanced, nil
}

func (s *hlsSession) downloadAndDemux(ctx context.Context, segmentURL string) ([]*media.Frame, error) {
	body, err := s.get(ctx, segmentURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download segment: %w", err)
	}
	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read segment: %w", err)
	}

	stills, err := s.ffmpeg.DemuxSegment(ctx, nil, data, s.captureFPS)
	if err != nil {
		return nil, err
	}

	frames := make([]*media.Frame, 0, len(stills))
	now := time.Now()
	for _, still := range stills {
		frames = append(frames, &media.Frame{
			Data:      still,
			Codec:     media.CodecJPEG,
			Timestamp: now,
		})
	}
	return frames, nil
}

func (s *hlsSession) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// pickVariant returns the highest-bandwidth variant
func pickVariant(master *m3u8.MasterPlaylist) *m3u8.Variant {
	var best *m3u8.Variant
	for _, variant := range master.Variants {
		if variant == nil || variant.URI == "" {
			continue
		}
		if best == nil || variant.Bandwidth > best.Bandwidth {
			best = variant
		}
	}
	return best
}
