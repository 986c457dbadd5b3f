package stream

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/media"
)

// errPresentationEnded marks a static MPD whose segments are exhausted
var errPresentationEnded = errors.New("dash presentation ended")

// DASHClient captures frames from a DASH source: fetch the MPD, pick
// the best video representation, download numbered media segments, and
// demux each against the init segment.
type DASHClient struct {
	*clientBase
}

// NewDASHClient creates a DASH stream client
func NewDASHClient(desc Descriptor, cfg ClientConfig, ffmpeg *FFmpegWrapper, log *logger.Logger) *DASHClient {
	c := &DASHClient{}
	c.clientBase = newClientBase(desc, cfg, log, func(ctx context.Context) (session, error) {
		return dialDASH(ctx, desc, cfg, ffmpeg, log)
	})
	return c
}

// MPD subset needed to resolve video segments. Only SegmentTemplate
// addressing is supported; it is what live camera origins emit.
type mpd struct {
	XMLName                   xml.Name    `xml:"MPD"`
	Type                      string      `xml:"type,attr"`
	MediaPresentationDuration string      `xml:"mediaPresentationDuration,attr"`
	MinimumUpdatePeriod       string      `xml:"minimumUpdatePeriod,attr"`
	BaseURL                   string      `xml:"BaseURL"`
	Periods                   []mpdPeriod `xml:"Period"`
}

type mpdPeriod struct {
	BaseURL        string             `xml:"BaseURL"`
	AdaptationSets []mpdAdaptationSet `xml:"AdaptationSet"`
}

type mpdAdaptationSet struct {
	ContentType     string              `xml:"contentType,attr"`
	MimeType        string              `xml:"mimeType,attr"`
	SegmentTemplate *mpdSegmentTemplate `xml:"SegmentTemplate"`
	Representations []mpdRepresentation `xml:"Representation"`
}

type mpdRepresentation struct {
	ID              string              `xml:"id,attr"`
	Bandwidth       uint64              `xml:"bandwidth,attr"`
	MimeType        string              `xml:"mimeType,attr"`
	SegmentTemplate *mpdSegmentTemplate `xml:"SegmentTemplate"`
}

type mpdSegmentTemplate struct {
	Initialization string  `xml:"initialization,attr"`
	Media          string  `xml:"media,attr"`
	StartNumber    *uint64 `xml:"startNumber,attr"`
	Duration       uint64  `xml:"duration,attr"`
	Timescale      uint64  `xml:"timescale,attr"`
}

type dashSession struct {
	mpdURL     *url.URL
	httpClient *http.Client
	ffmpeg     *FFmpegWrapper
	logger     *logger.Logger
	captureFPS float64

	repID    string
	template *mpdSegmentTemplate
	baseURL  *url.URL

	dynamic     bool
	initData    []byte
	nextNumber  uint64
	lastNumber  uint64 // inclusive bound for static presentations, 0 = unbounded
	pending     []*media.Frame
	segmentWait time.Duration
	misses      int
}

// Consecutive missing segments tolerated before the session is deemed
// broken.
const dashMaxMisses = 3

func dialDASH(ctx context.Context, desc Descriptor, cfg ClientConfig, ffmpeg *FFmpegWrapper, log *logger.Logger) (session, error) {
	u, err := url.Parse(desc.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to parse MPD URL: %w", err)
	}

	sess := &dashSession{
		mpdURL:      u,
		httpClient:  &http.Client{Timeout: cfg.ReadTimeout},
		ffmpeg:      ffmpeg,
		logger:      log,
		captureFPS:  cfg.CaptureFPS,
		segmentWait: 2 * time.Second,
	}

	if err := sess.refreshManifest(ctx); err != nil {
		return nil, err
	}

	if err := sess.fetchInit(ctx); err != nil {
		return nil, err
	}

	return sess, nil
}

// refreshManifest fetches and resolves the MPD into a representation,
// template, and segment numbering
func (s *dashSession) refreshManifest(ctx context.Context) error {
	body, err := s.get(ctx, s.mpdURL.String())
	if err != nil {
		return fmt.Errorf("failed to fetch MPD: %w", err)
	}
	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return fmt.Errorf("failed to read MPD: %w", err)
	}

	var manifest mpd
	if err := xml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse MPD: %w", err)
	}
	if len(manifest.Periods) == 0 {
		return fmt.Errorf("MPD has no periods")
	}

	s.dynamic = manifest.Type == "dynamic"
	period := manifest.Periods[0]

	adaptation, representation := pickRepresentation(period)
	if representation == nil {
		return fmt.Errorf("MPD has no video representation")
	}

	template := representation.SegmentTemplate
	if template == nil {
		template = adaptation.SegmentTemplate
	}
	if template == nil || template.Media == "" {
		return fmt.Errorf("representation %s has no segment template", representation.ID)
	}

	base := s.mpdURL
	for _, raw := range []string{manifest.BaseURL, period.BaseURL} {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		resolved, err := base.Parse(raw)
		if err != nil {
			return fmt.Errorf("failed to resolve BaseURL %q: %w", raw, err)
		}
		base = resolved
	}

	s.repID = representation.ID
	s.template = template
	s.baseURL = base

	start := uint64(1)
	if template.StartNumber != nil {
		start = *template.StartNumber
	}
	if s.nextNumber < start {
		s.nextNumber = start
	}

	segDur := segmentDuration(template)
	if segDur > 0 {
		s.segmentWait = segDur / 2
	}

	s.lastNumber = 0
	if !s.dynamic {
		total := parseISODuration(manifest.MediaPresentationDuration)
		if total > 0 && segDur > 0 {
			count := uint64((total + segDur - 1) / segDur)
			if count > 0 {
				s.lastNumber = start + count - 1
			}
		}
	}

	return nil
}

func (s *dashSession) fetchInit(ctx context.Context) error {
	if s.template.Initialization == "" {
		return nil
	}
	initURL, err := s.baseURL.Parse(expandTemplate(s.template.Initialization, s.repID, 0))
	if err != nil {
		return fmt.Errorf("failed to resolve init segment URL: %w", err)
	}

	body, err := s.get(ctx, initURL.String())
	if err != nil {
		return fmt.Errorf("failed to fetch init segment: %w", err)
	}
	defer body.Close()

	s.initData, err = io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read init segment: %w", err)
	}
	return nil
}

// ReadFrame returns the next demuxed frame, downloading segments in
// number order
func (s *dashSession) ReadFrame(ctx context.Context) (*media.Frame, error) {
	for {
		if len(s.pending) > 0 {
			frame := s.pending[0]
			s.pending = s.pending[1:]
			return frame, nil
		}

		if s.lastNumber > 0 && s.nextNumber > s.lastNumber {
			return nil, errPresentationEnded
		}

		segURL, err := s.baseURL.Parse(expandTemplate(s.template.Media, s.repID, s.nextNumber))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve segment URL: %w", err)
		}

		body, err := s.get(ctx, segURL.String())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Live edge: the next segment may simply not exist yet.
			s.misses++
			if s.misses > dashMaxMisses {
				return nil, fmt.Errorf("segment %d unavailable after %d attempts: %w",
					s.nextNumber, s.misses, err)
			}
			if s.dynamic {
				if mErr := s.refreshManifest(ctx); mErr != nil {
					return nil, mErr
				}
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.segmentWait):
			}
			continue
		}
		s.misses = 0

		data, err := io.ReadAll(body)
		body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read segment %d: %w", s.nextNumber, err)
		}
		s.nextNumber++

		stills, err := s.ffmpeg.DemuxSegment(ctx, s.initData, data, s.captureFPS)
		if err != nil {
			s.logger.Warn("Segment demux failed", "number", s.nextNumber-1, "error", err)
			continue
		}

		now := time.Now()
		for _, still := range stills {
			s.pending = append(s.pending, &media.Frame{
				Data:      still,
				Codec:     media.CodecJPEG,
				Timestamp: now,
			})
		}
	}
}

func (s *dashSession) Close() error {
	return nil
}

func (s *dashSession) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
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

// pickRepresentation returns the highest-bandwidth video representation
func pickRepresentation(period mpdPeriod) (*mpdAdaptationSet, *mpdRepresentation) {
	var bestSet *mpdAdaptationSet
	var bestRep *mpdRepresentation

	for i := range period.AdaptationSets {
		set := &period.AdaptationSets[i]
		if !isVideo(set.ContentType, set.MimeType) {
			continue
		}
		for j := range set.Representations {
			rep := &set.Representations[j]
			if rep.MimeType != "" && !isVideo("", rep.MimeType) {
				continue
			}
			if bestRep == nil || rep.Bandwidth > bestRep.Bandwidth {
				bestSet = set
				bestRep = rep
			}
		}
	}
	return bestSet, bestRep
}

func isVideo(contentType, mimeType string) bool {
	if contentType == "video" {
		return true
	}
	return strings.HasPrefix(mimeType, "video/")
}

func segmentDuration(template *mpdSegmentTemplate) time.Duration {
	if template.Duration == 0 {
		return 0
	}
	timescale := template.Timescale
	if timescale == 0 {
		timescale = 1
	}
	return time.Duration(float64(template.Duration) / float64(timescale) * float64(time.Second))
}

// expandTemplate substitutes $RepresentationID$ and $Number$ (with
// optional %0Nd padding) in a segment template
func expandTemplate(template, repID string, number uint64) string {
	out := strings.ReplaceAll(template, "$RepresentationID$", repID)
	out = numberPattern.ReplaceAllStringFunc(out, func(match string) string {
		groups := numberPattern.FindStringSubmatch(match)
		if groups[1] != "" {
			width, err := strconv.Atoi(groups[1])
			if err == nil {
				return fmt.Sprintf("%0*d", width, number)
			}
		}
		return strconv.FormatUint(number, 10)
	})
	return out
}

var numberPattern = regexp.MustCompile(`\$Number(?:%0(\d+)d)?\$`)

// parseISODuration parses the ISO-8601 duration subset used by MPD
// attributes (PT#H#M#S)
func parseISODuration(raw string) time.Duration {
	groups := isoDurationPattern.FindStringSubmatch(raw)
	if groups == nil {
		return 0
	}
	var total float64
	if groups[1] != "" {
		h, _ := strconv.ParseFloat(groups[1], 64)
		total += h * 3600
	}
	if groups[2] != "" {
		m, _ := strconv.ParseFloat(groups[2], 64)
		total += m * 60
	}
	if groups[3] != "" {
		s, _ := strconv.ParseFloat(groups[3], 64)
		total += s
	}
	return time.Duration(total * float64(time.Second))
}

var isoDurationPattern = regexp.MustCompile(`^PT(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?$`)
