package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/visionward/sitewatch/internal/logger"
)

// FFmpegWrapper shells out to ffmpeg for the demux and decode work the
// adapters cannot do natively: turning H264 access units, transport
// stream segments, and local capture devices into JPEG stills.
type FFmpegWrapper struct {
	logger     *logger.Logger
	ffmpegPath string
}

// NewFFmpegWrapper creates a wrapper, locating ffmpeg if no explicit
// path is given
func NewFFmpegWrapper(path string, log *logger.Logger) (*FFmpegWrapper, error) {
	wrapper := &FFmpegWrapper{
		logger:     log,
		ffmpegPath: path,
	}

	if wrapper.ffmpegPath == "" {
		found, err := wrapper.detectFFmpeg()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found: %w", err)
		}
		wrapper.ffmpegPath = found
	}

	log.Info("FFmpeg wrapper initialized", "path", wrapper.ffmpegPath)
	return wrapper, nil
}

// detectFFmpeg finds the ffmpeg executable
func (f *FFmpegWrapper) detectFFmpeg() (string, error) {
	paths := []string{"ffmpeg", "/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"}

	for _, path := range paths {
		cmd := exec.Command(path, "-version")
		if err := cmd.Run(); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("ffmpeg not found in PATH or common locations")
}

// BuildCommand builds an ffmpeg command bound to ctx
func (f *FFmpegWrapper) BuildCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.ffmpegPath, args...)
}

// GetVersion returns the ffmpeg version line
func (f *FFmpegWrapper) GetVersion() (string, error) {
	cmd := exec.Command(f.ffmpegPath, "-version")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0]), nil
	}
	return "unknown", nil
}

// DecodeH264AU decodes one Annex-B H264 access unit to a JPEG still
func (f *FFmpegWrapper) DecodeH264AU(ctx context.Context, accessUnit []byte, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = 2
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "h264",
		"-i", "-",
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", fmt.Sprintf("%d", quality),
		"-",
	}

	cmd := f.BuildCommand(ctx, args)
	cmd.Stdin = bytes.NewReader(accessUnit)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg h264 decode failed: %s: %w",
			strings.TrimSpace(stderr.String()), err)
	}

	data := stdout.Bytes()
	if len(data) == 0 {
		return nil, fmt.Errorf("no frame decoded from access unit")
	}
	return data, nil
}

// DemuxSegment demuxes a downloaded media segment (MPEG-TS or fMP4)
// into JPEG stills at the given rate. initData, when non-empty, is
// prepended so fMP4 media segments decode against their init segment.
func (f *FFmpegWrapper) DemuxSegment(ctx context.Context, initData, segment []byte, fps float64) ([][]byte, error) {
	if fps <= 0 {
		fps = 1
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "-",
		"-vf", fmt.Sprintf("fps=%g", fps),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"-",
	}

	input := segment
	if len(initData) > 0 {
		input = make([]byte, 0, len(initData)+len(segment))
		input = append(input, initData...)
		input = append(input, segment...)
	}

	cmd := f.BuildCommand(ctx, args)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg segment demux failed: %s: %w",
			strings.TrimSpace(stderr.String()), err)
	}

	frames := splitJPEGs(stdout.Bytes())
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames demuxed from segment")
	}
	return frames, nil
}

// CapturePipe starts a long-lived ffmpeg process reading from a local
// capture device and emitting a JPEG stream on stdout. The caller
// reads stills with a jpegScanner and kills the process via ctx.
func (f *FFmpegWrapper) CapturePipe(ctx context.Context, device string, fps float64) (io.ReadCloser, *exec.Cmd, error) {
	if fps <= 0 {
		fps = 2
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-i", device,
		"-vf", fmt.Sprintf("fps=%g", fps),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"-",
	}

	cmd := f.BuildCommand(ctx, args)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start ffmpeg capture: %w", err)
	}

	return stdout, cmd, nil
}

const (
	jpegSOI = "\xff\xd8"
	jpegEOI = "\xff\xd9"
)

// splitJPEGs splits a concatenated JPEG stream on SOI/EOI markers
func splitJPEGs(data []byte) [][]byte {
	var frames [][]byte
	for {
		start := bytes.Index(data, []byte(jpegSOI))
		if start < 0 {
			break
		}
		end := bytes.Index(data[start+2:], []byte(jpegEOI))
		if end < 0 {
			break
		}
		end += start + 2 + 2
		frame := make([]byte, end-start)
		copy(frame, data[start:end])
		frames = append(frames, frame)
		data = data[end:]
	}
	return frames
}

// jpegScanner incrementally extracts JPEG images from a byte stream
type jpegScanner struct {
	reader *bufio.Reader
	buf    bytes.Buffer
}

func newJPEGScanner(r io.Reader) *jpegScanner {
	return &jpegScanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next reads until a complete JPEG image is available and returns it
func (s *jpegScanner) Next() ([]byte, error) {
	chunk := make([]byte, 32*1024)
	for {
		if frame := s.extract(); frame != nil {
			return frame, nil
		}

		n, err := s.reader.Read(chunk)
		if n > 0 {
			s.buf.Write(chunk[:n])
		}
		if err != nil {
			if frame := s.extract(); frame != nil {
				return frame, nil
			}
			return nil, err
		}
	}
}

func (s *jpegScanner) extract() []byte {
	data := s.buf.Bytes()
	start := bytes.Index(data, []byte(jpegSOI))
	if start < 0 {
		s.buf.Reset()
		return nil
	}
	end := bytes.Index(data[start+2:], []byte(jpegEOI))
	if end < 0 {
		if start > 0 {
			s.buf.Next(start)
		}
		return nil
	}
	end += start + 2 + 2

	frame := make([]byte, end-start)
	copy(frame, data[start:end])
	s.buf.Next(end)
	return frame
}
