package stream

import (
	"fmt"
	"strings"

	"github.com/visionward/sitewatch/internal/logger"
)

// ValidateDescriptor checks the fields every protocol requires
func ValidateDescriptor(desc Descriptor) error {
	var errors []string

	if desc.ID == "" {
		errors = append(errors, "stream id is required")
	}
	if desc.Target == "" {
		errors = append(errors, "stream target is required")
	}
	switch desc.Protocol {
	case ProtocolRTSP, ProtocolMJPEG, ProtocolDevice, ProtocolHLS,
		ProtocolDASH, ProtocolWebRTC, ProtocolONVIF:
	case "":
		errors = append(errors, "stream protocol is required")
	default:
		errors = append(errors, fmt.Sprintf("unknown protocol %q", desc.Protocol))
	}

	if len(errors) > 0 {
		return fmt.Errorf("invalid stream descriptor: %s", strings.Join(errors, "; "))
	}
	return nil
}

// NewClient constructs the protocol adapter for a descriptor
func NewClient(desc Descriptor, cfg ClientConfig, ffmpeg *FFmpegWrapper, log *logger.Logger) (Client, error) {
	if err := ValidateDescriptor(desc); err != nil {
		return nil, err
	}

	switch desc.Protocol {
	case ProtocolRTSP:
		return NewRTSPClient(desc, cfg, ffmpeg, log), nil
	case ProtocolMJPEG:
		return NewMJPEGClient(desc, cfg, log), nil
	case ProtocolDevice:
		return NewDeviceClient(desc, cfg, ffmpeg, log), nil
	case ProtocolHLS:
		return NewHLSClient(desc, cfg, ffmpeg, log), nil
	case ProtocolDASH:
		return NewDASHClient(desc, cfg, ffmpeg, log), nil
	case ProtocolWebRTC:
		return NewWebRTCClient(desc, cfg, ffmpeg, log), nil
	case ProtocolONVIF:
		return NewONVIFClient(desc, cfg, ffmpeg, log), nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", desc.Protocol)
	}
}
