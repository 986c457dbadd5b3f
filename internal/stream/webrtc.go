package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/media"
)

// WebRTCClient captures frames from a session-negotiated WebRTC
// source. The signaling handshake (offer/answer/ICE) runs over a
// websocket control channel at the descriptor target; frames then
// arrive on the negotiated H264 video track.
type WebRTCClient struct {
	*clientBase
}

// NewWebRTCClient creates a WebRTC stream client
func NewWebRTCClient(desc Descriptor, cfg ClientConfig, ffmpeg *FFmpegWrapper, log *logger.Logger) *WebRTCClient {
	c := &WebRTCClient{}
	c.clientBase = newClientBase(desc, cfg, log, func(ctx context.Context) (session, error) {
		return dialWebRTC(ctx, desc, cfg, ffmpeg, log)
	})
	return c
}

// signalMessage is the JSON envelope exchanged on the signaling socket
type signalMessage struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

type webrtcSession struct {
	pc     *webrtc.PeerConnection
	ws     *websocket.Conn
	stills *h264Stills
	errCh  chan error

	wsMu sync.Mutex
}

func dialWebRTC(ctx context.Context, desc Descriptor, cfg ClientConfig, ffmpeg *FFmpegWrapper, log *logger.Logger) (session, error) {
	dialer := websocket.Dialer{HandshakeTimeout: cfg.ReadTimeout}
	ws, _, err := dialer.DialContext(ctx, desc.Target, nil)
	if err != nil {
		return nil, fmt.Errorf("signaling dial failed: %w", err)
	}

	stunServer := desc.Option("stun", "stun:stun.l.google.com:19302")
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{stunServer}}},
	})
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	sess := &webrtcSession{
		pc:     pc,
		ws:     ws,
		stills: newH264Stills(ffmpeg, log, cfg.CaptureFPS),
		errCh:  make(chan error, 1),
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to add video transceiver: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if !strings.Contains(strings.ToLower(track.Codec().MimeType), "h264") {
			log.Warn("Ignoring non-H264 track", "mime_type", track.Codec().MimeType)
			return
		}
		go sess.readTrack(ctx, track)
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		if err := sess.send(signalMessage{Type: "candidate", Candidate: &init}); err != nil {
			sess.fail(fmt.Errorf("failed to send ICE candidate: %w", err))
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			sess.fail(fmt.Errorf("peer connection %s", state))
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	if err := sess.send(signalMessage{Type: "offer", SDP: offer.SDP}); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to send offer: %w", err)
	}

	go sess.signalLoop()

	return sess, nil
}

// signalLoop consumes answer and candidate messages until the socket
// fails
func (s *webrtcSession) signalLoop() {
	for {
		var msg signalMessage
		if err := s.ws.ReadJSON(&msg); err != nil {
			s.fail(fmt.Errorf("signaling read failed: %w", err))
			return
		}

		switch msg.Type {
		case "answer":
			err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
				Type: webrtc.SDPTypeAnswer,
				SDP:  msg.SDP,
			})
			if err != nil {
				s.fail(fmt.Errorf("failed to set remote description: %w", err))
				return
			}
		case "candidate":
			if msg.Candidate == nil {
				continue
			}
			if err := s.pc.AddICECandidate(*msg.Candidate); err != nil {
				s.fail(fmt.Errorf("failed to add ICE candidate: %w", err))
				return
			}
		}
	}
}

// readTrack depacketizes the H264 track into access units for the
// still pipeline
func (s *webrtcSession) readTrack(ctx context.Context, track *webrtc.TrackRemote) {
	decoder := &rtph264.Decoder{}
	if err := decoder.Init(); err != nil {
		s.fail(fmt.Errorf("failed to init H264 depacketizer: %w", err))
		return
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			s.fail(fmt.Errorf("track read failed: %w", err))
			return
		}
		nalus, err := decoder.Decode(pkt)
		if err != nil {
			continue
		}
		s.stills.HandleAccessUnit(ctx, nalus)
	}
}

func (s *webrtcSession) send(msg signalMessage) error {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return s.ws.WriteJSON(msg)
}

func (s *webrtcSession) fail(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}

// ReadFrame returns the next decoded frame or the session's fatal error
func (s *webrtcSession) ReadFrame(ctx context.Context) (*media.Frame, error) {
	select {
	case frame := <-s.stills.Frames():
		return frame, nil
	case err := <-s.errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *webrtcSession) Close() error {
	s.pc.Close()
	return s.ws.Close()
}
