package stream

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/visionward/sitewatch/internal/logger"
)

// ONVIFClient resolves a playable media URI from an ONVIF device and
// delegates capture to the RTSP session. The descriptor target is the
// device service endpoint, e.g. http://192.168.1.20/onvif/device_service.
type ONVIFClient struct {
	*clientBase
}

// NewONVIFClient creates an ONVIF stream client
func NewONVIFClient(desc Descriptor, cfg ClientConfig, ffmpeg *FFmpegWrapper, log *logger.Logger) *ONVIFClient {
	c := &ONVIFClient{}
	c.clientBase = newClientBase(desc, cfg, log, func(ctx context.Context) (session, error) {
		resolver := &onvifResolver{
			endpoint:   desc.Target,
			username:   desc.Option("username", ""),
			password:   desc.Option("password", ""),
			httpClient: &http.Client{Timeout: cfg.ReadTimeout},
		}

		streamURI, err := resolver.resolveStreamURI(ctx)
		if err != nil {
			return nil, fmt.Errorf("onvif resolution failed: %w", err)
		}
		log.Info("Resolved ONVIF stream URI",
			"stream_id", desc.ID,
			"uri", streamURI,
		)

		return dialRTSP(ctx, streamURI, desc, cfg, ffmpeg, log)
	})
	return c
}

// onvifResolver talks SOAP to an ONVIF device to find its RTSP URI
type onvifResolver struct {
	endpoint   string
	username   string
	password   string
	httpClient *http.Client
}

// resolveStreamURI walks capabilities, profiles, and stream URI
func (r *onvifResolver) resolveStreamURI(ctx context.Context) (string, error) {
	mediaEndpoint, err := r.getMediaEndpoint(ctx)
	if err != nil {
		return "", err
	}

	profileToken, err := r.getFirstProfileToken(ctx, mediaEndpoint)
	if err != nil {
		return "", err
	}

	return r.getStreamURI(ctx, mediaEndpoint, profileToken)
}

func (r *onvifResolver) getMediaEndpoint(ctx context.Context) (string, error) {
	body := `<tds:GetCapabilities xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
		<tds:Category>Media</tds:Category>
	</tds:GetCapabilities>`

	resp, err := r.call(ctx, r.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("GetCapabilities failed: %w", err)
	}

	// The media capability block carries the media service XAddr.
	mediaBlock := extractXMLElement(resp, "Media")
	if mediaBlock == "" {
		mediaBlock = resp
	}
	xaddr := extractXMLElement(mediaBlock, "XAddr")
	if xaddr == "" {
		return "", fmt.Errorf("no media service address in capabilities")
	}
	return xaddr, nil
}

func (r *onvifResolver) getFirstProfileToken(ctx context.Context, mediaEndpoint string) (string, error) {
	body := `<trt:GetProfiles xmlns:trt="http://www.onvif.org/ver10/media/wsdl"/>`

	resp, err := r.call(ctx, mediaEndpoint, body)
	if err != nil {
		return "", fmt.Errorf("GetProfiles failed: %w", err)
	}

	token := extractXMLAttr(resp, "Profiles", "token")
	if token == "" {
		return "", fmt.Errorf("device reported no media profiles")
	}
	return token, nil
}

func (r *onvifResolver) getStreamURI(ctx context.Context, mediaEndpoint, profileToken string) (string, error) {
	body := fmt.Sprintf(`<trt:GetStreamUri xmlns:trt="http://www.onvif.org/ver10/media/wsdl">
		<trt:StreamSetup>
			<tt:Stream xmlns:tt="http://www.onvif.org/ver10/schema">RTP-Unicast</tt:Stream>
			<tt:Transport xmlns:tt="http://www.onvif.org/ver10/schema">
				<tt:Protocol>RTSP</tt:Protocol>
			</tt:Transport>
		</trt:StreamSetup>
		<trt:ProfileToken>%s</trt:ProfileToken>
	</trt:GetStreamUri>`, profileToken)

	resp, err := r.call(ctx, mediaEndpoint, body)
	if err != nil {
		return "", fmt.Errorf("GetStreamUri failed: %w", err)
	}

	uri := extractXMLElement(resp, "Uri")
	if uri == "" {
		return "", fmt.Errorf("device returned no stream URI")
	}

	return r.injectCredentials(uri), nil
}

// injectCredentials adds the device credentials to the RTSP URI so the
// delegated session can authenticate
func (r *onvifResolver) injectCredentials(rawURI string) string {
	if r.username == "" {
		return rawURI
	}
	u, err := url.Parse(rawURI)
	if err != nil || u.User != nil {
		return rawURI
	}
	u.User = url.UserPassword(r.username, r.password)
	return u.String()
}

// call posts a SOAP envelope and returns the raw response body
func (r *onvifResolver) call(ctx context.Context, endpoint, body string) (string, error) {
	envelope := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope">
	%s
	<s:Body>%s</s:Body>
</s:Envelope>`, r.securityHeader(), body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(envelope))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("device returned status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return string(data), nil
}

// securityHeader builds a WS-Security UsernameToken header with a
// password digest, the auth scheme ONVIF devices expect
func (r *onvifResolver) securityHeader() string {
	if r.username == "" {
		return ""
	}

	nonce := make([]byte, 16)
	rand.Read(nonce)
	created := time.Now().UTC().Format(time.RFC3339)

	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(r.password))
	digest := base64.StdEncoding.EncodeToString(h.Sum(nil))

	return fmt.Sprintf(`<s:Header>
		<wsse:Security xmlns:wsse="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">
			<wsse:UsernameToken>
				<wsse:Username>%s</wsse:Username>
				<wsse:Password Type="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest">%s</wsse:Password>
				<wsse:Nonce EncodingType="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary">%s</wsse:Nonce>
				<wsu:Created xmlns:wsu="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">%s</wsu:Created>
			</wsse:UsernameToken>
		</wsse:Security>
	</s:Header>`,
		r.username, digest, base64.StdEncoding.EncodeToString(nonce), created)
}

// extractXMLElement pulls the text content of the first element with
// the given local name, ignoring namespace prefixes
func extractXMLElement(doc, localName string) string {
	pattern := regexp.MustCompile(`(?s)<(?:[A-Za-z0-9_-]+:)?` + localName + `(?:\s[^>]*)?>(.*?)</(?:[A-Za-z0-9_-]+:)?` + localName + `>`)
	groups := pattern.FindStringSubmatch(doc)
	if groups == nil {
		return ""
	}
	return strings.TrimSpace(groups[1])
}

// extractXMLAttr pulls an attribute from the first element with the
// given local name
func extractXMLAttr(doc, localName, attr string) string {
	pattern := regexp.MustCompile(`<(?:[A-Za-z0-9_-]+:)?` + localName + `\s[^>]*\b` + attr + `="([^"]*)"`)
	groups := pattern.FindStringSubmatch(doc)
	if groups == nil {
		return ""
	}
	return groups[1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
