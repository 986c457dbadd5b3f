package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExtractXMLElement(t *testing.T) {
	doc := `<tt:MediaCapabilities><tt:XAddr>http://cam/onvif/media</tt:XAddr></tt:MediaCapabilities>`
	if got := extractXMLElement(doc, "XAddr"); got != "http://cam/onvif/media" {
		t.Errorf("Expected media address, got %q", got)
	}

	// No namespace prefix.
	if got := extractXMLElement("<Uri>rtsp://cam/live</Uri>", "Uri"); got != "rtsp://cam/live" {
		t.Errorf("Expected URI, got %q", got)
	}

	if got := extractXMLElement(doc, "Missing"); got != "" {
		t.Errorf("Expected empty for missing element, got %q", got)
	}
}

func TestExtractXMLAttr(t *testing.T) {
	doc := `<trt:Profiles token="profile_1" fixed="true"><tt:Name>Main</tt:Name></trt:Profiles>`
	if got := extractXMLAttr(doc, "Profiles", "token"); got != "profile_1" {
		t.Errorf("Expected profile_1, got %q", got)
	}
	if got := extractXMLAttr(doc, "Profiles", "nope"); got != "" {
		t.Errorf("Expected empty for missing attribute, got %q", got)
	}
}

// onvifTestDevice emulates the SOAP surface the resolver touches
func onvifTestDevice(t *testing.T, streamURI string) *httptest.Server {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		request := string(body)

		switch {
		case strings.Contains(request, "GetCapabilities"):
			fmt.Fprintf(w, `<s:Envelope><s:Body><tds:GetCapabilitiesResponse>
				<tt:Media><tt:XAddr>%s/onvif/media</tt:XAddr></tt:Media>
			</tds:GetCapabilitiesResponse></s:Body></s:Envelope>`, server.URL)
		case strings.Contains(request, "GetProfiles"):
			fmt.Fprint(w, `<s:Envelope><s:Body><trt:GetProfilesResponse>
				<trt:Profiles token="profile_1" fixed="true"/>
				<trt:Profiles token="profile_2" fixed="true"/>
			</trt:GetProfilesResponse></s:Body></s:Envelope>`)
		case strings.Contains(request, "GetStreamUri"):
			if !strings.Contains(request, "profile_1") {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			fmt.Fprintf(w, `<s:Envelope><s:Body><trt:GetStreamUriResponse>
				<trt:MediaUri><tt:Uri>%s</tt:Uri></trt:MediaUri>
			</trt:GetStreamUriResponse></s:Body></s:Envelope>`, streamURI)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	return server
}

func TestONVIFResolver_ResolveStreamURI(t *testing.T) {
	server := onvifTestDevice(t, "rtsp://192.168.1.20:554/live")
	defer server.Close()

	resolver := &onvifResolver{
		endpoint:   server.URL + "/onvif/device_service",
		httpClient: http.DefaultClient,
	}

	uri, err := resolver.resolveStreamURI(context.Background())
	if err != nil {
		t.Fatalf("resolveStreamURI failed: %v", err)
	}
	if uri != "rtsp://192.168.1.20:554/live" {
		t.Errorf("Expected device stream URI, got %q", uri)
	}
}

func TestONVIFResolver_CredentialInjection(t *testing.T) {
	server := onvifTestDevice(t, "rtsp://192.168.1.20:554/live")
	defer server.Close()

	resolver := &onvifResolver{
		endpoint:   server.URL + "/onvif/device_service",
		username:   "admin",
		password:   "secret",
		httpClient: http.DefaultClient,
	}

	uri, err := resolver.resolveStreamURI(context.Background())
	if err != nil {
		t.Fatalf("resolveStreamURI failed: %v", err)
	}
	if !strings.Contains(uri, "admin:secret@") {
		t.Errorf("Credentials should be injected into the RTSP URI, got %q", uri)
	}
}

func TestONVIFResolver_SecurityHeader(t *testing.T) {
	anon := &onvifResolver{}
	if anon.securityHeader() != "" {
		t.Error("Anonymous resolver should send no security header")
	}

	authed := &onvifResolver{username: "admin", password: "secret"}
	header := authed.securityHeader()
	if !strings.Contains(header, "<wsse:Username>admin</wsse:Username>") {
		t.Error("Header should carry the username")
	}
	if strings.Contains(header, "secret") {
		t.Error("Header must carry a digest, never the plain password")
	}
	if !strings.Contains(header, "PasswordDigest") {
		t.Error("Header should use digest authentication")
	}
}

func TestONVIFResolver_DeviceErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	resolver := &onvifResolver{
		endpoint:   server.URL,
		httpClient: http.DefaultClient,
	}
	if _, err := resolver.resolveStreamURI(context.Background()); err == nil {
		t.Error("Resolution against a failing device should fail")
	}
}
