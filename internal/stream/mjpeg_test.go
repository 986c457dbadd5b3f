package stream

import (
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/visionward/sitewatch/internal/logger"
)

func mjpegHandler(t *testing.T, parts [][]byte, auth bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if auth {
			username, password, ok := r.BasicAuth()
			if !ok || username != "admin" || password != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}

		writer := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+writer.Boundary())
		w.WriteHeader(http.StatusOK)

		for _, part := range parts {
			pw, err := writer.CreatePart(textproto.MIMEHeader{
				"Content-Type": []string{"image/jpeg"},
			})
			if err != nil {
				return
			}
			pw.Write(part)
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}
		writer.Close()
	}
}

func TestMJPEGSession_ReadFrames(t *testing.T) {
	parts := [][]byte{
		[]byte("\xff\xd8jpeg-one\xff\xd9"),
		[]byte("\xff\xd8jpeg-two\xff\xd9"),
	}
	server := httptest.NewServer(mjpegHandler(t, parts, false))
	defer server.Close()

	desc := Descriptor{ID: "cam", Protocol: ProtocolMJPEG, Target: server.URL}
	sess, err := dialMJPEG(context.Background(), desc, testConfig())
	if err != nil {
		t.Fatalf("dialMJPEG failed: %v", err)
	}
	defer sess.Close()

	for i, want := range parts {
		frame, err := sess.ReadFrame(context.Background())
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if string(frame.Data) != string(want) {
			t.Errorf("Frame %d payload mismatch: got %q", i, frame.Data)
		}
	}

	// Stream ends; the next read reports a failure that triggers the
	// reconnect path.
	if _, err := sess.ReadFrame(context.Background()); err == nil {
		t.Error("ReadFrame past end of stream should fail")
	}
}

func TestMJPEGSession_BasicAuth(t *testing.T) {
	parts := [][]byte{[]byte("\xff\xd8jpeg\xff\xd9")}
	server := httptest.NewServer(mjpegHandler(t, parts, true))
	defer server.Close()

	// Without credentials the server rejects the request.
	desc := Descriptor{ID: "cam", Protocol: ProtocolMJPEG, Target: server.URL}
	if _, err := dialMJPEG(context.Background(), desc, testConfig()); err == nil {
		t.Error("Dial without credentials should fail")
	}

	desc.Options = map[string]string{"username": "admin", "password": "secret"}
	sess, err := dialMJPEG(context.Background(), desc, testConfig())
	if err != nil {
		t.Fatalf("dialMJPEG with credentials failed: %v", err)
	}
	sess.Close()
}

func TestMJPEGSession_NotMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	desc := Descriptor{ID: "cam", Protocol: ProtocolMJPEG, Target: server.URL}
	if _, err := dialMJPEG(context.Background(), desc, testConfig()); err == nil {
		t.Error("Dial against a non-multipart endpoint should fail")
	}
}

func TestMJPEGClient_EndToEnd(t *testing.T) {
	parts := [][]byte{
		[]byte("\xff\xd8jpeg-one\xff\xd9"),
		[]byte("\xff\xd8jpeg-two\xff\xd9"),
		[]byte("\xff\xd8jpeg-three\xff\xd9"),
	}
	server := httptest.NewServer(mjpegHandler(t, parts, false))
	defer server.Close()

	cfg := testConfig()
	cfg.MaxReconnectAttempts = 1

	desc := Descriptor{ID: "cam-7", Protocol: ProtocolMJPEG, Target: server.URL}
	client := NewMJPEGClient(desc, cfg, logger.NewNopLogger())

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Disconnect()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frame := client.LatestFrame(); frame != nil && frame.StreamID == "cam-7" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("No frames captured from MJPEG server")
}
