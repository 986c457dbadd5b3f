package violation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/visionward/sitewatch/internal/detect"
	"github.com/visionward/sitewatch/internal/logger"
	"github.com/visionward/sitewatch/internal/media"
)

func TestSeverityFor(t *testing.T) {
	cases := []struct {
		category detect.Category
		severity Severity
	}{
		{detect.CategoryHelmet, SeverityHigh},
		{detect.CategoryDrowsiness, SeverityHigh},
		{detect.CategoryFace, SeverityMedium},
		{detect.CategoryInactivity, SeverityMedium},
	}
	for _, tc := range cases {
		if got := SeverityFor(tc.category); got != tc.severity {
			t.Errorf("SeverityFor(%s) expected %s, got %s", tc.category, tc.severity, got)
		}
	}
}

func TestNewRecord(t *testing.T) {
	captured := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	event := detect.Event{
		Category:   detect.CategoryHelmet,
		Confidence: 0.88,
		SubjectID:  "emp-1",
		Box:        media.Box{X1: 1, Y1: 2, X2: 3, Y2: 4},
		Timestamp:  captured,
	}

	record := NewRecord("cam-1", event, "screens/x.jpg", "yard-west")

	if record.CameraID != "cam-1" || record.SubjectID != "emp-1" {
		t.Errorf("Unexpected record identity fields: %+v", record)
	}
	if record.Severity != SeverityHigh {
		t.Errorf("Helmet record should be high severity, got %s", record.Severity)
	}
	if record.ScreenshotRef != "screens/x.jpg" || record.Geolocation != "yard-west" {
		t.Errorf("Unexpected reference fields: %+v", record)
	}
	if !record.Timestamp.Equal(captured) {
		t.Errorf("Record should carry the detection time, got %v", record.Timestamp)
	}
	if record.ID == "" {
		t.Error("Record should get a unique id")
	}
	if other := NewRecord("cam-1", event, "screens/x.jpg", "yard-west"); other.ID == record.ID {
		t.Error("Two records should not share an id")
	}
}

func TestHTTPSink_CreateViolation(t *testing.T) {
	var received Record
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sink := NewHTTPSink(HTTPSinkConfig{Endpoint: server.URL}, logger.NewNopLogger())
	record := NewRecord("cam-1", detect.Event{
		Category:   detect.CategoryInactivity,
		Confidence: 1.0,
	}, "", "")

	if err := sink.CreateViolation(context.Background(), record); err != nil {
		t.Fatalf("CreateViolation failed: %v", err)
	}
	if received.CameraID != "cam-1" || received.Category != detect.CategoryInactivity {
		t.Errorf("Payload mismatch: %+v", received)
	}
	if received.Severity != SeverityMedium {
		t.Errorf("Expected medium severity on the wire, got %s", received.Severity)
	}
}

func TestHTTPSink_BearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sink := NewHTTPSink(HTTPSinkConfig{Endpoint: server.URL, APIToken: "secret-1"}, logger.NewNopLogger())
	if err := sink.CreateViolation(context.Background(), Record{}); err != nil {
		t.Fatalf("CreateViolation failed: %v", err)
	}
	if gotAuth != "Bearer secret-1" {
		t.Errorf("Expected bearer token header, got %q", gotAuth)
	}
}

func TestHTTPSink_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := NewHTTPSink(HTTPSinkConfig{Endpoint: server.URL}, logger.NewNopLogger())
	if err := sink.CreateViolation(context.Background(), Record{}); err == nil {
		t.Error("5xx should be a write failure")
	}

	unconfigured := NewHTTPSink(HTTPSinkConfig{}, logger.NewNopLogger())
	if err := unconfigured.CreateViolation(context.Background(), Record{}); err == nil {
		t.Error("Missing endpoint should fail")
	}
}
