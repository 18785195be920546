package thi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

const slotsAvailableHTML = `<!DOCTYPE html>
<html><body>
<div class="appointment-availability">
  <div class="b-days-selection appointment-availability__days-item" data-date="2021-05-01">Sat</div>
  <div class="b-days-selection appointment-availability__days-item" data-date="2021-05-02">Sun</div>
</div>
</body></html>`

const slotsUnavailableHTML = `<!DOCTYPE html>
<html><body>
<div class="appointment-availability">
  <div class="appointment-availability__no-days">No appointments are currently available.</div>
</div>
</body></html>`

//unclosed tags, attribute soup; the parser is expected to recover
const slotsMalformedAvailableHTML = `<html><body>
<div class="appointment-availability"><div class="b-days-selection appointment-availability__days-item"><p>May 1
<span>9:00</body>`

const slotsUnrecognizedHTML = `<!DOCTYPE html>
<html><body><h1>Welcome to Pharmaconnect</h1></body></html>`

func newTestProber(baseURL string) *Prober {
	prober := new(Prober)
	prober.BookingHost = baseURL
	prober.RunID = "test-run"

	return prober
}

func TestProbeAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(slotsAvailableHTML))
	}))
	defer server.Close()
	defer Cache.Destroy()

	available, err := newTestProber(server.URL).Probe("uuid-123")
	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
		return
	}
	if !available {
		t.Errorf("Expected available=true for page with day-selection blocks")
	}
}

func TestProbeUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(slotsUnavailableHTML))
	}))
	defer server.Close()
	defer Cache.Destroy()

	available, err := newTestProber(server.URL).Probe("uuid-123")
	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
		return
	}
	if available {
		t.Errorf("Expected available=false for page with zero day-selection blocks")
	}
}

func TestProbeMalformedHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(slotsMalformedAvailableHTML))
	}))
	defer server.Close()
	defer Cache.Destroy()

	available, err := newTestProber(server.URL).Probe("uuid-123")
	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
		return
	}
	if !available {
		t.Errorf("Expected available=true for malformed page containing a day-selection block")
	}
}

func TestProbeUnrecognizedPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(slotsUnrecognizedHTML))
	}))
	defer server.Close()
	defer Cache.Destroy()

	//degrades to unavailable, observable via the warning log
	available, err := newTestProber(server.URL).Probe("uuid-123")
	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
		return
	}
	if available {
		t.Errorf("Expected available=false for unrecognized page")
	}
}

func TestProbeNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	defer Cache.Destroy()

	_, err := newTestProber(server.URL).Probe("uuid-123")
	if err == nil {
		t.Errorf("Expected error for non-200 response, got nil")
	}
}

func TestProbeTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() //connection refused from here on
	defer Cache.Destroy()

	_, err := newTestProber(server.URL).Probe("uuid-123")
	if err == nil {
		t.Errorf("Expected error for unreachable booking site, got nil")
	}
}

func TestProbeFetchCached(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		w.Write([]byte(slotsAvailableHTML))
	}))
	defer server.Close()
	defer Cache.Destroy()

	prober := newTestProber(server.URL)

	//duplicate registry rows probe the same pharmacy once per run
	for i := 0; i < 3; i++ {
		available, err := prober.Probe("uuid-123")
		if err != nil {
			t.Errorf("Expected nil error, got %v", err)
			return
		}
		if !available {
			t.Errorf("Expected available=true")
			return
		}
	}

	if requestCount != 1 {
		t.Errorf("Expected 1 request to the booking site, got %d", requestCount)
	}
}

func TestSlotsURL(t *testing.T) {
	prober := newTestProber(DefaultBookingHost)

	expected := "https://pharmaconnect.ca/Appointment/uuid-123/Slots?serviceType=ImmunizationCovid"
	if url := prober.SlotsURL("uuid-123"); url != expected {
		t.Errorf("Expected %s, got %s", expected, url)
	}
}

func TestBookingPageURL(t *testing.T) {
	expected := "https://pharmaconnect.ca/Appointment/uuid-123/Book/ImmunizationCovid"
	if url := BookingPageURL("", "uuid-123"); url != expected {
		t.Errorf("Expected %s, got %s", expected, url)
	}
}
