package thi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/PuerkitoBio/goquery"
)

const DefaultBookingHost = "https://pharmaconnect.ca"
const BookingServiceType = "ImmunizationCovid"

// The booking site renders one of these blocks per day that still has open
// slots. This is a heuristic coupled to the marketing site's DOM; if Telus
// redesigns the page the selector stops matching and every pharmacy reads as
// unavailable, which is why zero-match pages are checked for drift below.
const daySelectionSelector = "div.b-days-selection.appointment-availability__days-item"

// Broader marker present on any recognizable slots page, available or not.
const availabilityMarker = ".appointment-availability"

type Prober struct {
	BookingHost  string
	HttpClient   *http.Client
	DumpOutputS3 bool
	RunID        string
}

func NewProber(cfg *Config, client *http.Client, runID string) *Prober {
	prober := new(Prober)
	prober.BookingHost = cfg.BookingHost
	if len(prober.BookingHost) == 0 {
		prober.BookingHost = DefaultBookingHost
	}
	prober.HttpClient = client
	prober.DumpOutputS3 = cfg.DumpOutputS3
	prober.RunID = runID

	return prober
}

// SlotsURL is the scraped fragment listing bookable days for a pharmacy.
func (p *Prober) SlotsURL(externalID string) string {
	return fmt.Sprintf("%s/Appointment/%s/Slots?serviceType=%s", p.BookingHost, externalID, BookingServiceType)
}

// BookingPageURL is the human-facing booking page recorded on the location.
func BookingPageURL(bookingHost string, externalID string) string {
	if len(bookingHost) == 0 {
		bookingHost = DefaultBookingHost
	}

	return fmt.Sprintf("%s/Appointment/%s/Book/%s", bookingHost, externalID, BookingServiceType)
}

// Probe reports whether the booking site currently shows at least one day
// with open appointment slots for the pharmacy. A fetch failure or non-200
// is returned as an error, never as "unavailable": a fabricated zero would
// overwrite the last truthful signal in the inventory system.
func (p *Prober) Probe(externalID string) (bool, error) {
	endpoint := &Endpoint{
		Url:        p.SlotsURL(externalID),
		Method:     "GET",
		HttpClient: p.HttpClient,
	}

	body, statusCode, err := endpoint.FetchCached(externalID)
	if err != nil {
		return false, fmt.Errorf("probe %s: %v", externalID, err)
	}

	if statusCode != http.StatusOK {
		return false, fmt.Errorf("probe %s: status code %d", externalID, statusCode)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("probe %s: parse: %v", externalID, err)
	}

	dayCount := doc.Find(daySelectionSelector).Length()
	if dayCount > 0 {
		Log.Debugf("%s: %d day(s) with open slots", externalID, dayCount)
		return true, nil
	}

	if doc.Find(availabilityMarker).Length() == 0 {
		//page came back 200 but doesn't look like a slots page at all
		Log.Warnf("%s: no appointment markup found, booking site DOM may have changed", externalID)
		p.dumpBody(externalID, body)
	}

	return false, nil
}

func (p *Prober) dumpBody(externalID string, body []byte) {
	if !p.DumpOutputS3 {
		return
	}

	if !HasAWSCredentials() {
		Log.Warnf("Prober configured to dump to S3 but no AWS credentials were found")
		return
	}

	hash := sha256.Sum256(body)
	hashString := hex.EncodeToString(hash[:])
	key := fmt.Sprintf("%s/%s.%s.html", p.RunID, externalID, hashString)

	url, err := PutS3Object(S3ScrapeDumpBucket, key, body)
	if err != nil {
		Log.Warnf("%v", err)
		return
	}

	Log.Debugf("Dumped %d bytes to S3: %s", len(body), url)
}
