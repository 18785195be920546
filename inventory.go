package thi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const apiPathPrefix = "/api/v1"

// InventoryClient talks to the central vaccine inventory API. Lookups report
// "not found" as a boolean, distinct from transport and server errors: not
// found drives the create branch of the reconciliation and must never be
// conflated with a failed call.
type InventoryClient struct {
	BaseURL      string //scheme://host
	Token        string
	Organization string
	BookingHost  string
	HttpClient   *http.Client
	Now          func() time.Time //defaults to time.Now, override in tests
}

func NewInventoryClient(cfg *Config, client *http.Client) *InventoryClient {
	c := new(InventoryClient)
	c.BaseURL = cfg.ApiHost
	c.Token = cfg.ApiToken
	c.Organization = cfg.Organization
	c.BookingHost = cfg.BookingHost
	c.HttpClient = client

	return c
}

func (c *InventoryClient) requestPath(path string) string {
	return fmt.Sprintf("%s%s/%s", c.BaseURL, apiPathPrefix, path)
}

func (c *InventoryClient) headers(write bool) []Header {
	headers := []Header{
		{Name: "accept", Value: "application/json"},
		{Name: "Authorization", Value: fmt.Sprintf("Bearer %s", c.Token)},
	}
	if write {
		headers = append(headers, Header{Name: "Content-Type", Value: "application/json"})
	}

	return headers
}

func (c *InventoryClient) today() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	return now().UTC()
}

// Availability records always target "today", pinned to midnight UTC.
func (c *InventoryClient) todayDate() string {
	return c.today().Format("2006-01-02")
}

func (c *InventoryClient) todayMidnight() string {
	return c.todayDate() + "T00:00:00Z"
}

type locationResp struct {
	Id int64 `json:"id"`
}

type availabilityResp struct {
	Id string `json:"id"`
}

// FindLocation looks up a location by the booking site's external key.
// Returns (id, true, nil) when it exists and (0, false, nil) when the API has
// no such location: a 404, or a 2xx with an empty or non-JSON body (the API
// answers the latter for unknown keys). Anything else is a real error.
func (c *InventoryClient) FindLocation(externalID string) (int64, bool, error) {
	endpoint := &Endpoint{
		Url:        c.requestPath("locations/external/" + url.PathEscape(externalID)),
		Method:     "GET",
		Headers:    c.headers(false),
		HttpClient: c.HttpClient,
	}

	body, statusCode, err := endpoint.Fetch("find_location")
	if err != nil {
		return 0, false, fmt.Errorf("find_location %s: %v", externalID, err)
	}

	if statusCode == http.StatusNotFound {
		return 0, false, nil
	}

	if statusCode < 200 || statusCode > 299 {
		return 0, false, fmt.Errorf("find_location %s: status code %d", externalID, statusCode)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		//2xx with an empty/non-JSON body means no matching location
		return 0, false, nil
	}

	resp := locationResp{}
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return 0, false, fmt.Errorf("find_location %s: malformed response: %v", externalID, err)
	}

	return resp.Id, true, nil
}

type locationPayload struct {
	Name         string `json:"name"`
	Postcode     string `json:"postcode"`
	ExternalKey  string `json:"external_key"`
	Line1        string `json:"line1"`
	Active       int    `json:"active"`
	Url          string `json:"url"`
	Organization string `json:"organization"`
	Province     string `json:"province"`
}

// CreateLocation registers a pharmacy as a location. Locations are created
// once and never updated by this job, even if the registry row changes later.
func (c *InventoryClient) CreateLocation(rec PharmacyRecord) (int64, error) {
	payload := locationPayload{
		Name:         rec.Name,
		Postcode:     rec.PostalCode,
		ExternalKey:  rec.ExternalID,
		Line1:        rec.Address,
		Active:       1,
		Url:          BookingPageURL(c.BookingHost, rec.ExternalID),
		Organization: c.Organization,
		Province:     rec.Province,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("create_location %s: %v", rec.ExternalID, err)
	}

	endpoint := &Endpoint{
		Url:        c.requestPath("locations/expanded"),
		Method:     "POST",
		Body:       string(data),
		Headers:    c.headers(true),
		HttpClient: c.HttpClient,
	}

	body, statusCode, err := endpoint.Fetch("create_location")
	if err != nil {
		return 0, fmt.Errorf("create_location %s: %v", rec.ExternalID, err)
	}

	if statusCode < 200 || statusCode > 299 {
		return 0, fmt.Errorf("create_location %s: status code %d", rec.ExternalID, statusCode)
	}

	resp := locationResp{}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("create_location %s: malformed response: %v", rec.ExternalID, err)
	}

	Log.Infof("Created location %d for %s", resp.Id, rec.ExternalID)

	return resp.Id, nil
}

// FindTodayAvailability returns the id of today's availability record for a
// location, taking the first result when the API returns several. An empty
// result array is "not found", not an error.
func (c *InventoryClient) FindTodayAvailability(locationID int64) (string, bool, error) {
	params := url.Values{}
	params.Set("locationID", fmt.Sprintf("%d", locationID))
	params.Set("min_date", c.todayDate())

	endpoint := &Endpoint{
		Url:        c.requestPath("vaccine-availability/location/") + "?" + params.Encode(),
		Method:     "GET",
		Headers:    c.headers(false),
		HttpClient: c.HttpClient,
	}

	body, statusCode, err := endpoint.Fetch("find_availability")
	if err != nil {
		return "", false, fmt.Errorf("find_availability for location %d: %v", locationID, err)
	}

	if statusCode < 200 || statusCode > 299 {
		return "", false, fmt.Errorf("find_availability for location %d: status code %d", locationID, statusCode)
	}

	availabilities := make([]availabilityResp, 0)
	if err := json.Unmarshal(body, &availabilities); err != nil {
		return "", false, fmt.Errorf("find_availability for location %d: malformed response: %v", locationID, err)
	}

	if len(availabilities) == 0 {
		return "", false, nil
	}

	return availabilities[0].Id, true, nil
}

type availabilityPayload struct {
	NumberAvailable int    `json:"numberAvailable"`
	NumberTotal     int    `json:"numberTotal"`
	Vaccine         int    `json:"vaccine"`
	InputType       int    `json:"inputType"`
	Tags            string `json:"tags"`
	Location        int64  `json:"location"`
	Date            string `json:"date"`
}

// The availability signal is a boolean encoded into the count fields: 1/1
// when any slot exists today, 0/0 otherwise. Exact counts are not scraped.
func (c *InventoryClient) availabilityBody(locationID int64, available bool) (string, error) {
	count := 0
	if available {
		count = 1
	}

	payload := availabilityPayload{
		NumberAvailable: count,
		NumberTotal:     count,
		Vaccine:         1,
		InputType:       1,
		Tags:            "",
		Location:        locationID,
		Date:            c.todayMidnight(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func (c *InventoryClient) CreateAvailability(locationID int64, available bool) (string, error) {
	body, err := c.availabilityBody(locationID, available)
	if err != nil {
		return "", fmt.Errorf("create_availability for location %d: %v", locationID, err)
	}

	endpoint := &Endpoint{
		Url:        c.requestPath("vaccine-availability"),
		Method:     "POST",
		Body:       body,
		Headers:    c.headers(true),
		HttpClient: c.HttpClient,
	}

	respBody, statusCode, err := endpoint.Fetch("create_availability")
	if err != nil {
		return "", fmt.Errorf("create_availability for location %d: %v", locationID, err)
	}

	if statusCode < 200 || statusCode > 299 {
		return "", fmt.Errorf("create_availability for location %d: status code %d", locationID, statusCode)
	}

	resp := availabilityResp{}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("create_availability for location %d: malformed response: %v", locationID, err)
	}

	return resp.Id, nil
}

func (c *InventoryClient) UpdateAvailability(availID string, locationID int64, available bool) (string, error) {
	body, err := c.availabilityBody(locationID, available)
	if err != nil {
		return "", fmt.Errorf("update_availability %s: %v", availID, err)
	}

	endpoint := &Endpoint{
		Url:        c.requestPath("vaccine-availability/" + url.PathEscape(availID)),
		Method:     "PUT",
		Body:       body,
		Headers:    c.headers(true),
		HttpClient: c.HttpClient,
	}

	respBody, statusCode, err := endpoint.Fetch("update_availability")
	if err != nil {
		return "", fmt.Errorf("update_availability %s: %v", availID, err)
	}

	if statusCode < 200 || statusCode > 299 {
		return "", fmt.Errorf("update_availability %s: status code %d", availID, statusCode)
	}

	resp := availabilityResp{}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("update_availability %s: malformed response: %v", availID, err)
	}

	return resp.Id, nil
}

// GetOrCreateLocation resolves a stable location id for the pharmacy,
// creating the location on first sight of its external key. Idempotent:
// a second call with the same key finds the existing location and issues no
// create.
func (c *InventoryClient) GetOrCreateLocation(rec PharmacyRecord) (int64, error) {
	locationID, found, err := c.FindLocation(rec.ExternalID)
	if err != nil {
		return 0, err
	}

	if found {
		return locationID, nil
	}

	Log.Infof("Location %s not found, creating", rec.ExternalID)

	return c.CreateLocation(rec)
}

// CreateOrUpdateAvailability upserts today's availability record for the
// location, guaranteeing at most one record per (location, day) no matter
// how many times the job runs. The second return reports whether a new
// record was created.
func (c *InventoryClient) CreateOrUpdateAvailability(locationID int64, available bool) (string, bool, error) {
	availID, found, err := c.FindTodayAvailability(locationID)
	if err != nil {
		return "", false, err
	}

	if !found {
		Log.Debugf("No availability for location %d today, creating", locationID)
		availID, err = c.CreateAvailability(locationID, available)
		return availID, true, err
	}

	Log.Debugf("Updating availability %s for location %d", availID, locationID)

	availID, err = c.UpdateAvailability(availID, locationID, available)

	return availID, false, err
}
