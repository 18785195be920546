package thi

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"
)

const EndpointDefaultTimeout = 10

// Endpoint is a single outbound HTTP call. Unlike a bare http.Client it
// reports the status code to the caller instead of folding non-200 responses
// into an error: the inventory client needs to tell a "not found" apart from
// a server failure, so that classification happens above this layer.
type Endpoint struct {
	Url        string
	Method     string
	Body       string
	Headers    []Header
	HttpClient *http.Client
	Timeout    int
}

type Header struct {
	Name  string
	Value string
}

const FetchCacheDefaultTTL = 120

func (endpoint *Endpoint) GenerateCacheKey() string {
	if endpoint.Method != "GET" {
		return ""
	}

	return fmt.Sprintf("%s|%d", endpoint.Url, FetchCacheDefaultTTL)
}

// FetchCached serves repeated GETs of the same url from the in-memory cache
// for the duration of a run. Only 200 responses are cached.
func (endpoint *Endpoint) FetchCached(name string) (body []byte, statusCode int, err error) {
	key := endpoint.GenerateCacheKey()
	if len(key) == 0 {
		return endpoint.Fetch(name)
	}

	body, ok := Cache.GetOrLock(key).([]byte)

	if !ok || body == nil {
		defer Cache.Unlock(key)
		body, statusCode, err := endpoint.Fetch(name)
		if err != nil || statusCode != http.StatusOK {
			return body, statusCode, err
		}
		Cache.Put(key, body, FetchCacheDefaultTTL)

		return body, statusCode, nil
	}

	return body, http.StatusOK, nil
}

func (endpoint *Endpoint) Fetch(name string) ([]byte, int, error) {
	if endpoint.Method != "GET" && endpoint.Method != "POST" && endpoint.Method != "PUT" {
		return nil, 0, fmt.Errorf("Unknown method: %s", endpoint.Method)
	}

	client := endpoint.HttpClient
	if client == nil {
		timeout := endpoint.Timeout
		if timeout <= 0 {
			timeout = EndpointDefaultTimeout
		}
		client = &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
			Transport: &http.Transport{
				DisableKeepAlives: false,
			},
		}
	}

	req, err := http.NewRequest(endpoint.Method, endpoint.Url, strings.NewReader(endpoint.Body))
	if err != nil {
		return nil, 0, err
	}

	for _, header := range endpoint.Headers {
		req.Header.Add(header.Name, header.Value)
	}

	resp, err := client.Do(req)
	if err != nil {
		Log.Debugf("WARNING: Error during fetch: %v", err)
		return nil, 0, err
	}

	if resp.Body != nil {
		defer resp.Body.Close()
	}

	gzipContent := false
	for headerKey, headerVals := range resp.Header {
		if strings.ToLower(headerKey) == "content-encoding" && len(headerVals) > 0 {
			if strings.ToLower(headerVals[0]) == "gzip" {
				gzipContent = true
			}
		}
	}

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if gzipContent {
		Log.Debug("Decompressing gzipped content...")

		gzReader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, resp.StatusCode, err
		}

		body, err = ioutil.ReadAll(gzReader)
		if err != nil {
			return nil, resp.StatusCode, err
		}
	}

	Log.Debugf("%s: fetched %d bytes with status code %d from %s", name, len(body), resp.StatusCode, endpoint.Url)

	return body, resp.StatusCode, nil
}
