package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const PacketsPath = "/api/packets"

var (
	// ErrFetch matches every failure to obtain a packet list.
	ErrFetch = errors.New("packet fetch failed")
	// ErrMalformedRecord marks a packet entry that could not be decoded.
	ErrMalformedRecord = errors.New("malformed packet record")
)

// FetchError wraps a network, HTTP or decode failure from the data source.
type FetchError struct {
	Op  string
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Client fetches the current packet list from the capture API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) URL() string {
	return c.BaseURL + PacketsPath
}

// Fetch returns the packets currently served by the API. Any failure is a
// *FetchError; individual malformed entries are not failures.
func (c *Client) Fetch(ctx context.Context) ([]RawPacket, error) {
	url := c.URL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Op: "build request", URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, &FetchError{Op: "get", URL: url, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Error closing response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Op: "get", URL: url, Err: fmt.Errorf("bad status: %s", resp.Status)}
	}

	packets, malformed, err := DecodePackets(resp.Body)
	if err != nil {
		return nil, &FetchError{Op: "decode", URL: url, Err: err}
	}
	if malformed > 0 {
		log.Printf("[POLL] %d of %d packets were malformed: %v", malformed, len(packets), ErrMalformedRecord)
	}
	return packets, nil
}

// DecodePackets reads a JSON array of packets. Entries that are not objects
// or carry wrongly typed fields still produce a RawPacket, with whatever
// fields could be read; malformed counts them. Only a body that is not a
// JSON array at all is an error.
func DecodePackets(r io.Reader) (packets []RawPacket, malformed int, err error) {
	var items []json.RawMessage
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, 0, err
	}
	packets = make([]RawPacket, 0, len(items))
	for _, item := range items {
		p, ok := decodePacket(item)
		if !ok {
			malformed++
		}
		packets = append(packets, p)
	}
	return packets, malformed, nil
}

func decodePacket(item json.RawMessage) (RawPacket, bool) {
	var p RawPacket
	if err := json.Unmarshal(item, &p); err == nil {
		return p, p.SrcIP != "" && p.DstIP != ""
	}

	// Salvage the address labels from an object with bad field types.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return RawPacket{}, false
	}
	str := func(key string) string {
		var s string
		if raw, ok := fields[key]; ok {
			_ = json.Unmarshal(raw, &s)
		}
		return s
	}
	return RawPacket{SrcIP: str("src_ip"), DstIP: str("dst_ip"), ProtocolName: str("protocol_name")}, false
}
