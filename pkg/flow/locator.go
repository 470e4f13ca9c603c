package flow

import (
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/maxminddb-golang"
)

// Locator resolves an address to a coordinate and ISO country code. ok is
// false when the address cannot be placed.
type Locator interface {
	Locate(addr string) (coord GeoCoordinate, cc string, ok bool)
}

type locatorEntry struct {
	Coord GeoCoordinate
	CC    string
	OK    bool
}

const maxLocatorCache = 100000

// GeoIPLocator looks addresses up in a MaxMind city database.
type GeoIPLocator struct {
	reader  *maxminddb.Reader
	cache   map[string]locatorEntry
	cacheMu sync.Mutex
}

func OpenGeoIP(path string) (*GeoIPLocator, error) {
	r, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database %s: %w", path, err)
	}
	return NewGeoIPLocator(r), nil
}

func NewGeoIPLocator(r *maxminddb.Reader) *GeoIPLocator {
	return &GeoIPLocator{reader: r, cache: make(map[string]locatorEntry)}
}

func (g *GeoIPLocator) Close() error {
	return g.reader.Close()
}

func (g *GeoIPLocator) Locate(addr string) (GeoCoordinate, string, bool) {
	g.cacheMu.Lock()
	if e, ok := g.cache[addr]; ok {
		g.cacheMu.Unlock()
		return e.Coord, e.CC, e.OK
	}
	g.cacheMu.Unlock()

	e := g.lookup(addr)

	g.cacheMu.Lock()
	if len(g.cache) > maxLocatorCache {
		// Drop ~20% so we are not evicting on every insert.
		count := 0
		for k := range g.cache {
			delete(g.cache, k)
			count++
			if count > maxLocatorCache/5 {
				break
			}
		}
	}
	g.cache[addr] = e
	g.cacheMu.Unlock()
	return e.Coord, e.CC, e.OK
}

func (g *GeoIPLocator) lookup(addr string) locatorEntry {
	ip := net.ParseIP(addr)
	if ip == nil {
		return locatorEntry{}
	}
	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
		Location struct {
			Latitude  float64 `maxminddb:"latitude"`
			Longitude float64 `maxminddb:"longitude"`
		} `maxminddb:"location"`
	}
	if err := g.reader.Lookup(ip, &record); err != nil {
		return locatorEntry{}
	}
	c := GeoCoordinate{Lng: record.Location.Longitude, Lat: record.Location.Latitude}
	if (c.Lng == 0 && c.Lat == 0) || !c.Valid() {
		return locatorEntry{CC: record.Country.ISOCode}
	}
	return locatorEntry{Coord: c, CC: record.Country.ISOCode, OK: true}
}

// LocatorFunc adapts a plain function to the Locator interface.
type LocatorFunc func(addr string) (GeoCoordinate, string, bool)

func (f LocatorFunc) Locate(addr string) (GeoCoordinate, string, bool) {
	return f(addr)
}
