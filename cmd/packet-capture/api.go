package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/biter777/countries"
	"github.com/gorilla/mux"
	"github.com/oschwald/maxminddb-golang"

	"github.com/sudorandom/packet-stream/pkg/packetstore"
)

const (
	latestLimit = 100
	topIPsLimit = 10
	notAvail    = "N/A"
)

// TopIP is one entry of /api/top_ips.
type TopIP struct {
	IP      string `json:"ip"`
	Count   int    `json:"count"`
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
	ISP     string `json:"isp"`
}

// Describer fills in where an address is.
type Describer interface {
	Describe(ip string) (city, region, country string)
}

// geoDescriber reads city, region and country names from a MaxMind city
// database.
type geoDescriber struct {
	reader *maxminddb.Reader
}

func openDescriber(path string) (*geoDescriber, error) {
	r, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database %s: %w", path, err)
	}
	return &geoDescriber{reader: r}, nil
}

func (g *geoDescriber) Close() error { return g.reader.Close() }

func (g *geoDescriber) Describe(addr string) (city, region, country string) {
	city, region, country = notAvail, notAvail, notAvail
	ip := net.ParseIP(addr)
	if ip == nil {
		return
	}
	var record struct {
		City struct {
			Names map[string]string `maxminddb:"names"`
		} `maxminddb:"city"`
		Subdivisions []struct {
			Names map[string]string `maxminddb:"names"`
		} `maxminddb:"subdivisions"`
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := g.reader.Lookup(ip, &record); err != nil {
		return
	}
	if n := record.City.Names["en"]; n != "" {
		city = n
	}
	if len(record.Subdivisions) > 0 && record.Subdivisions[0].Names["en"] != "" {
		region = record.Subdivisions[0].Names["en"]
	}
	return city, region, countryName(record.Country.ISOCode)
}

func countryName(cc string) string {
	if cc == "" {
		return notAvail
	}
	if c := countries.ByName(cc); c != countries.Unknown {
		return c.String()
	}
	return cc
}

// APIHandler serves the captured packets the way the viewer polls them.
type APIHandler struct {
	store     *packetstore.Store
	describer Describer
}

func NewRouter(store *packetstore.Store, describer Describer) *mux.Router {
	h := &APIHandler{store: store, describer: describer}
	r := mux.NewRouter()
	r.Use(corsMiddleware)
	r.HandleFunc("/api/packets", h.packetsHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/http_packets", h.httpPacketsHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/system_info", h.systemInfoHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/stats", h.statsHandler).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/top_ips", h.topIPsHandler).Methods(http.MethodGet, http.MethodOptions)
	return r
}

// corsMiddleware lets any origin read the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *APIHandler) packetsHandler(w http.ResponseWriter, r *http.Request) {
	packets, err := h.store.Latest(latestLimit)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read packets: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, packets)
}

func (h *APIHandler) httpPacketsHandler(w http.ResponseWriter, r *http.Request) {
	packets, err := h.store.LatestHTTP(latestLimit)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read http packets: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, packets)
}

func (h *APIHandler) systemInfoHandler(w http.ResponseWriter, r *http.Request) {
	info, ok, err := h.store.SystemInfo()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read system info: %v", err), http.StatusInternalServerError)
		return
	}
	if !ok {
		writeJSON(w, nil)
		return
	}
	writeJSON(w, info)
}

func (h *APIHandler) statsHandler(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.ProtocolCounts()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to count packets: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, counts)
}

func (h *APIHandler) topIPsHandler(w http.ResponseWriter, r *http.Request) {
	top, err := h.store.TopSources(topIPsLimit)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to rank sources: %v", err), http.StatusInternalServerError)
		return
	}
	out := make([]TopIP, 0, len(top))
	for _, s := range top {
		t := TopIP{IP: s.IP, Count: s.Count, City: notAvail, Region: notAvail, Country: notAvail, ISP: notAvail}
		if h.describer != nil {
			t.City, t.Region, t.Country = h.describer.Describe(s.IP)
		}
		out = append(out, t)
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Error encoding response: %v", err)
	}
}
