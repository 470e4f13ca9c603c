// Package sniffer turns captured frames into packetstore records.
package sniffer

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/cloudflare/ahocorasick"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/sudorandom/packet-stream/pkg/packetstore"
)

var ErrNotIPv4 = errors.New("not an IPv4 packet")

// DefaultMethods are the request methods whose presence in a TCP payload
// marks it as an HTTP packet.
var DefaultMethods = []string{"POST", "GET", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

// Sink receives parsed packets. *packetstore.Store is the usual one.
type Sink interface {
	Append(p *packetstore.Packet) error
	AppendHTTP(h *packetstore.HTTPPacket) error
}

type Sniffer struct {
	// KeepRawData stores the hex dump of every frame alongside the parsed
	// fields.
	KeepRawData bool

	methods []string
	tokens  [][]byte
	matcher *ahocorasick.Matcher
}

// New builds a sniffer that flags payloads containing any of methods
// followed by a space.
func New(methods ...string) *Sniffer {
	if len(methods) == 0 {
		methods = DefaultMethods
	}
	s := &Sniffer{KeepRawData: true}
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		s.methods = append(s.methods, m)
		s.tokens = append(s.tokens, []byte(m+" "))
	}
	s.matcher = ahocorasick.NewMatcher(s.tokens)
	return s
}

var defaultSniffer = New()

// Parse uses the default sniffer.
func Parse(p gopacket.Packet) (*packetstore.Packet, *packetstore.HTTPPacket, error) {
	return defaultSniffer.Parse(p)
}

// Parse extracts the stored fields from an IPv4 frame. The HTTP packet is
// nil unless the frame is TCP with a payload carrying a request method.
func (s *Sniffer) Parse(p gopacket.Packet) (*packetstore.Packet, *packetstore.HTTPPacket, error) {
	ipLayer, ok := p.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return nil, nil, ErrNotIPv4
	}

	ts := time.Now()
	if md := p.Metadata(); md != nil && !md.Timestamp.IsZero() {
		ts = md.Timestamp
	}
	data := p.Data()
	pkt := &packetstore.Packet{
		Timestamp:    float64(ts.UnixNano()) / 1e9,
		SrcIP:        ipLayer.SrcIP.String(),
		DstIP:        ipLayer.DstIP.String(),
		Protocol:     int(ipLayer.Protocol),
		ProtocolName: ipLayer.Protocol.String(),
		Length:       len(data),
	}
	if s.KeepRawData {
		pkt.RawData = hex.EncodeToString(data)
	}

	if udp, ok := p.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		pkt.SrcPort, pkt.DstPort = int(udp.SrcPort), int(udp.DstPort)
		return pkt, nil, nil
	}
	tcp, ok := p.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if !ok {
		return pkt, nil, nil
	}
	pkt.SrcPort, pkt.DstPort = int(tcp.SrcPort), int(tcp.DstPort)

	payload := tcp.LayerPayload()
	method := s.Method(payload)
	if method == "" {
		return pkt, nil, nil
	}
	return pkt, &packetstore.HTTPPacket{
		Timestamp: pkt.Timestamp,
		SrcIP:     pkt.SrcIP,
		DstIP:     pkt.DstIP,
		SrcPort:   pkt.SrcPort,
		DstPort:   pkt.DstPort,
		Method:    method,
		Payload:   strings.ToValidUTF8(string(payload), ""),
	}, nil
}

// Method returns the request method appearing first in payload, or "".
func (s *Sniffer) Method(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	best, bestAt := "", -1
	for _, i := range s.matcher.MatchThreadSafe(payload) {
		at := bytes.Index(payload, s.tokens[i])
		if at >= 0 && (bestAt < 0 || at < bestAt) {
			best, bestAt = s.methods[i], at
		}
	}
	return best
}

// Run parses packets into sink until packets is closed or ctx is done. It
// returns how many packets were stored.
func (s *Sniffer) Run(ctx context.Context, packets <-chan gopacket.Packet, sink Sink) (int, error) {
	stored := 0
	for {
		select {
		case <-ctx.Done():
			return stored, ctx.Err()
		case p, ok := <-packets:
			if !ok {
				return stored, nil
			}
			pkt, httpPkt, err := s.Parse(p)
			if err != nil {
				continue
			}
			if err := sink.Append(pkt); err != nil {
				log.Printf("[CAPTURE] Error storing packet: %v", err)
				continue
			}
			stored++
			if httpPkt != nil {
				if err := sink.AppendHTTP(httpPkt); err != nil {
					log.Printf("[CAPTURE] Error storing HTTP packet: %v", err)
				} else {
					log.Printf("[CAPTURE] HTTP %s %s:%d -> %s:%d", httpPkt.Method, httpPkt.SrcIP, httpPkt.SrcPort, httpPkt.DstIP, httpPkt.DstPort)
				}
			}
		}
	}
}

// Run uses the default sniffer.
func Run(ctx context.Context, packets <-chan gopacket.Packet, sink Sink) (int, error) {
	return defaultSniffer.Run(ctx, packets, sink)
}
