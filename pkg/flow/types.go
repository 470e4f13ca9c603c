// Package flow provides the packet-flow animation core: flow records built from
// polled packets, their per-frame animation state and the geo projections used
// to place them on a map or a globe.
package flow

import "fmt"

// GeoCoordinate is a longitude/latitude pair in degrees.
type GeoCoordinate struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

func (c GeoCoordinate) Valid() bool {
	return c.Lng >= -180 && c.Lng <= 180 && c.Lat >= -90 && c.Lat <= 90
}

func (c GeoCoordinate) String() string {
	return fmt.Sprintf("(%.4f, %.4f)", c.Lng, c.Lat)
}

// RawPacket is one element of the /api/packets response.
type RawPacket struct {
	SrcIP        string  `json:"src_ip"`
	DstIP        string  `json:"dst_ip"`
	Protocol     int     `json:"protocol,omitempty"`
	ProtocolName string  `json:"protocol_name,omitempty"`
	Length       int     `json:"length,omitempty"`
	Timestamp    float64 `json:"timestamp,omitempty"`
}

type FlowID uint64

// FlowRecord is a single observed flow in the current poll cycle.
type FlowRecord struct {
	ID                 FlowID        `json:"id"`
	Cycle              uint64        `json:"cycle"`
	SourceAddress      string        `json:"source_address"`
	DestinationAddress string        `json:"destination_address"`
	Start              GeoCoordinate `json:"start"`
	End                GeoCoordinate `json:"end"`
	Color              HSL           `json:"color"`
	SourceCountry      string        `json:"source_country,omitempty"`
	DestinationCountry string        `json:"destination_country,omitempty"`
}

type Phase int

const (
	PhaseMoving Phase = iota
	PhaseArrived
)

func (p Phase) String() string {
	switch p {
	case PhaseMoving:
		return "moving"
	case PhaseArrived:
		return "arrived"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// PacketState is the animation state of one FlowRecord.
type PacketState struct {
	Record   FlowRecord    `json:"record"`
	Position GeoCoordinate `json:"position"`
	Progress float64       `json:"progress"`
	Phase    Phase         `json:"phase"`
}

// Frame is everything a rendering surface needs for one frame.
type Frame struct {
	Cycle   uint64        `json:"cycle"`
	Packets []PacketState `json:"packets"`
}
