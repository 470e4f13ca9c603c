package sniffer

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/sudorandom/packet-stream/pkg/packetstore"
)

func buildPacket(t *testing.T, transport gopacket.SerializableLayer, payload []byte) gopacket.Packet {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version: 4,
		TTL:     64,
		SrcIP:   net.IP{192, 168, 1, 10},
		DstIP:   net.IP{93, 184, 216, 34},
	}
	toSerialize := []gopacket.SerializableLayer{eth, ip}
	switch l := transport.(type) {
	case *layers.TCP:
		ip.Protocol = layers.IPProtocolTCP
		if err := l.SetNetworkLayerForChecksum(ip); err != nil {
			t.Fatalf("SetNetworkLayerForChecksum() error: %v", err)
		}
		toSerialize = append(toSerialize, l)
	case *layers.UDP:
		ip.Protocol = layers.IPProtocolUDP
		if err := l.SetNetworkLayerForChecksum(ip); err != nil {
			t.Fatalf("SetNetworkLayerForChecksum() error: %v", err)
		}
		toSerialize = append(toSerialize, l)
	case *layers.ICMPv4:
		ip.Protocol = layers.IPProtocolICMPv4
		toSerialize = append(toSerialize, l)
	}
	if payload != nil {
		toSerialize = append(toSerialize, gopacket.Payload(payload))
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, toSerialize...); err != nil {
		t.Fatalf("SerializeLayers() error: %v", err)
	}
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
}

func TestParseTCP(t *testing.T) {
	p := buildPacket(t, &layers.TCP{SrcPort: 51000, DstPort: 80, PSH: true, ACK: true, Window: 1024},
		[]byte("POST /login HTTP/1.1\r\nHost: example.com\r\n\r\nuser=a"))

	pkt, httpPkt, err := Parse(p)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if pkt.SrcIP != "192.168.1.10" || pkt.DstIP != "93.184.216.34" {
		t.Errorf("addresses = %s -> %s", pkt.SrcIP, pkt.DstIP)
	}
	if pkt.Protocol != 6 || pkt.ProtocolName != "TCP" || pkt.SrcPort != 51000 || pkt.DstPort != 80 {
		t.Errorf("packet = %+v", pkt)
	}
	if pkt.Length != len(p.Data()) || len(pkt.RawData) != 2*len(p.Data()) {
		t.Errorf("length = %d raw = %d; want %d bytes", pkt.Length, len(pkt.RawData), len(p.Data()))
	}
	if httpPkt == nil {
		t.Fatal("Parse() found no HTTP packet in a POST payload")
	}
	if httpPkt.Method != "POST" || httpPkt.DstPort != 80 || httpPkt.Timestamp != pkt.Timestamp {
		t.Errorf("http packet = %+v", httpPkt)
	}
}

func TestParseTCPWithoutHTTP(t *testing.T) {
	p := buildPacket(t, &layers.TCP{SrcPort: 443, DstPort: 51000, ACK: true}, []byte{0x16, 0x03, 0x01})
	pkt, httpPkt, err := Parse(p)
	if err != nil || pkt == nil {
		t.Fatalf("Parse() = %v, %v", pkt, err)
	}
	if httpPkt != nil {
		t.Errorf("Parse() flagged TLS bytes as HTTP: %+v", httpPkt)
	}
}

func TestParseUDP(t *testing.T) {
	p := buildPacket(t, &layers.UDP{SrcPort: 5353, DstPort: 53}, []byte("GET is not http over udp"))
	pkt, httpPkt, err := Parse(p)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if pkt.ProtocolName != "UDP" || pkt.SrcPort != 5353 || pkt.DstPort != 53 {
		t.Errorf("packet = %+v", pkt)
	}
	if httpPkt != nil {
		t.Errorf("UDP payload produced an HTTP packet")
	}
}

func TestParseICMP(t *testing.T) {
	p := buildPacket(t, &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}, nil)
	pkt, _, err := Parse(p)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if pkt.Protocol != 1 || pkt.SrcPort != 0 || pkt.DstPort != 0 {
		t.Errorf("packet = %+v", pkt)
	}
}

func TestParseNotIPv4(t *testing.T) {
	eth := &layers.Ethernet{SrcMAC: net.HardwareAddr{0, 1, 2, 3, 4, 5}, DstMAC: net.HardwareAddr{6, 7, 8, 9, 10, 11}, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
		SourceHwAddress: []byte{0, 1, 2, 3, 4, 5}, SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress: []byte{0, 0, 0, 0, 0, 0}, DstProtAddress: []byte{10, 0, 0, 2},
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp); err != nil {
		t.Fatalf("SerializeLayers() error: %v", err)
	}
	p := gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
	if _, _, err := Parse(p); !errors.Is(err, ErrNotIPv4) {
		t.Errorf("Parse(ARP) error = %v; want ErrNotIPv4", err)
	}
}

func TestMethod(t *testing.T) {
	s := New()
	tests := []struct {
		payload string
		want    string
	}{
		{"GET / HTTP/1.1\r\n", "GET"},
		{"POST /api HTTP/1.1\r\n", "POST"},
		{"junk before PUT /x HTTP/1.1", "PUT"},
		{"GET /redirect?next=POST HTTP/1.1", "GET"},
		{"TARGET", ""},
		{"", ""},
		{"DELETE /item/1 HTTP/1.1", "DELETE"},
	}
	for _, tt := range tests {
		if got := s.Method([]byte(tt.payload)); got != tt.want {
			t.Errorf("Method(%q) = %q; want %q", tt.payload, got, tt.want)
		}
	}

	postOnly := New("post")
	if got := postOnly.Method([]byte("GET / HTTP/1.1")); got != "" {
		t.Errorf("POST-only Method(GET) = %q; want empty", got)
	}
	if got := postOnly.Method([]byte("POST / HTTP/1.1")); got != "POST" {
		t.Errorf("POST-only Method(POST) = %q; want POST", got)
	}
}

type memorySink struct {
	packets []*packetstore.Packet
	http    []*packetstore.HTTPPacket
}

func (m *memorySink) Append(p *packetstore.Packet) error {
	m.packets = append(m.packets, p)
	return nil
}

func (m *memorySink) AppendHTTP(h *packetstore.HTTPPacket) error {
	m.http = append(m.http, h)
	return nil
}

func TestRun(t *testing.T) {
	ch := make(chan gopacket.Packet, 3)
	ch <- buildPacket(t, &layers.TCP{SrcPort: 1, DstPort: 80}, []byte("POST / HTTP/1.1\r\n"))
	ch <- buildPacket(t, &layers.UDP{SrcPort: 2, DstPort: 53}, []byte("q"))
	ch <- gopacket.NewPacket([]byte{0xde, 0xad}, layers.LayerTypeEthernet, gopacket.Default)
	close(ch)

	sink := &memorySink{}
	n, err := Run(context.Background(), ch, sink)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if n != 2 || len(sink.packets) != 2 || len(sink.http) != 1 {
		t.Errorf("Run() stored %d (packets=%d http=%d); want 2, 2, 1", n, len(sink.packets), len(sink.http))
	}
}

func TestRunIntoStore(t *testing.T) {
	store, err := packetstore.Open("", 0)
	if err != nil {
		t.Fatalf("packetstore.Open() error: %v", err)
	}
	defer func() { _ = store.Close() }()

	ch := make(chan gopacket.Packet, 1)
	ch <- buildPacket(t, &layers.TCP{SrcPort: 1, DstPort: 80}, []byte("GET / HTTP/1.1\r\n"))
	close(ch)
	if _, err := Run(context.Background(), ch, store); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	packets, _ := store.Latest(10)
	httpPackets, _ := store.LatestHTTP(10)
	if len(packets) != 1 || len(httpPackets) != 1 || httpPackets[0].Method != "GET" {
		t.Errorf("store has %d packets and %+v", len(packets), httpPackets)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Run(ctx, make(chan gopacket.Packet), &memorySink{})
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v; want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
