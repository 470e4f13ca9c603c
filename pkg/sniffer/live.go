package sniffer

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

const (
	snapshotLen int32 = 1600
	promiscuous       = true
	timeout           = pcap.BlockForever
)

// OpenLive starts capturing on iface. filter is an optional BPF
// expression. Call the returned function to release the handle.
func OpenLive(iface, filter string) (*gopacket.PacketSource, func(), error) {
	handle, err := pcap.OpenLive(iface, snapshotLen, promiscuous, timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", iface, err)
	}
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, nil, fmt.Errorf("invalid filter %q: %w", filter, err)
		}
	}
	return gopacket.NewPacketSource(handle, handle.LinkType()), handle.Close, nil
}

// DefaultInterface picks the first capture device that has an address.
func DefaultInterface() (string, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return "", err
	}
	for _, d := range devs {
		if len(d.Addresses) > 0 && d.Name != "lo" {
			return d.Name, nil
		}
	}
	if len(devs) > 0 {
		return devs[0].Name, nil
	}
	return "", fmt.Errorf("no capture devices found")
}
