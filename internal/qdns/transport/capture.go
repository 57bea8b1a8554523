package transport

import (
	"fmt"
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcap"
)

// baseFilter is ANDed with any user-supplied filter (-f) so a capture-mode
// deployment never has to listen to anything but DNS-over-UDP traffic.
const baseFilter = "udp and dst port 53"

// CaptureTransport receives whole Ethernet frames off a live device and,
// for Reply, rewrites the L2/L3/L4 headers in place before injecting the
// frame back onto the wire. This suits a router running with a DROP
// FORWARD policy: quantum-dns answers (or resends) packets that the
// kernel itself will never route.
type CaptureTransport struct {
	handle *pcap.Handle

	lastFrame []byte
	lastEth   *layers.Ethernet
	lastIP4   *layers.IPv4
	lastIP6   *layers.IPv6
	lastUDP   *layers.UDP
}

// NewCaptureTransport opens a live capture handle on device, installing the
// mandatory DNS filter ANDed with any extra user filter.
func NewCaptureTransport(device, extraFilter string) (*CaptureTransport, error) {
	handle, err := pcap.OpenLive(device, 65535, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("transport: open capture device %s: %w", device, err)
	}

	filter := baseFilter
	if extraFilter != "" {
		filter = fmt.Sprintf("(%s) and (%s)", baseFilter, extraFilter)
	}
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("transport: set BPF filter %q: %w", filter, err)
	}

	return &CaptureTransport{handle: handle}, nil
}

func (t *CaptureTransport) Recv() ([]byte, string, error) {
	for {
		data, _, err := t.handle.ReadPacketData()
		if err != nil {
			return nil, "", err
		}

		pkt := gopacket.NewPacket(data, t.handle.LinkType(), gopacket.NoCopy)
		ethLayer := pkt.Layer(layers.LayerTypeEthernet)
		udpLayer := pkt.Layer(layers.LayerTypeUDP)
		if ethLayer == nil || udpLayer == nil {
			continue
		}

		t.lastFrame = append([]byte(nil), data...)
		t.lastEth, _ = ethLayer.(*layers.Ethernet)
		t.lastUDP, _ = udpLayer.(*layers.UDP)
		t.lastIP4 = nil
		t.lastIP6 = nil

		var srcAddr string
		if ip4Layer := pkt.Layer(layers.LayerTypeIPv4); ip4Layer != nil {
			t.lastIP4 = ip4Layer.(*layers.IPv4)
			srcAddr = net.JoinHostPort(t.lastIP4.SrcIP.String(), fmt.Sprintf("%d", t.lastUDP.SrcPort))
		} else if ip6Layer := pkt.Layer(layers.LayerTypeIPv6); ip6Layer != nil {
			t.lastIP6 = ip6Layer.(*layers.IPv6)
			srcAddr = net.JoinHostPort(t.lastIP6.SrcIP.String(), fmt.Sprintf("%d", t.lastUDP.SrcPort))
		} else {
			continue
		}

		return t.lastUDP.Payload, srcAddr, nil
	}
}

func (t *CaptureTransport) Reply(payload []byte) error {
	if t.lastEth == nil || t.lastUDP == nil {
		return fmt.Errorf("transport: reply with no prior recv")
	}

	eth := &layers.Ethernet{
		SrcMAC:       t.lastEth.DstMAC,
		DstMAC:       t.lastEth.SrcMAC,
		EthernetType: t.lastEth.EthernetType,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(53),
		DstPort: t.lastUDP.SrcPort,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	var serializable []gopacket.SerializableLayer
	switch {
	case t.lastIP4 != nil:
		ip4 := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    t.lastIP4.DstIP,
			DstIP:    t.lastIP4.SrcIP,
		}
		if err := udp.SetNetworkLayerForChecksum(ip4); err != nil {
			return err
		}
		serializable = []gopacket.SerializableLayer{eth, ip4, udp, gopacket.Payload(payload)}
	case t.lastIP6 != nil:
		ip6 := &layers.IPv6{
			Version:    6,
			NextHeader: layers.IPProtocolUDP,
			HopLimit:   64,
			SrcIP:      t.lastIP6.DstIP,
			DstIP:      t.lastIP6.SrcIP,
		}
		if err := udp.SetNetworkLayerForChecksum(ip6); err != nil {
			return err
		}
		serializable = []gopacket.SerializableLayer{eth, ip6, udp, gopacket.Payload(payload)}
	default:
		return fmt.Errorf("transport: no IP layer recorded for reply")
	}

	if err := gopacket.SerializeLayers(buf, opts, serializable...); err != nil {
		return fmt.Errorf("transport: serialize reply frame: %w", err)
	}
	return t.handle.WritePacketData(buf.Bytes())
}

// Resend re-injects the last captured frame byte-for-byte.
func (t *CaptureTransport) Resend() error {
	if t.lastFrame == nil {
		return fmt.Errorf("transport: resend with no prior recv")
	}
	return t.handle.WritePacketData(t.lastFrame)
}

func (t *CaptureTransport) Close() error {
	t.handle.Close()
	return nil
}

var _ Transport = (*CaptureTransport)(nil)
