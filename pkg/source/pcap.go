/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: pcap.go
Description: PCAP and PCAPNG corpus source. Decodes captures with gopacket, collects UDP and
TCP payloads per directed flow and turns one flow into a corpus, one payload per message.
TCP segments are taken as captured; no stream reassembly is attempted.
*/

package source

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/kleascm/akaylee-infer/pkg/core"
)

var (
	// ErrNotCapture is returned when the input is neither pcap nor pcapng
	ErrNotCapture = errors.New("source: not a pcap or pcapng capture")
	// ErrNoFlow is returned when a capture has no usable payloads or the flow index is out of range
	ErrNoFlow = errors.New("source: no such flow")
)

// Transport names
const (
	TransportUDP = "udp"
	TransportTCP = "tcp"
)

var (
	pcapMagic = [][]byte{
		{0xd4, 0xc3, 0xb2, 0xa1}, {0xa1, 0xb2, 0xc3, 0xd4}, // microsecond
		{0x4d, 0x3c, 0xb2, 0xa1}, {0xa1, 0xb2, 0x3c, 0x4d}, // nanosecond
	}
	pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}
)

// Flow is the payload sequence of one directed transport flow
type Flow struct {
	Transport  string      `json:"transport"`
	Src        string      `json:"src"`
	Dst        string      `json:"dst"`
	SrcPort    uint16      `json:"src_port"`
	DstPort    uint16      `json:"dst_port"`
	Payloads   [][]byte    `json:"-"`
	Timestamps []time.Time `json:"-"`
}

// Key identifies the flow, e.g. udp 10.0.0.1:5000->10.0.0.2:53
func (f *Flow) Key() string {
	return fmt.Sprintf("%s %s:%d->%s:%d", f.Transport, f.Src, f.SrcPort, f.Dst, f.DstPort)
}

// Len returns the number of payloads in the flow
func (f *Flow) Len() int {
	return len(f.Payloads)
}

// Corpus converts the flow into a corpus named name
func (f *Flow) Corpus(name string) *core.Corpus {
	return core.NewCorpus(name, f.Payloads)
}

// packetSource is what both pcapgo readers provide
type packetSource interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// openCapture sniffs the magic number and opens the matching reader
func openCapture(r io.Reader) (packetSource, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCapture, err)
	}

	if bytes.Equal(magic, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to open pcapng: %w", err)
		}
		return ng, nil
	}
	for _, m := range pcapMagic {
		if bytes.Equal(magic, m) {
			reader, err := pcapgo.NewReader(br)
			if err != nil {
				return nil, fmt.Errorf("failed to open pcap: %w", err)
			}
			return reader, nil
		}
	}
	return nil, fmt.Errorf("%w: magic %x", ErrNotCapture, magic)
}

// IsCapture reports whether the file at path starts with a pcap or pcapng magic number
func IsCapture(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(file, magic); err != nil {
		return false
	}
	if bytes.Equal(magic, pcapngMagic) {
		return true
	}
	for _, m := range pcapMagic {
		if bytes.Equal(magic, m) {
			return true
		}
	}
	return false
}

// ReadFlows decodes a capture and returns its flows, most payloads first. Ties keep the
// order in which flows first appeared.
func ReadFlows(r io.Reader) ([]*Flow, error) {
	src, err := openCapture(r)
	if err != nil {
		return nil, err
	}

	packets := gopacket.NewPacketSource(src, src.LinkType())
	packets.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	flows := make(map[string]*Flow)
	var order []*Flow
	for n := 0; ; n++ {
		packet, err := packets.NextPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read packet %d: %w", n, err)
		}

		flow, payload := classify(packet)
		if flow == nil || len(payload) == 0 {
			continue
		}
		existing, ok := flows[flow.Key()]
		if !ok {
			flows[flow.Key()] = flow
			order = append(order, flow)
			existing = flow
		}
		existing.Payloads = append(existing.Payloads, append([]byte(nil), payload...))
		existing.Timestamps = append(existing.Timestamps, packet.Metadata().Timestamp)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Len() > order[j].Len()
	})
	return order, nil
}

// classify extracts the directed flow and transport payload of a packet
func classify(packet gopacket.Packet) (*Flow, []byte) {
	netLayer := packet.NetworkLayer()
	if netLayer == nil {
		return nil, nil
	}
	src, dst := netLayer.NetworkFlow().Endpoints()
	flow := &Flow{Src: src.String(), Dst: dst.String()}

	if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp, _ := udpLayer.(*layers.UDP)
		flow.Transport = TransportUDP
		flow.SrcPort, flow.DstPort = uint16(udp.SrcPort), uint16(udp.DstPort)
		return flow, udp.Payload
	}
	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp, _ := tcpLayer.(*layers.TCP)
		flow.Transport = TransportTCP
		flow.SrcPort, flow.DstPort = uint16(tcp.SrcPort), uint16(tcp.DstPort)
		return flow, tcp.Payload
	}
	return nil, nil
}

// LoadFlows reads every flow of the capture at path
func LoadFlows(path string) ([]*Flow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	defer file.Close()

	flows, err := ReadFlows(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return flows, nil
}

// SelectFlow picks a flow by index into the sorted flow list. A negative index picks the
// largest flow, optionally restricted to one transport.
func SelectFlow(flows []*Flow, index int, transport string) (*Flow, error) {
	var candidates []*Flow
	for _, f := range flows {
		if transport == "" || f.Transport == transport {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: capture has no %s payloads", ErrNoFlow, transportName(transport))
	}
	if index < 0 {
		return candidates[0], nil
	}
	if index >= len(candidates) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrNoFlow, index, len(candidates))
	}
	return candidates[index], nil
}

func transportName(transport string) string {
	if transport == "" {
		return "transport"
	}
	return transport
}

// LoadPCAP reads the capture at path and returns the selected flow as a corpus named after
// the file and flow
func LoadPCAP(path string, index int, transport string) (*core.Corpus, *Flow, error) {
	flows, err := LoadFlows(path)
	if err != nil {
		return nil, nil, err
	}
	flow, err := SelectFlow(flows, index, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return flow.Corpus(filepath.Base(path) + " " + flow.Key()), flow, nil
}
