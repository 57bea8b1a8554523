package responder

import (
	"encoding/binary"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skrahmer/quantum-dns/internal/qdns/common/log"
	"github.com/skrahmer/quantum-dns/internal/qdns/match"
	"github.com/skrahmer/quantum-dns/internal/qdns/wire"
	"github.com/skrahmer/quantum-dns/internal/qdns/zone"
)

func buildQuery(t *testing.T, id uint16, name string, qtype uint16) []byte {
	t.Helper()
	encoded, err := wire.EncodeName(name)
	require.NoError(t, err)

	hdr := wire.Header{ID: id, QDCount: 1}
	out := hdr.Pack()
	out = append(out, encoded...)
	tail := make([]byte, 4)
	binary.BigEndian.PutUint16(tail[0:2], qtype)
	binary.BigEndian.PutUint16(tail[2:4], 1) // class IN
	return append(out, tail...)
}

// S1: exact A record answered with rcode 0 and one answer RR.
func TestHandleExactA(t *testing.T) {
	res, err := zone.Compile(strings.NewReader("test.example 60 IN A 10.0.0.1\n"), log.NewNoopLogger(), 10)
	require.NoError(t, err)
	r := New(res.Tables, Settings{}, log.NewNoopLogger())

	query := buildQuery(t, 0x1234, "test.example", 1)
	outcome, reply := r.Handle(query, "1.2.3.4:1")
	require.Equal(t, Reply, outcome)

	hdr, err := wire.UnpackHeader(reply)
	require.NoError(t, err)
	require.Equal(t, uint16(0), hdr.RCode())
	require.Equal(t, uint16(1), hdr.ANCount)
	require.True(t, hdr.QR())
	require.Equal(t, []byte{10, 0, 0, 1}, reply[len(reply)-4:])
}

// S2: wildcard AAAA answered with rcode 0 and the echoed question's name
// pointer, not a literal encoding of the wildcard key.
func TestHandleWildcardAAAA(t *testing.T) {
	res, err := zone.Compile(strings.NewReader("*.foo 120 IN AAAA ::1\n"), log.NewNoopLogger(), 10)
	require.NoError(t, err)
	r := New(res.Tables, Settings{}, log.NewNoopLogger())

	query := buildQuery(t, 7, "a.b.foo", 28)
	outcome, reply := r.Handle(query, "src")
	require.Equal(t, Reply, outcome)

	hdr, err := wire.UnpackHeader(reply)
	require.NoError(t, err)
	require.Equal(t, uint16(0), hdr.RCode())
	require.Equal(t, uint16(1), hdr.ANCount)

	want := append([]byte{0xC0, 0x0C}, 0, 28, 0, 1, 0, 0, 0, 120, 0, 16)
	want = append(want, net.ParseIP("::1").To16()...)
	require.Equal(t, want, reply[len(reply)-len(want):])
}

// S5: linking two A records into a round-robin family; three consecutive
// queries answer with rdata in order {.1,.2}, {.2,.1}, {.1,.2}.
func TestHandleRoundRobinViaLink(t *testing.T) {
	zoneText := "rr.example 60 IN A 10.0.0.1\n@rr.example A\nrr.example 60 IN A 10.0.0.2\n"
	res, err := zone.Compile(strings.NewReader(zoneText), log.NewNoopLogger(), 10)
	require.NoError(t, err)
	r := New(res.Tables, Settings{}, log.NewNoopLogger())

	wantOrders := [][]byte{
		{10, 0, 0, 1, 10, 0, 0, 2},
		{10, 0, 0, 2, 10, 0, 0, 1},
		{10, 0, 0, 1, 10, 0, 0, 2},
	}

	for i, want := range wantOrders {
		query := buildQuery(t, uint16(i), "rr.example", 1)
		outcome, reply := r.Handle(query, "src")
		require.Equal(t, Reply, outcome)

		hdr, err := wire.UnpackHeader(reply)
		require.NoError(t, err)
		require.Equal(t, uint16(2), hdr.ANCount)

		var got []byte
		for _, rr := range extractAAddresses(t, reply) {
			got = append(got, rr...)
		}
		require.Equal(t, want, got)
	}
}

// extractAAddresses pulls the 4-byte rdata out of each answer-section A RR
// in a reply, in wire order. Every RR after the header+question is
// name + type(2) + class(2) + ttl(4) + rdlength(2) + rdata, where name is
// either the 2-byte compressed pointer or, for an RR added by a link
// directive, the literal encoded owner name.
func extractAAddresses(t *testing.T, reply []byte) [][]byte {
	t.Helper()
	_, n, err := wire.DecodeName(reply[wire.HeaderSize:])
	require.NoError(t, err)
	qEnd := wire.HeaderSize + n + 4

	var out [][]byte
	off := qEnd
	for off < len(reply) {
		nameLen := 2
		if reply[off]&0xC0 != 0xC0 {
			_, nameLen, err = wire.DecodeName(reply[off:])
			require.NoError(t, err)
		}
		fixed := off + nameLen
		rdlen := int(binary.BigEndian.Uint16(reply[fixed+8 : fixed+10]))
		rdata := reply[fixed+10 : fixed+10+rdlen]
		out = append(out, rdata)
		off = fixed + 10 + rdlen
	}
	return out
}

// S3: miss with a catch-all SOA yields NXDOMAIN with the SOA in authority.
func TestHandleMissWithCatchAll(t *testing.T) {
	res, err := zone.Compile(strings.NewReader("[forward] 60 IN SOA ns.x\n"), log.NewNoopLogger(), 10)
	require.NoError(t, err)
	r := New(res.Tables, Settings{}, log.NewNoopLogger())

	query := buildQuery(t, 1, "nope.example", 1)
	outcome, reply := r.Handle(query, "src")
	require.Equal(t, Reply, outcome)

	hdr, err := wire.UnpackHeader(reply)
	require.NoError(t, err)
	require.Equal(t, uint16(3), hdr.RCode())
	require.Equal(t, uint16(0), hdr.ANCount)
	require.Equal(t, uint16(1), hdr.NSCount)
}

// S4: once record suppresses the second query from the same source.
func TestHandleOnceSuppression(t *testing.T) {
	res, err := zone.Compile(strings.NewReader("once.example 1 IN A 10.0.0.2\n"), log.NewNoopLogger(), 10)
	require.NoError(t, err)
	r := New(res.Tables, Settings{}, log.NewNoopLogger())

	query := buildQuery(t, 1, "once.example", 1)
	outcome1, _ := r.Handle(query, "1.2.3.4:55555")
	require.Equal(t, Reply, outcome1)

	outcome2, reply2 := r.Handle(query, "1.2.3.4:55555")
	require.Equal(t, Drop, outcome2)
	require.Nil(t, reply2)
}

// S6: resend mode on a total miss re-emits the inbound query byte-for-byte.
func TestHandleResendOnMiss(t *testing.T) {
	tables, err := match.NewTables(10)
	require.NoError(t, err)
	r := New(tables, Settings{ResendOnMiss: true}, log.NewNoopLogger())

	query := buildQuery(t, 42, "anything.example", 1)
	outcome, payload := r.Handle(query, "src")
	require.Equal(t, Resend, outcome)
	require.Equal(t, query, payload)
}

// Property 8: -X suppresses NXDOMAIN entirely.
func TestHandleNeverNXDOMAINDropsOnMiss(t *testing.T) {
	res, err := zone.Compile(strings.NewReader("[forward] 60 IN SOA ns.x\n"), log.NewNoopLogger(), 10)
	require.NoError(t, err)
	r := New(res.Tables, Settings{NeverNXDOMAIN: true}, log.NewNoopLogger())

	query := buildQuery(t, 1, "nope.example", 1)
	outcome, reply := r.Handle(query, "src")
	require.Equal(t, Drop, outcome)
	require.Nil(t, reply)
}

func TestHandleDropsMalformedQuery(t *testing.T) {
	tables, err := match.NewTables(10)
	require.NoError(t, err)
	r := New(tables, Settings{}, log.NewNoopLogger())

	outcome, reply := r.Handle([]byte{1, 2, 3}, "src")
	require.Equal(t, Drop, outcome)
	require.Nil(t, reply)
}

func TestHandleDropsResponsePacket(t *testing.T) {
	tables, err := match.NewTables(10)
	require.NoError(t, err)
	r := New(tables, Settings{}, log.NewNoopLogger())

	query := buildQuery(t, 1, "test.example", 1)
	hdr, _ := wire.UnpackHeader(query)
	hdr = hdr.WithQR(true)
	copy(query, hdr.Pack())

	outcome, _ := r.Handle(query, "src")
	require.Equal(t, Drop, outcome)
}
