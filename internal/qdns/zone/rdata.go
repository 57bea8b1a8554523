package zone

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/skrahmer/quantum-dns/internal/qdns/wire"
)

// errUnsupportedType is returned for a record type that has no RDATA
// encoder, even though domain.RRTypeFromString would recognize it.
var errUnsupportedType = fmt.Errorf("zone: no rdata encoder for this type")

// SOA constants are fixed by design; every SOA record in a zone gets the
// same refresh/retry/expire/minimum, and the same serial. The serial is
// deliberately reproduced in the platform's native byte order rather than
// big-endian like the other four ints, matching the deployment target
// (little-endian amd64) — see DESIGN.md.
const (
	soaSerial  uint32 = 0x11223344
	soaRefresh uint32 = 7200
	soaRetry   uint32 = 7200
	soaExpire  uint32 = 3600000
	soaMinimum uint32 = 7200
)

// encodeAData encodes an A record's dotted-quad field into 4 bytes.
func encodeAData(field string) ([]byte, error) {
	ip := net.ParseIP(field)
	if ip == nil {
		return nil, fmt.Errorf("zone: invalid A address %q", field)
	}
	v4 := ip.To4()
	if v4 == nil {
		return nil, fmt.Errorf("zone: %q is not an IPv4 address", field)
	}
	return v4, nil
}

// encodeAAAAData encodes an AAAA record's colon-form field into 16 bytes.
func encodeAAAAData(field string) ([]byte, error) {
	ip := net.ParseIP(field)
	if ip == nil {
		return nil, fmt.Errorf("zone: invalid AAAA address %q", field)
	}
	v6 := ip.To16()
	if v6 == nil || ip.To4() != nil {
		return nil, fmt.Errorf("zone: %q is not an IPv6 address", field)
	}
	return v6, nil
}

// encodeHostnameData encodes NS/CNAME/PTR's single hostname field as a
// plain encoded name.
func encodeHostnameData(field string) ([]byte, error) {
	return wire.EncodeName(field)
}

// encodeTXTData reuses the name-encoding routine on the free-text field.
// This is not RFC-compliant TXT RDATA (real TXT is a length-prefixed
// character-string, not DNS labels) but the observed source behavior is
// reproduced verbatim rather than corrected.
func encodeTXTData(field string) ([]byte, error) {
	return wire.EncodeName(field)
}

// encodeMXData encodes the hostname field as <preference:2> followed by the
// encoded exchange name, with preference fixed to zero, as in the original
// source's MX handling.
func encodeMXData(field string) ([]byte, error) {
	host, err := wire.EncodeName(field)
	if err != nil {
		return nil, fmt.Errorf("zone: invalid MX exchange %q: %w", field, err)
	}
	buf := make([]byte, 2, 2+len(host))
	binary.BigEndian.PutUint16(buf, 0)
	return append(buf, host...), nil
}

// encodeSOAData encodes a bare hostname field twice (mname and rname) plus
// the five fixed 32-bit integers, four of them big-endian and the serial
// in native order.
func encodeSOAData(field string) ([]byte, error) {
	name, err := wire.EncodeName(field)
	if err != nil {
		return nil, fmt.Errorf("zone: invalid SOA hostname %q: %w", field, err)
	}

	out := make([]byte, 0, len(name)*2+20)
	out = append(out, name...)
	out = append(out, name...)

	serial := make([]byte, 4)
	binary.NativeEndian.PutUint32(serial, soaSerial)
	out = append(out, serial...)

	rest := make([]byte, 16)
	binary.BigEndian.PutUint32(rest[0:4], soaRefresh)
	binary.BigEndian.PutUint32(rest[4:8], soaRetry)
	binary.BigEndian.PutUint32(rest[8:12], soaExpire)
	binary.BigEndian.PutUint32(rest[12:16], soaMinimum)
	out = append(out, rest...)

	return out, nil
}

// encodeSRVData encodes "host:prio:weight:port" into
// <prio:2><weight:2><port:2> followed by the encoded target name.
func encodeSRVData(field string) ([]byte, error) {
	parts := strings.Split(field, ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("zone: invalid SRV field %q (expected host:prio:weight:port)", field)
	}
	host := parts[0]
	buf := make([]byte, 6)
	for i, tok := range parts[1:] {
		v, err := strconv.ParseUint(tok, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("zone: invalid SRV field %d in %q: %w", i+1, field, err)
		}
		binary.BigEndian.PutUint16(buf[i*2:], uint16(v))
	}
	target, err := wire.EncodeName(host)
	if err != nil {
		return nil, fmt.Errorf("zone: invalid SRV target %q: %w", host, err)
	}
	return append(buf, target...), nil
}
