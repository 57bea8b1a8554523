// Package wire implements the RFC 1035 name and header codecs quantum-dns
// builds every reply datagram from.
package wire

import (
	"fmt"
	"strings"
)

// MaxNameLength is the maximum encoded length of a DNS name, including the
// terminating zero octet.
const MaxNameLength = 255

// MaxLabelLength is the maximum length of a single DNS label.
const MaxLabelLength = 63

// EncodeName converts a dotted presentation name into DNS label form: a
// sequence of <len><bytes> segments terminated by a zero octet. It is
// tolerant of a trailing dot. An empty input yields a single zero byte.
func EncodeName(dotted string) ([]byte, error) {
	dotted = strings.TrimSuffix(dotted, ".")
	if dotted == "" {
		return []byte{0}, nil
	}

	labels := strings.Split(dotted, ".")
	out := make([]byte, 0, len(dotted)+2)
	for _, label := range labels {
		if len(label) == 0 || len(label) > MaxLabelLength {
			return nil, fmt.Errorf("wire: label %q out of range", label)
		}
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	out = append(out, 0)

	if len(out) > MaxNameLength {
		return nil, fmt.Errorf("wire: encoded name exceeds %d bytes", MaxNameLength)
	}
	return out, nil
}

// DecodeName decodes DNS label form starting at the front of b into a
// dotted presentation string. It returns the number of bytes consumed. It
// does not follow compression pointers — quantum-dns only ever emits
// compression, it never needs to resolve it on the receive side, since
// inbound queries carry the question name uncompressed.
func DecodeName(b []byte) (dotted string, n int, err error) {
	var labels []string
	i := 0
	for {
		if i >= len(b) {
			return "", 0, fmt.Errorf("wire: name runs past end of buffer")
		}
		l := int(b[i])
		if l == 0 {
			i++
			break
		}
		if l&0xC0 != 0 {
			return "", 0, fmt.Errorf("wire: compressed name not supported by decoder")
		}
		if l > MaxLabelLength {
			return "", 0, fmt.Errorf("wire: label length %d out of range", l)
		}
		i++
		if i+l > len(b) {
			return "", 0, fmt.Errorf("wire: label runs past end of buffer")
		}
		labels = append(labels, string(b[i:i+l]))
		i += l
		if i > MaxNameLength {
			return "", 0, fmt.Errorf("wire: name exceeds %d bytes", MaxNameLength)
		}
	}
	return strings.Join(labels, "."), i, nil
}
