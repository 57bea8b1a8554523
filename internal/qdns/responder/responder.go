// Package responder assembles reply datagrams from inbound queries and the
// match engine's verdict.
package responder

import (
	"encoding/binary"

	"github.com/skrahmer/quantum-dns/internal/qdns/common/log"
	"github.com/skrahmer/quantum-dns/internal/qdns/domain"
	"github.com/skrahmer/quantum-dns/internal/qdns/match"
	"github.com/skrahmer/quantum-dns/internal/qdns/wire"
)

// Outcome is one of the three things the transport is told to do with a
// received datagram.
type Outcome int

const (
	// Drop emits nothing.
	Drop Outcome = iota
	// Reply emits the assembled reply datagram.
	Reply
	// Resend re-emits the inbound datagram unmodified.
	Resend
)

func (o Outcome) String() string {
	switch o {
	case Reply:
		return "reply"
	case Resend:
		return "resend"
	default:
		return "drop"
	}
}

// rcodeNoError and rcodeNXDomain are the only two response codes this
// responder ever emits.
const (
	rcodeNoError  = 0
	rcodeNXDomain = 3
)

// Settings controls the miss-handling behavior selected by the -X and -R
// command-line flags.
type Settings struct {
	// NeverNXDOMAIN drops instead of emitting an NXDOMAIN reply on miss.
	NeverNXDOMAIN bool
	// ResendOnMiss resends the original query on miss instead of replying.
	ResendOnMiss bool
}

// Responder validates inbound queries, consults the match tables, and
// assembles reply datagrams.
type Responder struct {
	tables   *match.Tables
	settings Settings
	logger   log.Logger
}

// New constructs a Responder over the given match tables.
func New(tables *match.Tables, settings Settings, logger log.Logger) *Responder {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Responder{tables: tables, settings: settings, logger: logger}
}

// Handle processes one inbound datagram from sourceID and returns the
// outcome the transport should act on, plus the payload for Reply/Resend
// (nil for Drop).
func (r *Responder) Handle(query []byte, sourceID string) (Outcome, []byte) {
	hdr, qname, qnameEnd, qtype, ok := parseQuery(query)
	if !ok {
		r.logger.Debug(map[string]any{"src": sourceID}, "dropped malformed query")
		return Drop, nil
	}

	rec, found, suppressed := r.tables.Lookup(qname, qtype, sourceID)

	fqdn := ""
	if rec != nil {
		fqdn = rec.FQDN
	}

	if suppressed {
		r.log(sourceID, qtype, fqdn, "SUPPRESSED")
		return Drop, nil
	}

	if !found {
		switch {
		case r.settings.ResendOnMiss:
			r.log(sourceID, qtype, "", "RESEND")
			return Resend, query
		case r.settings.NeverNXDOMAIN:
			r.log(sourceID, qtype, "", "DROP")
			return Drop, nil
		case rec == nil:
			r.log(sourceID, qtype, "", "DROP")
			return Drop, nil
		default:
			reply := r.assemble(hdr, query[:qnameEnd], rec, rcodeNXDomain)
			r.log(sourceID, qtype, fqdn, "NDXOMAIN")
			return Reply, reply
		}
	}

	reply := r.assemble(hdr, query[:qnameEnd], rec, rcodeNoError)
	r.log(sourceID, qtype, fqdn, rec.Field)
	return Reply, reply
}

// parseQuery validates and decodes the fixed-position parts of an inbound
// query: the header, the question name, the offset just past the question
// section (name+qtype+qclass), and the query type.
func parseQuery(query []byte) (hdr wire.Header, qname []byte, qnameEnd int, qtype domain.RRType, ok bool) {
	if len(query) < wire.HeaderSize {
		return wire.Header{}, nil, 0, 0, false
	}
	hdr, err := wire.UnpackHeader(query)
	if err != nil {
		return wire.Header{}, nil, 0, 0, false
	}
	if hdr.QR() || hdr.Opcode() != 0 || hdr.QDCount != 1 {
		return wire.Header{}, nil, 0, 0, false
	}

	_, n, err := wire.DecodeName(query[wire.HeaderSize:])
	if err != nil {
		return wire.Header{}, nil, 0, 0, false
	}
	nameEnd := wire.HeaderSize + n
	if len(query) < nameEnd+4 {
		return wire.Header{}, nil, 0, 0, false
	}

	qname = query[wire.HeaderSize:nameEnd]
	qtype = domain.RRType(binary.BigEndian.Uint16(query[nameEnd : nameEnd+2]))
	return hdr, qname, nameEnd + 4, qtype, true
}

// assemble builds a full reply datagram: the mutated header, the echoed
// question section verbatim, and the match record's pre-built RR bytes.
func (r *Responder) assemble(hdr wire.Header, question []byte, rec *domain.MatchRecord, rcode uint16) []byte {
	reply := hdr.WithQR(true).WithAA(false).WithTC(false).WithRA(false).WithZ(true).WithRCode(rcode)
	reply.ANCount = rec.ACount
	reply.NSCount = rec.RRACount
	reply.ARCount = rec.ADCount

	out := make([]byte, 0, wire.HeaderSize+len(question)+len(rec.Segments)*16)
	out = append(out, reply.Pack()...)
	out = append(out, question...)
	out = append(out, rec.RR()...)
	return out
}

// log emits a one-line-per-query record. tail is either the matched
// record's answer field text (success case) or a status word such as
// "SUPPRESSED", "DROP", "RESEND", or the literal "NDXOMAIN" misspelling
// kept for a negative reply.
func (r *Responder) log(sourceID string, qtype domain.RRType, fqdn, tail string) {
	r.logger.Info(map[string]any{
		"src":  sourceID,
		"type": qtype.String(),
		"fqdn": fqdn,
		"tail": tail,
	}, sourceID+": "+qtype.String()+"? "+fqdn+" -> "+tail)
}
