// Package zone compiles the quantum-dns zone grammar into match tables.
package zone

import (
	"bufio"
	"encoding/binary"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/skrahmer/quantum-dns/internal/qdns/common/log"
	"github.com/skrahmer/quantum-dns/internal/qdns/domain"
	"github.com/skrahmer/quantum-dns/internal/qdns/match"
	"github.com/skrahmer/quantum-dns/internal/qdns/wire"
)

// classIN is the only class the compiler recognizes; anything else is not a
// valid line and is silently skipped.
const classIN = "IN"

// pointerC00C is the two-byte compressed name pointer to offset 12 of a
// reply message — the start of the echoed question's QNAME.
var pointerC00C = []byte{0xC0, 0x0C}

// pendingLink tracks an @-directive until the next record line consumes it.
type pendingLink struct {
	name []byte
	typ  domain.RRType
}

// seenAddr tracks, per apex domain, which FQDNs already carry an A or AAAA
// record earlier in the file — used only to decide whether to warn about a
// hostname reference with no address yet. Discarded once Compile returns.
type seenAddr map[string]map[string]bool

// Result is the outcome of compiling a zone file: the built tables plus a
// simple count of successfully loaded records, useful for a startup log
// line.
type Result struct {
	Tables      *match.Tables
	RecordCount int
}

// Compile reads zone lines from r and builds match tables. Malformed lines
// are silently skipped per spec; only a hostname reference with no prior
// A/AAAA in the same apex domain, or a link directive whose target does not
// exist, produces a warning log line.
func Compile(r io.Reader, logger log.Logger, onceSetSize int) (*Result, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	tables, err := match.NewTables(onceSetSize)
	if err != nil {
		return nil, err
	}

	seen := make(seenAddr)
	var pending *pendingLink
	count := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "@") {
			pending = parseLinkDirective(line)
			continue
		}

		rec, apex, ok := parseRecordLine(line, logger, seen)
		if !ok {
			pending = nil
			continue
		}

		if pending != nil {
			applyLink(tables, pending, rec, logger)
			pending = nil
			continue
		}

		tables.Insert(rec)
		count++
		if apex != "" && (rec.Type == domain.RRTypeA || rec.Type == domain.RRTypeAAAA) {
			markSeen(seen, apex, rec.FQDN)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return &Result{Tables: tables, RecordCount: count}, nil
}

// deriveKey applies the wildcard-prefix stripping rule shared by record
// names and link-directive names: a leading "*" or "*." marks the entry as
// a wildcard, whose key is the encoded remainder with the leading label
// length byte stripped so it can be searched as a suffix string.
func deriveKey(name string) (kind domain.MatchKind, key []byte, ok bool) {
	rest := name
	switch {
	case strings.HasPrefix(name, "*."):
		rest = name[2:]
		kind = domain.MatchWild
	case strings.HasPrefix(name, "*"):
		rest = name[1:]
		kind = domain.MatchWild
	default:
		kind = domain.MatchExact
	}

	encoded, err := wire.EncodeName(rest)
	if err != nil {
		return 0, nil, false
	}
	if kind == domain.MatchWild {
		if len(encoded) == 0 || encoded[0] == 0 {
			return 0, nil, false
		}
		encoded = encoded[1:]
	}
	return kind, encoded, true
}

func parseLinkDirective(line string) *pendingLink {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return nil
	}
	name := strings.TrimPrefix(fields[0], "@")
	if name == "" {
		return nil
	}
	typ, ok := domain.RRTypeFromString(fields[1])
	if !ok {
		return nil
	}
	_, key, ok := deriveKey(name)
	if !ok {
		return nil
	}
	return &pendingLink{name: key, typ: typ}
}

// parseRecordLine parses "<name> <ttl> IN <type> <field>" into a fully
// built, as-yet-uninserted MatchRecord whose Segments contains one
// self-contained RR (prefixed with the compressed pointer, since at this
// point the caller does not yet know whether the record is a link target).
func parseRecordLine(line string, logger log.Logger, seen seenAddr) (rec *domain.MatchRecord, apex string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) != 5 {
		return nil, "", false
	}
	nameTok, ttlTok, classTok, typeTok, fieldTok := fields[0], fields[1], fields[2], fields[3], fields[4]

	if classTok != classIN {
		return nil, "", false
	}
	if len(nameTok) > wire.MaxNameLength || len(fieldTok) > wire.MaxNameLength {
		return nil, "", false
	}

	ttl64, err := strconv.ParseUint(ttlTok, 10, 32)
	if err != nil {
		return nil, "", false
	}
	ttl := uint32(ttl64)

	typ, ok := domain.RRTypeFromString(typeTok)
	if !ok {
		return nil, "", false
	}

	kind, key, ok := deriveKey(nameTok)
	if !ok {
		return nil, "", false
	}

	fqdn := strings.TrimPrefix(strings.TrimPrefix(nameTok, "*."), "*")
	apexName := publicsuffixApex(fqdn)
	warnIfNoAddress(typ, fieldTok, apexName, seen, logger, fqdn)

	rdata, err := encodeRData(typ, fieldTok)
	if err != nil {
		return nil, "", false
	}

	segment := buildSegment(pointerC00C, typ, ttl, rdata)

	rec = &domain.MatchRecord{
		FQDN:     fqdn,
		Name:     key,
		Type:     typ,
		Field:    fieldTok,
		TTL:      ttl,
		Segments: [][]byte{segment},
		Kind:     kind,
	}
	if typ == domain.RRTypeSOA {
		rec.RRACount = 1
	} else {
		rec.ACount = 1
	}
	return rec, apexName, true
}

// buildSegment writes <type:2><class=1:2><ttl:4><rdlength:2><rdata> after
// name, producing one complete RR.
func buildSegment(name []byte, typ domain.RRType, ttl uint32, rdata []byte) []byte {
	out := make([]byte, 0, len(name)+10+len(rdata))
	out = append(out, name...)

	tail := make([]byte, 10)
	binary.BigEndian.PutUint16(tail[0:2], uint16(typ))
	binary.BigEndian.PutUint16(tail[2:4], 1) // class IN
	binary.BigEndian.PutUint32(tail[4:8], ttl)
	binary.BigEndian.PutUint16(tail[8:10], uint16(len(rdata)))
	out = append(out, tail...)
	out = append(out, rdata...)
	return out
}

func encodeRData(typ domain.RRType, field string) ([]byte, error) {
	switch typ {
	case domain.RRTypeA:
		return encodeAData(field)
	case domain.RRTypeAAAA:
		return encodeAAAAData(field)
	case domain.RRTypeNS, domain.RRTypeCNAME, domain.RRTypePTR:
		return encodeHostnameData(field)
	case domain.RRTypeTXT:
		return encodeTXTData(field)
	case domain.RRTypeMX:
		return encodeMXData(field)
	case domain.RRTypeSOA:
		return encodeSOAData(field)
	case domain.RRTypeSRV:
		return encodeSRVData(field)
	default:
		return nil, errUnsupportedType
	}
}

func publicsuffixApex(fqdn string) string {
	apex, err := publicsuffix.EffectiveTLDPlusOne(fqdn)
	if err != nil {
		return fqdn
	}
	return apex
}

func markSeen(seen seenAddr, apex, fqdn string) {
	m, ok := seen[apex]
	if !ok {
		m = make(map[string]bool)
		seen[apex] = m
	}
	m[fqdn] = true
}

// warnIfNoAddress mirrors the original source's per-type A/AAAA lookup: an
// MX, NS, CNAME, or SOA record referencing a hostname with no A/AAAA
// compiled earlier in the same apex domain gets a warning, not an error.
func warnIfNoAddress(typ domain.RRType, field, apex string, seen seenAddr, logger log.Logger, ownerFQDN string) {
	switch typ {
	case domain.RRTypeMX, domain.RRTypeNS, domain.RRTypeCNAME, domain.RRTypeSOA:
	default:
		return
	}
	host := strings.Fields(field)[0]
	host = strings.TrimSuffix(host, ".")
	if m, ok := seen[apex]; ok && m[host] {
		return
	}
	logger.Warn(map[string]any{
		"owner": ownerFQDN,
		"type":  typ.String(),
		"host":  host,
	}, "referenced hostname has no A/AAAA record yet")
}

// applyLink appends the just-parsed record onto the target list identified
// by pending. If the target isn't found, the record is dropped with a
// warning, consistent with the general policy of skipping anything
// malformed or unresolved rather than failing the whole load.
func applyLink(tables *match.Tables, pending *pendingLink, rec *domain.MatchRecord, logger log.Logger) {
	key, list, table, ok := tables.FindLinkTarget(pending.name, pending.typ)
	if !ok || len(list) == 0 {
		logger.Warn(map[string]any{
			"link_type": pending.typ.String(),
			"owner":     rec.FQDN,
		}, "link directive target not found")
		return
	}

	literalName, err := wire.EncodeName(rec.FQDN)
	if err != nil {
		return
	}
	base := list[len(list)-1]
	newSegment := buildSegment(literalName, rec.Type, rec.TTL, rdataOf(rec))

	if pending.typ == domain.RRTypeSOA {
		merged := base.Clone()
		merged.Segments = append([][]byte{newSegment}, base.Segments...)
		merged.ACount = base.ACount + 1
		merged.Field = rec.Field + " " + base.Field
		tables.ReplaceList(table, key, []*domain.MatchRecord{merged})
		return
	}

	merged := base.Clone()
	merged.Segments = append(append([][]byte{}, base.Segments...), newSegment)
	merged.ACount = base.ACount + 1
	merged.Field = base.Field + " " + rec.Field

	rotations := make([]*domain.MatchRecord, len(merged.Segments))
	for i := range merged.Segments {
		r := merged.Clone()
		r.Segments = rotateSegments(merged.Segments, i)
		rotations[i] = r
	}
	tables.ReplaceList(table, key, rotations)
}

// rotateSegments returns a copy of segs rotated so that segs[start] comes
// first, preserving relative order — used to materialize the full family
// of round-robin rotations a link produces in one step.
func rotateSegments(segs [][]byte, start int) [][]byte {
	out := make([][]byte, len(segs))
	for i := range segs {
		out[i] = segs[(start+i)%len(segs)]
	}
	return out
}

// rdataOf extracts the rdata portion of a freshly built single-segment
// record (skipping its name and the fixed 10-byte type/class/ttl/rdlength
// header), so applyLink can re-wrap it using the literal (uncompressed)
// name instead of the compressed pointer parseRecordLine used by default.
func rdataOf(rec *domain.MatchRecord) []byte {
	seg := rec.Segments[0]
	nameLen := len(pointerC00C)
	rdlen := binary.BigEndian.Uint16(seg[nameLen+8 : nameLen+10])
	start := nameLen + 10
	return seg[start : start+int(rdlen)]
}
