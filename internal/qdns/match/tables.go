// Package match implements the exact/wildcard match tables and the lookup
// algorithm that picks a winning match record for an inbound query.
package match

import (
	"bytes"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/skrahmer/quantum-dns/internal/qdns/domain"
)

// DefaultOnceSetSize is the once-set's default LRU capacity.
const DefaultOnceSetSize = 1000

// Tables holds the two match tables built by the zone compiler and the
// once-set consulted for TTL-1 records. Both Exact and Wild are keyed
// identically — by MatchKey — the only difference between them is how a
// query resolves against each: Exact requires the full encoded qname to
// equal the key; Wild treats the key as a suffix to search for inside the
// qname. Because a link directive names its target the same way a zone
// record names itself (with the same wildcard-prefix stripping), a single
// keying scheme also lets link resolution do a direct lookup against
// either table without a separate code path.
type Tables struct {
	Exact map[domain.MatchKey][]*domain.MatchRecord
	Wild  map[domain.MatchKey][]*domain.MatchRecord

	once *lru.Cache[string, struct{}]
}

// NewTables constructs empty match tables with the given once-set capacity.
func NewTables(onceSetSize int) (*Tables, error) {
	if onceSetSize <= 0 {
		onceSetSize = DefaultOnceSetSize
	}
	once, err := lru.New[string, struct{}](onceSetSize)
	if err != nil {
		return nil, err
	}
	return &Tables{
		Exact: make(map[domain.MatchKey][]*domain.MatchRecord),
		Wild:  make(map[domain.MatchKey][]*domain.MatchRecord),
		once:  once,
	}, nil
}

// tableFor returns the table a record of the given kind belongs to.
func (t *Tables) tableFor(kind domain.MatchKind) map[domain.MatchKey][]*domain.MatchRecord {
	if kind == domain.MatchWild {
		return t.Wild
	}
	return t.Exact
}

// Insert appends rec to the list for its (name, type) key, creating the
// list if necessary. Used by the zone compiler for unlinked records.
func (t *Tables) Insert(rec *domain.MatchRecord) {
	tbl := t.tableFor(rec.Kind)
	key := domain.MatchKey{Name: string(rec.Name), Type: rec.Type}
	tbl[key] = append(tbl[key], rec)
}

// FindList returns the list stored under (name, type) in the table
// matching kind, and whether it was present. Used both by link resolution
// (a direct lookup, since link targets are named exactly like the record
// they refer to) and by tests.
func (t *Tables) FindList(kind domain.MatchKind, name []byte, typ domain.RRType) ([]*domain.MatchRecord, bool) {
	tbl := t.tableFor(kind)
	key := domain.MatchKey{Name: string(name), Type: typ}
	list, ok := tbl[key]
	return list, ok
}

// FindLinkTarget resolves a link directive's (name, type) pair against the
// exact table first, then the wildcard table, exactly as spec'd. name is
// the key derived from the link directive's name token using the same
// wildcard-stripping rule applied to ordinary record names, so a link
// naming a wildcard entry (e.g. "*.foo") finds it by the same key the
// compiler stored it under.
func (t *Tables) FindLinkTarget(name []byte, typ domain.RRType) (key domain.MatchKey, list []*domain.MatchRecord, table domain.MatchKind, ok bool) {
	key = domain.MatchKey{Name: string(name), Type: typ}
	if list, ok := t.Exact[key]; ok {
		return key, list, domain.MatchExact, true
	}
	if list, ok := t.Wild[key]; ok {
		return key, list, domain.MatchWild, true
	}
	return domain.MatchKey{}, nil, 0, false
}

// ReplaceList overwrites the list stored under key in the given table.
func (t *Tables) ReplaceList(table domain.MatchKind, key domain.MatchKey, list []*domain.MatchRecord) {
	t.tableFor(table)[key] = list
}

// Lookup implements the full match-engine algorithm of spec §4.4: exact
// lookup, then longest-suffix wildcard scan, then once-suppression and
// round-robin rotation on the winning list.
//
// sourceID identifies the querying peer (e.g. "1.2.3.4:55555"). foundDomain
// is false when neither table produced a hit, regardless of whether a
// catch-all record is returned for its RR payload.
func (t *Tables) Lookup(qnameEncoded []byte, qtype domain.RRType, sourceID string) (rec *domain.MatchRecord, foundDomain bool, suppressed bool) {
	key := domain.MatchKey{Name: string(qnameEncoded), Type: qtype}
	if list := t.Exact[key]; len(list) > 0 {
		return t.resolveHit(domain.MatchExact, key, list, sourceID, true)
	}

	if best, bestKey, ok := t.longestWildSuffix(qnameEncoded, qtype); ok {
		return t.resolveHit(domain.MatchWild, bestKey, best, sourceID, true)
	}

	if list := t.Exact[domain.ForwardKey]; len(list) > 0 {
		rec, _, suppressed = t.resolveHit(domain.MatchExact, domain.ForwardKey, list, sourceID, false)
		return rec, false, suppressed
	}
	return nil, false, false
}

// longestWildSuffix scans Wild for the entry of the given qtype whose key
// occurs as a proper suffix of qnameEncoded, preferring the smallest start
// offset (i.e. the longest matching suffix).
func (t *Tables) longestWildSuffix(qnameEncoded []byte, qtype domain.RRType) ([]*domain.MatchRecord, domain.MatchKey, bool) {
	var bestList []*domain.MatchRecord
	var bestKey domain.MatchKey
	bestPos := -1

	for key, list := range t.Wild {
		if key.Type != qtype || len(list) == 0 {
			continue
		}
		suffix := []byte(key.Name)
		p := bytes.Index(qnameEncoded, suffix)
		if p < 0 || p+len(suffix) != len(qnameEncoded) {
			continue
		}
		if bestPos == -1 || p < bestPos {
			bestPos = p
			bestList = list
			bestKey = key
		}
	}
	if bestPos == -1 {
		return nil, domain.MatchKey{}, false
	}
	return bestList, bestKey, true
}

// resolveHit applies once-suppression and round-robin rotation to the
// winning list, writing the (possibly) rotated list back into the table.
func (t *Tables) resolveHit(table domain.MatchKind, key domain.MatchKey, list []*domain.MatchRecord, sourceID string, found bool) (*domain.MatchRecord, bool, bool) {
	head := list[0]

	if head.TTL == 1 && len(list) == 1 {
		if _, seen := t.once.Get(sourceID); seen {
			return nil, found, true
		}
		t.once.Add(sourceID, struct{}{})
	}

	if len(list) > 1 {
		rotated := append(append([]*domain.MatchRecord{}, list[1:]...), list[0])
		t.ReplaceList(table, key, rotated)
	}

	return head, found, false
}
