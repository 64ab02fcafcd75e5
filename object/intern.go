// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

package object

import (
	"sync"

	bloomfilter "github.com/holiman/bloomfilter/v2"
)

// InternTable deduplicates constant-pool strings (and other frequently
// repeated literals) across a module's lifetime. Before doing the full
// pointer, length, hash, then bytes comparison String equality requires,
// it consults a Bloom filter to cheaply rule out "definitely not
// interned yet" — avoiding a map probe (and its hashing of the candidate
// bytes a second time) on the overwhelmingly common case of a fresh literal.
type InternTable struct {
	mu     sync.Mutex
	filter *bloomfilter.Filter
	byHash map[uint64][]*String
}

// NewInternTable builds a table sized for roughly maxStrings distinct
// interned strings at a ~1% false-positive rate.
func NewInternTable(maxStrings uint64) *InternTable {
	if maxStrings == 0 {
		maxStrings = 4096
	}
	// m (bits) and k (hash funcs) tuned for ~1% false positives per the
	// standard bloom filter sizing formula m = -n*ln(p)/(ln2)^2, k = 7.
	m := maxStrings * 10
	f, err := bloomfilter.New(m, 7)
	if err != nil {
		// Degrade to a filter that is always "maybe present": every probe
		// falls through to the authoritative map, which is still correct,
		// just without the fast-reject speedup.
		f, _ = bloomfilter.New(1, 1)
	}
	return &InternTable{filter: f, byHash: make(map[uint64][]*String)}
}

// Intern returns the canonical *String for the given bytes, allocating a new
// one via newFn only if no equal string has been interned yet.
func (t *InternTable) Intern(b []byte, newFn func([]byte) *String) *String {
	h := fnv1a(b)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.filter.ContainsHash(h) {
		for _, cand := range t.byHash[h] {
			if string(cand.Bytes) == string(b) {
				return cand
			}
		}
		// Bloom false positive: fall through and intern a new entry.
	}

	s := newFn(b)
	t.filter.AddHash(h)
	t.byHash[h] = append(t.byHash[h], s)
	return s
}

// All returns every interned string, in no particular order. The owning
// heap treats these as GC roots: an interned string outlives any single
// referent so later lookups of the same literal stay valid.
func (t *InternTable) All() []*String {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*String
	for _, bucket := range t.byHash {
		out = append(out, bucket...)
	}
	return out
}
