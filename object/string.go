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

// String is a heap-allocated, immutable UTF-8 string with a lazily
// computed hash cell; equality checks pointer, then length, then hash,
// then bytes.
type String struct {
	Header

	Bytes      []byte
	hash       uint64
	hashValid  bool
}

// NewString wraps raw bytes as a heap String object. The Header's ContextID,
// TypeID, and Handle fields are filled in by the allocating heap.
func NewString(b []byte) *String {
	s := &String{Bytes: append([]byte(nil), b...)}
	s.Header.Kind = KindString
	s.Header.ElementCount = uint32(len(b))
	s.Header.Size = uint32(len(b))
	return s
}

// Len returns the byte length of the string.
func (s *String) Len() int { return len(s.Bytes) }

// Hash returns the FNV-1a hash of the string bytes, computing and caching it
// on first use.
func (s *String) Hash() uint64 {
	if !s.hashValid {
		s.hash = fnv1a(s.Bytes)
		s.hashValid = true
	}
	return s.hash
}

func fnv1a(b []byte) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for _, c := range b {
		h ^= uint64(c)
		h *= prime64
	}
	return h
}

// Equals implements the pointer → length → hash → bytes equality cascade
// comparison: each cheaper check is tried before falling back to the
// next, so two distinct-but-equal strings still compare correctly while
// interned/identical strings short-circuit on the first check.
func (s *String) Equals(other *String) bool {
	if s == other {
		return true
	}
	if other == nil {
		return false
	}
	if s.Len() != other.Len() {
		return false
	}
	if s.Hash() != other.Hash() {
		return false
	}
	return string(s.Bytes) == string(other.Bytes)
}

func (s *String) String() string { return string(s.Bytes) }
