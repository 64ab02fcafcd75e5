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

// Package snapshot implements the portable snapshot envelope:
// a fixed header (magic, version, flags, endianness marker, timestamp),
// typed segments, and a trailing SHA-256 over the segment payload. Segment
// payload layouts for heap/task/scheduler/sync state are implementation-
// defined; the envelope is the stable contract.
package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/probeum/raya/common"
)

// Magic is the envelope's leading u64: "RAYA" followed by four NUL bytes,
// read little-endian.
const Magic uint64 = 0x41594152 // "RAYA\0\0\0\0" LE

const (
	CurrentVersion uint32 = 1

	// EndianMarker is written as a native-order u32; a reader that sees it
	// byte-swapped knows the producer had opposite endianness.
	EndianMarker        uint32 = 0x01020304
	EndianMarkerSwapped uint32 = 0x04030201
)

// SegmentType tags a segment's payload kind.
type SegmentType uint8

const (
	SegMetadata  SegmentType = 1
	SegHeap      SegmentType = 2
	SegTask      SegmentType = 3
	SegScheduler SegmentType = 4
	SegSync      SegmentType = 5
)

func (t SegmentType) String() string {
	switch t {
	case SegMetadata:
		return "metadata"
	case SegHeap:
		return "heap"
	case SegTask:
		return "task"
	case SegScheduler:
		return "scheduler"
	case SegSync:
		return "sync"
	default:
		return "unknown"
	}
}

// Segment is one typed payload chunk.
type Segment struct {
	Type    SegmentType
	Flags   uint8
	Payload []byte
}

// Envelope is the decoded snapshot container.
type Envelope struct {
	Version   uint32
	Flags     uint32
	Timestamp uint64 // ms since epoch
	Segments  []Segment
}

const headerSize = 32

// Encode serializes the envelope: header, segments, trailing SHA-256.
func Encode(e *Envelope) []byte {
	var body bytes.Buffer
	for _, s := range e.Segments {
		var hdr [12]byte
		hdr[0] = byte(s.Type)
		hdr[1] = s.Flags
		// bytes 2-3 reserved
		binary.LittleEndian.PutUint64(hdr[4:], uint64(len(s.Payload)))
		body.Write(hdr[:])
		body.Write(s.Payload)
	}
	payload := body.Bytes()

	out := make([]byte, headerSize, headerSize+len(payload)+sha256.Size)
	binary.LittleEndian.PutUint64(out[0:8], Magic)
	binary.LittleEndian.PutUint32(out[8:12], e.Version)
	binary.LittleEndian.PutUint32(out[12:16], e.Flags)
	binary.LittleEndian.PutUint32(out[16:20], EndianMarker)
	binary.LittleEndian.PutUint64(out[20:28], e.Timestamp)
	binary.LittleEndian.PutUint32(out[28:32], uint32(headerSize+len(payload)))
	out = append(out, payload...)

	sum := sha256.Sum256(payload)
	out = append(out, sum[:]...)
	return out
}

// Decode parses and verifies an envelope: magic, version, endianness,
// checksum, and segment framing all fail fast.
func Decode(raw []byte) (*Envelope, error) {
	if len(raw) < headerSize+sha256.Size {
		return nil, common.New(common.KindDecode, "snapshot too short (%d bytes)", len(raw))
	}
	if got := binary.LittleEndian.Uint64(raw[0:8]); got != Magic {
		return nil, common.New(common.KindDecode, "bad snapshot magic %016x", got)
	}
	version := binary.LittleEndian.Uint32(raw[8:12])
	if version != CurrentVersion {
		return nil, common.New(common.KindDecode, "unsupported snapshot version %d", version)
	}
	flags := binary.LittleEndian.Uint32(raw[12:16])
	switch marker := binary.LittleEndian.Uint32(raw[16:20]); marker {
	case EndianMarker:
	case EndianMarkerSwapped:
		return nil, common.New(common.KindDecode, "snapshot produced on opposite-endian host; byte swap required")
	default:
		return nil, common.New(common.KindDecode, "corrupt endianness marker %08x", marker)
	}
	timestamp := binary.LittleEndian.Uint64(raw[20:28])
	checksumOff := binary.LittleEndian.Uint32(raw[28:32])
	if int(checksumOff) < headerSize || int(checksumOff)+sha256.Size > len(raw) {
		return nil, common.New(common.KindDecode, "checksum offset %d out of range", checksumOff)
	}

	payload := raw[headerSize:checksumOff]
	want := raw[checksumOff : int(checksumOff)+sha256.Size]
	sum := sha256.Sum256(payload)
	if !bytes.Equal(sum[:], want) {
		return nil, common.New(common.KindDecode, "snapshot checksum mismatch")
	}

	e := &Envelope{Version: version, Flags: flags, Timestamp: timestamp}
	for pos := 0; pos < len(payload); {
		if pos+12 > len(payload) {
			return nil, common.New(common.KindDecode, "truncated segment header at offset %d", pos)
		}
		st := SegmentType(payload[pos])
		fl := payload[pos+1]
		n := binary.LittleEndian.Uint64(payload[pos+4 : pos+12])
		pos += 12
		if uint64(len(payload)-pos) < n {
			return nil, common.New(common.KindDecode, "segment %s claims %d bytes, %d remain", st, n, len(payload)-pos)
		}
		e.Segments = append(e.Segments, Segment{
			Type:    st,
			Flags:   fl,
			Payload: append([]byte(nil), payload[pos:pos+int(n)]...),
		})
		pos += int(n)
	}
	return e, nil
}

// ErrPayloadUnimplemented reports a restore attempt against a segment whose
// payload layout is implementation-defined and has no stable decoder
// (heap/task/scheduler/sync state). The envelope itself always round-trips.
var ErrPayloadUnimplemented = common.New(common.KindDecode, "snapshot segment payload restore is implementation-defined and not supported")

// Restorable reports whether a segment type has a stable payload decoder.
func Restorable(t SegmentType) bool { return t == SegMetadata }
