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

package snapshot

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func sampleEnvelope() *Envelope {
	return &Envelope{
		Version:   CurrentVersion,
		Flags:     0,
		Timestamp: 1700000000000,
		Segments: []Segment{
			{Type: SegMetadata, Payload: []byte("isolate-1")},
			{Type: SegHeap, Payload: []byte{1, 2, 3, 4}},
			{Type: SegTask, Payload: nil},
			{Type: SegScheduler, Flags: 1, Payload: []byte{9}},
			{Type: SegSync, Payload: []byte{}},
		},
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	e := sampleEnvelope()
	raw := Encode(e)
	got, err := Decode(raw)
	require.NoError(t, err)
	if diff := cmp.Diff(e, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("envelope mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	raw := Encode(sampleEnvelope())
	raw[0] ^= 0xFF
	_, err := Decode(raw)
	require.Error(t, err)
}

func TestDecodeRejectsCorruptPayload(t *testing.T) {
	raw := Encode(sampleEnvelope())
	raw[40] ^= 0xFF // inside the first segment's bytes
	_, err := Decode(raw)
	require.ErrorContains(t, err, "checksum")
}

func TestDecodeRejectsTruncated(t *testing.T) {
	raw := Encode(sampleEnvelope())
	_, err := Decode(raw[:20])
	require.Error(t, err)
}

func TestDecodeDetectsOppositeEndianness(t *testing.T) {
	raw := Encode(sampleEnvelope())
	binary.LittleEndian.PutUint32(raw[16:20], EndianMarkerSwapped)
	_, err := Decode(raw)
	require.ErrorContains(t, err, "endian")
}

func TestDecodeRejectsCorruptEndianMarker(t *testing.T) {
	raw := Encode(sampleEnvelope())
	binary.LittleEndian.PutUint32(raw[16:20], 0xDEADBEEF)
	_, err := Decode(raw)
	require.ErrorContains(t, err, "corrupt")
}

func TestEmptyEnvelopeRoundTrips(t *testing.T) {
	e := &Envelope{Version: CurrentVersion, Timestamp: 1}
	got, err := Decode(Encode(e))
	require.NoError(t, err)
	require.Empty(t, got.Segments)
	require.Equal(t, uint64(1), got.Timestamp)
}

func TestOnlyMetadataIsRestorable(t *testing.T) {
	require.True(t, Restorable(SegMetadata))
	for _, st := range []SegmentType{SegHeap, SegTask, SegScheduler, SegSync} {
		require.False(t, Restorable(st))
	}
}
