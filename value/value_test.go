package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestValueRoundTrip checks the value round-trip property: for
// all primitive x of kind K, as_K(from_K(x)) == Some(x) and is_K(from_K(x)).
func TestValueRoundTrip(t *testing.T) {
	t.Run("null", func(t *testing.T) {
		v := FromNull()
		require.True(t, v.IsNull())
	})

	t.Run("bool", func(t *testing.T) {
		for _, b := range []bool{true, false} {
			v := FromBool(b)
			require.True(t, v.IsBool())
			got, ok := v.AsBool()
			require.True(t, ok)
			require.Equal(t, b, got)
		}
	})

	t.Run("i32", func(t *testing.T) {
		for _, i := range []int32{0, 1, -1, math.MaxInt32, math.MinInt32} {
			v := FromI32(i)
			require.True(t, v.IsI32())
			got, ok := v.AsI32()
			require.True(t, ok)
			require.Equal(t, i, got)
		}
	})

	t.Run("i64 within payload range", func(t *testing.T) {
		const maxPayload = int64(1)<<47 - 1
		for _, i := range []int64{0, 1, -1, maxPayload, -maxPayload - 1} {
			v := FromI64(i)
			require.True(t, v.IsI64())
			got, ok := v.AsI64()
			require.True(t, ok)
			require.Equal(t, i, got)
		}
	})

	t.Run("u64 within payload range", func(t *testing.T) {
		const maxPayload = uint64(1)<<48 - 1
		for _, u := range []uint64{0, 1, maxPayload} {
			v := FromU64(u)
			require.True(t, v.IsU64())
			got, ok := v.AsU64()
			require.True(t, ok)
			require.Equal(t, u, got)
		}
	})

	t.Run("f64", func(t *testing.T) {
		for _, f := range []float64{0, 1, -1, 3.5, math.Inf(1), math.Inf(-1)} {
			v := FromF64(f)
			require.True(t, v.IsF64())
			got, ok := v.AsF64()
			require.True(t, ok)
			require.Equal(t, f, got)
		}
	})

	t.Run("f64 NaN propagates and is never mistaken for a tag", func(t *testing.T) {
		v := FromF64(math.NaN())
		require.True(t, v.IsF64())
		got, ok := v.AsF64()
		require.True(t, ok)
		require.True(t, math.IsNaN(got))
	})

	t.Run("ptr", func(t *testing.T) {
		v := FromPtr(0xDEADBEEF)
		require.True(t, v.IsPtr())
		got, ok := v.AsPtr()
		require.True(t, ok)
		require.Equal(t, uint64(0xDEADBEEF), got)
	})
}

func TestTagMismatchIsUncheckedNotPanic(t *testing.T) {
	v := FromI32(5)
	_, ok := v.AsBool()
	require.False(t, ok)
	_, ok = v.AsF64()
	require.False(t, ok)
}

func TestStrictEquals(t *testing.T) {
	require.True(t, FromI32(5).StrictEquals(FromI32(5)))
	require.False(t, FromI32(5).StrictEquals(FromI64(5)))
	require.False(t, FromNull().StrictEquals(FromBool(false)))
}

func TestTruthy(t *testing.T) {
	require.False(t, FromNull().Truthy())
	require.False(t, FromBool(false).Truthy())
	require.True(t, FromBool(true).Truthy())
	require.False(t, FromI32(0).Truthy())
	require.True(t, FromI32(1).Truthy())
	require.False(t, FromF64(0).Truthy())
	require.False(t, FromF64(math.NaN()).Truthy())
	require.True(t, FromPtr(1).Truthy())
}

func TestBitsRoundTrip(t *testing.T) {
	v := FromI64(-42)
	require.Equal(t, v, FromBits(v.Bits()))
}
