package bloom

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSize_CommonCases(t *testing.T) {
	// n=1, p=1% → m≈10, k≈7
	m, k := Size(1, 0.01)
	assert.GreaterOrEqual(t, m, uint64(10))
	assert.EqualValues(t, 7, k)

	// n=1e6, p=1% → m≈9.585e6 bits, k≈7
	m, k = Size(1_000_000, 0.01)
	assert.InDelta(t, 9_585_000, float64(m), 100_000)
	assert.EqualValues(t, 7, k)

	// p=0.5 → a single hash function
	_, k = Size(10_000, 0.5)
	assert.EqualValues(t, 1, k)
}

func TestSize_ClampingAndDefaults(t *testing.T) {
	m, k := Size(0, 0)
	assert.NotZero(t, m)
	assert.NotZero(t, k)

	m2, k2 := Size(100, 1.0)
	m3, k3 := Size(100, DefaultFPRate)
	assert.Equal(t, m3, m2)
	assert.Equal(t, k3, k2)
}

func TestFilter_NoFalseNegatives(t *testing.T) {
	f := New(1000, 0.01)
	for i := 0; i < 1000; i++ {
		f.AddString(fmt.Sprintf("key-%04d", i))
	}
	for i := 0; i < 1000; i++ {
		require.True(t, f.MightContainString(fmt.Sprintf("key-%04d", i)))
	}
	assert.True(t, f.MightContain([]byte("key-0001")))
	assert.Equal(t, 0.01, f.FPRate())
	assert.NotZero(t, f.Bits())
	assert.NotZero(t, f.Hashes())
}

func TestFilter_FalsePositiveRateIsBounded(t *testing.T) {
	f := New(1000, 0.01)
	for i := 0; i < 1000; i++ {
		f.AddString(fmt.Sprintf("present-%d", i))
	}
	fp := 0
	const trials = 20_000
	for i := 0; i < trials; i++ {
		if f.MightContainString(fmt.Sprintf("absent-%d", i)) {
			fp++
		}
	}
	assert.Less(t, float64(fp)/trials, 0.05)
}

func TestFilter_JSONRoundTrip(t *testing.T) {
	f := New(64, 0.02)
	f.AddString("ads.ex")
	f.AddString("tracke")

	b, err := json.Marshal(f)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(b, &wire))
	assert.Contains(t, wire, "m")
	assert.Contains(t, wire, "k")
	assert.Contains(t, wire, "fp_rate")
	assert.Contains(t, wire, "bits")

	var restored Filter
	require.NoError(t, json.Unmarshal(b, &restored))
	assert.True(t, f.Equal(&restored))
	assert.True(t, restored.MightContainString("ads.ex"))
	assert.True(t, restored.MightContainString("tracke"))
}

func TestFilter_UnmarshalMalformed(t *testing.T) {
	tests := map[string]string{
		"not json":       `[`,
		"missing params": `{"m":0,"k":0,"bits":""}`,
		"garbage bits":   `{"m":64,"k":3,"fp_rate":0.01,"bits":"AAEC"}`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			var f Filter
			err := json.Unmarshal([]byte(in), &f)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestFilter_UnmarshalHeaderMismatch(t *testing.T) {
	b, err := json.Marshal(New(64, 0.01))
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(b, &wire))
	wire["k"] = 99
	tampered, err := json.Marshal(wire)
	require.NoError(t, err)

	var f Filter
	assert.True(t, errors.Is(json.Unmarshal(tampered, &f), ErrMalformed))
}

func TestFilter_EqualNil(t *testing.T) {
	var a, b *Filter
	assert.True(t, a.Equal(b))
	assert.False(t, New(8, 0.1).Equal(nil))
}

func BenchmarkFilter_Negative(b *testing.B) {
	f := New(50_000, 0.01)
	for i := 0; i < 50_000; i++ {
		f.AddString(fmt.Sprintf("fp%04d", i))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = f.MightContainString("absent")
	}
}
