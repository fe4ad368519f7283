package distance

import (
	"math"
	"math/rand"
	"testing"

	"github.com/x448/float16"
)

// floatsAreEqual compares with tolerance since the Gonum path may reassociate
// the accumulation.
func floatsAreEqual(a, b float64) bool {
	const tolerance = 1e-5
	return math.Abs(a-b) < tolerance
}

func TestImplementations(t *testing.T) {
	// These go through the public getters, so they exercise whichever
	// kernel (pure Go, Gonum, assembly) is active on this machine.

	t.Run("L2Float32", func(t *testing.T) {
		fn, err := GetFloat32Func(L2)
		if err != nil {
			t.Fatal(err)
		}
		a, b := []float32{1, 2}, []float32{3, 4}
		dist, _ := fn(a, b)
		if !floatsAreEqual(dist, 8.0) { // (3-1)^2 + (4-2)^2
			t.Errorf("got %f, want 8", dist)
		}
	})

	t.Run("L2Float16", func(t *testing.T) {
		fn, err := GetFloat16Func(L2)
		if err != nil {
			t.Fatal(err)
		}
		af, bf := []float32{1, 2}, []float32{3, 4}
		a := make([]uint16, len(af))
		b := make([]uint16, len(bf))
		for i := range af {
			a[i] = float16.Fromfloat32(af[i]).Bits()
			b[i] = float16.Fromfloat32(bf[i]).Bits()
		}
		dist, _ := fn(a, b)
		if !floatsAreEqual(dist, 8.0) {
			t.Errorf("got %f, want 8", dist)
		}
	})

	t.Run("L2Int32", func(t *testing.T) {
		fn, err := GetInt32Func(L2)
		if err != nil {
			t.Fatal(err)
		}
		a, b := []int32{10, -4}, []int32{7, 0}
		dist, _ := fn(a, b)
		if dist != 25 { // 3^2 + 4^2
			t.Errorf("got %f, want 25", dist)
		}
	})

	t.Run("L1Int32", func(t *testing.T) {
		fn, err := GetInt32Func(L1)
		if err != nil {
			t.Fatal(err)
		}
		a, b := []int32{10, -4}, []int32{7, 0}
		dist, _ := fn(a, b)
		if dist != 7 { // |3| + |-4|
			t.Errorf("got %f, want 7", dist)
		}
	})

	t.Run("HammingBinary", func(t *testing.T) {
		fn, err := GetBinaryFunc(Hamming)
		if err != nil {
			t.Fatal(err)
		}
		a := []uint8{0xFF, 0x00, 0xAA}
		b := []uint8{0x0F, 0x00, 0x55}
		dist, _ := fn(a, b)
		if dist != 12 { // 4 + 0 + 8
			t.Errorf("got %f, want 12", dist)
		}
	})
}

func TestHammingWordBoundary(t *testing.T) {
	// Lengths around the 8-byte grouping must agree with a bit-by-bit count.
	fn, _ := GetBinaryFunc(Hamming)
	rng := rand.New(rand.NewSource(7))
	for _, n := range []int{1, 7, 8, 9, 15, 16, 17, 64} {
		a := make([]uint8, n)
		b := make([]uint8, n)
		rng.Read(a)
		rng.Read(b)

		want := 0
		for i := range a {
			x := a[i] ^ b[i]
			for ; x != 0; x &= x - 1 {
				want++
			}
		}
		got, err := fn(a, b)
		if err != nil {
			t.Fatal(err)
		}
		if int(got) != want {
			t.Errorf("len %d: got %d, want %d", n, int(got), want)
		}
	}
}

func TestIncompatiblePairings(t *testing.T) {
	if _, err := GetFloat32Func(L1); err == nil {
		t.Error("L1 over float32 must be rejected")
	}
	if _, err := GetFloat32Func(Hamming); err == nil {
		t.Error("Hamming over float32 must be rejected")
	}
	if _, err := GetInt32Func(Hamming); err == nil {
		t.Error("Hamming over int32 must be rejected")
	}
	if _, err := GetBinaryFunc(L2); err == nil {
		t.Error("L2 over binary must be rejected")
	}
	if Supported(L1, Float16) {
		t.Error("L1 over float16 must be rejected")
	}
	if !Supported(L2, Int32) {
		t.Error("L2 over int32 must be supported")
	}
}

func TestLengthMismatch(t *testing.T) {
	fn, _ := GetFloat32Func(L2)
	if _, err := fn([]float32{1, 2}, []float32{1, 2, 3}); err == nil {
		t.Error("expected length mismatch error")
	}
}

// --- BENCHMARKS ---

func benchVectors(dim int) ([]float32, []float32) {
	rng := rand.New(rand.NewSource(42))
	a := make([]float32, dim)
	b := make([]float32, dim)
	for i := 0; i < dim; i++ {
		a[i] = rng.Float32()
		b[i] = rng.Float32()
	}
	return a, b
}

func BenchmarkL2Float32(b *testing.B) {
	fn, _ := GetFloat32Func(L2)
	v1, v2 := benchVectors(128)
	b.ReportAllocs()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		_, _ = fn(v1, v2)
	}
}

func BenchmarkL2Float32PureGo(b *testing.B) {
	v1, v2 := benchVectors(128)
	b.ReportAllocs()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		_, _ = squaredEuclideanF32Go(v1, v2)
	}
}

func BenchmarkHamming(b *testing.B) {
	fn, _ := GetBinaryFunc(Hamming)
	rng := rand.New(rand.NewSource(42))
	v1 := make([]uint8, 64)
	v2 := make([]uint8, 64)
	rng.Read(v1)
	rng.Read(v2)
	b.ReportAllocs()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		_, _ = fn(v1, v2)
	}
}
