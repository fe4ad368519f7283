// Package distance provides the dissimilarity kernels used by the matcher.
// It supports squared Euclidean, Manhattan and Hamming metrics over several
// scalar precisions (float32, float16, int32, byte-packed binary).
//
// The package uses runtime CPU detection to dispatch to the fastest
// implementation available: pure Go reference loops by default, Gonum
// (BLAS/SIMD) for float32 on AVX2 hardware, and optional avo-generated
// assembly behind the "avo" build tag.
package distance

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/blas/gonum"
)

// Metric defines the dissimilarity family used for comparisons.
type Metric string

// Precision defines the scalar type used for vector storage and kernels.
type Precision string

const (
	// L2 is the squared Euclidean distance (no square root is taken; the
	// ordering of neighbours is identical and the kernel is cheaper).
	L2 Metric = "l2"
	// L1 is the Manhattan distance, restricted to integer vectors.
	L1 Metric = "l1"
	// Hamming is the popcount distance over byte-packed binary vectors.
	Hamming Metric = "hamming"

	// Float32 stores single-precision components.
	Float32 Precision = "float32"
	// Float16 stores half-precision components as uint16 bit patterns.
	Float16 Precision = "float16"
	// Int32 stores signed 32-bit integer components.
	Int32 Precision = "int32"
	// Binary stores bit vectors packed into bytes; the configured dimension
	// counts bytes, so 8 bits per component slot.
	Binary Precision = "binary"
)

// Function types for each precision. Distances are reported as float64:
// the integer metrics produce exact counts that float64 represents without
// loss, and a single result type keeps the graph traversal free of type
// switches.
type (
	FuncF32 func(a, b []float32) (float64, error)
	FuncF16 func(a, b []uint16) (float64, error)
	FuncI32 func(a, b []int32) (float64, error)
	FuncU8  func(a, b []uint8) (float64, error)
)

// --- WORKSPACE POOL ---

// diffWorkspace pools float32 scratch slices for the BLAS-backed kernels so
// the hot path stays allocation free. 128 covers the common descriptor
// dimensions (SIFT is 128); larger vectors grow the pooled slice on demand.
var diffWorkspace = sync.Pool{
	New: func() any {
		s := make([]float32, 128)
		return &s
	},
}

func init() {
	// The Gonum BLAS kernels only pay off when the hardware gives them
	// vector units to work with; otherwise the plain loops win on the
	// short vectors this package typically sees.
	if cpuid.CPU.Has(cpuid.AVX2) {
		float32Funcs[L2] = squaredEuclideanF32Gonum
	}
}

// --- REFERENCE IMPLEMENTATIONS (PURE GO) ---

// squaredEuclideanF32Go is the pure Go kernel for squared Euclidean distance.
func squaredEuclideanF32Go(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.New("squared euclidean: vectors must have the same length")
	}
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float64(sum), nil
}

// squaredEuclideanF16Go unpacks half-precision bit patterns on the fly.
func squaredEuclideanF16Go(a, b []uint16) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.New("squared euclidean: float16 vectors must have the same length")
	}
	var sum float32
	for i := range a {
		d := float16.Frombits(a[i]).Float32() - float16.Frombits(b[i]).Float32()
		sum += d * d
	}
	return float64(sum), nil
}

// squaredEuclideanI32Go accumulates in int64 to stay exact for the full
// int32 component range.
func squaredEuclideanI32Go(a, b []int32) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.New("squared euclidean: int32 vectors must have the same length")
	}
	var sum int64
	for i := range a {
		d := int64(a[i]) - int64(b[i])
		sum += d * d
	}
	return float64(sum), nil
}

// manhattanI32Go is the L1 kernel over signed integer vectors.
func manhattanI32Go(a, b []int32) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.New("manhattan: int32 vectors must have the same length")
	}
	var sum int64
	for i := range a {
		d := int64(a[i]) - int64(b[i])
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return float64(sum), nil
}

// hammingU8Go counts differing bits between two byte-packed binary vectors.
// Bytes are consumed in 8-byte groups so the popcount runs on uint64 words.
func hammingU8Go(a, b []uint8) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.New("hamming: binary vectors must have the same length")
	}
	var count int
	i := 0
	for ; i+8 <= len(a); i += 8 {
		var x, y uint64
		for j := 0; j < 8; j++ {
			x |= uint64(a[i+j]) << (8 * j)
			y |= uint64(b[i+j]) << (8 * j)
		}
		count += bits.OnesCount64(x ^ y)
	}
	for ; i < len(a); i++ {
		count += bits.OnesCount8(a[i] ^ b[i])
	}
	return float64(count), nil
}

// --- Gonum-based implementations (float32) ---

var gonumEngine = gonum.Implementation{}

// squaredEuclideanF32Gonum computes diff = a - b with Saxpy and the squared
// norm with Sdot, borrowing the scratch slice from the workspace pool.
func squaredEuclideanF32Gonum(a, b []float32) (float64, error) {
	n := len(a)
	if n != len(b) {
		return 0, errors.New("squared euclidean: vectors must have the same length")
	}

	diffPtr := diffWorkspace.Get().(*[]float32)
	defer diffWorkspace.Put(diffPtr)

	if cap(*diffPtr) < n {
		*diffPtr = make([]float32, n)
	}
	diff := (*diffPtr)[:n]

	copy(diff, a)
	gonumEngine.Saxpy(n, -1, b, 1, diff, 1)
	dot := gonumEngine.Sdot(n, diff, 1, diff, 1)

	return float64(dot), nil
}

// --- Function catalogs and dispatchers ---

// The catalogs double as the compatibility matrix: a (metric, precision)
// pairing is valid exactly when the catalog for that precision has an entry
// for the metric. Build-time validation walks these maps, so an unsupported
// combination is reported before any index is allocated.

var float32Funcs = map[Metric]FuncF32{
	L2: squaredEuclideanF32Go, // default, may be upgraded in init
}

var float16Funcs = map[Metric]FuncF16{
	L2: squaredEuclideanF16Go,
}

var int32Funcs = map[Metric]FuncI32{
	L2: squaredEuclideanI32Go,
	L1: manhattanI32Go,
}

var binaryFuncs = map[Metric]FuncU8{
	Hamming: hammingU8Go,
}

// --- Public getter functions ---

// GetFloat32Func returns the kernel for a metric at float32 precision, or an
// error when the pairing is unsupported.
func GetFloat32Func(metric Metric) (FuncF32, error) {
	fn, ok := float32Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric '%s' not supported for float32 precision", metric)
	}
	return fn, nil
}

// GetFloat16Func returns the kernel for a metric at float16 precision.
func GetFloat16Func(metric Metric) (FuncF16, error) {
	fn, ok := float16Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric '%s' not supported for float16 precision", metric)
	}
	return fn, nil
}

// GetInt32Func returns the kernel for a metric at int32 precision.
func GetInt32Func(metric Metric) (FuncI32, error) {
	fn, ok := int32Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric '%s' not supported for int32 precision", metric)
	}
	return fn, nil
}

// GetBinaryFunc returns the kernel for a metric over byte-packed vectors.
func GetBinaryFunc(metric Metric) (FuncU8, error) {
	fn, ok := binaryFuncs[metric]
	if !ok {
		return nil, fmt.Errorf("metric '%s' not supported for binary precision", metric)
	}
	return fn, nil
}

// Supported reports whether a metric/precision pairing has a kernel.
func Supported(metric Metric, precision Precision) bool {
	switch precision {
	case Float32:
		_, ok := float32Funcs[metric]
		return ok
	case Float16:
		_, ok := float16Funcs[metric]
		return ok
	case Int32:
		_, ok := int32Funcs[metric]
		return ok
	case Binary:
		_, ok := binaryFuncs[metric]
		return ok
	default:
		return false
	}
}
