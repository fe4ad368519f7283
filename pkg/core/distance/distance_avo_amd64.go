//go:build avo && amd64

package distance

import (
	"errors"
	"log"

	"github.com/klauspost/cpuid/v2"
)

// squaredEuclideanF32AVX2Wrapper adapts the generated assembly kernel to the
// catalog function signature.
func squaredEuclideanF32AVX2Wrapper(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.New("squared euclidean: vectors must have the same length")
	}
	if len(a) == 0 {
		return 0, nil
	}
	return float64(SquaredEuclideanF32AVX2(a, b)), nil
}

func init() {
	if cpuid.CPU.Has(cpuid.AVX2) && cpuid.CPU.Has(cpuid.FMA3) {
		float32Funcs[L2] = squaredEuclideanF32AVX2Wrapper
		log.Println("descmatch compute engine: using AVX2 assembly for float32 L2")
	}
}
