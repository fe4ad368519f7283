//go:build amd64

package distance

// SquaredEuclideanF32AVX2 computes the squared Euclidean distance between two
// float32 vectors using AVX2/FMA. The stub and assembly are produced by the
// generator below and are only compiled in with the "avo" build tag.
//
//go:generate go run ./gen -stubs ./stubs_avo.go -out ./distance_avo.s
//func SquaredEuclideanF32AVX2(a []float32, b []float32) float32
