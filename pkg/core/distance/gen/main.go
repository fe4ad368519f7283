package main

import (
	. "github.com/mmcloughlin/avo/build"
	. "github.com/mmcloughlin/avo/operand"
)

func main() {
	TEXT("SquaredEuclideanF32AVX2", NOSPLIT, "func(a, b []float32) float32")
	Pragma("noescape")
	Doc("SquaredEuclideanF32AVX2 computes the squared Euclidean distance between two float32 vectors using AVX2/FMA.")
	generateSquaredEuclideanF32()
	Generate()
}

func generateSquaredEuclideanF32() {
	aPtr := Load(Param("a").Base(), GP64())
	bPtr := Load(Param("b").Base(), GP64())
	n := Load(Param("a").Len(), GP64())

	sumVec := YMM()
	VXORPS(sumVec, sumVec, sumVec)

	Label("loop_l2_f32")
	CMPQ(n, Imm(8))
	JL(LabelRef("remainder_l2_f32"))

	va := YMM()
	vb := YMM()
	VMOVUPS(Mem{Base: aPtr}, va)
	VMOVUPS(Mem{Base: bPtr}, vb)

	diff := YMM()
	VSUBPS(vb, va, diff)
	VFMADD231PS(diff, diff, sumVec)

	ADDQ(Imm(32), aPtr)
	ADDQ(Imm(32), bPtr)
	SUBQ(Imm(8), n)
	JMP(LabelRef("loop_l2_f32"))

	Label("remainder_l2_f32")
	CMPQ(n, Imm(0))
	JE(LabelRef("done_l2_f32"))

	sa := XMM()
	sb := XMM()
	VMOVSS(Mem{Base: aPtr}, sa)
	VMOVSS(Mem{Base: bPtr}, sb)

	diffScalar := XMM()
	VSUBSS(sb, sa, diffScalar)

	sq := XMM()
	VMULSS(diffScalar, diffScalar, sq)

	tmp := YMM()
	VXORPS(tmp, tmp, tmp)
	VMOVSS(sq, tmp.AsX(), tmp.AsX())
	VADDPS(tmp, sumVec, sumVec)

	ADDQ(Imm(4), aPtr)
	ADDQ(Imm(4), bPtr)
	SUBQ(Imm(1), n)
	JMP(LabelRef("remainder_l2_f32"))

	Label("done_l2_f32")

	// Horizontal reduction of the 8 partial sums.
	hi := XMM()
	VEXTRACTF128(Imm(1), sumVec, hi)
	lo := sumVec.AsX()
	VADDPS(hi, lo, lo)
	VHADDPS(lo, lo, lo)
	VHADDPS(lo, lo, lo)

	Store(lo, ReturnIndex(0))
	RET()
}
