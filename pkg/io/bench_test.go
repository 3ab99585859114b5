package io

import "testing"

type someval struct {
	a int
	b int
}

func (s someval) EncodeBinary(w BinaryWriter) {
	w.WriteU64LE(uint64(s.a))
	w.WriteU64LE(uint64(s.b))
}

type somepoint struct {
	a int
	b int
}

func (s *somepoint) EncodeBinary(w BinaryWriter) {
	w.WriteU64LE(uint64(s.a))
	w.WriteU64LE(uint64(s.b))
}

func repeatVal(n int) []someval {
	out := make([]someval, n)
	return out
}

func repeatPoint(n int) []*somepoint {
	out := make([]*somepoint, n)
	for i := range out {
		out[i] = &somepoint{}
	}
	return out
}

func BenchmarkWriteArray(b *testing.B) {
	const numElems = 10
	var (
		v = repeatVal(numElems)
		p = repeatPoint(numElems)
	)

	w := NewBufBinWriter()

	b.Run("WriteArray method, value", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			b.StopTimer()
			w.Reset()
			b.StartTimer()
			w.WriteArray(v)
		}
	})
	b.Run("WriteArray method, pointer", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			b.StopTimer()
			w.Reset()
			b.StartTimer()
			w.WriteArray(p)
		}
	})
	b.Run("open-coded, value", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			b.StopTimer()
			w.Reset()
			b.StartTimer()
			w.WriteVarUint(uint64(len(v)))
			for i := range v {
				v[i].EncodeBinary(w.BinWriter)
			}
		}
	})
	b.Run("open-coded, pointer", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			b.StopTimer()
			w.Reset()
			b.StartTimer()
			w.WriteVarUint(uint64(len(p)))
			for i := range p {
				p[i].EncodeBinary(w.BinWriter)
			}
		}
	})
}
