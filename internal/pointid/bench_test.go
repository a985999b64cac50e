package pointid

import "testing"

func BenchmarkFor(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = For("/data/VC-Clothes/train/001-2-3-4.jpg")
	}
}
