package embedder

import "math"

// meanPool averages hidden states [batch*seqLen*dim] over positions whose
// mask is 1. A row with no real tokens pools to zeros.
func meanPool(hidden []float32, mask []int64, batch, seqLen, dim int64) []float32 {
	out := make([]float32, batch*dim)
	for b := int64(0); b < batch; b++ {
		acc := out[b*dim : (b+1)*dim]
		var n float32
		for s := int64(0); s < seqLen; s++ {
			if mask[b*seqLen+s] != 1 {
				continue
			}
			n++
			tok := hidden[(b*seqLen+s)*dim : (b*seqLen+s+1)*dim]
			for d, v := range tok {
				acc[d] += v
			}
		}
		if n == 0 {
			continue
		}
		for d := range acc {
			acc[d] /= n
		}
	}
	return out
}

// normalize scales v to unit L2 length in place. Zero vectors are left as is.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
