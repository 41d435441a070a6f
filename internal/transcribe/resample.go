package transcribe

// Downsample converts mono PCM from srcRate to dstRate by nearest-sample
// selection. Good enough for speech headed to an STT model; not meant for
// playback quality.
func Downsample(pcm []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) == 0 {
		return pcm
	}
	n := int(int64(len(pcm)) * int64(dstRate) / int64(srcRate))
	if n < 1 {
		n = 1
	}
	out := make([]int16, n)
	for i := range out {
		idx := int(int64(i) * int64(srcRate) / int64(dstRate))
		if idx >= len(pcm) {
			idx = len(pcm) - 1
		}
		out[i] = pcm[idx]
	}
	return out
}
