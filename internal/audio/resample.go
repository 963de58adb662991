package audio

// Resample converts mono PCM16 samples from fromRate to toRate using linear
// interpolation. Every call is independent; no filter state carries over
// between chunks. The output holds round(len*toRate/fromRate) samples, so
// duration is preserved within one sample. Non-positive rates yield nil.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return nil
	}

	out := make([]int16, OutputLength(len(samples), fromRate, toRate))
	if fromRate == toRate {
		copy(out, samples)
		return out
	}

	n := int64(len(samples))
	from, to := int64(fromRate), int64(toRate)
	for i := range out {
		// Source position i*from/to as integer part plus remainder over to
		pos := int64(i) * from
		idx := pos / to
		frac := pos % to

		if idx >= n-1 {
			out[i] = samples[n-1]
			continue
		}

		a := int64(samples[idx])
		b := int64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac/to)
	}

	return out
}

// OutputLength returns the number of samples Resample produces
func OutputLength(n, fromRate, toRate int) int {
	if fromRate <= 0 || toRate <= 0 {
		return 0
	}
	return int((int64(n)*int64(toRate) + int64(fromRate)/2) / int64(fromRate))
}
