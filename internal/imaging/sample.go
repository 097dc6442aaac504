package imaging

// SampleFactor returns the power-of-two reduction applied when decoding a
// width x height image for a reqWidth x reqHeight slot. A zero (or negative)
// requested dimension means unconstrained and yields 1.
func SampleFactor(width, height, reqWidth, reqHeight int) int {
	if reqWidth <= 0 || reqHeight <= 0 {
		return 1
	}
	factor := 1
	if height > reqHeight || width > reqWidth {
		halfHeight := height / 2
		halfWidth := width / 2
		for halfHeight/factor >= reqHeight && halfWidth/factor >= reqWidth {
			factor *= 2
		}
	}
	return factor
}

// scaled divides a dimension by the sample factor, never going below one pixel.
func scaled(dim, factor int) int {
	if factor <= 1 {
		return dim
	}
	if v := dim / factor; v > 0 {
		return v
	}
	return 1
}
