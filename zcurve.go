package octgrid

// zCurveX returns the first coordinate of the 2D Morton code z.
func zCurveX(z int) int {
	return compact1By1(uint32(z))
}

// zCurveY returns the second coordinate of the 2D Morton code z.
func zCurveY(z int) int {
	return compact1By1(uint32(z) >> 1)
}

// compact1By1 keeps every even bit of x and packs them together.
func compact1By1(x uint32) int {
	x &= 0x55555555
	x = (x ^ (x >> 1)) & 0x33333333
	x = (x ^ (x >> 2)) & 0x0f0f0f0f
	x = (x ^ (x >> 4)) & 0x00ff00ff
	x = (x ^ (x >> 8)) & 0x0000ffff
	return int(x)
}
