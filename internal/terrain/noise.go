package terrain

import "math"

// Deterministic 3D value noise over an integer lattice.

// fade is the quintic smoothstep 6t^5 - 15t^4 + 10t^3.
func fade(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

// hash3 is a SplitMix64 finaliser over the lattice coordinate, one odd constant per axis.
func hash3(x, y, z, seed int64) uint64 {
	v := uint64(x)*0x9E3779B97F4A7C15 + uint64(y)*0x517CC1B727220A95 + uint64(z)*0x6C62272E07BB0142 + uint64(seed)
	v += 0x9E3779B97F4A7C15
	v = (v ^ (v >> 30)) * 0xBF58476D1CE4E5B9
	v = (v ^ (v >> 27)) * 0x94D049BB133111EB
	return v ^ (v >> 31)
}

// lattice maps a lattice point to [-1,1].
func lattice(x, y, z, seed int64) float64 {
	h := hash3(x, y, z, seed)
	return float64(h&0xFFFFFFFF)/float64(0xFFFFFFFF)*2 - 1
}

func valueNoise3D(x, y, z float64, seed int64) float64 {
	x0, y0, z0 := math.Floor(x), math.Floor(y), math.Floor(z)
	ix, iy, iz := int64(x0), int64(y0), int64(z0)
	fx, fy, fz := fade(x-x0), fade(y-y0), fade(z-z0)

	c000 := lattice(ix, iy, iz, seed)
	c100 := lattice(ix+1, iy, iz, seed)
	c010 := lattice(ix, iy+1, iz, seed)
	c110 := lattice(ix+1, iy+1, iz, seed)
	c001 := lattice(ix, iy, iz+1, seed)
	c101 := lattice(ix+1, iy, iz+1, seed)
	c011 := lattice(ix, iy+1, iz+1, seed)
	c111 := lattice(ix+1, iy+1, iz+1, seed)

	a := lerp(lerp(c000, c100, fx), lerp(c010, c110, fx), fy)
	b := lerp(lerp(c001, c101, fx), lerp(c011, c111, fx), fy)
	return lerp(a, b, fz)
}

// octaves sums n layers of a [-1,1] noise function and renormalises the result.
func octaves(eval func(x, y, z float64, octave int) float64, x, y, z float64, n int, persistence, lacunarity float64) float64 {
	amplitude, frequency := 1.0, 1.0
	sum, norm := 0.0, 0.0
	for i := range n {
		sum += eval(x*frequency, y*frequency, z*frequency, i) * amplitude
		norm += amplitude
		amplitude *= persistence
		frequency *= lacunarity
	}
	if norm == 0 {
		return 0
	}
	return sum / norm
}
