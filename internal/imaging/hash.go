package imaging

import (
	"image"
	"math"
	"sort"
)

// Fingerprint holds the perceptual hashes of a captured frame. The
// registration flow uses it to reject the same photograph re-submitted for a
// different pose view; the challenge verifier uses it to collapse identical
// consecutive frames.
type Fingerprint struct {
	PHash uint64 `json:"phash"`
	DHash uint64 `json:"dhash"`
}

// Hash computes both perceptual hashes for an image.
func Hash(img image.Image) Fingerprint {
	return Fingerprint{
		PHash: pHash(img),
		DHash: dHash(img),
	}
}

// HammingDistance counts differing bits between two 64-bit hashes.
func HammingDistance(a, b uint64) int {
	xor := a ^ b
	distance := 0
	for xor != 0 {
		distance++
		xor &= xor - 1 // Clear lowest set bit
	}
	return distance
}

// Similar reports whether two fingerprints are within threshold bits on the
// perceptual hash. A threshold of 6 catches re-submitted captures while
// tolerating re-encoding artifacts.
func Similar(a, b Fingerprint, threshold int) bool {
	return HammingDistance(a.PHash, b.PHash) <= threshold
}

// Identical reports whether two fingerprints come from byte-for-byte or
// near-identical frames (zero difference-hash distance).
func Identical(a, b Fingerprint) bool {
	return HammingDistance(a.DHash, b.DHash) == 0
}

// pHash computes a 64-bit perceptual hash: 32x32 grayscale DCT, keep the
// low-frequency 8x8 block, threshold each coefficient against the median of
// the AC coefficients.
func pHash(img image.Image) uint64 {
	gray := grayPlane(Resize(img, 32, 32))
	dct := dct2d(gray)

	// Median over the 63 AC coefficients of the 8x8 block; the DC term would
	// dominate it.
	ac := make([]float64, 0, 63)
	for v := range 8 {
		for u := range 8 {
			if u == 0 && v == 0 {
				continue
			}
			ac = append(ac, dct[v][u])
		}
	}
	median := medianOf(ac)

	var hash uint64
	bit := 63
	for v := range 8 {
		for u := range 8 {
			if dct[v][u] > median {
				hash |= 1 << bit
			}
			bit--
		}
	}
	return hash
}

// dHash computes a 64-bit difference hash: 9x8 grayscale, one bit per
// horizontal neighbor comparison.
func dHash(img image.Image) uint64 {
	gray := grayPlane(Resize(img, 9, 8))

	var hash uint64
	bit := 63
	for y := range 8 {
		for x := range 8 {
			if gray[y][x] > gray[y][x+1] {
				hash |= 1 << bit
			}
			bit--
		}
	}
	return hash
}

// grayPlane converts an image to a row-major grid of BT.601 luma values.
func grayPlane(img image.Image) [][]float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	plane := make([][]float64, height)
	for y := range height {
		plane[y] = make([]float64, width)
		for x := range width {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			plane[y][x] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}
	return plane
}

// dct2d computes the square DCT-II of a grayscale plane.
func dct2d(plane [][]float64) [][]float64 {
	size := len(plane)
	out := make([][]float64, size)
	for i := range out {
		out[i] = make([]float64, size)
	}

	cosTable := make([][]float64, size)
	for k := range cosTable {
		cosTable[k] = make([]float64, size)
		for n := range size {
			cosTable[k][n] = math.Cos(math.Pi * float64(k) * (2*float64(n) + 1) / (2 * float64(size)))
		}
	}

	for v := range size {
		for u := range size {
			var sum float64
			for y := range size {
				for x := range size {
					sum += plane[y][x] * cosTable[u][x] * cosTable[v][y]
				}
			}
			out[v][u] = sum
		}
	}
	return out
}

func medianOf(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
