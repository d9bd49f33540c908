package changedetect

import (
	"image"
	"image/color"
)

// prepared is the cached pair of derivatives compared between frames.
// Only these derivatives enter comparisons; the original image is kept
// only when a frame is actually captured.
type prepared struct {
	gray [resizeDim * resizeDim]uint8 // blurred 8-bit grayscale, resizeDim x resizeDim
	hist [histHBins * histSBins]float64
}

// prepare resizes img to a resizeDim square, then derives a blurred
// grayscale plane and a normalized H-S histogram from it.
func prepare(img image.Image) *prepared {
	square := resizeNearest(img, resizeDim, resizeDim)
	p := &prepared{}
	gray := toGray(square)
	blurred := gaussianBlur7(gray)
	copy(p.gray[:], blurred)
	p.hist = hsHistogram(square)
	return p
}

// resizeNearest does a fast nearest-neighbor resize. No corpus dependency
// ships an image scaler, so this is hand-rolled against stdlib image types.
func resizeNearest(img image.Image, w, h int) *image.RGBA {
	src := img.Bounds()
	sw, sh := src.Dx(), src.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if sw == 0 || sh == 0 {
		return dst
	}
	for y := 0; y < h; y++ {
		sy := src.Min.Y + y*sh/h
		for x := 0; x < w; x++ {
			sx := src.Min.X + x*sw/w
			dst.Set(x, y, img.At(sx, sy))
		}
	}
	return dst
}

// toGray converts an RGBA square into a flat 8-bit luminance plane.
func toGray(img *image.RGBA) []uint8 {
	b := img.Bounds()
	out := make([]uint8, b.Dx()*b.Dy())
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			out[i] = g.Y
			i++
		}
	}
	return out
}

// gaussianBlur7 applies a separable 7x7 Gaussian kernel (binomial weights,
// sigma ≈ 1.2; OpenCV's default GaussianBlur(ksize=(7,7)) uses sigma 1.4),
// close enough for change detection, which only needs a smoothed plane, not
// bit-exact parity.
func gaussianBlur7(plane []uint8) []uint8 {
	kernel := []float64{1, 6, 15, 20, 15, 6, 1} // binomial approximation, sums to 64
	const ksum = 64.0
	const dim = resizeDim
	tmp := make([]float64, dim*dim)
	out := make([]uint8, dim*dim)

	// horizontal pass
	for y := 0; y < dim; y++ {
		row := y * dim
		for x := 0; x < dim; x++ {
			var acc float64
			for k := -3; k <= 3; k++ {
				xx := clampInt(x+k, 0, dim-1)
				acc += float64(plane[row+xx]) * kernel[k+3]
			}
			tmp[row+x] = acc / ksum
		}
	}
	// vertical pass
	for x := 0; x < dim; x++ {
		for y := 0; y < dim; y++ {
			var acc float64
			for k := -3; k <= 3; k++ {
				yy := clampInt(y+k, 0, dim-1)
				acc += tmp[yy*dim+x] * kernel[k+3]
			}
			v := acc / ksum
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			out[y*dim+x] = uint8(v)
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// hsHistogram builds a 50x60 Hue-Saturation 2D histogram, normalized so
// all bins sum to 1.
func hsHistogram(img *image.RGBA) [histHBins * histSBins]float64 {
	var hist [histHBins * histSBins]float64
	b := img.Bounds()
	var total float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			h, s := rgbToHS(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			hi := int(h / 360.0 * histHBins)
			if hi >= histHBins {
				hi = histHBins - 1
			}
			si := int(s * histSBins)
			if si >= histSBins {
				si = histSBins - 1
			}
			hist[hi*histSBins+si]++
			total++
		}
	}
	if total > 0 {
		for i := range hist {
			hist[i] /= total
		}
	}
	return hist
}

// rgbToHS converts 8-bit RGB to (hue in [0,360), saturation in [0,1]).
func rgbToHS(r, g, b uint8) (float64, float64) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	maxV := max3(rf, gf, bf)
	minV := min3(rf, gf, bf)
	delta := maxV - minV

	var h float64
	switch {
	case delta == 0:
		h = 0
	case maxV == rf:
		h = 60 * (((gf - bf) / delta))
	case maxV == gf:
		h = 60 * ((bf-rf)/delta + 2)
	default:
		h = 60 * ((rf-gf)/delta + 4)
	}
	if h < 0 {
		h += 360
	}

	var s float64
	if maxV > 0 {
		s = delta / maxV
	}
	return h, s
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
