package changedetect

import "math"

// changeScore implements spec.md §4.1's two-stage comparator against the
// last captured keyframe's derivatives (not the immediately preceding
// sampled frame — this guards against slow drift).
func changeScore(prev, cur *prepared) float64 {
	c := histogramCorrelation(prev.hist, cur.hist)
	h := 1 - math.Max(c, 0)

	if c > earlyExitC {
		return round4(0.5 * h)
	}

	s := structuralChange(prev.gray, cur.gray)
	return round4(0.5*h + 0.5*s)
}

// histogramCorrelation is Pearson correlation over the normalized H-S bins,
// matching OpenCV's HISTCMP_CORREL.
func histogramCorrelation(a, b [histHBins * histSBins]float64) float64 {
	n := float64(len(a))
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	var num, denA, denB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		num += da * db
		denA += da * da
		denB += db * db
	}
	den := math.Sqrt(denA * denB)
	if den == 0 {
		return 1 // two flat histograms are identical
	}
	return num / den
}

// structuralChange is the fraction of pixels whose blurred-grayscale value
// differs from the reference by more than grayDiffTol.
func structuralChange(a, b [resizeDim * resizeDim]uint8) float64 {
	var changed int
	for i := range a {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		if d > grayDiffTol {
			changed++
		}
	}
	return float64(changed) / float64(pixelCount)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
