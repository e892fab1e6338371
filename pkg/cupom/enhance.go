package cupom

import (
	"image"

	"github.com/disintegration/imaging"
)

// MaxOCRSize bounds the longest side of the bitmap handed to OCR. A tighter
// cap than MaxDetectSize: Tesseract latency grows fast with resolution and
// receipt glyphs survive the downscale.
const MaxOCRSize = 800

// Enhance normalizes a detected region into an OCR-ready bitmap: resize to
// the OCR cap, grayscale, mild contrast/sharpen touch-up, then a global Otsu
// threshold. Output is strictly binary (pixels are 0 or 255). Otsu was
// chosen over a local-adaptive threshold: receipts are evenly lit after
// cropping and the global pass is considerably cheaper.
func Enhance(region Region) *image.Gray {
	img := clampLongSide(region.Img, MaxOCRSize)
	g := imaging.Grayscale(img)
	g = imaging.AdjustContrast(g, 15)
	g = imaging.Sharpen(g, 0.7)
	return binarizeOtsu(g)
}

// binarizeOtsu applies a global threshold picked by Otsu's method.
func binarizeOtsu(img *image.NRGBA) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var hist [256]int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hist[img.Pix[y*img.Stride+x*4]]++
		}
	}
	t := otsuLevel(hist, w*h)
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if img.Pix[y*img.Stride+x*4] > t {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// otsuLevel finds the threshold maximizing between-class variance.
func otsuLevel(hist [256]int, total int) uint8 {
	if total == 0 {
		return 127
	}
	var sum float64
	for i, c := range hist {
		sum += float64(i) * float64(c)
	}
	var sumB, wB float64
	var maxVar float64
	var level uint8
	for i := 0; i < 256; i++ {
		wB += float64(hist[i])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(i) * float64(hist[i])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > maxVar {
			maxVar = between
			level = uint8(i)
		}
	}
	return level
}
