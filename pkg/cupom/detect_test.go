package cupom

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
)

func TestDetectRegionRectangle(t *testing.T) {
	bg := imaging.New(400, 400, color.NRGBA{255, 255, 255, 255})
	sheet := imaging.New(200, 200, color.NRGBA{20, 20, 20, 255})
	img := imaging.Paste(bg, sheet, image.Pt(100, 100))

	region := DetectRegion(img)
	b := img.Bounds()
	if !region.Rect.In(b) {
		t.Fatalf("region %v outside image bounds %v", region.Rect, b)
	}
	if region.Rect.Dx() <= 0 || region.Rect.Dy() <= 0 {
		t.Fatalf("region has non-positive dimensions: %v", region.Rect)
	}
	if region.Rect.Dx() >= b.Dx() {
		t.Fatalf("expected a crop narrower than the image, got %v", region.Rect)
	}
	// Detected box should approximate the pasted sheet (blur and dilation
	// add a few pixels of margin).
	if region.Rect.Dx() < 180 || region.Rect.Dx() > 240 {
		t.Fatalf("region width %d far from sheet width 200", region.Rect.Dx())
	}
	if region.Img == nil || region.Img.Bounds().Dx() != region.Rect.Dx() {
		t.Fatalf("region image does not match rect: %v vs %v", region.Img.Bounds(), region.Rect)
	}
}

func TestDetectRegionFallbackSolid(t *testing.T) {
	img := imaging.New(300, 200, color.NRGBA{128, 128, 128, 255})
	region := DetectRegion(img)
	if region.Rect != image.Rect(0, 0, 300, 200) {
		t.Fatalf("expected full-image fallback, got %v", region.Rect)
	}
	if region.Img == nil || region.Img.Bounds().Dx() != 300 || region.Img.Bounds().Dy() != 200 {
		t.Fatalf("fallback image wrong: %v", region.Img.Bounds())
	}
}

func TestDetectRegionFallbackSmallContours(t *testing.T) {
	// A speck far below the minimum area fraction must not become the region.
	bg := imaging.New(400, 400, color.NRGBA{255, 255, 255, 255})
	speck := imaging.New(20, 20, color.NRGBA{0, 0, 0, 255})
	img := imaging.Paste(bg, speck, image.Pt(50, 50))

	region := DetectRegion(img)
	if region.Rect != image.Rect(0, 0, 400, 400) {
		t.Fatalf("expected full-image fallback, got %v", region.Rect)
	}
}

func TestDetectRegionClampsLargeInput(t *testing.T) {
	img := imaging.New(2400, 1200, color.NRGBA{200, 200, 200, 255})
	region := DetectRegion(img)
	if region.Rect.Dx() > MaxDetectSize || region.Rect.Dy() > MaxDetectSize {
		t.Fatalf("region exceeds working cap: %v", region.Rect)
	}
}
