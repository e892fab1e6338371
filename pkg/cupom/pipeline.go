package cupom

import (
	"bytes"
	"fmt"
	"image"
	"log"
	"math"

	"github.com/disintegration/imaging"
)

const (
	// RawTextCap bounds how much OCR text is echoed back to clients.
	RawTextCap = 500
	// thumbSize bounds debug artifact dimensions.
	thumbSize = 300
)

// Result is a successful extraction.
type Result struct {
	Total      float64 // reais, two decimal places
	TotalCents int64   // same value in centavos, for storage
	RawText    string  // full OCR output; callers cap before responding
}

// Artifacts carries intermediate stage outputs for diagnostic consumption.
// Images are thumbnail-sized; the raw text is already capped. Not meant for
// production responses.
type Artifacts struct {
	Original *image.NRGBA
	Cropped  *image.NRGBA
	Enhanced *image.NRGBA
	RawText  string
}

// Pipeline sequences decode -> region detection -> enhancement -> OCR ->
// value extraction for one request. It holds no per-request state; a single
// Pipeline serves concurrent callers.
type Pipeline struct {
	OCR Recognizer
}

// New returns a Pipeline backed by the given recognizer.
func New(ocr Recognizer) *Pipeline {
	return &Pipeline{OCR: ocr}
}

// Run executes the full pipeline over encoded image bytes. Malformed bytes
// map to ErrNotImage, a missed total to ErrNoTotal; any stage fault surfaces
// as a wrapped processing error. No stage is retried.
func (p *Pipeline) Run(data []byte) (Result, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	region := DetectRegion(img)
	log.Printf("pipeline: region %dx%d of %dx%d", region.Rect.Dx(), region.Rect.Dy(), img.Bounds().Dx(), img.Bounds().Dy())

	enhanced := Enhance(region)
	text, err := p.OCR.Recognize(enhanced)
	if err != nil {
		return Result{}, fmt.Errorf("ocr: %w", err)
	}
	log.Printf("pipeline: ocr text snippet=%q", Snippet(text, 120))

	total, err := ExtractTotal(text)
	if err != nil {
		return Result{RawText: text}, err
	}
	return Result{
		Total:      total,
		TotalCents: int64(math.Round(total * 100)),
		RawText:    text,
	}, nil
}

// Inspect runs the pipeline stages and returns their intermediate outputs
// without attempting value extraction. Diagnostic path only.
func (p *Pipeline) Inspect(data []byte) (Artifacts, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return Artifacts{}, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	work := imaging.Clone(clampLongSide(img, MaxDetectSize))
	region := DetectRegion(work)
	enhanced := Enhance(region)
	text, err := p.OCR.Recognize(enhanced)
	if err != nil {
		return Artifacts{}, fmt.Errorf("ocr: %w", err)
	}
	return Artifacts{
		Original: thumbnail(work),
		Cropped:  thumbnail(region.Img),
		Enhanced: thumbnail(enhanced),
		RawText:  Snippet(text, RawTextCap),
	}, nil
}

func thumbnail(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() <= thumbSize && b.Dy() <= thumbSize {
		return imaging.Clone(img)
	}
	return imaging.Fit(img, thumbSize, thumbSize, imaging.Lanczos)
}
