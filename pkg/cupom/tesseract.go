package cupom

import (
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// Recognizer turns an enhanced bitmap into raw text. The pipeline treats
// text recognition as an external capability behind this interface.
type Recognizer interface {
	Recognize(img image.Image) (string, error)
}

// Tesseract is the production Recognizer. Language defaults to Portuguese
// and the page segmentation mode to a single uniform block, which suits
// narrow line-structured receipts. The engine mode stays at the library
// default (LSTM); the binding fixes it at client creation.
type Tesseract struct {
	Lang string
	PSM  gosseract.PageSegMode
}

// NewTesseract returns a Recognizer configured for Brazilian receipts.
func NewTesseract() *Tesseract {
	return &Tesseract{Lang: "por", PSM: gosseract.PSM_SINGLE_BLOCK}
}

// Recognize runs one OCR pass over img.
func (t *Tesseract) Recognize(img image.Image) (string, error) {
	tmpFile, err := os.CreateTemp("", "cupom-ocr-*.png")
	if err != nil {
		return "", fmt.Errorf("tmp file: %w", err)
	}
	tmp := tmpFile.Name()
	_ = tmpFile.Close()
	defer os.Remove(tmp)
	if err := imaging.Save(img, tmp); err != nil {
		return "", fmt.Errorf("save ocr input: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()
	_ = client.SetLanguage(t.Lang)
	_ = client.SetPageSegMode(t.PSM)
	client.SetImage(tmp)
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}
	return text, nil
}
