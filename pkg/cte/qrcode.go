package cte

import (
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// DecodeQR decodes a QR code from a document photograph. It tries the image
// as-is and then progressively enhanced variants (grayscale, contrast
// boost, mean threshold) until one reads. Returns the QR payload, normally
// the consultation URL printed on the DACTE.
func DecodeQR(img image.Image) (string, error) {
	gray := imaging.Grayscale(img)
	variants := []image.Image{
		img,
		gray,
		imaging.AdjustContrast(gray, 40),
		meanThreshold(gray),
	}
	reader := qrcode.NewQRCodeReader()
	for _, v := range variants {
		bmp, err := gozxing.NewBinaryBitmapFromImage(v)
		if err != nil {
			continue
		}
		res, err := reader.Decode(bmp, nil)
		if err != nil {
			continue
		}
		return res.GetText(), nil
	}
	return "", ErrNoQRCode
}

// LooksLikeConsultaURL reports whether a decoded payload resembles a fiscal
// consultation URL. Callers may proceed on false (state portals use varied
// domains) but should log it.
func LooksLikeConsultaURL(url string) bool {
	low := strings.ToLower(url)
	return strings.Contains(low, "cte") || strings.Contains(low, "nfe") || strings.Contains(low, "fazenda")
}

// meanThreshold binarizes a grayscale image around its mean luminance.
func meanThreshold(img *image.NRGBA) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return image.NewGray(b)
	}
	var sum int64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum += int64(img.Pix[y*img.Stride+x*4])
		}
	}
	mean := uint8(sum / int64(w*h))
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if img.Pix[y*img.Stride+x*4] > mean {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}
