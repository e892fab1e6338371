package cupom

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"
	"unicode/utf8"

	"github.com/disintegration/imaging"
)

type fakeRecognizer struct {
	text string
	err  error
}

func (f *fakeRecognizer) Recognize(img image.Image) (string, error) {
	return f.text, f.err
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{255, 255, 255, 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestRunExtractsTotal(t *testing.T) {
	p := New(&fakeRecognizer{text: "MERCADO X\nVALOR TOTAL R$ 45,90"})
	res, err := p.Run(pngBytes(t, 200, 200))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Total != 45.90 {
		t.Fatalf("expected 45.90 got %v", res.Total)
	}
	if res.TotalCents != 4590 {
		t.Fatalf("expected 4590 centavos got %d", res.TotalCents)
	}
	if res.RawText == "" {
		t.Fatalf("raw text missing from result")
	}
}

func TestRunRejectsNonImage(t *testing.T) {
	p := New(&fakeRecognizer{text: "irrelevant"})
	_, err := p.Run([]byte("definitely not an image"))
	if !errors.Is(err, ErrNotImage) {
		t.Fatalf("expected ErrNotImage got %v", err)
	}
}

func TestRunNoTotal(t *testing.T) {
	p := New(&fakeRecognizer{text: "lorem ipsum"})
	res, err := p.Run(pngBytes(t, 100, 100))
	if !errors.Is(err, ErrNoTotal) {
		t.Fatalf("expected ErrNoTotal got %v", err)
	}
	// Raw text survives a miss so callers can log or debug it.
	if res.RawText != "lorem ipsum" {
		t.Fatalf("expected raw text on miss, got %q", res.RawText)
	}
}

func TestRunPropagatesOCRFault(t *testing.T) {
	p := New(&fakeRecognizer{err: errors.New("engine fault")})
	_, err := p.Run(pngBytes(t, 100, 100))
	if err == nil || errors.Is(err, ErrNotImage) || errors.Is(err, ErrNoTotal) {
		t.Fatalf("expected processing error, got %v", err)
	}
}

func TestInspectArtifacts(t *testing.T) {
	p := New(&fakeRecognizer{text: "TOTAL 10,00"})
	arts, err := p.Inspect(pngBytes(t, 640, 480))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for name, img := range map[string]*image.NRGBA{
		"original": arts.Original,
		"cropped":  arts.Cropped,
		"enhanced": arts.Enhanced,
	} {
		if img == nil {
			t.Fatalf("%s artifact missing", name)
		}
		if img.Bounds().Dx() > 300 || img.Bounds().Dy() > 300 {
			t.Fatalf("%s artifact exceeds thumbnail bound: %v", name, img.Bounds())
		}
	}
	if arts.RawText != "TOTAL 10,00" {
		t.Fatalf("unexpected raw text %q", arts.RawText)
	}
}

func TestSnippetCaps(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'a'
	}
	s := Snippet(string(long), RawTextCap)
	if len(s) > RawTextCap+len("…") {
		t.Fatalf("snippet too long: %d", len(s))
	}
	if Snippet("short", RawTextCap) != "short" {
		t.Fatalf("short text must pass through unchanged")
	}
}

func TestSnippetRuneBoundary(t *testing.T) {
	// Portuguese OCR text is full of accented runes; a cut landing inside
	// one must back up instead of emitting a stray byte.
	if got := Snippet("ação", 2); got != "a…" {
		t.Fatalf("expected %q got %q", "a…", got)
	}
	if got := Snippet("ação", 3); got != "aç…" {
		t.Fatalf("expected %q got %q", "aç…", got)
	}
	if !utf8.ValidString(Snippet("çãçãçã", 5)) {
		t.Fatalf("snippet produced invalid utf-8")
	}
}
