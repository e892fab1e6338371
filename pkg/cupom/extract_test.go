package cupom

import (
	"errors"
	"testing"
)

func TestExtractDirectPatterns(t *testing.T) {
	cases := []struct {
		text string
		want float64
	}{
		{"VALOR TOTAL R$ 45,90", 45.90},
		{"TOTAL: 12.50", 12.50},
		{"VL TOTAL R$ 9,99", 9.99},
		{"VALOR A PAGAR 120,00", 120.00},
	}
	for _, c := range cases {
		got, err := ExtractTotal(c.text)
		if err != nil {
			t.Fatalf("ExtractTotal(%q) error: %v", c.text, err)
		}
		if got != c.want {
			t.Fatalf("ExtractTotal(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestExtractPriorityOrder(t *testing.T) {
	// VALOR TOTAL outranks a bare TOTAL match earlier in the text.
	got, err := ExtractTotal("TOTAL 5,00 VALOR TOTAL 7,00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 7.00 {
		t.Fatalf("expected 7.00 got %v", got)
	}
}

func TestExtractNoKeyword(t *testing.T) {
	_, err := ExtractTotal("lorem ipsum dolor sit amet")
	if !errors.Is(err, ErrNoTotal) {
		t.Fatalf("expected ErrNoTotal got %v", err)
	}
}

func TestExtractLineScanLastNumber(t *testing.T) {
	// Keyword line carries no number; the following line carries three.
	// The grand total is conventionally the last one.
	text := "ITEM 1 2,00\nTOTAL A PAGAR\n10,00 5,00 23,00"
	got, err := ExtractTotal(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 23.00 {
		t.Fatalf("expected 23.00 got %v", got)
	}
}

func TestExtractWindowScan(t *testing.T) {
	// Amount past the two-line lookahead but within the byte window.
	got, err := ExtractTotal("TOTAL\n\n\n\n12,34")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 12.34 {
		t.Fatalf("expected 12.34 got %v", got)
	}
}

func TestExtractWindowScanMultibytePrefix(t *testing.T) {
	// OCR noise can yield glyphs whose uppercase form has a different byte
	// length; the window offset must index the original text, not an
	// uppercased copy, or the window shifts and truncates the amount.
	text := "ſſſſſſſſſſTOTAL\nab\ncd\nefg 12,34"
	got, err := ExtractTotal(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 12.34 {
		t.Fatalf("expected 12.34 got %v", got)
	}
}

func TestDecimalNormalization(t *testing.T) {
	comma, err := ExtractTotal("TOTAL 1,50")
	if err != nil {
		t.Fatalf("comma: %v", err)
	}
	dot, err := ExtractTotal("TOTAL 1.50")
	if err != nil {
		t.Fatalf("dot: %v", err)
	}
	if comma != 1.50 || dot != 1.50 {
		t.Fatalf("expected 1.50/1.50 got %v/%v", comma, dot)
	}
}

func TestExtractIdempotent(t *testing.T) {
	texts := []string{
		"VALOR TOTAL R$ 45,90",
		"lorem ipsum",
		"ITEM 1 2,00\nTOTAL A PAGAR\n10,00 5,00 23,00",
	}
	for _, text := range texts {
		a, errA := ExtractTotal(text)
		b, errB := ExtractTotal(text)
		if a != b || (errA == nil) != (errB == nil) {
			t.Fatalf("ExtractTotal(%q) not idempotent: %v/%v vs %v/%v", text, a, errA, b, errB)
		}
	}
}
