package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"cupomapi/pkg/cupom"
)

// Runs the full extraction pipeline on one file and prints the outcome,
// including the raw OCR text when no total was found.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: go run ./process/cmd_debug_pipeline <image>")
		os.Exit(2)
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatalf("read: %v", err)
	}

	pipe := cupom.New(cupom.NewTesseract())
	res, err := pipe.Run(data)
	if err != nil {
		if errors.Is(err, cupom.ErrNoTotal) {
			fmt.Printf("no total found\nraw text:\n%s\n", cupom.Snippet(res.RawText, 500))
			os.Exit(1)
		}
		log.Fatalf("pipeline: %v", err)
	}
	fmt.Printf("total=%.2f cents=%d\n", res.Total, res.TotalCents)
}
