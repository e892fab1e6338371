package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"cupomapi/pkg/cupom"

	"github.com/disintegration/imaging"
)

// Dumps the intermediate pipeline images for one receipt photo so detection
// and binarization can be eyeballed.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: go run ./process/cmd_debug_preproc <image> [outdir]")
		os.Exit(2)
	}
	in := os.Args[1]
	outDir := os.TempDir()
	if len(os.Args) > 2 {
		outDir = os.Args[2]
	}

	img, err := imaging.Open(in)
	if err != nil {
		log.Fatalf("open: %v", err)
	}

	region := cupom.DetectRegion(img)
	enhanced := cupom.Enhance(region)

	base := filepath.Base(in)
	cropPath := filepath.Join(outDir, base+".crop.png")
	enhPath := filepath.Join(outDir, base+".enhanced.png")
	if err := imaging.Save(region.Img, cropPath); err != nil {
		log.Fatalf("save crop: %v", err)
	}
	if err := imaging.Save(enhanced, enhPath); err != nil {
		log.Fatalf("save enhanced: %v", err)
	}
	fmt.Printf("region=%v\ncrop=%s\nenhanced=%s\n", region.Rect, cropPath, enhPath)
}
