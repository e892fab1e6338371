package cupom

import (
	"image"

	"github.com/disintegration/imaging"
)

const (
	// MaxDetectSize bounds the longest image side before region detection.
	MaxDetectSize = 1200
	// MinRegionFrac is the minimum fraction of the total image area a
	// candidate contour must cover to be accepted as the receipt boundary.
	// Smaller candidates are print fragments or photo artifacts.
	MinRegionFrac = 0.05

	// edgeThreshold is the gradient magnitude cutoff for the binary edge map.
	edgeThreshold = 60
)

// Region is the detected receipt area: the bounding rectangle inside the
// working image plus the cropped pixels it bounds.
type Region struct {
	Rect image.Rectangle
	Img  *image.NRGBA
}

// DetectRegion locates the receipt boundary within a photograph and crops
// to it. The input is clamped to MaxDetectSize first. The function never
// fails: when no contour survives the area filter the whole working image
// is returned as the region.
func DetectRegion(src image.Image) Region {
	work := imaging.Clone(clampLongSide(src, MaxDetectSize))

	gray := imaging.Grayscale(work)
	gray = imaging.Blur(gray, 0.8)

	edges := sobelEdges(gray, edgeThreshold)
	edges = dilateBinary(edges, 1)

	total := work.Bounds().Dx() * work.Bounds().Dy()
	minArea := int(float64(total) * MinRegionFrac)
	rect, ok := largestComponent(edges, minArea)
	if !ok {
		return Region{Rect: work.Bounds(), Img: work}
	}
	rect = rect.Intersect(work.Bounds())
	if rect.Empty() {
		return Region{Rect: work.Bounds(), Img: work}
	}
	return Region{Rect: rect, Img: imaging.Crop(work, rect)}
}

// clampLongSide downscales proportionally when the longer side exceeds max.
func clampLongSide(img image.Image, max int) image.Image {
	b := img.Bounds()
	if b.Dx() <= max && b.Dy() <= max {
		return img
	}
	return imaging.Fit(img, max, max, imaging.Lanczos)
}

// sobelEdges computes a binary edge map from a grayscale image using the
// Sobel operator. Pixels whose gradient magnitude reaches threshold are set
// to 255, everything else to 0.
func sobelEdges(img *image.NRGBA, threshold int) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	lum := make([]int, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// Grayscale input: R carries the luminance.
			lum[y*w+x] = int(img.Pix[y*img.Stride+x*4])
		}
	}
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			tl := lum[(y-1)*w+x-1]
			tc := lum[(y-1)*w+x]
			tr := lum[(y-1)*w+x+1]
			ml := lum[y*w+x-1]
			mr := lum[y*w+x+1]
			bl := lum[(y+1)*w+x-1]
			bc := lum[(y+1)*w+x]
			br := lum[(y+1)*w+x+1]
			gx := (tr + 2*mr + br) - (tl + 2*ml + bl)
			gy := (bl + 2*bc + br) - (tl + 2*tc + tr)
			if gx < 0 {
				gx = -gx
			}
			if gy < 0 {
				gy = -gy
			}
			if gx+gy >= threshold {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// dilateBinary grows edge pixels by a 4-neighborhood, radius times. Closes
// small gaps between adjacent edges so contours stay connected.
func dilateBinary(img *image.Gray, radius int) *image.Gray {
	if radius <= 0 {
		return img
	}
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	cur := img
	for r := 0; r < radius; r++ {
		next := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				on := false
				for _, d := range [][2]int{{0, 0}, {1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
					x2 := x + d[0]
					y2 := y + d[1]
					if x2 < 0 || y2 < 0 || x2 >= w || y2 >= h {
						continue
					}
					if cur.Pix[y2*cur.Stride+x2] != 0 {
						on = true
						break
					}
				}
				if on {
					next.Pix[y*next.Stride+x] = 255
				}
			}
		}
		cur = next
	}
	return cur
}

// largestComponent labels connected edge components (8-neighborhood) and
// returns the bounding box of the largest one whose bounding area reaches
// minArea. The bounding area stands in for the enclosed contour area: the
// receipt outline is the dominant closed shape in the frame.
func largestComponent(edges *image.Gray, minArea int) (image.Rectangle, bool) {
	w := edges.Bounds().Dx()
	h := edges.Bounds().Dy()
	visited := make([]bool, w*h)
	var best image.Rectangle
	bestArea := 0

	var stack [][2]int
	for sy := 0; sy < h; sy++ {
		for sx := 0; sx < w; sx++ {
			idx := sy*w + sx
			if visited[idx] || edges.Pix[sy*edges.Stride+sx] == 0 {
				continue
			}
			minX, minY, maxX, maxY := sx, sy, sx, sy
			visited[idx] = true
			stack = append(stack[:0], [2]int{sx, sy})
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				x, y := p[0], p[1]
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						x2 := x + dx
						y2 := y + dy
						if x2 < 0 || y2 < 0 || x2 >= w || y2 >= h {
							continue
						}
						i2 := y2*w + x2
						if visited[i2] || edges.Pix[y2*edges.Stride+x2] == 0 {
							continue
						}
						visited[i2] = true
						stack = append(stack, [2]int{x2, y2})
					}
				}
			}
			area := (maxX - minX + 1) * (maxY - minY + 1)
			if area >= minArea && area > bestArea {
				bestArea = area
				best = image.Rect(minX, minY, maxX+1, maxY+1)
			}
		}
	}
	if bestArea == 0 {
		return image.Rectangle{}, false
	}
	return best, true
}
