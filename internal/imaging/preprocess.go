package imaging

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// Normalization holds the per-channel statistics and resize mode a vision model was trained with.
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
	// Squash resizes straight to the square input size instead of resizing the short side and center cropping.
	Squash bool
}

var (
	// CLIP is the OpenAI CLIP preprocessing.
	CLIP = Normalization{
		Mean: [3]float32{0.48145466, 0.4578275, 0.40821073},
		Std:  [3]float32{0.26862954, 0.26130258, 0.27577711},
	}
	// SigLIP is the SigLIP / SigLIP2 preprocessing.
	SigLIP = Normalization{
		Mean:   [3]float32{0.5, 0.5, 0.5},
		Std:    [3]float32{0.5, 0.5, 0.5},
		Squash: true,
	}
)

// NormalizationByName returns the preprocessing for "clip" or "siglip".
func NormalizationByName(name string) (Normalization, error) {
	switch name {
	case "clip":
		return CLIP, nil
	case "siglip":
		return SigLIP, nil
	default:
		return Normalization{}, fmt.Errorf("unknown normalization %q (supported: clip, siglip)", name)
	}
}

// Resize scales img to a size x size RGBA image using Catmull-Rom interpolation.
func Resize(img image.Image, size int, norm Normalization) *image.RGBA {
	src := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	if norm.Squash || src.Dx() == src.Dy() {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
		return dst
	}

	// Short side to size, then center crop.
	w, h := src.Dx(), src.Dy()
	var sw, sh int
	if w < h {
		sw, sh = size, h*size/w
	} else {
		sw, sh = w*size/h, size
	}
	scaled := image.NewRGBA(image.Rect(0, 0, sw, sh))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, src, draw.Src, nil)
	x0 := (sw - size) / 2
	y0 := (sh - size) / 2
	draw.Copy(dst, image.Point{}, scaled, image.Rect(x0, y0, x0+size, y0+size), draw.Src, nil)
	return dst
}

// ToTensor writes img into dst as a normalized 3 x size x size CHW tensor.
// dst must have length 3*size*size.
func ToTensor(img image.Image, size int, norm Normalization, dst []float32) error {
	plane := size * size
	if len(dst) != 3*plane {
		return fmt.Errorf("tensor buffer has length %d, want %d", len(dst), 3*plane)
	}
	rgba := Resize(img, size, norm)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := rgba.PixOffset(x, y)
			p := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(rgba.Pix[i+c]) / 255
				dst[c*plane+p] = (v - norm.Mean[c]) / norm.Std[c]
			}
		}
	}
	return nil
}
