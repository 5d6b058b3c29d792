package core

import (
	"image"
	"unsafe"

	"golang.org/x/image/draw"
)

// SliceUint32 reslices bytes into a uint32, that is used
// to sumbit vulkan shaders for processing
func SliceUint32(data []byte) []uint32 {
	if len(data) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
}

// GetPixels transforms a given image into tightly packed RGBA pixels
// by drawing the decoded image onto a controlled RGBA canvas
func GetPixels(img image.Image) []uint8 {
	bounds := img.Bounds()
	newImg := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(newImg, newImg.Bounds(), img, bounds.Min, draw.Src)
	return newImg.Pix
}

// ScalePixels resamples img to width x height and returns its RGBA pixels.
func ScalePixels(img image.Image, width, height int) []uint8 {
	newImg := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(newImg, newImg.Bounds(), img, img.Bounds(), draw.Src, nil)
	return newImg.Pix
}
