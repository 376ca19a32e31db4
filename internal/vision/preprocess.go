package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

var (
	detectionMean = [3]float32{127.5, 127.5, 127.5}
	detectionStd  = [3]float32{128.0, 128.0, 128.0}
	embeddingMean = [3]float32{127.5, 127.5, 127.5}
	embeddingStd  = [3]float32{127.5, 127.5, 127.5}
)

// imageToFloat32CHW converts an image to CHW float32 format with normalization:
//
//	pixel = (pixel - mean) / std
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := resizeImage(img, targetW, targetH)
	w, h := targetW, targetH
	data := make([]float32, 3*h*w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := resized.PixOffset(x, y)
			px := resized.Pix[off : off+3 : off+3]

			// CHW layout: [C][H][W]
			idx := y*w + x
			data[0*h*w+idx] = (float32(px[0]) - mean[0]) / std[0] // R
			data[1*h*w+idx] = (float32(px[1]) - mean[1]) / std[1] // G
			data[2*h*w+idx] = (float32(px[2]) - mean[2]) / std[2] // B
		}
	}

	return data
}

// resizeImage scales img to exactly targetW x targetH with bilinear filtering.
func resizeImage(img image.Image, targetW, targetH int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// letterbox scales img to fit a side x side canvas, keeping its aspect
// ratio, anchored top-left on a mid-gray background. It returns the canvas
// and the scale factor applied to img.
func letterbox(img image.Image, side int) (*image.RGBA, float32) {
	b := img.Bounds()
	scale := float32(side) / float32(max(b.Dx(), b.Dy(), 1))
	w := max(1, int(float32(b.Dx())*scale))
	h := max(1, int(float32(b.Dy())*scale))

	canvas := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.RGBA{128, 128, 128, 255}), image.Point{}, draw.Src)
	draw.BiLinear.Scale(canvas, image.Rect(0, 0, w, h), img, b, draw.Src, nil)
	return canvas, scale
}

// cropFace extracts a face region with 10% padding on each side.
// bbox is relative to the image bounds origin. Returns nil for an empty region.
func cropFace(img image.Image, bbox [4]float32) *image.RGBA {
	bounds := img.Bounds()

	x1 := bounds.Min.X + int(bbox[0])
	y1 := bounds.Min.Y + int(bbox[1])
	x2 := bounds.Min.X + int(bbox[2])
	y2 := bounds.Min.Y + int(bbox[3])

	w := x2 - x1
	h := y2 - y1
	if w <= 0 || h <= 0 {
		return nil
	}

	padW := int(float32(w) * 0.1)
	padH := int(float32(h) * 0.1)
	region := image.Rect(x1-padW, y1-padH, x2+padW, y2+padH).Intersect(bounds)
	if region.Empty() {
		return nil
	}

	crop := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(crop, crop.Bounds(), img, region.Min, draw.Src)
	return crop
}

// EncodeJPEG encodes an image as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// ErrInvalidImage is returned for bytes that are not a decodable image.
var ErrInvalidImage = errors.New("invalid image")

// DecodeImage decodes JPEG or PNG bytes.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}
