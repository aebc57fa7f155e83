package assets

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/soniakeys/quant/median"
	"golang.org/x/image/bmp"
)

const (
	paletteSize = 256
	jpegQuality = 80
)

// IsRasterImage reports whether path names one of the image formats the
// pipeline recompresses.
func IsRasterImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".bmp", ".jpg":
		return true
	}

	return false
}

// RecompressImage re-encodes raster image data in a lossy way: PNG and BMP
// are quantized down to a 256 color palette, JPEG is re-encoded at a lower
// quality. When the result would not be smaller the original bytes are
// returned unchanged so a package never grows. Unknown extensions pass
// through untouched.
func RecompressImage(data []byte, ext string) ([]byte, error) {
	var (
		out bytes.Buffer
		err error
	)

	switch strings.ToLower(ext) {
	case ".png":
		var img image.Image
		img, err = png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, eris.Wrap(err, "failed to decode PNG data")
		}

		encoder := png.Encoder{CompressionLevel: png.BestCompression}
		err = encoder.Encode(&out, quantize(img))
	case ".bmp":
		var img image.Image
		img, err = bmp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, eris.Wrap(err, "failed to decode BMP data")
		}

		err = bmp.Encode(&out, quantize(img))
	case ".jpg":
		var img image.Image
		img, err = jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, eris.Wrap(err, "failed to decode JPEG data")
		}

		err = jpeg.Encode(&out, img, &jpeg.Options{Quality: jpegQuality})
	default:
		return data, nil
	}

	if err != nil {
		return nil, eris.Wrap(err, "failed to re-encode image")
	}

	if out.Len() >= len(data) {
		return data, nil
	}

	return out.Bytes(), nil
}

// quantize reduces img to an indexed version with at most paletteSize
// colors, dithered to keep gradients acceptable on the small screen.
func quantize(img image.Image) *image.Paletted {
	bounds := img.Bounds()
	palette := median.Quantizer(paletteSize).Quantize(make(color.Palette, 0, paletteSize), img)

	indexed := image.NewPaletted(bounds, palette)
	draw.FloydSteinberg.Draw(indexed, bounds, img, bounds.Min)

	return indexed
}
