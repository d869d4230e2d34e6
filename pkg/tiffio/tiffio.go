// Package tiffio loads microscope image stacks from directories of
// grayscale TIFF files. Each file holds one image plane; files are
// sorted alphanumerically and grouped into frames by channel count, so
// a two-channel acquisition lays out as
// frame0_ch0, frame0_ch1, frame1_ch0, ...
package tiffio

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/tiff"

	"budtrack/internal/models"
)

// LoadDir reads every .tif/.tiff file in dir into a stack with the
// given channel count. All planes must share one set of dimensions,
// and the file count must be a multiple of channels.
func LoadDir(dir string, channels int) (*models.Stack, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("tiffio: channel count must be positive, got %d", channels)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("tiffio: reading %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".tif" || ext == ".tiff" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("tiffio: no TIFF files in %s", dir)
	}
	sort.Strings(files)

	if len(files)%channels != 0 {
		return nil, fmt.Errorf("tiffio: %d planes do not divide into %d channels", len(files), channels)
	}

	planes := make([]image.Image, len(files))
	for i, path := range files {
		img, err := loadPlane(path)
		if err != nil {
			return nil, err
		}
		planes[i] = img
	}

	return FromImages(planes, channels)
}

// FromImages assembles a stack from decoded planes in frame-major,
// channel-minor order.
func FromImages(planes []image.Image, channels int) (*models.Stack, error) {
	if len(planes) == 0 || len(planes)%channels != 0 {
		return nil, fmt.Errorf("tiffio: %d planes do not divide into %d channels", len(planes), channels)
	}

	bounds := planes[0].Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	stack, err := models.NewStack(len(planes)/channels, channels, height, width)
	if err != nil {
		return nil, err
	}

	for i, img := range planes {
		b := img.Bounds()
		if b.Dx() != width || b.Dy() != height {
			return nil, fmt.Errorf("tiffio: plane %d is %dx%d, want %dx%d", i, b.Dx(), b.Dy(), width, height)
		}
		frame := i / channels
		channel := i % channels
		for row := 0; row < height; row++ {
			for col := 0; col < width; col++ {
				stack.Set(frame, channel, row, col, grayValue(img, b.Min.X+col, b.Min.Y+row))
			}
		}
	}
	return stack, nil
}

// SavePlane writes one plane as a 16-bit grayscale TIFF, scaling from
// the plane's own intensity range.
func SavePlane(plane models.Plane, path string) error {
	lo, hi := plane.Data[0], plane.Data[0]
	for _, v := range plane.Data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	scale := 0.0
	if hi > lo {
		scale = 65535 / (hi - lo)
	}

	img := image.NewGray16(image.Rect(0, 0, plane.Width, plane.Height))
	for row := 0; row < plane.Height; row++ {
		for col := 0; col < plane.Width; col++ {
			v := uint16((plane.At(row, col) - lo) * scale)
			img.Pix[row*img.Stride+col*2] = uint8(v >> 8)
			img.Pix[row*img.Stride+col*2+1] = uint8(v)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("tiffio: creating %s: %w", path, err)
	}
	defer f.Close()
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return fmt.Errorf("tiffio: encoding %s: %w", path, err)
	}
	return nil
}

func loadPlane(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tiffio: opening %s: %w", path, err)
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("tiffio: decoding %s: %w", path, err)
	}
	return img, nil
}

// grayValue extracts a grayscale intensity in the image's native scale:
// 8-bit images yield 0..255, everything else the 16-bit 0..65535 range.
func grayValue(img image.Image, x, y int) float64 {
	switch im := img.(type) {
	case *image.Gray:
		return float64(im.GrayAt(x, y).Y)
	case *image.Gray16:
		return float64(im.Gray16At(x, y).Y)
	default:
		r, g, b, _ := img.At(x, y).RGBA()
		return float64(r+g+b) / 3
	}
}
