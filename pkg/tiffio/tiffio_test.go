package tiffio

import (
	"image"
	"path/filepath"
	"testing"

	"budtrack/internal/models"
)

// rampPlane covers the full 16-bit range so the scaled save/load cycle
// is exact.
func rampPlane() models.Plane {
	plane := models.Plane{Data: make([]float64, 256*256), Height: 256, Width: 256}
	for i := range plane.Data {
		plane.Data[i] = float64(i)
	}
	return plane
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	first := rampPlane()
	second := rampPlane()
	for i := range second.Data {
		second.Data[i] = 65535 - second.Data[i]
	}

	if err := SavePlane(first, filepath.Join(dir, "plane_00.tif")); err != nil {
		t.Fatalf("SavePlane failed: %v", err)
	}
	if err := SavePlane(second, filepath.Join(dir, "plane_01.tif")); err != nil {
		t.Fatalf("SavePlane failed: %v", err)
	}

	stack, err := LoadDir(dir, 1)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if stack.Frames != 2 || stack.Channels != 1 || stack.Height != 256 || stack.Width != 256 {
		t.Fatalf("stack dims = %dx%dx%dx%d, want 2x1x256x256",
			stack.Frames, stack.Channels, stack.Height, stack.Width)
	}

	for row := 0; row < 256; row++ {
		for col := 0; col < 256; col++ {
			if got, want := stack.At(0, 0, row, col), first.At(row, col); got != want {
				t.Fatalf("frame 0 (%d,%d) = %v, want %v", row, col, got, want)
			}
			if got, want := stack.At(1, 0, row, col), second.At(row, col); got != want {
				t.Fatalf("frame 1 (%d,%d) = %v, want %v", row, col, got, want)
			}
		}
	}
}

func TestLoadDirChannelGrouping(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 4; i++ {
		plane := models.Plane{Data: make([]float64, 4), Height: 2, Width: 2}
		for j := range plane.Data {
			plane.Data[j] = float64(i*10000 + j*1000)
		}
		// Force an exact scale by pinning the range.
		plane.Data[0] = 0
		plane.Data[3] = 65535
		name := filepath.Join(dir, "t"+string(rune('a'+i))+".tif")
		if err := SavePlane(plane, name); err != nil {
			t.Fatalf("SavePlane failed: %v", err)
		}
	}

	stack, err := LoadDir(dir, 2)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if stack.Frames != 2 || stack.Channels != 2 {
		t.Errorf("stack = %d frames x %d channels, want 2x2", stack.Frames, stack.Channels)
	}
}

func TestLoadDirErrors(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		if _, err := LoadDir(t.TempDir(), 1); err == nil {
			t.Error("expected error for directory without TIFFs")
		}
	})

	t.Run("ChannelMismatch", func(t *testing.T) {
		dir := t.TempDir()
		plane := models.Plane{Data: []float64{0, 1, 2, 65535}, Height: 2, Width: 2}
		if err := SavePlane(plane, filepath.Join(dir, "only.tif")); err != nil {
			t.Fatalf("SavePlane failed: %v", err)
		}
		if _, err := LoadDir(dir, 2); err == nil {
			t.Error("expected error for plane count not divisible by channels")
		}
	})
}

func TestFromImagesDimensionMismatch(t *testing.T) {
	a := image.NewGray(image.Rect(0, 0, 4, 4))
	b := image.NewGray(image.Rect(0, 0, 5, 4))
	if _, err := FromImages([]image.Image{a, b}, 1); err == nil {
		t.Error("expected error for mismatched plane dimensions")
	}
}
