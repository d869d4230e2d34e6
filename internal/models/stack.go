package models

import "fmt"

// Stack is a time-lapse microscope image stack indexed as
// [frame, channel, row, column]. Pixel data is stored as a flat
// float64 array in frame-major, row-major order, matching the
// layout the acquisition software writes.
//
// The stack is read-only to the measurement core; it is populated
// once by the caller (typically from a TIFF series) and then shared.
type Stack struct {
	// Data holds Frames*Channels*Height*Width pixel intensities.
	Data []float64

	// Frames is the number of time points in the stack.
	Frames int

	// Channels is the number of acquisition channels per frame.
	Channels int

	// Height and Width are the pixel dimensions of each plane.
	Height int
	Width  int
}

// NewStack allocates a zeroed stack with the given dimensions.
func NewStack(frames, channels, height, width int) (*Stack, error) {
	if frames <= 0 || channels <= 0 || height <= 0 || width <= 0 {
		return nil, fmt.Errorf("invalid stack dimensions %dx%dx%dx%d", frames, channels, height, width)
	}
	return &Stack{
		Data:     make([]float64, frames*channels*height*width),
		Frames:   frames,
		Channels: channels,
		Height:   height,
		Width:    width,
	}, nil
}

// At returns the intensity at [frame, channel, row, col].
func (s *Stack) At(frame, channel, row, col int) float64 {
	return s.Data[((frame*s.Channels+channel)*s.Height+row)*s.Width+col]
}

// Set writes the intensity at [frame, channel, row, col].
func (s *Stack) Set(frame, channel, row, col int, v float64) {
	s.Data[((frame*s.Channels+channel)*s.Height+row)*s.Width+col] = v
}

// Plane returns the 2D image plane for one (frame, channel) pair.
// The returned plane shares the stack's backing array.
func (s *Stack) Plane(frame, channel int) (Plane, error) {
	if frame < 0 || frame >= s.Frames {
		return Plane{}, fmt.Errorf("frame %d out of range [0,%d)", frame, s.Frames)
	}
	if channel < 0 || channel >= s.Channels {
		return Plane{}, fmt.Errorf("channel %d out of range [0,%d)", channel, s.Channels)
	}
	off := (frame*s.Channels + channel) * s.Height * s.Width
	return Plane{
		Data:   s.Data[off : off+s.Height*s.Width],
		Height: s.Height,
		Width:  s.Width,
	}, nil
}

// Plane is a single 2D image plane in row-major order.
type Plane struct {
	Data   []float64
	Height int
	Width  int
}

// At returns the intensity at (row, col).
func (p Plane) At(row, col int) float64 {
	return p.Data[row*p.Width+col]
}

// Set writes the intensity at (row, col).
func (p Plane) Set(row, col int, v float64) {
	p.Data[row*p.Width+col] = v
}

// Contains reports whether (x, y) is a valid pixel coordinate,
// with x as column and y as row.
func (p Plane) Contains(x, y int) bool {
	return x >= 0 && x < p.Width && y >= 0 && y < p.Height
}
