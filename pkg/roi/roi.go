// Package roi writes fitted cell outlines in the ImageJ .roi binary
// format so measurements can be overlaid on the source stack in ImageJ
// or Fiji. Only the polygon subset needed for ellipse outlines is
// implemented: a 64-byte big-endian header, relative 16-bit vertex
// coordinates, and the extended header carrying the stack T position
// and the ROI name.
package roi

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"budtrack/pkg/tracker"
)

const (
	magic       = "Iout"
	version     = 228
	typePolygon = 0
	headerSize  = 64
	header2Size = 64
)

// ROI is one named polygon outline, placed on a 1-based stack frame.
type ROI struct {
	Name      string
	Xs, Ys    []float64
	TPosition int
}

// FromMeasurements builds one polygon outline per found measurement,
// with pointsPerOutline vertices generated around each fitted ellipse.
// Names follow the established "<index>_cell<lineage>_<method>" scheme.
func FromMeasurements(records []*tracker.Measurement, pointsPerOutline int, method string) []ROI {
	var rois []ROI
	for i, m := range records {
		if !m.Found {
			continue
		}
		xs, ys := m.Ellipse.GeneratePoints(pointsPerOutline)
		rois = append(rois, ROI{
			Name:      fmt.Sprintf("%d_cell%d_%s", i, m.Lineage, method),
			Xs:        xs,
			Ys:        ys,
			TPosition: m.Frame + 1,
		})
	}
	return rois
}

// Write encodes one ROI in ImageJ .roi format.
func (r *ROI) Write(w io.Writer) error {
	n := len(r.Xs)
	if n == 0 || n != len(r.Ys) {
		return fmt.Errorf("roi: invalid outline with %d/%d coordinates", len(r.Xs), len(r.Ys))
	}

	left, top := math.Floor(r.Xs[0]), math.Floor(r.Ys[0])
	right, bottom := left, top
	for i := 0; i < n; i++ {
		left = math.Min(left, math.Floor(r.Xs[i]))
		top = math.Min(top, math.Floor(r.Ys[i]))
		right = math.Max(right, math.Ceil(r.Xs[i]))
		bottom = math.Max(bottom, math.Ceil(r.Ys[i]))
	}

	header2Offset := headerSize + 4*n
	nameOffset := header2Offset + header2Size

	buf := make([]byte, nameOffset+2*len(r.Name))
	copy(buf[0:4], magic)
	binary.BigEndian.PutUint16(buf[4:6], version)
	buf[6] = typePolygon
	binary.BigEndian.PutUint16(buf[8:10], uint16(int16(top)))
	binary.BigEndian.PutUint16(buf[10:12], uint16(int16(left)))
	binary.BigEndian.PutUint16(buf[12:14], uint16(int16(bottom)))
	binary.BigEndian.PutUint16(buf[14:16], uint16(int16(right)))
	binary.BigEndian.PutUint16(buf[16:18], uint16(n))
	binary.BigEndian.PutUint32(buf[56:60], uint32(r.TPosition))
	binary.BigEndian.PutUint32(buf[60:64], uint32(header2Offset))

	// Vertex coordinates are stored relative to the bounding box, all
	// x values first, then all y values.
	for i := 0; i < n; i++ {
		x := int16(math.Round(r.Xs[i] - left))
		binary.BigEndian.PutUint16(buf[headerSize+2*i:], uint16(x))
	}
	for i := 0; i < n; i++ {
		y := int16(math.Round(r.Ys[i] - top))
		binary.BigEndian.PutUint16(buf[headerSize+2*n+2*i:], uint16(y))
	}

	h2 := buf[header2Offset:]
	binary.BigEndian.PutUint32(h2[12:16], uint32(r.TPosition))
	binary.BigEndian.PutUint32(h2[16:20], uint32(nameOffset))
	binary.BigEndian.PutUint32(h2[20:24], uint32(len(r.Name)))

	// Names are stored as 16-bit big-endian characters.
	for i, c := range []byte(r.Name) {
		binary.BigEndian.PutUint16(buf[nameOffset+2*i:], uint16(c))
	}

	_, err := w.Write(buf)
	return err
}

// WriteZip bundles the ROIs into a zip archive, one .roi entry each,
// the layout ImageJ's ROI manager opens directly.
func WriteZip(w io.Writer, rois []ROI) error {
	zw := zip.NewWriter(w)
	for i := range rois {
		f, err := zw.Create(rois[i].Name + ".roi")
		if err != nil {
			return fmt.Errorf("roi: creating zip entry: %w", err)
		}
		if err := rois[i].Write(f); err != nil {
			return err
		}
	}
	return zw.Close()
}
