package roi

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"testing"

	"budtrack/pkg/ellipse"
	"budtrack/pkg/tracker"
)

func TestWriteLayout(t *testing.T) {
	r := ROI{
		Name:      "0_cell1_algebraic",
		Xs:        []float64{10, 20, 20, 10},
		Ys:        []float64{5, 5, 15, 15},
		TPosition: 3,
	}

	var buf bytes.Buffer
	if err := r.Write(&buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	b := buf.Bytes()

	if string(b[0:4]) != "Iout" {
		t.Fatalf("magic = %q, want Iout", b[0:4])
	}
	if v := binary.BigEndian.Uint16(b[4:6]); v != version {
		t.Errorf("version = %d, want %d", v, version)
	}
	if b[6] != typePolygon {
		t.Errorf("type = %d, want polygon", b[6])
	}
	if top := int16(binary.BigEndian.Uint16(b[8:10])); top != 5 {
		t.Errorf("top = %d, want 5", top)
	}
	if left := int16(binary.BigEndian.Uint16(b[10:12])); left != 10 {
		t.Errorf("left = %d, want 10", left)
	}
	if n := binary.BigEndian.Uint16(b[16:18]); n != 4 {
		t.Errorf("nCoordinates = %d, want 4", n)
	}
	if pos := binary.BigEndian.Uint32(b[56:60]); pos != 3 {
		t.Errorf("position = %d, want 3", pos)
	}

	h2 := binary.BigEndian.Uint32(b[60:64])
	if h2 != headerSize+4*4 {
		t.Fatalf("header2 offset = %d, want %d", h2, headerSize+4*4)
	}

	// Relative vertex coordinates, x block then y block.
	if x0 := int16(binary.BigEndian.Uint16(b[headerSize:])); x0 != 0 {
		t.Errorf("first relative x = %d, want 0", x0)
	}
	if y2 := int16(binary.BigEndian.Uint16(b[headerSize+2*4+2*2:])); y2 != 10 {
		t.Errorf("third relative y = %d, want 10", y2)
	}

	if tp := binary.BigEndian.Uint32(b[h2+12 : h2+16]); tp != 3 {
		t.Errorf("T position = %d, want 3", tp)
	}
	nameOff := binary.BigEndian.Uint32(b[h2+16 : h2+20])
	nameLen := binary.BigEndian.Uint32(b[h2+20 : h2+24])
	if int(nameLen) != len(r.Name) {
		t.Fatalf("name length = %d, want %d", nameLen, len(r.Name))
	}
	for i := 0; i < int(nameLen); i++ {
		c := binary.BigEndian.Uint16(b[nameOff+uint32(2*i):])
		if byte(c) != r.Name[i] {
			t.Fatalf("name char %d = %c, want %c", i, byte(c), r.Name[i])
		}
	}
}

func TestWriteInvalid(t *testing.T) {
	r := ROI{Name: "bad", Xs: []float64{1, 2}, Ys: []float64{1}}
	if err := r.Write(&bytes.Buffer{}); err == nil {
		t.Error("expected error for mismatched coordinate lengths")
	}
}

func TestFromMeasurements(t *testing.T) {
	e := &ellipse.Ellipse{Xc: 50, Yc: 60, A: 20, B: 10}
	records := []*tracker.Measurement{
		{Lineage: 1, Frame: 0, Found: true, Ellipse: e},
		{Lineage: 1, Frame: 1, Found: false},
		{Lineage: 2, Frame: 0, Found: true, Ellipse: e},
	}

	rois := FromMeasurements(records, 36, "geometric")
	if len(rois) != 2 {
		t.Fatalf("got %d ROIs, want 2 (not-found records skipped)", len(rois))
	}
	if rois[0].Name != "0_cell1_geometric" {
		t.Errorf("name = %q, want 0_cell1_geometric", rois[0].Name)
	}
	if rois[0].TPosition != 1 {
		t.Errorf("TPosition = %d, want 1-based frame 1", rois[0].TPosition)
	}
	if len(rois[0].Xs) != 36 {
		t.Errorf("outline has %d points, want 36", len(rois[0].Xs))
	}
}

func TestWriteZip(t *testing.T) {
	e := &ellipse.Ellipse{Xc: 50, Yc: 60, A: 20, B: 10}
	records := []*tracker.Measurement{
		{Lineage: 1, Frame: 0, Found: true, Ellipse: e},
		{Lineage: 1, Frame: 1, Found: true, Ellipse: e},
	}
	rois := FromMeasurements(records, 24, "algebraic")

	var buf bytes.Buffer
	if err := WriteZip(&buf, rois); err != nil {
		t.Fatalf("WriteZip failed: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("reading zip back failed: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("zip holds %d entries, want 2", len(zr.File))
	}
	if zr.File[0].Name != "0_cell1_algebraic.roi" {
		t.Errorf("entry name = %q, want 0_cell1_algebraic.roi", zr.File[0].Name)
	}
}
