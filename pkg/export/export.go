// Package export renders measurement records as tabular output for
// spreadsheet import or clipboard paste. Column layout matches the
// interactive tool's measurement table.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"budtrack/pkg/tracker"
)

// WriteCSV writes the found measurements as comma-separated rows with a
// header line. Fluorescence mean columns are emitted per channel up to
// the widest record.
func WriteCSV(w io.Writer, records []*tracker.Measurement) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(header(records)); err != nil {
		return fmt.Errorf("export: writing header: %w", err)
	}
	for _, m := range records {
		if !m.Found {
			continue
		}
		if err := cw.Write(row(m, maxChannels(records))); err != nil {
			return fmt.Errorf("export: writing row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTSV writes the same table tab-separated, the layout used for
// clipboard export.
func WriteTSV(w io.Writer, records []*tracker.Measurement) error {
	nch := maxChannels(records)
	if err := writeTabLine(w, header(records)); err != nil {
		return err
	}
	for _, m := range records {
		if !m.Found {
			continue
		}
		if err := writeTabLine(w, row(m, nch)); err != nil {
			return err
		}
	}
	return nil
}

func header(records []*tracker.Measurement) []string {
	h := []string{"Cell", "Frame", "X", "Y", "Major", "Minor", "Angle", "Volume"}
	for i := 0; i < maxChannels(records); i++ {
		h = append(h, fmt.Sprintf("Fluorescence%d", i+1))
	}
	return h
}

func row(m *tracker.Measurement, channels int) []string {
	r := []string{
		strconv.Itoa(m.Lineage),
		strconv.Itoa(m.Frame),
		fmt.Sprintf("%.2f", m.XCentroid),
		fmt.Sprintf("%.2f", m.YCentroid),
		fmt.Sprintf("%.2f", m.Major),
		fmt.Sprintf("%.2f", m.Minor),
		fmt.Sprintf("%.2f", m.Angle),
		fmt.Sprintf("%.2f", m.Volume),
	}
	for i := 0; i < channels; i++ {
		if i < len(m.Fluorescence) {
			r = append(r, fmt.Sprintf("%.2f", m.Fluorescence[i].Mean))
		} else {
			r = append(r, "0")
		}
	}
	return r
}

func maxChannels(records []*tracker.Measurement) int {
	n := 0
	for _, m := range records {
		if len(m.Fluorescence) > n {
			n = len(m.Fluorescence)
		}
	}
	return n
}

func writeTabLine(w io.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if _, err := io.WriteString(w, "\t"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, f); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}
