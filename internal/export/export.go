// Package export writes measured samples in the text formats consumed by
// spreadsheets and by Regressi, and renders graphs of them.
package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/motionlab/internal/calibration"
	"github.com/banshee-data/motionlab/internal/samples"
)

// ErrNoSamples is returned by every writer when there is nothing to export.
var ErrNoSamples = errors.New("export: no samples")

// Locale selects the column headers and the decimal separator of the
// spreadsheet formats.
type Locale string

const (
	English Locale = "en"
	French  Locale = "fr"
)

// ParseLocale accepts "en" or "fr"; the empty string means English.
func ParseLocale(s string) (Locale, error) {
	switch Locale(strings.ToLower(s)) {
	case "", English:
		return English, nil
	case French:
		return French, nil
	}
	return "", fmt.Errorf("unknown locale %q", s)
}

func (l Locale) headers() (t, x, y string) {
	if l == French {
		return "Temps", "Abscisse", "Ordonnée"
	}
	return "Time", "X-Axis", "Y-Axis"
}

// Row is one exported sample in physical units.
type Row struct {
	T, X, Y float64
}

// Rows converts samples to physical rows in store order.
func Rows(ss []samples.Sample, calib calibration.Calibration) []Row {
	rows := make([]Row, len(ss))
	for i, s := range ss {
		p := calib.ToPhysical(s.Pos)
		rows[i] = Row{T: s.Time, X: p.X, Y: p.Y}
	}
	return rows
}

// FormatNumber renders v with four decimals, trims trailing zeros and a
// dangling point, and applies the locale's decimal separator.
func FormatNumber(v float64, loc Locale) string {
	s := strconv.FormatFloat(v, 'f', 4, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if loc == French {
		s = strings.ReplaceAll(s, ".", ",")
	}
	return s
}

// WriteCSV writes a semicolon-separated table with localized headers.
func WriteCSV(w io.Writer, rows []Row, unit string, loc Locale) error {
	if len(rows) == 0 {
		return ErrNoSamples
	}
	ht, hx, hy := loc.headers()
	header := []string{ht + " (s)", hx + " (" + unit + ")", hy + " (" + unit + ")"}
	if err := writeTable(w, ';', header, rows, loc); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// WriteTSV writes the tab-separated text used for clipboard copies.
func WriteTSV(w io.Writer, rows []Row, unit string, loc Locale) error {
	if len(rows) == 0 {
		return ErrNoSamples
	}
	header := []string{"t(s)", "x(" + unit + ")", "y(" + unit + ")"}
	if err := writeTable(w, '\t', header, rows, loc); err != nil {
		return fmt.Errorf("write tsv: %w", err)
	}
	return nil
}

func writeTable(w io.Writer, comma rune, header []string, rows []Row, loc Locale) error {
	cw := csv.NewWriter(w)
	cw.Comma = comma
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{FormatNumber(r.T, loc), FormatNumber(r.X, loc), FormatNumber(r.Y, loc)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteRegressi writes the Regressi import layout: a title block, symbol,
// unit and name lines, then tab-separated rows with four decimals.
func WriteRegressi(w io.Writer, videoPath string, rows []Row) error {
	if len(rows) == 0 {
		return ErrNoSamples
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "MotionLab Export")
	fmt.Fprintf(bw, "Video : %s\n", videoPath)
	fmt.Fprintln(bw, "Donnees experimentales")
	fmt.Fprintln(bw, "t\tx\ty")
	fmt.Fprintln(bw, "s\tm\tm")
	fmt.Fprintln(bw, "Temps\tAbscisse\tOrdonnee")
	for _, r := range rows {
		fmt.Fprintf(bw, "%.4f\t%.4f\t%.4f\n", r.T, r.X, r.Y)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write regressi: %w", err)
	}
	return nil
}

// BaseName is the video file name without directory or extension, or
// "project" when there is no video.
func BaseName(videoPath string) string {
	if videoPath == "" {
		return "project"
	}
	base := filepath.Base(videoPath)
	if base == "." || base == string(filepath.Separator) {
		return "project"
	}
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[:i]
	}
	if base == "" {
		return "project"
	}
	return base
}

// DefaultCSVName is the suggested CSV file name for a video.
func DefaultCSVName(videoPath string) string { return "export_" + BaseName(videoPath) + ".csv" }

// DefaultRegressiName is the suggested Regressi file name for a video.
func DefaultRegressiName(videoPath string) string {
	return "regressi_" + BaseName(videoPath) + ".txt"
}
