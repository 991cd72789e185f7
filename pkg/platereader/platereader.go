// Package platereader parses Tecan plate-reader CSV exports and derives
// OD-normalized pipetting volumes from them. The export interleaves
// metadata with measurement blocks; a block starts after a "Start Time:"
// marker, opens with its label row (e.g. "OD660"), optionally carries a
// cycle row, then a time row, a temperature row, and one row per well.
package platereader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Common errors
var (
	ErrNoData      = errors.New("platereader: no measurement blocks found")
	ErrNoSuchLabel = errors.New("platereader: no readings for label")
)

// Reading is one well measurement at one timepoint.
type Reading struct {
	// Time is the measurement time in seconds, rounded to the nearest
	// second as exported.
	Time int

	Well  string
	Label string
	Value float64

	// Temperature is the chamber temperature at the timepoint in Celsius.
	Temperature float64
}

// Data holds every reading of one export, in file order.
type Data struct {
	Readings []Reading
}

// ParseFile reads and parses a plate-reader CSV export.
func ParseFile(path string) (*Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("platereader: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse parses a plate-reader CSV export.
func Parse(r io.Reader) (*Data, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("platereader: read: %w", err)
	}

	// Carve out the measurement blocks: after "Start Time:", a non-empty
	// line opens a block and the next all-empty line closes it.
	var blocks [][]string
	var current []string
	started := false
	inBlock := false
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "End Time:"):
			continue
		case strings.HasPrefix(line, "Start Time:"):
			started = true
		case started && !rowEmpty(line) && !inBlock:
			inBlock = true
			current = []string{line}
		case started && !rowEmpty(line) && inBlock:
			current = append(current, line)
		case started && rowEmpty(line) && inBlock:
			blocks = append(blocks, current)
			current = nil
			inBlock = false
		}
	}
	if inBlock {
		blocks = append(blocks, current)
	}
	if len(blocks) == 0 {
		return nil, ErrNoData
	}

	data := &Data{}
	for _, block := range blocks {
		if err := data.parseBlock(block); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// rowEmpty reports whether a CSV row has no non-empty cells.
func rowEmpty(line string) bool {
	for _, cell := range strings.Split(line, ",") {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// cells splits a row and drops empty trailing/interior cells, keeping
// the values in order.
func cells(line string) []string {
	var out []string
	for _, cell := range strings.Split(line, ",") {
		cell = strings.TrimSpace(cell)
		if cell != "" {
			out = append(out, cell)
		}
	}
	return out
}

func (d *Data) parseBlock(block []string) error {
	label := strings.TrimSpace(strings.SplitN(block[0], ",", 2)[0])
	rows := block[1:]
	if len(rows) > 0 && strings.HasPrefix(rows[0], "Cycle") {
		rows = rows[1:]
	}
	if len(rows) < 3 {
		return fmt.Errorf("platereader: block %q truncated", label)
	}

	timeCells := cells(strings.SplitN(rows[0], ",", 2)[1])
	tempCells := cells(strings.SplitN(rows[1], ",", 2)[1])
	times := make([]int, len(timeCells))
	for i, c := range timeCells {
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return fmt.Errorf("platereader: block %q: bad time %q", label, c)
		}
		times[i] = int(math.Round(v))
	}
	temps := make([]float64, len(tempCells))
	for i, c := range tempCells {
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return fmt.Errorf("platereader: block %q: bad temperature %q", label, c)
		}
		temps[i] = v
	}

	for _, row := range rows[2:] {
		parts := strings.SplitN(row, ",", 2)
		well := strings.TrimSpace(parts[0])
		if well == "" || len(parts) < 2 {
			continue
		}
		for i, c := range cells(parts[1]) {
			if i >= len(times) {
				break
			}
			v, err := strconv.ParseFloat(c, 64)
			if err != nil {
				return fmt.Errorf("platereader: block %q well %s: bad value %q", label, well, c)
			}
			temp := 0.0
			if i < len(temps) {
				temp = temps[i]
			}
			d.Readings = append(d.Readings, Reading{
				Time:        times[i],
				Well:        well,
				Label:       label,
				Value:       v,
				Temperature: temp,
			})
		}
	}
	return nil
}

// LatestTime returns the largest timepoint for a label.
func (d *Data) LatestTime(label string) (int, error) {
	latest := -1
	for _, r := range d.Readings {
		if r.Label == label && r.Time > latest {
			latest = r.Time
		}
	}
	if latest < 0 {
		return 0, fmt.Errorf("%w: %q", ErrNoSuchLabel, label)
	}
	return latest, nil
}

// Mean averages every reading for (well, label, time). The boolean is
// false when no reading matches.
func (d *Data) Mean(well, label string, time int) (float64, bool) {
	sum, n := 0.0, 0
	for _, r := range d.Readings {
		if r.Well == well && r.Label == label && r.Time == time {
			sum += r.Value
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// WellsAt lists the wells with a reading for (label, time), in file order
// without duplicates.
func (d *Data) WellsAt(label string, time int) []string {
	seen := make(map[string]bool)
	var wells []string
	for _, r := range d.Readings {
		if r.Label == label && r.Time == time && !seen[r.Well] {
			seen[r.Well] = true
			wells = append(wells, r.Well)
		}
	}
	return wells
}
