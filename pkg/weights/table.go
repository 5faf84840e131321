// Package weights provides the inverse-variance lookup table used to weight
// photometric residuals by brightness level.
package weights

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	// DynamicRange is the number of brightness buckets per axis.
	DynamicRange = 256
	// SizeOfBuffer is the number of entries of a complete table.
	SizeOfBuffer = DynamicRange * DynamicRange
	// SignificanceLevel is the minimum share of the mean bucket population a
	// predicted-brightness bucket needs before calibration trusts its spread.
	SignificanceLevel = 1.0e-2
	// MinWeight is the floor applied to every looked-up weight.
	MinWeight = 1.0 / 255
)

// ErrCalibrationLoad is returned when a weight source cannot supply a complete
// table.
var ErrCalibrationLoad = errors.New("calibration load error")

// Table is an immutable DynamicRange x DynamicRange weight lookup indexed by
// (observed, predicted) brightness buckets. It is safe for concurrent use.
type Table struct {
	entries  [SizeOfBuffer]uint8
	maxValue float64
}

// Load reads count entries from the file at path.
func Load(path string, count int) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCalibrationLoad, err)
	}
	defer f.Close()

	t, err := Read(f, count)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Read consumes exactly count one-byte entries from r. Nothing is returned
// unless the full table was read.
func Read(r io.Reader, count int) (*Table, error) {
	if count != SizeOfBuffer {
		return nil, fmt.Errorf("%w: expected %d entries, asked for %d", ErrCalibrationLoad, SizeOfBuffer, count)
	}
	t := &Table{maxValue: 1}
	n, err := io.ReadFull(r, t.entries[:])
	if err != nil {
		return nil, fmt.Errorf("%w: read %d of %d entries: %v", ErrCalibrationLoad, n, count, err)
	}
	return t, nil
}

// NewTable builds a table from raw entries.
func NewTable(entries []uint8) (*Table, error) {
	if len(entries) != SizeOfBuffer {
		return nil, fmt.Errorf("%w: got %d entries, want %d", ErrCalibrationLoad, len(entries), SizeOfBuffer)
	}
	t := &Table{maxValue: 1}
	copy(t.entries[:], entries)
	return t, nil
}

// WithMaxValue returns a copy of the table quantizing brightness over
// [0, maxValue] instead of [0, 1].
func (t *Table) WithMaxValue(maxValue float64) *Table {
	c := *t
	if maxValue > 0 {
		c.maxValue = maxValue
	}
	return &c
}

// Quantize maps a brightness in [0, maxValue] to a bucket, clamping values
// outside the range to the first or last bucket.
func Quantize(v, maxValue float64) int {
	if maxValue <= 0 || math.IsNaN(v) {
		return 0
	}
	b := int(math.Round(v / maxValue * (DynamicRange - 1)))
	if b < 0 {
		return 0
	}
	if b > DynamicRange-1 {
		return DynamicRange - 1
	}
	return b
}

// Entry returns the raw entry for a pair of buckets.
func (t *Table) Entry(observed, predicted int) uint8 {
	return t.entries[observed*DynamicRange+predicted]
}

// Lookup returns the inverse-variance weight of an observation, never below
// MinWeight.
func (t *Table) Lookup(observed, predicted float64) float64 {
	o := Quantize(observed, t.maxValue)
	p := Quantize(predicted, t.maxValue)
	w := float64(t.entries[o*DynamicRange+p]) / 255
	if w < MinWeight {
		return MinWeight
	}
	return w
}

// Write stores the table in the format accepted by Read.
func (t *Table) Write(w io.Writer) error {
	_, err := w.Write(t.entries[:])
	return err
}

// Save writes the table to a file.
func (t *Table) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create weight file: %w", err)
	}
	if err := t.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write weight file: %w", err)
	}
	return f.Close()
}
