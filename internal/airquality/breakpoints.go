package airquality

import (
	"fmt"
	"math"
)

// MaxIndex is the top of the national index scale.
const MaxIndex = 500

// Breakpoint is one segment of a pollutant's piecewise-linear index table.
type Breakpoint struct {
	ConcLow   float64
	ConcHigh  float64
	IndexLow  float64
	IndexHigh float64
}

// BreakpointTable is an ordered list of contiguous segments.
type BreakpointTable []Breakpoint

// indexBands are the index ranges shared by every national table.
var indexBands = [6][2]float64{
	{0, 50}, {51, 100}, {101, 200}, {201, 300}, {301, 400}, {401, MaxIndex},
}

// cpcbTable builds a table from the seven concentration boundaries of the
// six index bands.
func cpcbTable(bounds ...float64) BreakpointTable {
	table := make(BreakpointTable, 0, len(indexBands))
	for i, band := range indexBands {
		table = append(table, Breakpoint{
			ConcLow:   bounds[i],
			ConcHigh:  bounds[i+1],
			IndexLow:  band[0],
			IndexHigh: band[1],
		})
	}
	return table
}

// Tables holds the national breakpoint tables. CO is in mg/m³, every other
// pollutant in µg/m³.
var Tables = map[Pollutant]BreakpointTable{
	PollutantPM25: cpcbTable(0, 30, 60, 90, 120, 250, 380),
	PollutantPM10: cpcbTable(0, 50, 100, 250, 350, 430, 510),
	PollutantNO2:  cpcbTable(0, 40, 80, 180, 280, 400, 800),
	PollutantSO2:  cpcbTable(0, 40, 80, 380, 800, 1600, 2100),
	PollutantCO:   cpcbTable(0, 1, 2, 10, 17, 34, 50),
	PollutantO3:   cpcbTable(0, 50, 100, 168, 208, 748, 1000),
	PollutantNH3:  cpcbTable(0, 200, 400, 800, 1200, 1800, 2400),
}

// SubIndex converts one concentration to an index value by linear
// interpolation inside the first matching segment. Concentrations above the
// last segment map to MaxIndex.
func SubIndex(c float64, table BreakpointTable) (float64, error) {
	if len(table) == 0 || math.IsNaN(c) || c < table[0].ConcLow {
		return 0, fmt.Errorf("%w: %v", ErrNoBreakpointMatch, c)
	}

	for _, bp := range table {
		if c >= bp.ConcLow && c <= bp.ConcHigh {
			return (bp.IndexHigh-bp.IndexLow)/(bp.ConcHigh-bp.ConcLow)*(c-bp.ConcLow) + bp.IndexLow, nil
		}
	}

	if c > table[len(table)-1].ConcHigh {
		return MaxIndex, nil
	}

	return 0, fmt.Errorf("%w: %v", ErrNoBreakpointMatch, c)
}

// OverallIndex returns the rounded maximum sub-index across the reported
// pollutants, clamped to [1, MaxIndex], and the pollutant responsible for it.
func OverallIndex(c Concentrations) (int, Pollutant, error) {
	if !c.Has(PollutantPM25) {
		return 0, "", ErrMissingPM25
	}

	var (
		maxSub   float64
		dominant Pollutant
	)
	for _, p := range AllPollutants {
		v, ok := c[p]
		if !ok {
			continue
		}
		table, ok := Tables[p]
		if !ok {
			continue
		}
		sub, err := SubIndex(v, table)
		if err != nil {
			return 0, "", fmt.Errorf("%s: %w", p, err)
		}
		if dominant == "" || sub > maxSub {
			maxSub = sub
			dominant = p
		}
	}

	return ClampIndex(maxSub), dominant, nil
}

// ClampIndex rounds v and clamps it to [1, MaxIndex]. Zero is reserved for
// unknown.
func ClampIndex(v float64) int {
	i := int(math.Round(v))
	if i < 1 {
		return 1
	}
	if i > MaxIndex {
		return MaxIndex
	}
	return i
}

// CategoryFor maps an index to its category.
func CategoryFor(index int) Category {
	switch {
	case index <= 50:
		return CategoryGood
	case index <= 100:
		return CategorySatisfactory
	case index <= 200:
		return CategoryModerate
	case index <= 300:
		return CategoryPoor
	case index <= 400:
		return CategoryVeryPoor
	default:
		return CategorySevere
	}
}

// ConcentrationFor inverts a table: it returns the concentration whose
// sub-index rounds to the same integer as index. Bands start one point above
// the previous band's top (50, then 51), so an index in that gap maps to the
// side it rounds to.
func ConcentrationFor(index float64, table BreakpointTable) float64 {
	if len(table) == 0 || index <= 0 {
		return 0
	}
	for _, bp := range table {
		if index > bp.IndexHigh {
			continue
		}
		if index <= bp.IndexLow {
			if index < bp.IndexLow-0.5 {
				// previous band's top
				return bp.ConcLow
			}
			return math.Nextafter(bp.ConcLow, bp.ConcHigh)
		}
		return (bp.ConcHigh-bp.ConcLow)/(bp.IndexHigh-bp.IndexLow)*(index-bp.IndexLow) + bp.ConcLow
	}
	return table[len(table)-1].ConcHigh
}

// ValidateTables checks that every table starts at zero, is contiguous,
// increases in both concentration and index, and ends at MaxIndex.
func ValidateTables(tables map[Pollutant]BreakpointTable) error {
	for p, table := range tables {
		if err := validateTable(table); err != nil {
			return fmt.Errorf("breakpoint table %s: %w", p, err)
		}
	}
	return nil
}

func validateTable(table BreakpointTable) error {
	if len(table) == 0 {
		return fmt.Errorf("empty table")
	}
	if table[0].ConcLow != 0 {
		return fmt.Errorf("first segment starts at %v, want 0", table[0].ConcLow)
	}
	for i, bp := range table {
		if bp.ConcHigh <= bp.ConcLow {
			return fmt.Errorf("segment %d: concentration range [%v, %v] not increasing", i, bp.ConcLow, bp.ConcHigh)
		}
		if bp.IndexHigh <= bp.IndexLow {
			return fmt.Errorf("segment %d: index range [%v, %v] not increasing", i, bp.IndexLow, bp.IndexHigh)
		}
		if i == 0 {
			continue
		}
		prev := table[i-1]
		if bp.ConcLow != prev.ConcHigh {
			return fmt.Errorf("segment %d: starts at %v, previous ends at %v", i, bp.ConcLow, prev.ConcHigh)
		}
		if bp.IndexLow < prev.IndexHigh {
			return fmt.Errorf("segment %d: index %v overlaps previous %v", i, bp.IndexLow, prev.IndexHigh)
		}
	}
	if last := table[len(table)-1]; last.IndexHigh != MaxIndex {
		return fmt.Errorf("last segment ends at index %v, want %d", last.IndexHigh, MaxIndex)
	}
	return nil
}
