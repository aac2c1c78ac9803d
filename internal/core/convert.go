package core

// convert.go provides per-cell numeric coercion for uploaded coordinates.
//
// Coercion never returns an error. A cell that cannot be read as a finite
// decimal number yields pgtype.Float8{Valid: false}, which the loader treats
// as a missing value for that row.

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// decimalRegex matches plain decimal and scientific notation.
// Hex floats, digit separators and words like "inf" are rejected up front.
var decimalRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// ParseFloat converts a CSV cell to pgtype.Float8.
// Returns invalid if the cell is empty, not numeric, out of range, or not finite.
func ParseFloat(s string) pgtype.Float8 {
	s = strings.TrimSpace(s)
	if s == "" || !decimalRegex.MatchString(s) {
		return pgtype.Float8{Valid: false}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return pgtype.Float8{Valid: false}
	}

	return pgtype.Float8{Float64: f, Valid: true}
}

// coerceRow reads the first two cells of a record as a coordinate.
// Records shorter than two fields have a missing cell and never coerce.
func coerceRow(record []string) (Coordinate, bool) {
	if len(record) < 2 {
		return Coordinate{}, false
	}

	lat := ParseFloat(record[0])
	lon := ParseFloat(record[1])
	if !lat.Valid || !lon.Valid {
		return Coordinate{}, false
	}

	return Coordinate{Latitude: lat.Float64, Longitude: lon.Float64}, true
}
