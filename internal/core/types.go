package core

// Coordinate is a single latitude/longitude pair in decimal degrees.
// Both fields are finite for every coordinate held by a Table.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Table is the ordered, validated result of a successful load.
//
// Row order follows the source file and the row index is the join key for
// per-row colors. A Table is never empty and is not modified after creation.
type Table struct {
	rows     []Coordinate
	strategy string
	dropped  int
}

func newTable(rows []Coordinate, strategy string, dropped int) *Table {
	return &Table{rows: rows, strategy: strategy, dropped: dropped}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Row returns the coordinate at index i. It panics if i is out of range.
func (t *Table) Row(i int) Coordinate {
	return t.rows[i]
}

// Rows returns a copy of all rows.
func (t *Table) Rows() []Coordinate {
	out := make([]Coordinate, len(t.rows))
	copy(out, t.rows)
	return out
}

// Head returns a copy of at most the first n rows.
func (t *Table) Head(n int) []Coordinate {
	if n < 0 {
		n = 0
	}
	if n > len(t.rows) {
		n = len(t.rows)
	}
	out := make([]Coordinate, n)
	copy(out, t.rows[:n])
	return out
}

// Strategy returns the name of the strategy that produced the table.
func (t *Table) Strategy() string {
	return t.strategy
}

// Dropped returns how many records were discarded because a cell failed coercion.
func (t *Table) Dropped() int {
	return t.dropped
}

// Center returns the arithmetic mean of all latitudes and all longitudes.
func (t *Table) Center() Coordinate {
	var lat, lon float64
	for _, r := range t.rows {
		lat += r.Latitude
		lon += r.Longitude
	}
	n := float64(len(t.rows))
	return Coordinate{Latitude: lat / n, Longitude: lon / n}
}
