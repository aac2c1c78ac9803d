package core

// loader.go implements the tolerant CSV coordinate loader.
//
// A load tries each Strategy in order against the same raw bytes and stops at
// the first one that yields at least one row. Strategy failures are recovered
// locally; only exhausting every strategy is reported to the caller.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
)

// Strategy names.
const (
	StrategyHeaderless = "headerless"
	StrategyHeader     = "header"
)

var (
	// ErrTokenization means the reader could not split the bytes into records.
	ErrTokenization = errors.New("csv tokenization failed")

	// ErrInsufficientColumns means the first record has fewer than two columns.
	ErrInsufficientColumns = errors.New("fewer than two columns")

	// ErrEmptyResult means parsing worked but no row had two numeric cells.
	ErrEmptyResult = errors.New("no rows with numeric latitude and longitude")

	// ErrLoadFailure is the terminal error: every strategy failed.
	ErrLoadFailure = errors.New("invalid csv: no usable coordinate rows")
)

// Strategy is one fixed interpretation of the raw input.
type Strategy struct {
	Name string

	// SkipHeader discards the first record before coercion.
	SkipHeader bool
}

// DefaultStrategies is the fallback order used by Load.
var DefaultStrategies = []Strategy{
	{Name: StrategyHeaderless},
	{Name: StrategyHeader, SkipHeader: true},
}

// StrategyError records why a single strategy produced no table.
type StrategyError struct {
	Strategy string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy %s: %v", e.Strategy, e.Err)
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}

// Apply parses data under this strategy.
// Returns a StrategyError wrapping ErrTokenization, ErrInsufficientColumns or
// ErrEmptyResult when no row survives.
func (s Strategy) Apply(data []byte) (*Table, error) {
	records, err := tokenize(data)
	if err != nil {
		return nil, &StrategyError{Strategy: s.Name, Err: err}
	}

	if len(records) == 0 {
		return nil, &StrategyError{Strategy: s.Name, Err: ErrEmptyResult}
	}

	if len(records[0]) < 2 {
		return nil, &StrategyError{
			Strategy: s.Name,
			Err:      fmt.Errorf("%w: found %d", ErrInsufficientColumns, len(records[0])),
		}
	}

	body := records
	if s.SkipHeader {
		body = records[1:]
	}

	rows := make([]Coordinate, 0, len(body))
	dropped := 0
	for _, record := range body {
		c, ok := coerceRow(record)
		if !ok {
			dropped++
			continue
		}
		rows = append(rows, c)
	}

	if len(rows) == 0 {
		return nil, &StrategyError{Strategy: s.Name, Err: ErrEmptyResult}
	}

	return newTable(rows, s.Name, dropped), nil
}

// tokenize splits data into records. Field counts may vary between records.
// Stray quotes are kept as literal cell text so a malformed cell only fails
// its own coercion. An unterminated quoted field runs to the end of input as
// a single cell.
func tokenize(data []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenization, err)
	}
	return records, nil
}

// Attempt describes the outcome of one strategy during a load.
type Attempt struct {
	Strategy string
	Rows     int
	Dropped  int
	Err      error
}

// LoadReport lists every strategy tried, in order.
type LoadReport struct {
	Attempts []Attempt
}

// Failed returns true if no attempt produced a table.
func (r LoadReport) Failed() bool {
	for _, a := range r.Attempts {
		if a.Err == nil {
			return false
		}
	}
	return true
}

// String summarizes the report for log lines.
func (r LoadReport) String() string {
	parts := make([]string, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		if a.Err != nil {
			parts = append(parts, fmt.Sprintf("%s=%v", a.Strategy, a.Err))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=ok(rows=%d,dropped=%d)", a.Strategy, a.Rows, a.Dropped))
	}
	return strings.Join(parts, "; ")
}

// LoadError is returned by LoadWithReport when every strategy failed.
// It matches ErrLoadFailure and each per-strategy cause with errors.Is.
type LoadError struct {
	Causes []error
}

func (e *LoadError) Error() string {
	msgs := make([]string, len(e.Causes))
	for i, c := range e.Causes {
		msgs[i] = c.Error()
	}
	return ErrLoadFailure.Error() + ": " + strings.Join(msgs, "; ")
}

func (e *LoadError) Is(target error) bool {
	return target == ErrLoadFailure
}

func (e *LoadError) Unwrap() []error {
	return e.Causes
}

// Loader tries its strategies in order. The zero value uses DefaultStrategies.
// A Loader holds no state between calls and is safe for concurrent use.
type Loader struct {
	Strategies []Strategy
}

func (l Loader) strategies() []Strategy {
	if len(l.Strategies) == 0 {
		return DefaultStrategies
	}
	return l.Strategies
}

// LoadWithReport runs the strategies against data and reports every attempt.
// On failure the error is a *LoadError.
func (l Loader) LoadWithReport(data []byte) (*Table, LoadReport, error) {
	data = sanitizeInput(data)

	var report LoadReport
	var causes []error

	for _, s := range l.strategies() {
		table, err := s.Apply(data)
		if err != nil {
			report.Attempts = append(report.Attempts, Attempt{Strategy: s.Name, Err: err})
			causes = append(causes, err)
			continue
		}

		report.Attempts = append(report.Attempts, Attempt{
			Strategy: s.Name,
			Rows:     table.Len(),
			Dropped:  table.Dropped(),
		})
		return table, report, nil
	}

	return nil, report, &LoadError{Causes: causes}
}

// Load returns the first table any strategy produces, or ErrLoadFailure.
// The returned error carries no detail about which strategy failed.
func (l Loader) Load(data []byte) (*Table, error) {
	table, _, err := l.LoadWithReport(data)
	if err != nil {
		return nil, ErrLoadFailure
	}
	return table, nil
}

// Load parses raw CSV bytes with the default strategies.
func Load(data []byte) (*Table, error) {
	return Loader{}.Load(data)
}
