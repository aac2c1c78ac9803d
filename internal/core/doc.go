// Package core provides the coordinate ingestion logic for the map tool.
//
// This package is independent of any UI or transport layer. Web handlers and
// tests call it directly with the raw bytes of an uploaded file.
//
// # Loading
//
// [Load] turns raw CSV bytes into a [Table] of latitude/longitude pairs. Headers
// are optional and never declared by the user, so the loader tries an ordered
// list of [Strategy] values and returns the first one that yields rows:
//
//  1. headerless: every record is data
//  2. header: the first record is discarded as a header
//
// Each strategy takes the first two columns positionally (A = latitude,
// B = longitude) and ignores any others. Cells are coerced individually with
// [ParseFloat]; a row survives only when both of its cells parse. A bad cell
// never aborts a strategy, it only removes its row.
//
// When no strategy produces a row the load fails with [ErrLoadFailure]. Callers
// that need to know why (logging, metrics) use [Loader.LoadWithReport].
//
// # Map View
//
// [BuildMapView] converts a table plus a caller-owned [Palette] into marker
// requests for the map renderer, centered on the mean coordinate.
//
// # Error Handling
//
// Technical errors are mapped to user-facing text with [MapError]. A load
// failure always maps to the same guidance message; the strategy that failed is
// never shown to users.
package core
