// Package windowing estimates token costs and selects the most recent slice
// of a conversation that fits a token budget.
//
// Invariant:
//   - the selected window is always a contiguous suffix of the input; items
//     are only ever dropped from the oldest end.
package windowing
