// Package transcript turns cumulative per-segment recognition results into
// the minimal text deltas a client appends to its running transcript.
package transcript
