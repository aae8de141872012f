package models

// Diagnostic is one structured error location extracted from a compiler
// stderr line. Line and Col are 1-based.
type Diagnostic struct {
	Line    int
	Col     int
	Message string
	Raw     string
}
