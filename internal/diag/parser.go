package diag

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kscratch/kscratch/internal/models"
)

// linePattern matches compiler error lines of the form
//
//	<path>:<line>:<column>: error:<message>
//
// The path is matched but not kept; the script is always the single
// materialized file, so the location inside it is what matters.
var linePattern = regexp.MustCompile(`^(.+):(\d+):([^:]*): error:(.*)$`)

// ParseLine maps one raw stderr line to a structured diagnostic. The second
// return value is false for any line that does not match the error-location
// grammar, including lines with a non-integer line number. An unparsable
// column degrades to 1 rather than rejecting the line.
func ParseLine(line string) (models.Diagnostic, bool) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return models.Diagnostic{}, false
	}

	lineNum, err := strconv.Atoi(m[2])
	if err != nil || lineNum < 1 {
		return models.Diagnostic{}, false
	}

	col, err := strconv.Atoi(m[3])
	if err != nil || col < 1 {
		col = 1
	}

	return models.Diagnostic{
		Line:    lineNum,
		Col:     col,
		Message: strings.TrimSpace(m[4]),
		Raw:     line,
	}, true
}
