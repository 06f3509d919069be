package converter

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Progress is published on the event hub as the subprocess reports it.
// Intermediate reports are lossy for slow subscribers; the terminal report
// (Done set) is always delivered, whatever the outcome.
type Progress struct {
	JobID     string        `json:"job_id"`
	Percent   int           `json:"percent"`
	Operation string        `json:"operation"`
	Elapsed   time.Duration `json:"elapsed"`
	Done      bool          `json:"done"`
}

var progressLineRE = regexp.MustCompile(`(\d{1,3})%\s*(.*)$`)

// parseProgressLine extracts a progress report from one line of converter
// stdout. Lines without a percentage are ignored.
func parseProgressLine(jobID, line string, startedAt time.Time) (Progress, bool) {
	match := progressLineRE.FindStringSubmatch(line)
	if match == nil {
		return Progress{}, false
	}

	percent, err := strconv.Atoi(match[1])
	if err != nil {
		return Progress{}, false
	}
	if percent > 100 {
		percent = 100
	}

	operation := strings.TrimSpace(match[2])
	if operation == "" {
		operation = "Converting..."
	}

	return Progress{
		JobID:     jobID,
		Percent:   percent,
		Operation: operation,
		Elapsed:   time.Since(startedAt),
	}, true
}
