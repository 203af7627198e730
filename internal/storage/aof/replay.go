package aof

import (
	"bufio"
	"log/slog"
	"os"
	"strings"
)

// ApplyFunc applies one replayed command. An error marks the line as
// malformed; replay continues with the next line.
type ApplyFunc func(verb string, args [][]byte) error

// Replay reads the log at path line by line and dispatches each record
// through apply. Blank lines are ignored; lines that fail to parse or
// apply are skipped with a warning. A missing file is not an error.
func Replay(path string, apply ApplyFunc, logger *slog.Logger) (applied, skipped int, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		verb, args, ok := ParseRecord(line)
		if !ok {
			continue
		}
		if err := apply(verb, args); err != nil {
			logger.Warn("skipping malformed aof record",
				"path", path, "line", lineNo, "error", err)
			skipped++
			continue
		}
		applied++
	}
	if err := sc.Err(); err != nil {
		return applied, skipped, err
	}
	return applied, skipped, nil
}
