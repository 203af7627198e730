package skiplist

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/yndnr/leapcache-go/internal/core/domain"
)

// Dump writes every entry to w as "<key>:<value>;\n", one per line, in
// ascending key order, and flushes.
func (s *SkipList) Dump(w io.Writer) error {
	bw := bufio.NewWriter(w)
	var err error
	s.Ascend(func(k int64, v []byte) bool {
		if _, err = fmt.Fprintf(bw, "%d:%s;\n", k, v); err != nil {
			return false
		}
		return true
	})
	if err != nil {
		return domain.ErrStorage.WithCause(err)
	}
	if err := bw.Flush(); err != nil {
		return domain.ErrStorage.WithCause(err)
	}
	return nil
}

// Load reads entries from r line by line and inserts each one. A line
// is split at its first ':'; a trailing ';' on the value is stripped.
// Blank and malformed lines are skipped; skipped counts the latter.
// Entries whose key is already present are also skipped.
func (s *SkipList) Load(r io.Reader) (loaded, skipped int, err error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		idx := bytes.IndexByte(line, ':')
		if idx <= 0 {
			skipped++
			continue
		}
		k, kerr := domain.ParseKey(line[:idx])
		if kerr != nil {
			skipped++
			continue
		}
		val := line[idx+1:]
		val = bytes.TrimSuffix(val, []byte(";"))
		if s.Insert(k, append([]byte(nil), val...)) != nil {
			skipped++
			continue
		}
		loaded++
	}
	if err := sc.Err(); err != nil {
		return loaded, skipped, domain.ErrStorage.WithCause(err)
	}
	return loaded, skipped, nil
}
