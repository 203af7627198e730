package domain

import "strconv"

// Entry binds a numeric key to an opaque byte-string value.
// Keys are totally ordered by numeric comparison; no key appears twice
// in the keyspace.
type Entry struct {
	Key   int64
	Value []byte
}

// ParseKey parses a command argument as a signed integer key.
func ParseKey(arg []byte) (int64, error) {
	k, err := strconv.ParseInt(string(arg), 10, 64)
	if err != nil {
		return 0, ErrKeyNotInteger.WithDetails(string(arg))
	}
	return k, nil
}

// FormatKey renders a key in its canonical decimal form.
func FormatKey(k int64) string {
	return strconv.FormatInt(k, 10)
}
