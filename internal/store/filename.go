package store

import (
	"fmt"
	"regexp"
	"strconv"
)

// filenamePattern matches exactly one ping file name and captures its ID.
// The prefix and suffix contain no digits, so the captured run of digits is
// unambiguous — "non-digits, digits, non-digits".
var filenamePattern = regexp.MustCompile(`^ping-([0-9]+)\.json$`)

// Filename returns the file name that stores the ping with the given ID.
// It is the exact inverse of IDFromFilename for every non-negative ID.
func Filename(id int64) string {
	return fmt.Sprintf("ping-%d.json", id)
}

// IDFromFilename extracts the ping ID embedded in name.
// Names that do not match the encoding (temp files, quarantined files,
// anything foreign dropped into the directory) return an error.
func IDFromFilename(name string) (int64, error) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, fmt.Errorf("store: %q is not a ping file name", name)
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("store: id in %q out of range: %w", name, err)
	}
	return id, nil
}
