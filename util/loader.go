package util

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// LoadLines reads a list file and returns its whitespace-separated entries in
// order. Blank lines are ignored.
//
// Arguments:
// - path: Path to the list file (image list, class vocabulary).
//
// Returns:
// - []string: The entries in file order.
// - error: Error if the file cannot be opened or read.
func LoadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open list %s", path)
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		entries = append(entries, strings.Fields(scanner.Text())...)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read list %s", path)
	}

	return entries, nil
}

// ImagePath returns <dir>/<id><ext>.
func ImagePath(dir, id, ext string) string {
	return filepath.Join(dir, id+ext)
}
