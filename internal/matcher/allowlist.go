package matcher

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// AllowList is the manually curated set of vendors known to deliver to
// Switzerland. The file is operator-edited at runtime, so it is re-read
// on every call; a missing file means an empty list, not an error.
type AllowList struct {
	path string
}

// NewAllowList creates an AllowList backed by the given file. The file
// holds one vendor ID per line; blank lines and #-comments are ignored.
func NewAllowList(path string) *AllowList {
	return &AllowList{path: path}
}

// VendorIDs returns the current contents of the allow-list file.
func (a *AllowList) VendorIDs() (map[int64]struct{}, error) {
	ids := make(map[int64]struct{})

	f, err := os.Open(a.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ids, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			continue
		}
		ids[id] = struct{}{}
	}
	return ids, scanner.Err()
}
