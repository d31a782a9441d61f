package audit

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/cockroachdb/errors"
)

// ParseFile reads every well-formed entry of a JSONL audit log. A missing
// file yields no entries; malformed lines are skipped.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	s := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	s.Buffer(buf, 2*1024*1024)
	for s.Scan() {
		var entry Entry
		if err := json.Unmarshal(s.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrap(err, "scan audit log")
	}
	return entries, nil
}
