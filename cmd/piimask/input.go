package main

import (
	"io"
	"strings"

	"github.com/cockroachdb/errors"
)

// readText joins args, or reads all of in when no args are given.
func readText(args []string, in io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", errors.Wrap(err, "read stdin")
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
