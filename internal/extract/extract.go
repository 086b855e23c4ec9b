// Package extract finds dotted-quad IPv4 address tokens in free text.
//
// Matching is purely lexical: octets are not range checked, so tokens such
// as 999.1.1.1 are returned as written.
package extract

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/anstrom/ipprism/internal/errors"
)

var addressPattern = regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`)

// Set is a deduplicated collection of address tokens.
type Set map[string]struct{}

// Extract returns every distinct address token in text.
func Extract(text string) Set {
	set := make(Set)
	for _, match := range addressPattern.FindAllString(text, -1) {
		set[match] = struct{}{}
	}
	return set
}

// Sorted returns the set's members in lexical order.
func Sorted(set Set) []string {
	out := make([]string, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// FromReader extracts addresses from everything r yields. Invalid UTF-8 is
// replaced before matching.
func FromReader(r io.Reader) (Set, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return Extract(strings.ToValidUTF8(string(data), "�")), nil
}

// FromFile extracts addresses from the file at path.
func FromFile(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapConfigError(errors.CodeFileNotFound, "input file not found: "+path, err)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return FromReader(bytes.NewReader(data))
}
