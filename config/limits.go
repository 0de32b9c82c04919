package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
)

// Input limits for settings read from files and the environment
const (
	MaxFileSize   = 1 << 20
	MaxNesting    = 32
	MaxValueBytes = 4096
)

// readSettingsFile reads path after refusing anything that is not a
// reasonably sized regular file.
func readSettingsFile(path string) ([]byte, error) {
	if path == "" {
		return nil, stderrors.New("empty settings path")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%s is %d bytes, limit is %d", path, info.Size(), MaxFileSize)
	}

	// The file may grow between Stat and read
	return io.ReadAll(io.LimitReader(f, MaxFileSize+1))
}

// checkValue rejects values that cannot be a sane flag setting
func checkValue(name, value string) error {
	if len(value) > MaxValueBytes {
		return fmt.Errorf("%s: value is %d bytes, limit is %d", name, len(value), MaxValueBytes)
	}
	if i := strings.IndexFunc(value, func(r rune) bool {
		return unicode.IsControl(r) && r != '\t'
	}); i >= 0 {
		return fmt.Errorf("%s: control character at offset %d", name, i)
	}
	return nil
}

// checkJSONNesting walks the token stream and fails once objects and
// arrays nest deeper than MaxNesting.
func checkJSONNesting(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		delim, ok := tok.(json.Delim)
		if !ok {
			continue
		}
		switch delim {
		case '{', '[':
			depth++
			if depth > MaxNesting {
				return fmt.Errorf("nesting deeper than %d", MaxNesting)
			}
		default:
			depth--
		}
	}
}
