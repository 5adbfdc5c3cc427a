// Package mapconv provides functions for working with version-8 OCD
// orienteering map files.
//
// This package can be used as a library to read, inspect, and write
// map files programmatically.
//
// Example usage:
//
//	f, _ := os.Open("forest.ocd")
//	defer f.Close()
//
//	m, view, warnings, err := mapconv.Import(f, mapconv.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, w := range warnings {
//	    log.Println(w)
//	}
//
//	out, _ := os.Create("copy.ocd")
//	defer out.Close()
//	mapconv.Export(out, m, view, mapconv.Options{})
package mapconv

import (
	"fmt"
	"io"

	"github.com/kjetilk/mapper/internal/model"
	"github.com/kjetilk/mapper/internal/ocd"
)

// Options configures an import or export call. The zero value selects the
// format's native encodings, Windows-1252 and UTF-16LE.
type Options = ocd.Options

// FormatError is the error type returned for files that cannot be read or
// documents that cannot be represented in the format.
type FormatError = ocd.FormatError

// Detect reports whether buf begins with the OCD magic bytes.
//
// Two bytes are enough:
//
//	head := make([]byte, 2)
//	io.ReadFull(f, head)
//	if mapconv.Detect(head) { ... }
func Detect(buf []byte) bool {
	return ocd.Detect(buf)
}

// Import reads a complete OCD file from r and returns the map, the saved
// view, and the warnings collected for everything the model cannot carry
// one-to-one.
//
// Example:
//
//	f, _ := os.Open("forest.ocd")
//	defer f.Close()
//	m, view, warnings, err := mapconv.Import(f, mapconv.Options{})
func Import(r io.Reader, opts Options) (*model.Map, *model.View, []string, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read map file: %w", err)
	}
	return ocd.Import(buf, opts)
}

// Export writes the map and view as a version-8 OCD file to w. The
// returned warnings name every detail that had to be dropped or
// approximated; a non-nil error means nothing was written.
//
// Example:
//
//	out, _ := os.Create("forest.ocd")
//	defer out.Close()
//	warnings, err := mapconv.Export(out, m, view, mapconv.Options{})
func Export(w io.Writer, m *model.Map, view *model.View, opts Options) ([]string, error) {
	buf, warnings, err := ocd.Export(m, view, opts)
	if err != nil {
		return warnings, err
	}
	if _, err := w.Write(buf); err != nil {
		return warnings, fmt.Errorf("write map file: %w", err)
	}
	return warnings, nil
}
