package contact

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the layout of a contacts seed file.
//
// Example:
//
//	contacts:
//	  - name: "Alice"
//	    phone: "+15551234567"
//	    relationship: "sister"
type File struct {
	Contacts []Contact `yaml:"contacts"`
}

// LoadFile reads a contacts seed file from disk.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("contact: open %q: %w", path, err)
	}
	defer f.Close()

	cf, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("contact: parse %q: %w", path, err)
	}
	return cf, nil
}

// LoadFromReader parses a contacts seed file.
func LoadFromReader(r io.Reader) (*File, error) {
	var cf File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("contact: decode yaml: %w", err)
	}
	return &cf, nil
}

// Import adds every contact in cf to store, in file order. Contacts whose ID
// already exists are skipped so a seed file can be re-applied on restart.
// Returns the number of contacts added.
func Import(ctx context.Context, store Store, cf *File) (int, error) {
	if cf == nil {
		return 0, fmt.Errorf("contact: file must not be nil")
	}
	n := 0
	for i, c := range cf.Contacts {
		if c.ID != "" {
			if _, err := store.Get(ctx, c.ID); err == nil {
				continue
			}
		}
		if _, err := store.Add(ctx, c); err != nil {
			return n, fmt.Errorf("contact: import entry %d (%q): %w", i, c.Name, err)
		}
		n++
	}
	return n, nil
}
