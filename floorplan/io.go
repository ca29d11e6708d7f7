package floorplan

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// maxFileSize bounds a floorplan file; the embedded image dominates.
const maxFileSize = 64 * 1024 * 1024

// Decode reads and validates one floorplan document.
func Decode(r io.Reader) (*Floorplan, error) {
	var f Floorplan
	dec := json.NewDecoder(io.LimitReader(r, maxFileSize+1))
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: parse: %w", ErrInvalid, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load reads a floorplan JSON file.
func Load(path string) (*Floorplan, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("floorplan file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat floorplan: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("floorplan too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	fh, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open floorplan: %w", err)
	}
	defer fh.Close()
	f, err := Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return f, nil
}

// Encode writes f as indented JSON.
func (f *Floorplan) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(f)
}

// Save writes f to path, replacing any existing file.
func (f *Floorplan) Save(path string) error {
	if err := f.Validate(); err != nil {
		return err
	}
	tmp := path + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create floorplan: %w", err)
	}
	if err := f.Encode(fh); err != nil {
		fh.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write floorplan: %w", err)
	}
	if err := fh.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
