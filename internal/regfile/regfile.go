// Package regfile stores dynamic client registrations so a client is not
// registered again on every run. One file holds the registrations for all
// providers, keyed by provider URL. Tokens are never written.
package regfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/podgate/podgate/internal/session"
)

// FilePerms restricts registration files to owner-only read/write; they
// hold client secrets.
const FilePerms = 0o600

// DirPerms is used when creating the data directory.
const DirPerms = 0o700

// File is the on-disk format.
type File struct {
	Registrations map[string]*session.Registration `json:"registrations"`
}

// Load returns the registration stored for providerURL. It returns
// (nil, nil) when the file or the entry does not exist.
func Load(path, providerURL string) (*session.Registration, error) {
	f, err := read(path)
	if err != nil {
		return nil, err
	}

	reg, ok := f.Registrations[providerURL]
	if !ok {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if reg == nil || reg.ClientID == "" {
		return nil, fmt.Errorf("regfile: %s entry for %s has no client_id (register again)", path, providerURL)
	}

	return reg, nil
}

// Providers lists the provider URLs with a stored registration, sorted.
func Providers(path string) ([]string, error) {
	f, err := read(path)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(f.Registrations))
	for k := range f.Registrations {
		out = append(out, k)
	}

	slices.Sort(out)

	return out, nil
}

// Save stores reg under its provider URL, keeping other entries.
func Save(path string, reg *session.Registration) error {
	if reg == nil || reg.ProviderURL == "" || reg.ClientID == "" {
		return errors.New("regfile: registration needs a provider URL and client_id")
	}

	f, err := read(path)
	if err != nil {
		return err
	}

	f.Registrations[reg.ProviderURL] = reg

	return write(path, f)
}

// Remove deletes the entry for providerURL and reports whether one existed.
func Remove(path, providerURL string) (bool, error) {
	f, err := read(path)
	if err != nil {
		return false, err
	}

	if _, ok := f.Registrations[providerURL]; !ok {
		return false, nil
	}

	delete(f.Registrations, providerURL)

	return true, write(path, f)
}

func read(path string) (*File, error) {
	f := &File{Registrations: make(map[string]*session.Registration)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}

	if err != nil {
		return nil, fmt.Errorf("regfile: reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("regfile: decoding %s: %w", path, err)
	}

	if f.Registrations == nil {
		f.Registrations = make(map[string]*session.Registration)
	}

	return f, nil
}

// write saves f atomically (write-to-temp + rename) with 0600 permissions.
func write(path string, f *File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("regfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("regfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".registrations-*.tmp")
	if err != nil {
		return fmt.Errorf("regfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("regfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("regfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("regfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("regfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("regfile: renaming: %w", err)
	}

	success = true

	return nil
}
