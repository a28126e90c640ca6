// Package containers keeps the index of containers discovered at a pod
// provider. Entries are looked up by name or URI using path equivalence:
// paths are compared with a leading and trailing "/" enforced, after NFC
// normalization and Unicode case folding.
package containers

import (
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// ErrDuplicate is returned by Add when a path-equivalent entry exists.
var ErrDuplicate = errors.New("containers: duplicate container")

// Index is an insertion-ordered set of container URIs. Not safe for
// concurrent mutation.
type Index struct {
	entries []*url.URL
	keys    []string
}

// New returns an empty index.
func New() *Index {
	return &Index{}
}

// Normalize returns name with exactly one leading and at least one trailing
// "/". An absolute URI is reduced to its path first.
func Normalize(name string) string {
	if u, err := url.Parse(name); err == nil && u.Scheme != "" && u.Host != "" {
		name = u.Path
	}

	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}

	if !strings.HasSuffix(name, "/") {
		name += "/"
	}

	return name
}

// key is the comparison form of a name or path.
func key(name string) string {
	return cases.Fold().String(norm.NFC.String(Normalize(name)))
}

func (ix *Index) find(k string) int {
	for i, existing := range ix.keys {
		if existing == k {
			return i
		}
	}

	return -1
}

// Add appends u. It fails with ErrDuplicate if an entry with an equivalent
// path is already present.
func (ix *Index) Add(u *url.URL) error {
	if u == nil {
		return fmt.Errorf("containers: nil URI")
	}

	k := key(u.Path)
	if ix.find(k) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, u)
	}

	clone := *u
	ix.entries = append(ix.entries, &clone)
	ix.keys = append(ix.keys, k)

	return nil
}

// Replace clears the index and adds uris in order, skipping duplicates.
// It returns how many were skipped.
func (ix *Index) Replace(uris []*url.URL) int {
	ix.Clear()

	skipped := 0

	for _, u := range uris {
		if err := ix.Add(u); err != nil {
			skipped++
		}
	}

	return skipped
}

// Get returns the entry whose path is equivalent to name.
func (ix *Index) Get(name string) (*url.URL, bool) {
	i := ix.find(key(name))
	if i < 0 {
		return nil, false
	}

	clone := *ix.entries[i]

	return &clone, true
}

// Contains reports whether an entry equivalent to name exists.
func (ix *Index) Contains(name string) bool {
	return ix.find(key(name)) >= 0
}

// ContainsURL reports whether an entry with a path equivalent to u exists.
func (ix *Index) ContainsURL(u *url.URL) bool {
	return u != nil && ix.find(key(u.Path)) >= 0
}

// Remove deletes the first entry equivalent to nameOrURI and reports
// whether one was removed.
func (ix *Index) Remove(nameOrURI string) bool {
	i := ix.find(key(nameOrURI))
	if i < 0 {
		return false
	}

	ix.entries = append(ix.entries[:i], ix.entries[i+1:]...)
	ix.keys = append(ix.keys[:i], ix.keys[i+1:]...)

	return true
}

// Clear removes every entry.
func (ix *Index) Clear() {
	ix.entries = nil
	ix.keys = nil
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// All yields the entries in insertion order. The sequence may be ranged
// over any number of times.
func (ix *Index) All() iter.Seq[*url.URL] {
	return func(yield func(*url.URL) bool) {
		for _, u := range ix.entries {
			clone := *u
			if !yield(&clone) {
				return
			}
		}
	}
}
