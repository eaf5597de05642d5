package part

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/OpenTraceLab/jtagcable/pkg/bsdl"
	"github.com/OpenTraceLab/jtagcable/pkg/idcode"
)

// Repository resolves an IDCODE to a part description.
type Repository interface {
	Lookup(id uint32) (*bsdl.Description, error)
}

// MemoryRepository matches IDCODEs against the IDCODE_REGISTER patterns of
// the descriptions added to it. Descriptions are tried in insertion order.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []*bsdl.Description
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Add registers d. Descriptions without an IDCODE_REGISTER cannot be looked
// up and are rejected.
func (r *MemoryRepository) Add(d *bsdl.Description) error {
	if d == nil {
		return fmt.Errorf("part: nil description")
	}
	if _, err := idcode.Match(d.IDCode, 0); err != nil {
		return fmt.Errorf("part: %s: IDCODE_REGISTER: %w", d.Entity, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, d)
	return nil
}

// Lookup implements Repository.
func (r *MemoryRepository) Lookup(id uint32) (*bsdl.Description, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.entries {
		if ok, _ := idcode.Match(d.IDCode, id); ok {
			return d, nil
		}
	}
	return nil, fmt.Errorf("part: no description for IDCODE %#08x", id)
}

// Len returns the number of descriptions held.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// LoadFiles parses and adds each file.
func (r *MemoryRepository) LoadFiles(paths ...string) error {
	for _, path := range paths {
		if err := r.load(path); err != nil {
			return err
		}
	}
	return nil
}

// LoadDir recursively loads all .bsd/.bsdl/.bsm files under root.
func (r *MemoryRepository) LoadDir(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !isBSDLFile(path) {
			return nil
		}
		return r.load(path)
	})
}

func (r *MemoryRepository) load(path string) error {
	d, err := bsdl.ParseFile(path)
	if err != nil {
		return fmt.Errorf("part: parse %s: %w", path, err)
	}
	if err := r.Add(d); err != nil {
		return fmt.Errorf("part: add %s: %w", path, err)
	}
	return nil
}

func isBSDLFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bsd", ".bsdl", ".bsm":
		return true
	default:
		return false
	}
}
