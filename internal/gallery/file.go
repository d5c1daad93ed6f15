// Package gallery loads enrolled identities from a YAML file and triggers
// matcher reloads when the file or the database changes.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/andresmejia3/greeter/internal/types"
	"gopkg.in/yaml.v3"
)

// fileIdentity is the on-disk shape of one identity.
type fileIdentity struct {
	ID         int         `yaml:"id"`
	Name       string      `yaml:"name"`
	Embeddings [][]float32 `yaml:"embeddings,flow"`
}

type fileDoc struct {
	Identities []fileIdentity `yaml:"identities"`
}

// FileSource serves identities from a YAML document:
//
//	identities:
//	  - id: 1
//	    name: Alice
//	    embeddings: [[0.1, 0.2, ...]]
type FileSource struct {
	Path string
	mu   sync.Mutex
}

// NewFileSource returns a source for path. The file does not need to exist yet.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (f *FileSource) load() (fileDoc, error) {
	var doc fileDoc
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, err
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", f.Path, err)
	}
	return doc, nil
}

// AllIdentities implements matcher.Source.
func (f *FileSource) AllIdentities(ctx context.Context) ([]types.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	out := make([]types.Identity, 0, len(doc.Identities))
	for _, fi := range doc.Identities {
		out = append(out, types.Identity{ID: fi.ID, Name: fi.Name, Embeddings: fi.Embeddings})
	}
	return out, nil
}

// AddEmbedding appends vec to the identity called name, creating it with the
// next free id if needed. Returns the identity id.
func (f *FileSource) AddEmbedding(name string, vec []float32) (int, error) {
	if name == "" {
		return 0, errors.New("name is required")
	}
	if err := types.ValidateEmbedding(vec); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return 0, err
	}

	maxID := 0
	for i := range doc.Identities {
		fi := &doc.Identities[i]
		if fi.Name == name {
			fi.Embeddings = append(fi.Embeddings, vec)
			return fi.ID, f.save(doc)
		}
		if fi.ID > maxID {
			maxID = fi.ID
		}
	}
	doc.Identities = append(doc.Identities, fileIdentity{ID: maxID + 1, Name: name, Embeddings: [][]float32{vec}})
	sort.Slice(doc.Identities, func(i, j int) bool { return doc.Identities[i].ID < doc.Identities[j].ID })
	return maxID + 1, f.save(doc)
}

// save writes via a temp file and rename so watchers never see a half-written document.
func (f *FileSource) save(doc fileDoc) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".gallery-*.yaml")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}
