package document

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Discover loads every lectic document under dir matching the include
// patterns (doublestar globs, e.g. "**/*.lec") and returns them sorted
// by interlocutor name. Two documents declaring the same interlocutor
// is an error.
func Discover(dir string, include []string) ([]*Document, error) {
	seen := map[string]bool{}
	var docs []*Document
	for _, pattern := range include {
		matches, err := doublestar.FilepathGlob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, path := range matches {
			if _, ok := seen[path]; ok {
				continue
			}
			doc, err := Load(path)
			if err != nil {
				return nil, err
			}
			name := doc.Header.Interlocutor.Name
			for _, other := range docs {
				if other.Header.Interlocutor.Name == name {
					return nil, fmt.Errorf("interlocutor %q declared by both %s and %s", name, other.Path, path)
				}
			}
			seen[path] = true
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Header.Interlocutor.Name < docs[j].Header.Interlocutor.Name
	})
	return docs, nil
}

// Load parses the lectic document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	doc, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	doc.Path = path
	return doc, nil
}
