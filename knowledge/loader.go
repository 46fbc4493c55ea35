package knowledge

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LoadDirectory reads every .txt, .md, and .html file under dir into a
// Document. HTML files are converted to text and cleaned first.
func LoadDirectory(dir string) ([]*Document, error) {
	var docs []*Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		switch ext {
		case ".txt", ".md", ".html", ".htm":
		default:
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		content := string(raw)
		if ext == ".html" || ext == ".htm" {
			content, err = HTMLToText(content)
			if err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
		}
		content = Preprocess(content)
		if content == "" {
			return nil
		}
		rel, rerr := filepath.Rel(dir, path)
		if rerr != nil {
			rel = path
		}
		doc := &Document{
			Content: content,
			Metadata: map[string]any{
				"source": rel,
			},
		}
		EnsureDocumentID(doc)
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}
