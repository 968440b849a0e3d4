package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"rankpool/models"
)

// Archiver stores a raw page and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, page *models.RawPage) (string, error)
}

// DirArchiver writes raw pages under a local directory.
type DirArchiver struct {
	dir string
}

func NewDirArchiver(dir string) *DirArchiver {
	return &DirArchiver{dir: dir}
}

func (a *DirArchiver) Archive(_ context.Context, page *models.RawPage) (string, error) {
	var first string
	for _, obj := range archiveObjects(page) {
		path := filepath.Join(a.dir, filepath.FromSlash(obj.key))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(path, obj.data, 0o644); err != nil {
			return "", err
		}
		if first == "" {
			first = path
		}
	}
	return first, nil
}

type archiveObject struct {
	key         string
	data        []byte
	contentType string
}

// archiveObjects builds <source>/<date>/<category>-<uuid>.<ext>. JSON pages
// with several bodies are stored as one JSON array; a browser page that also
// carries rendered HTML gets a sibling .html object under the same name.
func archiveObjects(page *models.RawPage) []archiveObject {
	fetched := page.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now()
	}
	base := fmt.Sprintf("%s/%s/%s-%s",
		safeSegment(page.Source), fetched.Format("2006-01-02"), safeSegment(page.Category), uuid.NewString())

	htmlObj := archiveObject{key: base + ".html", data: []byte(page.HTML), contentType: "text/html; charset=utf-8"}
	if page.Kind == models.PageDOM {
		return []archiveObject{htmlObj}
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	n := 0
	for _, b := range page.Bodies {
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		if n > 0 {
			buf.WriteByte(',')
		}
		buf.Write(b)
		n++
	}
	buf.WriteByte(']')
	objs := []archiveObject{{key: base + ".json", data: buf.Bytes(), contentType: "application/json"}}
	if page.HTML != "" {
		objs = append(objs, htmlObj)
	}
	return objs
}

func safeSegment(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', ':':
			return '_'
		}
		return r
	}, s)
}
