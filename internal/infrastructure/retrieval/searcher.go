// Package retrieval provides the context sources: a live file searcher, a
// change feed and a semantic knowledge index.
package retrieval

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/ports"
)

const (
	// maxListedFiles bounds a single walk of the project.
	maxListedFiles = 5000
	// maxSearchFileBytes skips files too large to scan line by line.
	maxSearchFileBytes = 256 * 1024
	// maxHitsPerTerm bounds the hits returned for one search term.
	maxHitsPerTerm = 20
	// hitContextLines is how many lines around a match are returned.
	hitContextLines = 2
)

// PathFilter decides whether a file may be shown to the model.
type PathFilter interface {
	AllowsContextPath(path string) bool
}

type listedFile struct {
	rel     string
	modTime time.Time
	size    int64
}

// LocalSearcher searches files below the project root. The file listing
// is cached for ttl; concurrent refreshes collapse into one walk and the
// last writer wins.
type LocalSearcher struct {
	root   string
	filter PathFilter
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	files    []listedFile
	loadedAt time.Time
	refresh  singleflight.Group
}

// NewLocalSearcher creates a searcher rooted at root.
func NewLocalSearcher(root string, filter PathFilter, ttl time.Duration) (*LocalSearcher, error) {
	if filter == nil {
		return nil, errors.New("retrieval: path filter is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve search root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if ttl <= 0 {
		ttl = domain.DefaultRelevanceCacheTTL
	}
	return &LocalSearcher{root: abs, filter: filter, ttl: ttl, now: time.Now}, nil
}

// Root returns the resolved search root.
func (s *LocalSearcher) Root() string {
	return s.root
}

// Search returns lines containing term, case-insensitively, in files with
// one of the given extensions. Each hit carries a few surrounding lines.
func (s *LocalSearcher) Search(ctx context.Context, term string, extensions []string) ([]domain.SearchHit, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, nil
	}
	files, err := s.listing(ctx)
	if err != nil {
		return nil, err
	}
	allowed := extensionSet(extensions)

	var hits []domain.SearchHit
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return hits, err
		}
		if len(allowed) > 0 && !allowed[strings.ToLower(filepath.Ext(file.rel))] {
			continue
		}
		if file.size > maxSearchFileBytes {
			continue
		}
		found, err := s.searchFile(file.rel, term, maxHitsPerTerm-len(hits))
		if err != nil {
			// unreadable files are skipped, the rest of the search stands
			continue
		}
		hits = append(hits, found...)
		if len(hits) >= maxHitsPerTerm {
			break
		}
	}
	return hits, nil
}

func (s *LocalSearcher) searchFile(rel, term string, limit int) ([]domain.SearchHit, error) {
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxSearchFileBytes)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var hits []domain.SearchHit
	for i, line := range lines {
		if len(hits) >= limit {
			break
		}
		if !strings.Contains(strings.ToLower(line), term) {
			continue
		}
		start := max(0, i-hitContextLines)
		end := min(len(lines), i+hitContextLines+1)
		hits = append(hits, domain.SearchHit{
			Path:    rel,
			Line:    i + 1,
			Content: strings.Join(lines[start:end], "\n"),
		})
	}
	return hits, nil
}

// ReadFile reads at most maxBytes of a file inside the root. Paths outside
// the root or on the context deny-list are refused.
func (s *LocalSearcher) ReadFile(ctx context.Context, path string, maxBytes int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rel, err := s.relative(path)
	if err != nil {
		return "", err
	}
	if !s.filter.AllowsContextPath(rel) {
		return "", fmt.Errorf("%s is excluded from context", rel)
	}

	full := filepath.Join(s.root, filepath.FromSlash(rel))
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", err
	}
	if !inside(s.root, resolved) {
		return "", fmt.Errorf("%s resolves outside the project root", rel)
	}

	f, err := os.Open(resolved)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var reader io.Reader = f
	if maxBytes > 0 {
		reader = io.LimitReader(f, int64(maxBytes))
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Recent returns up to limit listed files, most recently modified first.
func (s *LocalSearcher) Recent(ctx context.Context, limit int) ([]domain.ChangeEntry, error) {
	files, err := s.listing(ctx)
	if err != nil {
		return nil, err
	}
	sorted := append([]listedFile(nil), files...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].modTime.After(sorted[j].modTime)
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	entries := make([]domain.ChangeEntry, 0, len(sorted))
	for _, file := range sorted {
		entries = append(entries, domain.ChangeEntry{Path: file.rel, ModifiedAt: file.modTime})
	}
	return entries, nil
}

// Invalidate forces the next call to walk the tree again.
func (s *LocalSearcher) Invalidate() {
	s.mu.Lock()
	s.loadedAt = time.Time{}
	s.mu.Unlock()
}

func (s *LocalSearcher) listing(ctx context.Context) ([]listedFile, error) {
	s.mu.RLock()
	files, loadedAt := s.files, s.loadedAt
	s.mu.RUnlock()
	if !loadedAt.IsZero() && s.now().Sub(loadedAt) < s.ttl {
		return files, nil
	}

	value, err, _ := s.refresh.Do("walk", func() (interface{}, error) {
		walked, err := s.walk(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.files = walked
		s.loadedAt = s.now()
		s.mu.Unlock()
		return walked, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]listedFile), nil
}

func (s *LocalSearcher) walk(ctx context.Context) ([]listedFile, error) {
	var files []listedFile
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root {
				return err
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == s.root {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !s.filter.AllowsContextPath(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		files = append(files, listedFile{rel: rel, modTime: info.ModTime(), size: info.Size()})
		if len(files) >= maxListedFiles {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.root, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}

func (s *LocalSearcher) relative(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if !filepath.IsAbs(clean) {
		clean = filepath.Join(s.root, clean)
	}
	if !inside(s.root, clean) {
		return "", fmt.Errorf("%s is outside the project root", path)
	}
	rel, err := filepath.Rel(s.root, clean)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func inside(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func extensionSet(extensions []string) map[string]bool {
	set := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return set
}

var _ ports.FileSearcher = (*LocalSearcher)(nil)
