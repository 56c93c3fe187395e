package crosssource

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/majordome-ai/majordome/pkg/config"
	"github.com/majordome-ai/majordome/pkg/models"
)

// LocalFileAdapter searches files under the allowed roots with ripgrep.
// The exclusion list (credential paths, key material, build caches) is
// enforced via rg glob rules; files above the size cap are never read.
type LocalFileAdapter struct {
	config *config.LocalFilesConfig
	rgPath string
}

func NewLocalFileAdapter(cfg *config.LocalFilesConfig) *LocalFileAdapter {
	rgPath := cfg.RipgrepPath
	if rgPath == "" {
		rgPath, _ = exec.LookPath("rg")
	}
	return &LocalFileAdapter{config: cfg, rgPath: rgPath}
}

func (a *LocalFileAdapter) SourceName() models.Source { return models.SourceFiles }

func (a *LocalFileAdapter) IsAvailable() bool {
	return a.rgPath != "" && len(a.config.Roots) > 0
}

func (a *LocalFileAdapter) Search(ctx context.Context, query string, limit int, opts SearchOptions) ([]models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	roots := a.searchRoots(opts.Filter)
	if len(roots) == 0 {
		return nil, nil
	}

	args := []string{
		"--no-heading",
		"--with-filename",
		"--line-number",
		"--ignore-case",
		"--fixed-strings",
		"--max-count", "3",
		"--max-filesize", fmt.Sprintf("%d", a.config.MaxFileSizeBytes),
	}
	for _, pattern := range a.config.Exclusions {
		if !strings.ContainsAny(pattern, "*?[") {
			// Bare names exclude the whole subtree.
			pattern = "**/" + pattern + "/**"
		}
		args = append(args, "--glob", "!"+pattern)
	}
	args = append(args, "--", query)
	args = append(args, roots...)

	cmd := exec.CommandContext(ctx, a.rgPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Exit code 1 means no matches.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ripgrep failed: %s: %w", strings.TrimSpace(stderr.String()), err)
	}

	type fileHit struct {
		firstLine string
		matches   int
	}
	hits := make(map[string]*fileHit)
	var order []string

	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		path, line, ok := splitRgLine(scanner.Text())
		if !ok {
			continue
		}
		hit, seen := hits[path]
		if !seen {
			hit = &fileHit{firstLine: line}
			hits[path] = hit
			order = append(order, path)
		}
		hit.matches++
	}

	var results []models.SearchResult
	for _, path := range order {
		if len(results) >= limit {
			break
		}
		hit := hits[path]

		// More matching lines within the file mean higher relevance, with
		// diminishing returns.
		score := 0.4 + 0.2*float64(hit.matches)
		if score > 1 {
			score = 1
		}

		result := models.SearchResult{
			Source:     models.SourceFiles,
			Identifier: path,
			Title:      filepath.Base(path),
			Snippet:    excerpt(hit.firstLine, 200),
			Score:      score,
		}
		if info, err := os.Stat(path); err == nil {
			result.OccurredAt = info.ModTime()
		}
		results = append(results, result)
	}
	return results, nil
}

// searchRoots narrows the allowed roots to the filter subdirectory when the
// context note linked a specific directory. A filter escaping every root is
// ignored rather than honored.
func (a *LocalFileAdapter) searchRoots(filter string) []string {
	if filter == "" {
		return existingDirs(a.config.Roots)
	}

	var narrowed []string
	for _, root := range a.config.Roots {
		candidate := filepath.Join(root, filepath.FromSlash(filter))
		rel, err := filepath.Rel(root, candidate)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			narrowed = append(narrowed, candidate)
		}
	}
	if len(narrowed) == 0 {
		return existingDirs(a.config.Roots)
	}
	return narrowed
}

func existingDirs(paths []string) []string {
	var out []string
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			out = append(out, p)
		}
	}
	return out
}

// splitRgLine parses "path:line:text" output, tolerating colons in the
// matched text.
func splitRgLine(s string) (path, text string, ok bool) {
	first := strings.Index(s, ":")
	if first <= 0 {
		return "", "", false
	}
	second := strings.Index(s[first+1:], ":")
	if second < 0 {
		return "", "", false
	}
	return s[:first], s[first+1+second+1:], true
}
