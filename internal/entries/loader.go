package entries

import (
	"bufio"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/onllm-dev/logwatch/internal/metrics"
)

// Manager holds the bounded working set of transcript entries. Load does
// the file I/O; readers only take the lock.
type Manager struct {
	projectsDir string
	maxEntries  int
	fileAgeDays int
	logger      *slog.Logger

	mu      sync.RWMutex
	entries []Entry
}

// NewManager creates a manager over the given projects directory.
func NewManager(projectsDir string, maxEntries, fileAgeDays int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		projectsDir: projectsDir,
		maxEntries:  maxEntries,
		fileAgeDays: fileAgeDays,
		logger:      logger,
	}
}

// Load re-reads every recently modified JSONL file under the projects
// directory and replaces the working set: parse each line, enrich it for
// display, sort newest first, truncate to the entry limit. Malformed lines
// and unreadable files are skipped, not fatal.
func (m *Manager) Load() error {
	files, total, err := m.recentFiles()
	if err != nil {
		return err
	}
	m.logger.Info("loading transcript files",
		"recent", len(files),
		"total", total,
		"max_age_days", m.fileAgeDays)

	var loaded []Entry
	for _, file := range files {
		entries, err := m.loadFile(file)
		if err != nil {
			m.logger.Warn("skipping unreadable transcript", "file", file, "error", err)
			continue
		}
		loaded = append(loaded, entries...)
	}

	// Newest first, then cap the working set
	sort.SliceStable(loaded, func(i, j int) bool {
		return getString(loaded[i], "timestamp") > getString(loaded[j], "timestamp")
	})
	if len(loaded) > m.maxEntries {
		loaded = loaded[:m.maxEntries]
	}

	m.mu.Lock()
	m.entries = loaded
	m.mu.Unlock()

	metrics.EntriesLoaded.Set(float64(len(loaded)))
	m.logger.Info("transcript entries loaded", "count", len(loaded))
	return nil
}

// recentFiles returns JSONL files modified within the age window, plus the
// total found.
func (m *Manager) recentFiles() ([]string, int, error) {
	cutoff := time.Now().Add(-time.Duration(m.fileAgeDays) * 24 * time.Hour)

	var recent []string
	total := 0
	err := filepath.WalkDir(m.projectsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A vanished subdirectory mid-walk is not fatal
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(path, ".jsonl") {
			return nil
		}
		total++
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			recent = append(recent, path)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return recent, total, nil
}

// loadFile parses one JSONL file into enriched entries.
func (m *Manager) loadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := sonic.Unmarshal(line, &entry); err != nil {
			continue
		}

		entry["_file"] = filepath.Base(path)
		entry["_file_path"] = path
		entry["content_display"] = EnrichContent(entry)
		if items := ToolItems(entry); items != nil {
			entry["tool_items"] = items
		}
		entry["content_tokens"] = CountMessageTokens(entry)

		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// Entries returns the current working set, newest first.
func (m *Manager) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Count returns the working set size.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Fields returns the sorted union of keys across all loaded entries.
func (m *Manager) Fields() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[string]bool{}
	for _, entry := range m.entries {
		for key := range entry {
			seen[key] = true
		}
	}
	fields := make([]string, 0, len(seen))
	for key := range seen {
		fields = append(fields, key)
	}
	sort.Strings(fields)
	return fields
}
