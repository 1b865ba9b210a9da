package source

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"tabular/internal/grid"
)

// CSV loads a headered CSV file into Record rows and can watch the file for
// changes, pushing a full-replace refresh to the engine when it is
// rewritten. Row ids come from the first column when its values are unique,
// otherwise from the line number (stable for a given file revision).
type CSV struct {
	path string
	log  *zap.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewCSV creates a CSV source for the given file path.
func NewCSV(path string, logger *zap.Logger) *CSV {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSV{path: path, log: logger}
}

// Load reads the file and returns its rows plus the header column names.
func (c *CSV) Load() ([]grid.Row[Record], []string, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, nil, fmt.Errorf("csv source: open: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("csv source: parse %s: %w", c.path, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("csv source: %s has no header row", c.path)
	}

	header := records[0]
	body := records[1:]

	// Prefer the first column as the row id when unique.
	idFromFirst := len(header) > 0
	seen := make(map[string]bool, len(body))
	for _, rec := range body {
		if len(rec) == 0 || seen[rec[0]] {
			idFromFirst = false
			break
		}
		seen[rec[0]] = true
	}

	rows := make([]grid.Row[Record], 0, len(body))
	for i, rec := range body {
		raw := make(Record, len(header))
		for j, col := range header {
			if j < len(rec) {
				raw[col] = parseCell(rec[j])
			}
		}
		id := strconv.Itoa(i + 1)
		if idFromFirst {
			id = rec[0]
		}
		rows = append(rows, grid.Row[Record]{ID: id, Raw: raw})
	}
	return rows, header, nil
}

// Watch starts watching the file and invokes onRefresh with the reloaded
// rows whenever it changes. Reload errors are logged and the previous data
// stays live (stale-while-revalidate).
func (c *CSV) Watch(onRefresh func([]grid.Row[Record])) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher != nil {
		return fmt.Errorf("csv source: already watching")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("csv source: watcher: %w", err)
	}
	// Watch the directory: editors replace files by rename, which drops a
	// watch on the file itself.
	if err := w.Add(filepath.Dir(c.path)); err != nil {
		w.Close()
		return fmt.Errorf("csv source: watch %s: %w", c.path, err)
	}
	c.watcher = w
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(c.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				rows, _, err := c.Load()
				if err != nil {
					c.log.Warn("csv reload failed, keeping previous data",
						zap.String("path", c.path), zap.Error(err))
					continue
				}
				c.log.Info("csv refreshed", zap.String("path", c.path), zap.Int("rows", len(rows)))
				onRefresh(rows)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				c.log.Warn("csv watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops watching.
func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher == nil {
		return nil
	}
	err := c.watcher.Close()
	<-c.done
	c.watcher = nil
	return err
}

// parseCell gives numeric cells numeric types so default sorting and
// comparison behave numerically instead of lexically.
func parseCell(s string) any {
	if s == "" {
		return ""
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
