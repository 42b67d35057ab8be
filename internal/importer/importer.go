// Package importer loads directories of raw RFC 5322 messages into a store.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/felo/mailstore/internal/parser"
	"github.com/felo/mailstore/internal/scanner"
	"github.com/felo/mailstore/internal/store"
)

// Importer imports the .eml files of a directory tree
type Importer struct {
	store       *store.Store
	scanner     *scanner.Scanner
	log         *slog.Logger
	folderID    int64
	concurrency int

	// Message-IDs claimed during the current run.
	mu   sync.Mutex
	seen map[string]bool
}

// NewImporter creates an importer for dir. Messages go to the Inbox unless
// WithFolder says otherwise.
func NewImporter(s *store.Store, dir string, log *slog.Logger) *Importer {
	if log == nil {
		log = slog.Default()
	}
	return &Importer{
		store:       s,
		scanner:     scanner.NewScanner(dir),
		log:         log,
		concurrency: runtime.NumCPU() * 2, // parsing is I/O bound
	}
}

// WithConcurrency sets the number of concurrent workers
func (imp *Importer) WithConcurrency(workers int) *Importer {
	if workers < 1 {
		workers = 1
	}
	imp.concurrency = workers
	return imp
}

// WithFolder sets the folder imported messages are stored in
func (imp *Importer) WithFolder(folderID int64) *Importer {
	imp.folderID = folderID
	return imp
}

// Result contains statistics about an import run
type Result struct {
	TotalFound  int
	Imported    int
	Skipped     int
	Failed      int
	FailedFiles []string
}

type importStatus int

const (
	statusImported importStatus = iota
	statusSkipped
	statusFailed
)

type fileResult struct {
	path   string
	status importStatus
}

// ImportDir imports every file found under the directory. Files whose
// Message-ID is already stored are skipped; files that fail to parse or
// store are counted and listed but do not stop the run.
func (imp *Importer) ImportDir(ctx context.Context) (*Result, error) {
	return imp.ImportWithProgress(ctx, nil)
}

// ImportWithProgress is ImportDir reporting each finished file to progress
func (imp *Importer) ImportWithProgress(ctx context.Context, progress func(current, total int, path string)) (*Result, error) {
	files, err := imp.scanner.Scan()
	if err != nil {
		return nil, fmt.Errorf("failed to scan for files: %w", err)
	}
	if imp.folderID != 0 {
		f, err := imp.store.GetFolder(ctx, imp.folderID)
		if err != nil {
			return nil, err
		}
		if f == nil {
			return nil, fmt.Errorf("%w: %d", store.ErrFolderNotFound, imp.folderID)
		}
	}

	result := &Result{
		TotalFound:  len(files),
		FailedFiles: make([]string, 0),
	}
	imp.seen = make(map[string]bool)
	imp.log.Info("importing messages",
		slog.String("dir", imp.scanner.RootPath()),
		slog.Int("files", len(files)),
		slog.Int("workers", imp.concurrency))

	fileChan := make(chan string)
	resultChan := make(chan fileResult, imp.concurrency)

	var wg sync.WaitGroup
	for i := 0; i < imp.concurrency; i++ {
		wg.Add(1)
		go imp.worker(ctx, &wg, fileChan, resultChan)
	}

	go func() {
		defer close(fileChan)
		for _, file := range files {
			select {
			case fileChan <- file:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	processed := 0
	for res := range resultChan {
		processed++
		if progress != nil {
			progress(processed, result.TotalFound, res.path)
		}

		switch res.status {
		case statusImported:
			result.Imported++
		case statusSkipped:
			result.Skipped++
		case statusFailed:
			result.Failed++
			result.FailedFiles = append(result.FailedFiles, res.path)
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	imp.log.Info("import complete",
		slog.Int("imported", result.Imported),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed))
	return result, nil
}

func (imp *Importer) worker(ctx context.Context, wg *sync.WaitGroup, fileChan <-chan string, resultChan chan<- fileResult) {
	defer wg.Done()

	for path := range fileChan {
		resultChan <- fileResult{
			path:   path,
			status: imp.importFile(ctx, path),
		}
	}
}

// claim reports whether messageID is new to this run and the store.
func (imp *Importer) claim(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return true, nil
	}

	imp.mu.Lock()
	if imp.seen[messageID] {
		imp.mu.Unlock()
		return false, nil
	}
	imp.seen[messageID] = true
	imp.mu.Unlock()

	existing, err := imp.store.GetMessageByMessageID(ctx, messageID)
	if err != nil {
		return false, err
	}
	return existing == nil, nil
}

func (imp *Importer) importFile(ctx context.Context, path string) importStatus {
	parsed, err := parser.ParseEMLFile(path)
	if err != nil {
		imp.log.Warn("failed to parse message", slog.String("path", path), slog.Any("err", err))
		return statusFailed
	}

	fresh, err := imp.claim(ctx, parsed.MessageID)
	if err != nil {
		imp.log.Warn("failed to look up message", slog.String("path", path), slog.Any("err", err))
		return statusFailed
	}
	if !fresh {
		imp.log.Debug("message already stored", slog.String("path", path), slog.String("message_id", parsed.MessageID))
		return statusSkipped
	}

	m, err := imp.store.ImportParsed(ctx, parsed, imp.folderID, path)
	if err != nil {
		imp.log.Warn("failed to store message", slog.String("path", path), slog.Any("err", err))
		return statusFailed
	}

	// Senders of imported mail feed address completion.
	if parsed.Sender != "" {
		if _, err := imp.store.RecordContactUsage(ctx, parsed.Sender, parsed.SenderName); err != nil {
			imp.log.Warn("failed to record contact", slog.String("address", parsed.Sender), slog.Any("err", err))
		}
	}

	imp.log.Debug("message imported", slog.String("path", path), slog.Int64("id", m.ID))
	return statusImported
}
