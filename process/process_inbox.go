package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"cupomapi/models"
	"cupomapi/pkg/cupom"
)

// Global DB handle for helper funcs
var db *gorm.DB

// global flags (parsed in main)
var (
	verbose  bool
	simulate bool
)

// MIME mapping to avoid opening files repeatedly
var extMime = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// seenState caches file names already recorded so watch mode stays cheap.
type seenState struct {
	byFile map[string]struct{}
	mu     sync.RWMutex
}

func newSeenState() *seenState {
	return &seenState{byFile: make(map[string]struct{}, 1024)}
}

func (s *seenState) has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byFile[name]
	return ok
}

func (s *seenState) put(name string) {
	s.mu.Lock()
	s.byFile[name] = struct{}{}
	s.mu.Unlock()
}

func mustInitDBFromEnv() *gorm.DB {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatalf("DB_DSN must be set in environment to run this tool")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	return gdb
}

// Main: scans an inbox directory of receipt photographs, runs the extraction
// pipeline on each and records Extraction rows; optional watch mode keeps
// processing new files as they arrive.
func main() {
	dirFlag := flag.String("dir", "inbox", "directory to scan for receipt images")
	watch := flag.Bool("watch", false, "Watch directory for new files")
	workers := flag.Int("workers", 0, "Worker pool size (default NumCPU)")
	dryRun := flag.Bool("dry-run", false, "Skip all DB writes; just list / optionally extract (see --simulate)")
	flag.BoolVar(&verbose, "verbose", false, "Verbose per-file logging")
	flag.BoolVar(&simulate, "simulate", false, "In dry-run: actually run the pipeline to show extracted totals")
	flag.Parse()

	pipe := cupom.New(cupom.NewTesseract())

	if *dryRun {
		log.Printf("Dry-run: scanning %s (no DB interaction)", *dirFlag)
		files := listImageFiles(*dirFlag)
		log.Printf("Found %d candidate files", len(files))
		if simulate {
			for _, f := range files {
				data, err := os.ReadFile(filepath.Join(*dirFlag, f))
				if err != nil {
					continue
				}
				if res, err := pipe.Run(data); err == nil {
					logV("extract %s total=%.2f", f, res.Total)
				} else {
					logV("extract %s failed: %v", f, err)
				}
			}
		}
		return
	}

	db = mustInitDBFromEnv()
	seen := preloadSeen()
	log.Printf("Preloaded: extractions=%d", len(seen.byFile))

	files := listImageFiles(*dirFlag)
	log.Printf("Scanning %d files (workers=%d)", len(files), effectiveWorkers(*workers))
	runWorkerPool(*dirFlag, pipe, seen, files, effectiveWorkers(*workers))

	if *watch {
		if err := watchDirectory(*dirFlag, pipe, seen, effectiveWorkers(*workers)); err != nil {
			log.Fatalf("watch failed: %v", err)
		}
	}
}

func effectiveWorkers(w int) int {
	if w <= 0 {
		return runtime.NumCPU()
	}
	return w
}

func logV(format string, args ...any) {
	if verbose {
		log.Printf(format, args...)
	}
}

// preloadSeen fetches file names of recorded inbox extractions to minimize
// per-file queries.
func preloadSeen() *seenState {
	seen := newSeenState()
	var exs []models.Extraction
	if err := db.Where("source = ?", models.SourceInbox).Find(&exs).Error; err == nil {
		for _, ex := range exs {
			seen.byFile[ex.FileName] = struct{}{}
		}
	}
	return seen
}

func listImageFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !isSupportedExt(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func watchDirectory(dir string, pipe *cupom.Pipeline, seen *seenState, workers int) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	log.Printf("Watching %s (debounced) ...", dir)

	fileCh := make(chan string, 256)
	go func() {
		// simple debounce map of pending files: writes may still be in
		// flight right after the Create event
		pending := map[string]time.Time{}
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					close(fileCh)
					return
				}
				if ev.Op&fsnotify.Create == fsnotify.Create {
					name := filepath.Base(ev.Name)
					if !isSupportedExt(name) {
						continue
					}
					pending[name] = time.Now()
				}
			case <-ticker.C:
				now := time.Now()
				for name, t := range pending {
					if now.Sub(t) > 300*time.Millisecond { // stable
						fileCh <- name
						delete(pending, name)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					close(fileCh)
					return
				}
				log.Printf("watch error: %v", err)
			}
		}
	}()

	go runWorkerPool(dir, pipe, seen, nil, workers, fileCh)
	// block forever (Ctrl+C to exit)
	select {}
}

func isSupportedExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	_, ok := extMime[ext]
	return ok
}

// worker pool orchestrator
func runWorkerPool(dir string, pipe *cupom.Pipeline, seen *seenState, initial []string, workers int, extraCh ...<-chan string) {
	fileCh := make(chan string, 1024)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range fileCh {
				processSingleFile(dir, name, pipe, seen)
			}
		}()
	}
	go func() {
		for _, f := range initial {
			fileCh <- f
		}
		for _, ch := range extraCh {
			go func(c <-chan string) {
				for n := range c {
					fileCh <- n
				}
			}(ch)
		}
		// if no extraCh (scan only) close when done
		if len(extraCh) == 0 {
			close(fileCh)
		}
	}()
	if len(extraCh) == 0 {
		wg.Wait()
	}
}

// processSingleFile runs the pipeline on one inbox file and records the
// outcome. Idempotent per file name; processed files move to done/.
func processSingleFile(dir, name string, pipe *cupom.Pipeline, seen *seenState) {
	if seen.has(name) {
		logV("SKIP already recorded %s", name)
		return
	}
	filePath := filepath.Join(dir, name)
	data, err := os.ReadFile(filePath)
	if err != nil {
		log.Printf("ERROR read %s: %v", name, err)
		return
	}

	res, runErr := pipe.Run(data)
	ex := models.Extraction{
		FileName:   name,
		TotalCents: res.TotalCents,
		RawText:    cupom.Snippet(res.RawText, 1000),
		Source:     models.SourceInbox,
	}
	if runErr != nil {
		ex.Failed = true
		ex.FailReason = cupom.Snippet(runErr.Error(), 255)
	}
	if err := db.Create(&ex).Error; err != nil {
		log.Printf("ERROR record extraction %s: %v", name, err)
		return
	}
	seen.put(name)
	if runErr != nil {
		log.Printf("FAIL %s: %v", name, runErr)
	} else {
		log.Printf("OK %s total=%.2f (id=%d)", name, res.Total, ex.ID)
	}
	moveToDone(dir, name)
}

// moveToDone relocates a processed file so repeated scans stay small.
func moveToDone(dir, name string) {
	doneDir := filepath.Join(dir, "done")
	if err := os.MkdirAll(doneDir, 0755); err != nil {
		logV("mkdir done: %v", err)
		return
	}
	if err := os.Rename(filepath.Join(dir, name), filepath.Join(doneDir, name)); err != nil {
		logV("move %s: %v", name, err)
	}
}
