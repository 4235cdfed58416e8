package logfile

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TailerOptions contains configuration options for a Tailer.
type TailerOptions struct {
	PollInterval time.Duration
	BufferSize   int
	MaxLineSize  int
	FromStart    bool
}

// DefaultTailerOptions returns the default tailer configuration.
func DefaultTailerOptions() TailerOptions {
	return TailerOptions{
		PollInterval: 1 * time.Second,
		BufferSize:   64 * 1024,
		MaxLineSize:  64 * 1024,
		FromStart:    false,
	}
}

// Tailer follows appends to a log file and emits complete lines.
//
// Filesystem notifications drive the common path; a polling ticker
// backs them up so missed events, rotation, and late file creation are
// still picked up. Rotation is detected by comparing the open file
// against the path on disk.
type Tailer struct {
	path string
	opts TailerOptions

	running bool
	mutex   sync.RWMutex

	file    *os.File
	reader  *bufio.Reader
	partial bytes.Buffer

	watcher *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	OnLine  func(line string)
	OnError func(err error)
}

// NewTailer creates a tailer for the file at path.
func NewTailer(path string, opts TailerOptions) *Tailer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 1 * time.Second
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64 * 1024
	}
	if opts.MaxLineSize <= 0 {
		opts.MaxLineSize = 64 * 1024
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Tailer{
		path:   path,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins following the file. A file that does not exist yet is
// not an error; the tailer waits for it to appear.
func (t *Tailer) Start() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.running {
		return fmt.Errorf("tailer already running")
	}

	if err := t.open(!t.opts.FromStart); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
	}

	// Watch the parent directory so creation and rotation of the file
	// itself generate events. Falls back to pure polling if the
	// watcher cannot be set up.
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		if err := watcher.Add(filepath.Dir(t.path)); err == nil {
			t.watcher = watcher
		} else {
			watcher.Close()
		}
	}

	t.running = true
	t.wg.Add(1)
	go t.run()

	return nil
}

// open opens the file and positions the read offset.
func (t *Tailer) open(seekEnd bool) error {
	file, err := os.Open(t.path)
	if err != nil {
		return err
	}

	if seekEnd {
		if _, err := file.Seek(0, io.SeekEnd); err != nil {
			file.Close()
			return fmt.Errorf("failed to seek to end of file: %w", err)
		}
	}

	t.file = file
	t.reader = bufio.NewReaderSize(file, t.opts.BufferSize)
	t.partial.Reset()
	return nil
}

// run drives the tailer until the context is cancelled.
func (t *Tailer) run() {
	defer t.wg.Done()
	defer func() {
		if t.file != nil {
			t.file.Close()
		}
	}()

	var events chan fsnotify.Event
	var errs chan error
	if t.watcher != nil {
		events = t.watcher.Events
		errs = t.watcher.Errors
	}

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Name != t.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				t.poll()
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			t.reportError(err)

		case <-ticker.C:
			t.poll()
		}
	}
}

// poll catches up with the file: opens it if it appeared, follows a
// rotation, then drains any new lines.
func (t *Tailer) poll() {
	if t.file == nil {
		// Late creation reads the new file from the beginning.
		if err := t.open(false); err != nil {
			return
		}
	} else if err := t.checkRotation(); err != nil {
		t.reportError(err)
		return
	}

	t.drain()
}

// checkRotation reopens the file when the path on disk no longer
// refers to the open file.
func (t *Tailer) checkRotation() error {
	currentInfo, err := t.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat current file: %w", err)
	}

	diskInfo, err := os.Stat(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			// File was removed, keep draining the old one until a
			// replacement shows up.
			return nil
		}
		return fmt.Errorf("failed to stat file on disk: %w", err)
	}

	if !os.SameFile(currentInfo, diskInfo) {
		t.drain()
		t.file.Close()

		if err := t.open(false); err != nil {
			t.file = nil
			t.reader = nil
			return fmt.Errorf("failed to reopen rotated file: %w", err)
		}
	}

	return nil
}

// drain reads complete lines until EOF, stashing any trailing partial
// line for the next round.
func (t *Tailer) drain() {
	if t.reader == nil {
		return
	}

	for {
		chunk, err := t.reader.ReadString('\n')

		if strings.HasSuffix(chunk, "\n") {
			t.partial.WriteString(strings.TrimSuffix(chunk, "\n"))
			t.emit(t.partial.String())
			t.partial.Reset()
		} else if chunk != "" {
			t.partial.WriteString(chunk)
			if t.partial.Len() > t.opts.MaxLineSize {
				t.emit(t.partial.String()[:t.opts.MaxLineSize])
				t.partial.Reset()
			}
		}

		if err != nil {
			if err != io.EOF && t.ctx.Err() == nil {
				t.reportError(fmt.Errorf("failed to read file: %w", err))
			}
			return
		}
	}
}

func (t *Tailer) emit(line string) {
	line = strings.TrimSuffix(line, "\r")
	if t.OnLine != nil {
		t.OnLine(line)
	}
}

func (t *Tailer) reportError(err error) {
	if t.OnError != nil {
		t.OnError(err)
	}
}

// Stop stops the tailer.
func (t *Tailer) Stop() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.running {
		return nil
	}

	t.cancel()
	if t.watcher != nil {
		t.watcher.Close()
	}

	t.running = false
	return nil
}

// Wait blocks until the follow loop has exited.
func (t *Tailer) Wait() {
	t.wg.Wait()
}

// Close stops the tailer and waits for it to finish.
func (t *Tailer) Close() error {
	if err := t.Stop(); err != nil {
		return err
	}
	t.Wait()
	return nil
}

// IsRunning returns true if the tailer is currently running.
func (t *Tailer) IsRunning() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.running
}
