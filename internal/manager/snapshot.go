package manager

import (
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/gopm-io/gopm/internal/errors"
	"github.com/gopm-io/gopm/internal/process"
	"github.com/gopm-io/gopm/internal/protocol"
)

const snapshotVersion = 1

// snapshotEntry is the persisted form of one managed process.
type snapshotEntry struct {
	ID       string               `json:"id"`
	Spec     protocol.ProcessSpec `json:"spec"`
	Restarts int                  `json:"restarts"`
}

// snapshotData is the on-disk snapshot format.
type snapshotData struct {
	Version   int             `json:"version"`
	SavedAt   time.Time       `json:"saved_at"`
	Processes []snapshotEntry `json:"processes"`
}

// Save writes the current registry to the snapshot file. The write
// goes through a temp file and a rename so a crash never leaves a
// half-written snapshot behind.
func (m *Manager) Save() (string, int, error) {
	m.mutex.RLock()
	data := snapshotData{Version: snapshotVersion, SavedAt: time.Now()}
	for _, e := range m.processes {
		data.Processes = append(data.Processes, snapshotEntry{
			ID:       e.proc.ID(),
			Spec:     e.proc.Spec(),
			Restarts: e.proc.Restarts(),
		})
	}
	m.mutex.RUnlock()

	sort.Slice(data.Processes, func(i, j int) bool {
		return data.Processes[i].Spec.Name < data.Processes[j].Spec.Name
	})

	if err := os.MkdirAll(m.cfg.State.Dir, 0755); err != nil {
		return "", 0, errors.FileError(protocol.ErrorCodeInternalError, "failed to create state directory", err)
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", 0, errors.InternalError(protocol.ErrorCodeInternalError, "failed to encode snapshot", err)
	}

	path := m.cfg.SnapshotPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return "", 0, errors.FileError(protocol.ErrorCodeInternalError, "failed to write snapshot", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", 0, errors.FileError(protocol.ErrorCodeInternalError, "failed to replace snapshot", err)
	}

	return path, len(data.Processes), nil
}

// saveQuietly persists the registry after a mutation, logging instead
// of failing the operation when the write goes wrong.
func (m *Manager) saveQuietly() {
	if _, _, err := m.Save(); err != nil {
		m.logger.Warn("state save failed", slog.String("error", err.Error()))
	}
}

// Resurrect loads the snapshot file and starts every process in it.
// Names already in the registry are skipped. Individual start failures
// are logged and do not abort the rest.
func (m *Manager) Resurrect() ([]protocol.ProcessInfo, error) {
	path := m.cfg.SnapshotPath()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrSnapshotNotFound
		}
		return nil, errors.FileError(protocol.ErrorCodeInternalError, "failed to read snapshot", err)
	}

	var data snapshotData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.InternalError(protocol.ErrorCodeInternalError, "corrupt snapshot file", err)
	}

	entries := make([]*entry, 0, len(data.Processes))

	m.mutex.Lock()
	for _, se := range data.Processes {
		spec := se.Spec
		if err := protocol.ValidateSpec(&spec); err != nil {
			m.logger.Warn("skipping invalid snapshot entry",
				slog.String("process", spec.Name),
				slog.String("error", err.Error()))
			continue
		}
		if _, exists := m.processes[spec.Name]; exists {
			m.logger.Info("skipping snapshot entry, name already registered",
				slog.String("process", spec.Name))
			continue
		}
		if max := m.cfg.Manager.MaxProcesses; max > 0 && len(m.processes) >= max {
			m.logger.Warn("skipping snapshot entry, process limit reached",
				slog.String("process", spec.Name),
				slog.Int("max_processes", max))
			continue
		}

		proc := process.Restore(protocol.ProcessInfo{ID: se.ID, Restarts: se.Restarts}, spec, m.logger)
		e, err := m.register(proc)
		if err != nil {
			m.mutex.Unlock()
			return nil, err
		}
		entries = append(entries, e)
	}
	m.mutex.Unlock()

	infos := make([]protocol.ProcessInfo, 0, len(entries))
	for _, e := range entries {
		if err := e.proc.Start(); err != nil {
			m.logger.Error("resurrected process failed to start",
				slog.String("process", e.proc.Name()),
				slog.String("error", err.Error()))
		}
		infos = append(infos, m.infoFor(e))
	}

	m.logger.Info("snapshot resurrected",
		slog.String("path", path),
		slog.Int("processes", len(infos)))
	m.saveQuietly()
	return infos, nil
}
