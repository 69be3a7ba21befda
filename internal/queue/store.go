package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/EnYiHou/mcgill-lecture-downloader-sub000/internal/domain"
)

// Store persists the queue snapshot and the downloaded-marker set as JSON
// files. Writes are atomic (temp file + rename); reads fall back to safe
// defaults on missing or malformed data instead of failing startup.
type Store struct {
	mu         sync.Mutex
	stateFile  string
	markerFile string
	logger     *slog.Logger
}

func NewStore(stateFile, markerFile string, logger *slog.Logger) *Store {
	return &Store{
		stateFile:  filepath.Clean(stateFile),
		markerFile: filepath.Clean(markerFile),
		logger:     logger,
	}
}

// LoadState reads the persisted snapshot. A missing or malformed file yields
// an empty state.
func (s *Store) LoadState() domain.QueueState {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.stateFile)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read queue state, starting empty", "file", s.stateFile, "error", err)
		}
		return domain.QueueState{}
	}

	var state domain.QueueState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("malformed queue state, starting empty", "file", s.stateFile, "error", err)
		return domain.QueueState{}
	}

	// Drop entries older releases may have left in an unusable shape.
	valid := state.Items[:0]
	for _, item := range state.Items {
		if item.Key == "" {
			continue
		}
		switch item.Status {
		case domain.StatusQueued, domain.StatusDownloading, domain.StatusFailed, domain.StatusCanceled:
		default:
			// An unrecognized status could be finished work from another
			// version; re-queueing it would silently re-download.
			s.logger.Warn("dropping queue item with unknown status", "key", item.Key, "status", item.Status)
			continue
		}
		valid = append(valid, item)
	}
	state.Items = valid
	state.Total = len(valid)
	state.Active = false

	return state
}

// SaveState persists the snapshot atomically.
func (s *Store) SaveState(state domain.QueueState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue state: %w", err)
	}
	return s.writeAtomic(s.stateFile, data)
}

// LoadMarkers reads the downloaded-marker set, empty on missing or malformed
// data.
func (s *Store) LoadMarkers() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	markers := make(map[string]struct{})

	data, err := os.ReadFile(s.markerFile)
	if err != nil {
		return markers
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		s.logger.Warn("malformed marker file, starting empty", "file", s.markerFile, "error", err)
		return markers
	}
	for _, m := range list {
		markers[m] = struct{}{}
	}
	return markers
}

// AddMarker records one downloaded marker and persists the set.
func (s *Store) AddMarker(marker string) error {
	if marker == "" {
		return nil
	}

	markers := s.LoadMarkers()

	s.mu.Lock()
	defer s.mu.Unlock()

	markers[marker] = struct{}{}
	list := make([]string, 0, len(markers))
	for m := range markers {
		list = append(list, m)
	}
	sort.Strings(list)

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal markers: %w", err)
	}
	return s.writeAtomic(s.markerFile, data)
}

func (s *Store) writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temporary file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temporary file: %w", err)
	}
	return nil
}
