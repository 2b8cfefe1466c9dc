package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gasScope/internal/model"
)

// JsonlStorage is a file-backed store: an append-only JSONL journal replayed
// into memory on open. Later lines for the same key supersede earlier ones.
type JsonlStorage struct {
	*MemoryStorage

	path string
	mu   sync.Mutex
}

// OpenJsonlStorage loads the journal at path, creating it lazily on first write.
func OpenJsonlStorage(path string) (*JsonlStorage, error) {
	s := &JsonlStorage{MemoryStorage: NewMemoryStorage(), path: path}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event model.EnrichedEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("decode journal line %d: %w", lineNo, err)
		}
		s.MemoryStorage.events[event.Key()] = event
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return s, nil
}

// UpsertEvents appends new or changed events to the journal. Memory is updated
// only after the journal is synced.
func (s *JsonlStorage) UpsertEvents(ctx context.Context, events []model.EnrichedEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.MemoryStorage.changedEvents(events)
	if len(changed) == 0 {
		return nil
	}
	if err := s.appendJournal(changed); err != nil {
		return err
	}
	return s.MemoryStorage.UpsertEvents(ctx, changed)
}

func (s *JsonlStorage) appendJournal(changed []model.EnrichedEvent) error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat output file: %w", err)
	}
	if err := writeLines(file, changed); err != nil {
		// Drop a partial tail so the journal still replays.
		if truncErr := file.Truncate(info.Size()); truncErr != nil {
			return fmt.Errorf("%w (truncate journal: %v)", err, truncErr)
		}
		return err
	}
	return nil
}

func writeLines(file *os.File, events []model.EnrichedEvent) error {
	writer := bufio.NewWriter(file)
	for _, event := range events {
		line, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync output: %w", err)
	}
	return nil
}
