package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FileStore — дефолтный backend аудита: append-only JSONL,
// один файл на проект на календарный день:
//
//	<dir>/<project_id>/2026-08-30.jsonl
//
// Никаких индексов и запросов — чтение и отчеты делает внешний Reporting Layer.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	return &FileStore{
		dir:    dir,
		logger: logger.Named("audit-fs"),
	}
}

// WriteBatch группирует события по (проект, день) и дописывает в соответствующие файлы.
// Частичный сбой не прерывает запись остальных групп; возвращается первая ошибка.
func (s *FileStore) WriteBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	type bucket struct {
		project string
		day     string
	}
	groups := make(map[bucket][]Event)
	for _, e := range events {
		b := bucket{project: e.ProjectID, day: e.Day()}
		groups[b] = append(groups[b], e)
	}

	var firstErr error
	for b, group := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.appendGroup(b.project, b.day, group); err != nil {
			s.logger.Error("audit append failed",
				zap.String("project_id", b.project), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *FileStore) appendGroup(project, day string, events []Event) error {
	dir := filepath.Join(s.dir, sanitizeProjectID(project))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("audit-fs: mkdir: %w", err)
	}

	path := filepath.Join(dir, day+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit-fs: open %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("audit-fs: encode: %w", err)
		}
	}
	return nil
}

// sanitizeProjectID защищает от path traversal в имени проекта.
func sanitizeProjectID(id string) string {
	if id == "" {
		return "_unknown"
	}
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	return r.Replace(id)
}
