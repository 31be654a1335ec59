package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"wallcalc/internal/converter/models"
)

// ============================================================
// File Storage
// ============================================================

// FileStorage раскладывает загруженные файлы и результаты по каталогам
// прогонов: <root>/<runID>/upload/<name>, <root>/<runID>/result.json.
type FileStorage struct {
	root string
}

func NewFileStorage(root string) *FileStorage {
	return &FileStorage{root: root}
}

func (s *FileStorage) RunDir(runID string) (string, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return "", fmt.Errorf("run id %q: %w", runID, err)
	}
	return filepath.Join(s.root, runID), nil
}

func (s *FileStorage) UploadPath(runID, filename string) (string, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return "", err
	}
	base := filepath.Base(filepath.Clean("/" + filename))
	if base == "/" || base == "." {
		base = "upload.dxf"
	}
	return filepath.Join(dir, "upload", base), nil
}

func (s *FileStorage) ResultPath(runID string) (string, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "result.json"), nil
}

// SaveUpload сохраняет исходный файл прогона и возвращает путь к нему.
func (s *FileStorage) SaveUpload(runID, filename string, data []byte) (string, error) {
	target, err := s.UploadPath(runID, filename)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("mkdir upload dir: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	return target, nil
}

func (s *FileStorage) SaveResult(res *models.Result) (string, error) {
	target, err := s.ResultPath(res.Report.RunID)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("mkdir run dir: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write result: %w", err)
	}
	return target, nil
}

func (s *FileStorage) LoadResult(runID string) (*models.Result, error) {
	target, err := s.ResultPath(runID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, err
	}
	var res models.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}
