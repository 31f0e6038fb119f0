package journal

import (
	"encoding/json"
	"fmt"

	"github.com/JoeShih716/go-mem-economy/internal/app/core/usecase"
	"github.com/JoeShih716/go-mem-economy/pkg/wal"
)

// File 以 WAL 檔案保存尚未 flush 的寫入
type File struct {
	wal *wal.WAL
}

// Open 開啟 (或建立) 日誌檔
func Open(path string) (*File, error) {
	w, err := wal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &File{wal: w}, nil
}

// Append 寫入一筆紀錄並 fsync
func (f *File) Append(rec usecase.JournalRecord) error {
	return f.wal.Write(rec)
}

// Replay 依寫入順序讀出所有紀錄
func (f *File) Replay(fn func(usecase.JournalRecord) error) error {
	return f.wal.ReadAll(func(raw []byte) error {
		var rec usecase.JournalRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode journal record: %w", err)
		}
		return fn(rec)
	})
}

// Compact 以 pending 取代整份日誌
func (f *File) Compact(pending []usecase.JournalRecord) error {
	values := make([]any, len(pending))
	for i := range pending {
		values[i] = pending[i]
	}
	return f.wal.Rewrite(values)
}

// Close 關閉日誌檔
func (f *File) Close() error {
	return f.wal.Close()
}

var _ usecase.Journal = (*File)(nil)
