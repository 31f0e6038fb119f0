package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// 常用的檔案權限
const (
	// rw-r--r-- (擁有者讀寫，其他人唯讀)
	FileModeDefault fs.FileMode = 0644

	// rwxr-xr-x 目錄使用
	FileModeDir fs.FileMode = 0755
)

// WAL 以 JSON Lines 格式追加寫入的日誌檔
type WAL struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// Open 開啟或建立一個 WAL 檔案，上層目錄不存在時自動建立
// O_RDWR讀寫模式
// O_APPEND 每次寫入時自動跳到文件末尾
// O_CREATE 如果文件不存在則建立
func Open(path string) (*WAL, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, FileModeDir); err != nil {
			return nil, fmt.Errorf("create wal directory: %w", err)
		}
	}
	file, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &WAL{path: path, file: file}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModeDefault)
}

// Path 回傳檔案路徑
func (w *WAL) Path() string {
	return w.path
}

// Write 寫入一筆資料並刷入硬碟
func (w *WAL) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return os.ErrClosed
	}
	if err := json.NewEncoder(w.file).Encode(v); err != nil {
		return err
	}
	return w.file.Sync()
}

// ReadAll 依序讀取所有資料
// callback 每次收到一筆 json.RawMessage，不會一次將所有資料載入記憶體
// 檔尾若有寫到一半的紀錄 (crash 時常見) 會被忽略
func (w *WAL) ReadAll(callback func(jsonRaw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return os.ErrClosed
	}

	// 確保從頭讀取
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	decoder := json.NewDecoder(w.file)
	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return err
		}
		if err := callback(raw); err != nil {
			return err
		}
	}
	return nil
}

// Rewrite 以 values 取代整份檔案內容
// 先寫入暫存檔再 rename，過程中 crash 只會留下舊檔或新檔其中之一
func (w *WAL) Rewrite(values []any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return os.ErrClosed
	}

	tmpPath := w.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, FileModeDefault)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return err
		}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, w.path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	// 舊的 file handle 仍指向被取代的 inode，需要重新開啟
	_ = w.file.Close()
	file, err := openAppend(w.path)
	if err != nil {
		w.file = nil
		return err
	}
	w.file = file
	return nil
}

// Close 關閉檔案，重複呼叫不會出錯
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
