package config

import (
	"sync/atomic"
)

// Holder 保存目前生效的設定快照，讀取端永遠拿到完整的一份
type Holder struct {
	current atomic.Pointer[Settings]
	path    string
}

// NewHolder 以初始快照建立 Holder
//
// 參數:
//
//	path: Reload 時重新讀取的設定檔路徑 (空字串代表不可 Reload)
//	initial: 初始快照
func NewHolder(path string, initial *Settings) *Holder {
	h := &Holder{path: path}
	h.current.Store(initial)
	return h
}

// Current 回傳目前的快照
func (h *Holder) Current() *Settings {
	return h.current.Load()
}

// Swap 直接替換快照 (測試與內嵌用途)
func (h *Holder) Swap(s *Settings) {
	h.current.Store(s)
}

// Reload 重新讀取設定檔並整份替換，失敗時保留舊快照
func (h *Holder) Reload() (*Settings, error) {
	if h.path == "" {
		return h.Current(), nil
	}
	s, err := Load(h.path)
	if err != nil {
		return nil, err
	}
	h.current.Store(s)
	return s, nil
}
