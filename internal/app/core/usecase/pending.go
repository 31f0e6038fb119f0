package usecase

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type pendingEntry struct {
	value decimal.Decimal
	seq   uint64
}

// pendingWrites 尚未持久化的餘額
//
// queued 是等待下一次 flush 的寫入，inflight 是正在 flush 的那一批
// 每筆寫入都帶遞增序號，flush 失敗放回時以序號較新者為準
type pendingWrites struct {
	mu       sync.Mutex
	seq      uint64
	queued   map[uuid.UUID]pendingEntry
	inflight map[uuid.UUID]pendingEntry

	journal Journal
	log     zerolog.Logger
}

func newPendingWrites(journal Journal, log zerolog.Logger) *pendingWrites {
	return &pendingWrites{
		queued:  make(map[uuid.UUID]pendingEntry),
		journal: journal,
		log:     log,
	}
}

// put 排入一筆寫入，同一帳戶只保留最新值
func (p *pendingWrites) put(id uuid.UUID, value decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.putLocked(id, value)
	p.appendJournal(JournalRecord{Op: JournalSet, AccountID: id, Balance: value})
}

// putIf 持有 pending lock 時先呼叫 cond，回傳 true 才排入
// cond 可以再取得 cacheMu，讓快取與佇列在同一個 critical section 內更新
func (p *pendingWrites) putIf(id uuid.UUID, value decimal.Decimal, cond func() bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !cond() {
		return false
	}
	p.putLocked(id, value)
	p.appendJournal(JournalRecord{Op: JournalSet, AccountID: id, Balance: value})
	return true
}

func (p *pendingWrites) putLocked(id uuid.UUID, value decimal.Decimal) {
	p.seq++
	p.queued[id] = pendingEntry{value: value, seq: p.seq}
}

// drop 移除帳戶的待寫入紀錄
func (p *pendingWrites) drop(ids ...uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		delete(p.queued, id)
		p.appendJournal(JournalRecord{Op: JournalDrop, AccountID: id})
	}
}

// lookup 先查佇列再查 flush 中的批次
func (p *pendingWrites) lookup(id uuid.UUID) (decimal.Decimal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.queued[id]; ok {
		return e.value, true
	}
	if e, ok := p.inflight[id]; ok {
		return e.value, true
	}
	return decimal.Decimal{}, false
}

// drain 把佇列整批移到 inflight 並回傳要寫入的值，佇列為空時回傳 nil
// 呼叫端必須持有 flush lock，並在結束時呼叫 complete 或 restore
func (p *pendingWrites) drain() map[uuid.UUID]decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queued) == 0 {
		return nil
	}
	batch := make(map[uuid.UUID]decimal.Decimal, len(p.queued))
	for id, e := range p.queued {
		batch[id] = e.value
	}
	p.inflight = p.queued
	p.queued = make(map[uuid.UUID]pendingEntry)
	return batch
}

// complete flush 成功，丟棄 inflight 並把日誌壓縮成目前佇列的內容
func (p *pendingWrites) complete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight = nil
	if p.journal == nil {
		return
	}
	if err := p.journal.Compact(p.recordsLocked()); err != nil {
		p.log.Error().Err(err).Msg("Failed to compact journal")
	}
}

// restore flush 失敗，把 inflight 放回佇列
// 若 flush 期間同一帳戶又有新寫入 (序號較大)，保留新值
func (p *pendingWrites) restore() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, e := range p.inflight {
		if cur, ok := p.queued[id]; ok && cur.seq > e.seq {
			continue
		}
		p.queued[id] = e
	}
	p.inflight = nil
}

// replay 從日誌還原佇列，不會再寫回日誌
func (p *pendingWrites) replay() (int, error) {
	if p.journal == nil {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	err := p.journal.Replay(func(rec JournalRecord) error {
		n++
		switch rec.Op {
		case JournalSet:
			p.putLocked(rec.AccountID, rec.Balance)
		case JournalDrop:
			delete(p.queued, rec.AccountID)
		default:
			p.log.Warn().Str("op", string(rec.Op)).Msg("Skipping unknown journal record")
		}
		return nil
	})
	return n, err
}

func (p *pendingWrites) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queued) + len(p.inflight)
}

// recordsLocked 依序號排序，讓日誌內容與寫入順序一致
func (p *pendingWrites) recordsLocked() []JournalRecord {
	type seqRecord struct {
		rec JournalRecord
		seq uint64
	}
	all := make([]seqRecord, 0, len(p.queued))
	for id, e := range p.queued {
		all = append(all, seqRecord{
			rec: JournalRecord{Op: JournalSet, AccountID: id, Balance: e.value},
			seq: e.seq,
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	out := make([]JournalRecord, len(all))
	for i := range all {
		out[i] = all[i].rec
	}
	return out
}

func (p *pendingWrites) appendJournal(rec JournalRecord) {
	if p.journal == nil {
		return
	}
	if err := p.journal.Append(rec); err != nil {
		p.log.Error().Err(err).
			Str("op", string(rec.Op)).
			Stringer("account", rec.AccountID).
			Msg("Failed to append journal record")
	}
}
