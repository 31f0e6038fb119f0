package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-mem-economy/internal/app/core/config"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/domain"
)

// Ledger 帳戶餘額的記憶體快取與寫入緩衝
//
// 結構:
//
//	cache: 帳戶目前的餘額 (讀取以此為準)
//	pending: 尚未持久化的寫入
//	mu: 序列化所有 read-modify-write 的操作
//	flushMu: 同一時間只有一個 flush，轉帳與刪除也會持有
//
// Lock 順序: mu → flushMu → pending → cache
type Ledger struct {
	backend  Backend
	settings SettingsSource
	log      zerolog.Logger
	journal  Journal

	mu      sync.Mutex
	flushMu sync.Mutex

	cacheMu sync.RWMutex
	cache   map[uuid.UUID]decimal.Decimal
	// removals 每次從快取移除帳戶 (刪除或 evict) 加一
	// 移除前開始的讀取不會把讀到的舊值放回快取
	removals uint64

	pending *pendingWrites

	loopMu   sync.Mutex
	stopLoop context.CancelFunc
	loopDone chan struct{}

	closed atomic.Bool
}

// Option 設定 Ledger 的可選參數
type Option func(*Ledger)

// WithLogger 指定 Logger
func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) {
		l.log = log
	}
}

// WithJournal 啟用待寫入日誌
func WithJournal(j Journal) Option {
	return func(l *Ledger) {
		l.journal = j
	}
}

// NewLedger 建立 Ledger，需呼叫 Start 之後才能使用
//
// 參數:
//
//	backend: 持久化儲存
//	settings: 設定快照來源 (Reload 時替換)
//	opts: 可選參數
func NewLedger(backend Backend, settings SettingsSource, opts ...Option) *Ledger {
	l := &Ledger{
		backend:  backend,
		settings: settings,
		log:      zerolog.Nop(),
		cache:    make(map[uuid.UUID]decimal.Decimal),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With().Str("backend", backend.Name()).Logger()
	l.pending = newPendingWrites(l.journal, l.log)
	return l
}

// Start 初始化後端、重播日誌並啟動自動 flush
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.backend.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize %s backend: %w", l.backend.Name(), err)
	}

	n, err := l.pending.replay()
	if err != nil {
		l.log.Error().Err(err).Msg("Failed to replay journal")
	}
	if n > 0 {
		l.log.Info().Int("records", n).Int("pending", l.pending.len()).Msg("Journal replayed")
		if err := l.FlushPendingWrites(ctx); err != nil {
			l.log.Error().Err(err).Msg("Failed to flush replayed writes")
		}
	}

	l.restartAutoFlush()
	return nil
}

// ReloadSettings 依新的 save-interval 重新啟動自動 flush
// 快取與待寫入資料不受影響
func (l *Ledger) ReloadSettings() {
	if l.closed.Load() {
		return
	}
	l.restartAutoFlush()

	// 切換成不緩衝模式時，佇列中的資料要立即寫入
	if l.settings.Current().FlushInterval() == 0 {
		if err := l.FlushPendingWrites(context.Background()); err != nil {
			l.log.Error().Err(err).Msg("Flush after reload failed")
		}
	}
}

// Shutdown 停止自動 flush，做最後一次 flush 後關閉後端
// 之後所有寫入操作都會回傳 DATABASE_ERROR
func (l *Ledger) Shutdown(ctx context.Context) {
	if l.closed.Swap(true) {
		return
	}
	l.stopAutoFlush()

	// 等待進行中的操作結束
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.FlushPendingWrites(ctx); err != nil {
		l.log.Error().Err(err).Int("pending", l.pending.len()).Msg("Final flush failed, pending writes remain in journal only")
	}
	if l.journal != nil {
		if err := l.journal.Close(); err != nil {
			l.log.Error().Err(err).Msg("Failed to close journal")
		}
	}
	l.backend.Shutdown()
	l.log.Info().Msg("Ledger shut down")
}

// GetBalance 取得帳戶餘額
//
// 依序查快取、待寫入資料、後端
// 後端沒有資料時建立預設餘額並排入待寫入
// 後端錯誤時回傳預設餘額且不寫入快取
func (l *Ledger) GetBalance(ctx context.Context, id uuid.UUID) decimal.Decimal {
	if v, ok := l.cached(id); ok {
		return v
	}
	v, err := l.load(ctx, id)
	if err != nil {
		l.log.Error().Err(err).Stringer("account", id).Msg("Failed to load balance, using start balance")
		return l.settings.Current().StartBalance
	}
	return v
}

// HasBalance 帳戶是否存在 (快取、待寫入或後端)，不會建立帳戶
func (l *Ledger) HasBalance(ctx context.Context, id uuid.UUID) bool {
	if _, ok := l.cached(id); ok {
		return true
	}
	if _, ok := l.pending.lookup(id); ok {
		return true
	}
	ok, err := l.backend.HasBalance(ctx, id)
	if err != nil {
		l.log.Error().Err(err).Stringer("account", id).Msg("Failed to check balance")
		return false
	}
	return ok
}

// Deposit 存款
//
// 參數:
//
//	ctx: 上下文
//	id: 帳戶 ID
//	amount: 金額 (必須大於 0)
//
// 回傳:
//
//	domain.Result: 成功時帶新餘額，超過上限時帶原本的餘額
func (l *Ledger) Deposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) domain.Result {
	if status := validAmount(amount); status != domain.StatusSuccess {
		return domain.Failed(status)
	}
	return l.mutate(ctx, id, func(s *config.Settings, current decimal.Decimal) (decimal.Decimal, domain.Status) {
		next := current.Add(amount)
		if s.AboveMax(next) {
			return current, domain.StatusExceedsMaxBalance
		}
		return next, domain.StatusSuccess
	})
}

// Withdraw 提款，低於下限時回傳 INSUFFICIENT_FUNDS 並保留原餘額
func (l *Ledger) Withdraw(ctx context.Context, id uuid.UUID, amount decimal.Decimal) domain.Result {
	if status := validAmount(amount); status != domain.StatusSuccess {
		return domain.Failed(status)
	}
	return l.mutate(ctx, id, func(s *config.Settings, current decimal.Decimal) (decimal.Decimal, domain.Status) {
		next := current.Sub(amount)
		if s.BelowMin(next) {
			return current, domain.StatusInsufficientFunds
		}
		return next, domain.StatusSuccess
	})
}

// SetBalance 直接設定餘額，超出上下限時不做任何變更
func (l *Ledger) SetBalance(ctx context.Context, id uuid.UUID, value decimal.Decimal) domain.Result {
	if !domain.Representable(value) {
		return domain.Failed(domain.StatusInvalidAmount)
	}
	if value.Sign() == 0 {
		value = decimal.Zero
	}
	return l.mutate(ctx, id, func(s *config.Settings, current decimal.Decimal) (decimal.Decimal, domain.Status) {
		if s.BelowMin(value) {
			return current, domain.StatusBelowMinBalance
		}
		if s.AboveMax(value) {
			return current, domain.StatusExceedsMaxBalance
		}
		return value, domain.StatusSuccess
	})
}

// Transfer 轉帳
//
// 雙方的新餘額先在同一個 transaction 中持久化，成功後才更新快取
// 並移除雙方的待寫入紀錄，避免之後的 flush 以舊值覆蓋
//
// 參數:
//
//	ctx: 上下文
//	from: 轉出帳戶
//	to: 轉入帳戶
//	amount: 金額 (必須大於 0)
//
// 回傳:
//
//	domain.Result: 成功時帶轉出帳戶的新餘額
func (l *Ledger) Transfer(ctx context.Context, from, to uuid.UUID, amount decimal.Decimal) domain.Result {
	if from == to {
		return domain.Failed(domain.StatusSameAccount)
	}
	if status := validAmount(amount); status != domain.StatusSuccess {
		return domain.Failed(status)
	}
	if l.closed.Load() {
		return domain.Failed(domain.StatusDatabaseError)
	}

	// 先在 lock 外把雙方載入快取
	l.GetBalance(ctx, from)
	l.GetBalance(ctx, to)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Load() {
		return domain.Failed(domain.StatusDatabaseError)
	}

	s := l.settings.Current()
	fromBalance, err := l.currentLocked(ctx, from)
	if err != nil {
		l.log.Error().Err(err).Stringer("account", from).Msg("Transfer aborted, sender balance unavailable")
		return domain.Failed(domain.StatusDatabaseError)
	}
	toBalance, err := l.currentLocked(ctx, to)
	if err != nil {
		l.log.Error().Err(err).Stringer("account", to).Msg("Transfer aborted, receiver balance unavailable")
		return domain.Failed(domain.StatusDatabaseError)
	}

	nextFrom := fromBalance.Sub(amount)
	nextTo := toBalance.Add(amount)
	if s.BelowMin(nextFrom) {
		return domain.Rejected(domain.StatusInsufficientFunds, fromBalance)
	}
	if s.AboveMax(nextTo) {
		return domain.Rejected(domain.StatusExceedsMaxBalance, fromBalance)
	}

	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	if err := l.backend.ExecuteTransfer(ctx, from, nextFrom, to, nextTo); err != nil {
		l.log.Error().Err(err).
			Stringer("from", from).
			Stringer("to", to).
			Stringer("amount", amount).
			Msg("Transfer failed")
		return domain.Failed(domain.StatusDatabaseError)
	}

	l.cacheMu.Lock()
	l.cache[from] = nextFrom
	l.cache[to] = nextTo
	l.cacheMu.Unlock()
	l.pending.drop(from, to)

	l.log.Debug().
		Stringer("from", from).
		Stringer("to", to).
		Stringer("amount", amount).
		Msg("Transfer committed")
	return domain.Succeeded(nextFrom)
}

// DeleteBalance 刪除帳戶 (快取、待寫入與持久化資料)，後端錯誤只記錄
func (l *Ledger) DeleteBalance(ctx context.Context, id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed.Load() {
		l.log.Warn().Stringer("account", id).Msg("Delete ignored, ledger is shut down")
		return
	}

	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.cacheMu.Lock()
	delete(l.cache, id)
	l.removals++
	l.cacheMu.Unlock()
	l.pending.drop(id)
	if err := l.backend.DeleteBalance(ctx, id); err != nil {
		l.log.Error().Err(err).Stringer("account", id).Msg("Failed to delete balance")
	}
}

// EvictFromCache 只移除快取，待寫入與持久化資料不變
func (l *Ledger) EvictFromCache(id uuid.UUID) {
	l.cacheMu.Lock()
	if _, ok := l.cache[id]; ok {
		delete(l.cache, id)
		l.removals++
	}
	l.cacheMu.Unlock()
}

// TopBalances 餘額排行，查詢前會先 flush
func (l *Ledger) TopBalances(ctx context.Context, limit int) []domain.BalanceEntry {
	if limit <= 0 {
		return []domain.BalanceEntry{}
	}
	l.flushBeforeQuery(ctx)
	entries, err := l.backend.TopBalances(ctx, limit)
	if err != nil {
		l.log.Error().Err(err).Int("limit", limit).Msg("Failed to load top balances")
		return []domain.BalanceEntry{}
	}
	return entries
}

// TotalBalance 所有帳戶的餘額總和，查詢前會先 flush
func (l *Ledger) TotalBalance(ctx context.Context) decimal.Decimal {
	l.flushBeforeQuery(ctx)
	total, err := l.backend.TotalBalance(ctx)
	if err != nil {
		l.log.Error().Err(err).Msg("Failed to load total balance")
		return decimal.Zero
	}
	return total
}

// PlayerCount 帳戶數量，查詢前會先 flush
func (l *Ledger) PlayerCount(ctx context.Context) int64 {
	l.flushBeforeQuery(ctx)
	n, err := l.backend.PlayerCount(ctx)
	if err != nil {
		l.log.Error().Err(err).Msg("Failed to load player count")
		return 0
	}
	return n
}

// FlushPendingWrites 把待寫入資料在同一個 transaction 中持久化
// 失敗時整批放回佇列 (flush 期間的新寫入優先) 並回傳錯誤
func (l *Ledger) FlushPendingWrites(ctx context.Context) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	batch := l.pending.drain()
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	if err := l.backend.SaveBalances(ctx, batch); err != nil {
		l.pending.restore()
		return fmt.Errorf("flush %d pending writes: %w", len(batch), err)
	}
	l.pending.complete()

	l.log.Debug().
		Int("count", len(batch)).
		Dur("took", time.Since(start)).
		Msg("Pending writes flushed")
	return nil
}

// PendingCount 尚未持久化的帳戶數量
func (l *Ledger) PendingCount() int {
	return l.pending.len()
}

// mutate 單一帳戶的 read-modify-write
// apply 回傳非 SUCCESS 時不做任何變更，並回傳原本的餘額
func (l *Ledger) mutate(
	ctx context.Context,
	id uuid.UUID,
	apply func(s *config.Settings, current decimal.Decimal) (decimal.Decimal, domain.Status),
) domain.Result {
	if l.closed.Load() {
		return domain.Failed(domain.StatusDatabaseError)
	}

	// 先在 lock 外把帳戶載入快取
	l.GetBalance(ctx, id)

	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		return domain.Failed(domain.StatusDatabaseError)
	}

	s := l.settings.Current()
	current, err := l.currentLocked(ctx, id)
	if err != nil {
		l.mu.Unlock()
		l.log.Error().Err(err).Stringer("account", id).Msg("Balance unavailable, mutation rejected")
		return domain.Failed(domain.StatusDatabaseError)
	}

	next, status := apply(s, current)
	if status != domain.StatusSuccess {
		l.mu.Unlock()
		return domain.Rejected(status, current)
	}

	l.cacheMu.Lock()
	l.cache[id] = next
	l.cacheMu.Unlock()
	l.pending.put(id, next)
	l.mu.Unlock()

	if s.FlushInterval() == 0 {
		// 快取已是最新狀態，同步 flush 失敗時資料仍留在佇列中
		if err := l.FlushPendingWrites(ctx); err != nil {
			l.log.Error().Err(err).Stringer("account", id).Msg("Synchronous flush failed")
		}
	}
	return domain.Succeeded(next)
}

// currentLocked 呼叫端持有 mu，快取被 evict 時重新載入
func (l *Ledger) currentLocked(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	if v, ok := l.cached(id); ok {
		return v, nil
	}
	return l.load(ctx, id)
}

func (l *Ledger) cached(id uuid.UUID) (decimal.Decimal, bool) {
	l.cacheMu.RLock()
	defer l.cacheMu.RUnlock()
	v, ok := l.cache[id]
	return v, ok
}

// load 快取未命中時的讀取路徑
func (l *Ledger) load(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	l.cacheMu.RLock()
	epoch := l.removals
	l.cacheMu.RUnlock()

	if v, ok := l.pending.lookup(id); ok {
		return l.cacheIfAbsent(id, v, epoch), nil
	}

	v, found, err := l.backend.LoadBalance(ctx, id)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if found {
		return l.cacheIfAbsent(id, v, epoch), nil
	}

	// 新帳戶：快取與佇列必須一起寫入，否則並行的寫入可能被預設值蓋掉
	start := l.settings.Current().StartBalance
	result := start
	created := l.pending.putIf(id, start, func() bool {
		l.cacheMu.Lock()
		defer l.cacheMu.Unlock()
		if cur, ok := l.cache[id]; ok {
			result = cur
			return false
		}
		if l.removals != epoch {
			return false
		}
		l.cache[id] = start
		return true
	})
	if created {
		l.log.Debug().Stringer("account", id).Stringer("balance", start).Msg("Account created")
	}
	return result, nil
}

// cacheIfAbsent 並行讀取時以先寫入快取者為準
// 讀取期間若有帳戶被移出快取，結果不放入快取
func (l *Ledger) cacheIfAbsent(id uuid.UUID, v decimal.Decimal, epoch uint64) decimal.Decimal {
	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()
	if cur, ok := l.cache[id]; ok {
		return cur
	}
	if l.removals == epoch {
		l.cache[id] = v
	}
	return v
}

func (l *Ledger) flushBeforeQuery(ctx context.Context) {
	if err := l.FlushPendingWrites(ctx); err != nil {
		l.log.Error().Err(err).Msg("Flush before query failed, results may be stale")
	}
}

func (l *Ledger) restartAutoFlush() {
	l.loopMu.Lock()
	defer l.loopMu.Unlock()
	l.stopAutoFlushLocked()

	interval := l.settings.Current().FlushInterval()
	if interval <= 0 {
		l.log.Info().Msg("Auto flush disabled, writes are persisted synchronously")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	l.stopLoop = cancel
	l.loopDone = done

	go l.autoFlush(ctx, interval, done)
	l.log.Info().Dur("interval", interval).Msg("Auto flush started")
}

func (l *Ledger) autoFlush(ctx context.Context, interval time.Duration, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// flush 本身不支援中途取消
			if err := l.FlushPendingWrites(context.WithoutCancel(ctx)); err != nil {
				l.log.Error().Err(err).Msg("Auto flush failed")
			}
		}
	}
}

func (l *Ledger) stopAutoFlush() {
	l.loopMu.Lock()
	defer l.loopMu.Unlock()
	l.stopAutoFlushLocked()
}

func (l *Ledger) stopAutoFlushLocked() {
	if l.stopLoop == nil {
		return
	}
	l.stopLoop()
	<-l.loopDone
	l.stopLoop = nil
	l.loopDone = nil
}

// validAmount 金額必須大於 0，且在 domain.Representable 的範圍內
func validAmount(amount decimal.Decimal) domain.Status {
	if amount.Sign() <= 0 || !domain.Representable(amount) {
		return domain.StatusInvalidAmount
	}
	return domain.StatusSuccess
}
