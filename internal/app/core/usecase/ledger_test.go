package usecase_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-mem-economy/internal/app/core/adapter/out/journal"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/config"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/domain"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/usecase"
)

var errBackendDown = errors.New("backend down")

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	ledger   *usecase.Ledger
	backend  *memory.Backend
	settings *config.Holder
}

// newFixture 建立已啟動的 Ledger，預設 start=100 min=0 max=10000，save-interval 為預設值 (測試中不會自動觸發)
func newFixture(t *testing.T, tweak func(s *config.Settings), opts ...usecase.Option) *fixture {
	t.Helper()

	s := config.Default()
	s.MaxBalance = decimal.NewNullDecimal(d("10000"))
	if tweak != nil {
		tweak(s)
	}
	holder := config.NewHolder("", s)
	backend := memory.NewBackend()
	ledger := usecase.NewLedger(backend, holder, opts...)
	if err := ledger.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { ledger.Shutdown(context.Background()) })

	return &fixture{ledger: ledger, backend: backend, settings: holder}
}

func expectResult(t *testing.T, got domain.Result, status domain.Status, balance string) {
	t.Helper()
	if got.Status != status {
		t.Fatalf("status: got %s, want %s", got.Status, status)
	}
	if balance == "" {
		if got.HasBalance {
			t.Fatalf("expected no balance, got %s", got.Balance)
		}
		return
	}
	if !got.HasBalance || !got.Balance.Equal(d(balance)) {
		t.Fatalf("balance: got %s (has=%v), want %s", got.Balance, got.HasBalance, balance)
	}
}

func expectBalance(t *testing.T, f *fixture, id uuid.UUID, want string) {
	t.Helper()
	if got := f.ledger.GetBalance(t.Context(), id); !got.Equal(d(want)) {
		t.Fatalf("balance of %s: got %s, want %s", id, got, want)
	}
}

func expectStored(t *testing.T, f *fixture, id uuid.UUID, want string) {
	t.Helper()
	got, ok := f.backend.Stored(id)
	if !ok {
		t.Fatalf("account %s not persisted, want %s", id, want)
	}
	if !got.Equal(d(want)) {
		t.Fatalf("persisted balance of %s: got %s, want %s", id, got, want)
	}
}

func TestLedger_ExampleScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := t.Context()
	a, b := uuid.New(), uuid.New()

	expectBalance(t, f, a, "100")
	if f.ledger.PendingCount() != 1 {
		t.Fatalf("new account should be queued, pending=%d", f.ledger.PendingCount())
	}

	expectResult(t, f.ledger.Deposit(ctx, a, d("50")), domain.StatusSuccess, "150")
	expectResult(t, f.ledger.Withdraw(ctx, a, d("500")), domain.StatusInsufficientFunds, "150")
	expectBalance(t, f, a, "150")

	expectResult(t, f.ledger.SetBalance(ctx, b, decimal.Zero), domain.StatusSuccess, "0")
	expectResult(t, f.ledger.Transfer(ctx, a, b, d("150")), domain.StatusSuccess, "0")
	expectBalance(t, f, a, "0")
	expectBalance(t, f, b, "150")

	// 轉帳不經過佇列，直接持久化
	expectStored(t, f, a, "0")
	expectStored(t, f, b, "150")

	expectResult(t, f.ledger.SetBalance(ctx, a, d("20000")), domain.StatusExceedsMaxBalance, "0")
	expectBalance(t, f, a, "0")
}

func TestLedger_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	id, other := uuid.New(), uuid.New()

	tests := []struct {
		name   string
		call   func(ctx context.Context) domain.Result
		status domain.Status
	}{
		{
			name:   "deposit_zero",
			call:   func(ctx context.Context) domain.Result { return f.ledger.Deposit(ctx, id, decimal.Zero) },
			status: domain.StatusInvalidAmount,
		},
		{
			name:   "deposit_negative",
			call:   func(ctx context.Context) domain.Result { return f.ledger.Deposit(ctx, id, d("-5")) },
			status: domain.StatusInvalidAmount,
		},
		{
			name:   "deposit_too_precise",
			call:   func(ctx context.Context) domain.Result { return f.ledger.Deposit(ctx, id, d("0.00001")) },
			status: domain.StatusInvalidAmount,
		},
		{
			name:   "withdraw_zero",
			call:   func(ctx context.Context) domain.Result { return f.ledger.Withdraw(ctx, id, decimal.Zero) },
			status: domain.StatusInvalidAmount,
		},
		{
			name:   "set_too_precise",
			call:   func(ctx context.Context) domain.Result { return f.ledger.SetBalance(ctx, id, d("1.23456")) },
			status: domain.StatusInvalidAmount,
		},
		{
			name:   "transfer_same_account_before_amount",
			call:   func(ctx context.Context) domain.Result { return f.ledger.Transfer(ctx, id, id, d("-1")) },
			status: domain.StatusSameAccount,
		},
		{
			name:   "deposit_huge_exponent",
			call:   func(ctx context.Context) domain.Result { return f.ledger.Deposit(ctx, id, decimal.New(1, 100000000)) },
			status: domain.StatusInvalidAmount,
		},
		{
			name:   "set_tiny_exponent",
			call:   func(ctx context.Context) domain.Result { return f.ledger.SetBalance(ctx, id, decimal.New(1, -100000000)) },
			status: domain.StatusInvalidAmount,
		},
		{
			name:   "transfer_huge_exponent",
			call:   func(ctx context.Context) domain.Result { return f.ledger.Transfer(ctx, id, other, decimal.New(1, 100000000)) },
			status: domain.StatusInvalidAmount,
		},
		{
			name:   "transfer_zero",
			call:   func(ctx context.Context) domain.Result { return f.ledger.Transfer(ctx, id, other, decimal.Zero) },
			status: domain.StatusInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectResult(t, tt.call(t.Context()), tt.status, "")
		})
	}

	// 驗證失敗不能建立帳戶
	if f.ledger.HasBalance(t.Context(), id) || f.ledger.HasBalance(t.Context(), other) {
		t.Fatalf("validation failure created an account")
	}
}

func TestLedger_Bounds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(s *config.Settings) {
		s.MinBalance = d("10")
		s.MaxBalance = decimal.NewNullDecimal(d("500"))
	})
	ctx := t.Context()
	id := uuid.New()

	expectResult(t, f.ledger.SetBalance(ctx, id, d("9.9999")), domain.StatusBelowMinBalance, "100")
	expectResult(t, f.ledger.SetBalance(ctx, id, d("-1")), domain.StatusBelowMinBalance, "100")
	expectResult(t, f.ledger.SetBalance(ctx, id, d("500.0001")), domain.StatusExceedsMaxBalance, "100")
	expectResult(t, f.ledger.SetBalance(ctx, id, d("500")), domain.StatusSuccess, "500")
	expectResult(t, f.ledger.Deposit(ctx, id, d("0.0001")), domain.StatusExceedsMaxBalance, "500")
	expectResult(t, f.ledger.Withdraw(ctx, id, d("490")), domain.StatusSuccess, "10")
	expectResult(t, f.ledger.Withdraw(ctx, id, d("0.0001")), domain.StatusInsufficientFunds, "10")
	expectBalance(t, f, id, "10")
}

func TestLedger_UnboundedMaxIsCappedAtStorableValue(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(s *config.Settings) {
		s.MaxBalance = decimal.NullDecimal{}
	})
	ctx := t.Context()
	id, other := uuid.New(), uuid.New()

	expectResult(t, f.ledger.SetBalance(ctx, id, domain.MaxValue), domain.StatusSuccess, domain.MaxValue.String())
	expectResult(t, f.ledger.Deposit(ctx, id, d("0.0001")), domain.StatusExceedsMaxBalance, domain.MaxValue.String())
	expectResult(t, f.ledger.Transfer(ctx, other, id, d("1")), domain.StatusExceedsMaxBalance, "100")
	expectResult(t, f.ledger.SetBalance(ctx, other, decimal.New(1, domain.IntegerDigits)), domain.StatusInvalidAmount, "")

	// 零值不論指數多極端都視為 0
	expectResult(t, f.ledger.SetBalance(ctx, other, decimal.New(0, -100000000)), domain.StatusSuccess, "0")
}

func TestLedger_TransferBounds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(s *config.Settings) {
		s.MaxBalance = decimal.NewNullDecimal(d("200"))
	})
	ctx := t.Context()
	a, b := uuid.New(), uuid.New()

	expectResult(t, f.ledger.Transfer(ctx, a, b, d("100.5")), domain.StatusInsufficientFunds, "100")
	expectResult(t, f.ledger.Transfer(ctx, a, b, d("100.0001")), domain.StatusInsufficientFunds, "100")
	expectResult(t, f.ledger.SetBalance(ctx, b, d("150")), domain.StatusSuccess, "150")
	expectResult(t, f.ledger.Transfer(ctx, a, b, d("60")), domain.StatusExceedsMaxBalance, "100")

	expectBalance(t, f, a, "100")
	expectBalance(t, f, b, "150")
	if _, ok := f.backend.Stored(a); ok {
		t.Fatalf("rejected transfer persisted sender")
	}
}

func TestLedger_TransferFailureLeavesBothUnchanged(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := t.Context()
	a, b := uuid.New(), uuid.New()
	expectResult(t, f.ledger.SetBalance(ctx, a, d("80")), domain.StatusSuccess, "80")
	expectResult(t, f.ledger.SetBalance(ctx, b, d("20")), domain.StatusSuccess, "20")
	if err := f.ledger.FlushPendingWrites(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	f.backend.FailTransfers(errBackendDown)
	expectResult(t, f.ledger.Transfer(ctx, a, b, d("30")), domain.StatusDatabaseError, "")

	expectBalance(t, f, a, "80")
	expectBalance(t, f, b, "20")
	expectStored(t, f, a, "80")
	expectStored(t, f, b, "20")

	// 恢復後可以重試
	f.backend.FailTransfers(nil)
	expectResult(t, f.ledger.Transfer(ctx, a, b, d("30")), domain.StatusSuccess, "50")
	expectStored(t, f, a, "50")
	expectStored(t, f, b, "50")
}

func TestLedger_TransferClearsPendingWrites(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := t.Context()
	a, b := uuid.New(), uuid.New()
	f.ledger.Deposit(ctx, a, d("10"))
	f.ledger.Deposit(ctx, b, d("10"))
	if f.ledger.PendingCount() != 2 {
		t.Fatalf("pending before transfer: %d", f.ledger.PendingCount())
	}

	expectResult(t, f.ledger.Transfer(ctx, a, b, d("5")), domain.StatusSuccess, "105")
	if f.ledger.PendingCount() != 0 {
		t.Fatalf("transfer should drop pending writes, got %d", f.ledger.PendingCount())
	}

	if err := f.ledger.FlushPendingWrites(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	expectStored(t, f, a, "105")
	expectStored(t, f, b, "115")
}

func TestLedger_FlushFailureKeepsWritesQueued(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := t.Context()
	id := uuid.New()
	f.ledger.SetBalance(ctx, id, d("42"))

	f.backend.FailWrites(errBackendDown)
	if err := f.ledger.FlushPendingWrites(ctx); !errors.Is(err, errBackendDown) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if f.ledger.PendingCount() != 1 {
		t.Fatalf("failed flush lost writes, pending=%d", f.ledger.PendingCount())
	}

	// 失敗期間的新寫入要保留
	f.ledger.Deposit(ctx, id, d("8"))

	f.backend.FailWrites(nil)
	if err := f.ledger.FlushPendingWrites(ctx); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	expectStored(t, f, id, "50")
	if f.ledger.PendingCount() != 0 {
		t.Fatalf("pending after flush: %d", f.ledger.PendingCount())
	}
}

func TestLedger_ConcurrentDeposits(t *testing.T) {
	t.Parallel()

	const n = 200
	f := newFixture(t, func(s *config.Settings) {
		s.StartBalance = decimal.Zero
	})
	id := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r := f.ledger.Deposit(context.Background(), id, decimal.NewFromInt(1)); !r.Success() {
				t.Errorf("deposit failed: %s", r.Status)
			}
		}()
	}
	wg.Wait()

	expectBalance(t, f, id, "200")
	if err := f.ledger.FlushPendingWrites(t.Context()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	expectStored(t, f, id, "200")
}

func TestLedger_ConcurrentTransfersConserveTotal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	accounts := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	for _, id := range accounts {
		f.ledger.SetBalance(t.Context(), id, d("1000"))
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		from := accounts[i%len(accounts)]
		to := accounts[(i+1)%len(accounts)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.ledger.Transfer(context.Background(), from, to, d("7.25"))
		}()
	}
	wg.Wait()

	if total := f.ledger.TotalBalance(t.Context()); !total.Equal(d("4000")) {
		t.Fatalf("total changed: %s", total)
	}
}

func TestLedger_SetThenGetWithoutFlush(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	id := uuid.New()
	for _, v := range []string{"0", "1234.5678", "10000"} {
		expectResult(t, f.ledger.SetBalance(t.Context(), id, d(v)), domain.StatusSuccess, v)
		expectBalance(t, f, id, v)
	}
	if _, ok := f.backend.Stored(id); ok {
		t.Fatalf("buffered write persisted before flush")
	}
}

func TestLedger_EvictFromCache(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := t.Context()
	id := uuid.New()
	f.ledger.SetBalance(ctx, id, d("55"))

	// 還在佇列中
	f.ledger.EvictFromCache(id)
	expectBalance(t, f, id, "55")

	// 已持久化
	if err := f.ledger.FlushPendingWrites(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	f.ledger.EvictFromCache(id)
	expectBalance(t, f, id, "55")
	expectResult(t, f.ledger.Deposit(ctx, id, d("5")), domain.StatusSuccess, "60")
}

func TestLedger_DeleteBalance(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := t.Context()
	id := uuid.New()
	f.ledger.SetBalance(ctx, id, d("300"))
	if err := f.ledger.FlushPendingWrites(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	f.ledger.Deposit(ctx, id, d("1"))

	f.ledger.DeleteBalance(ctx, id)

	if f.ledger.HasBalance(ctx, id) {
		t.Fatalf("account still exists after delete")
	}
	if _, ok := f.backend.Stored(id); ok {
		t.Fatalf("row still persisted after delete")
	}
	if f.ledger.PendingCount() != 0 {
		t.Fatalf("pending write survived delete")
	}

	// 再次查詢視為新帳戶
	expectBalance(t, f, id, "100")
}

func TestLedger_DeleteBalanceLogsBackendError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	id := uuid.New()
	f.ledger.SetBalance(t.Context(), id, d("5"))

	f.backend.FailWrites(errBackendDown)
	f.ledger.DeleteBalance(t.Context(), id)

	if f.ledger.PendingCount() != 0 {
		t.Fatalf("pending write survived delete")
	}
}

func TestLedger_HasBalanceHasNoSideEffects(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	id := uuid.New()

	if f.ledger.HasBalance(t.Context(), id) {
		t.Fatalf("unknown account reported as existing")
	}
	if f.ledger.PendingCount() != 0 || f.ledger.PlayerCount(t.Context()) != 0 {
		t.Fatalf("HasBalance created an account")
	}

	f.ledger.GetBalance(t.Context(), id)
	if !f.ledger.HasBalance(t.Context(), id) {
		t.Fatalf("account created by GetBalance not found")
	}
}

func TestLedger_ReadErrorsDegrade(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := t.Context()
	id := uuid.New()
	if err := f.backend.SaveBalance(ctx, id, d("7")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	f.backend.FailReads(errBackendDown)
	expectBalance(t, f, id, "100")
	expectResult(t, f.ledger.Deposit(ctx, id, d("1")), domain.StatusDatabaseError, "")
	if f.ledger.HasBalance(ctx, id) {
		t.Fatalf("HasBalance should report false on backend error")
	}
	if top := f.ledger.TopBalances(ctx, 5); len(top) != 0 {
		t.Fatalf("top on error: %+v", top)
	}
	if total := f.ledger.TotalBalance(ctx); !total.IsZero() {
		t.Fatalf("total on error: %s", total)
	}

	// 失敗時不能把預設餘額放進快取
	f.backend.FailReads(nil)
	expectBalance(t, f, id, "7")
}

func TestLedger_QueriesFlushFirst(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := t.Context()
	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	c := uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	f.ledger.SetBalance(ctx, a, d("10"))
	f.ledger.SetBalance(ctx, b, d("300"))
	f.ledger.SetBalance(ctx, c, d("300"))

	top := f.ledger.TopBalances(ctx, 2)
	if len(top) != 2 || top[0].AccountID != b || top[1].AccountID != c {
		t.Fatalf("unexpected top: %+v", top)
	}
	if total := f.ledger.TotalBalance(ctx); !total.Equal(d("610")) {
		t.Fatalf("total: %s", total)
	}
	if n := f.ledger.PlayerCount(ctx); n != 3 {
		t.Fatalf("count: %d", n)
	}
	if got := f.ledger.TopBalances(ctx, 0); len(got) != 0 {
		t.Fatalf("limit 0: %+v", got)
	}
}

func TestLedger_SynchronousMode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(s *config.Settings) {
		s.SaveInterval = 0
	})
	ctx := t.Context()
	id := uuid.New()

	expectResult(t, f.ledger.Deposit(ctx, id, d("25")), domain.StatusSuccess, "125")
	expectStored(t, f, id, "125")
	if f.ledger.PendingCount() != 0 {
		t.Fatalf("pending in synchronous mode: %d", f.ledger.PendingCount())
	}

	// 同步 flush 失敗時仍回傳 SUCCESS，資料留在佇列
	f.backend.FailWrites(errBackendDown)
	expectResult(t, f.ledger.Withdraw(ctx, id, d("5")), domain.StatusSuccess, "120")
	if f.ledger.PendingCount() != 1 {
		t.Fatalf("failed synchronous flush lost the write")
	}

	f.backend.FailWrites(nil)
	expectResult(t, f.ledger.Deposit(ctx, id, d("1")), domain.StatusSuccess, "121")
	expectStored(t, f, id, "121")
}

func TestLedger_AutoFlushAfterReload(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	id := uuid.New()
	f.ledger.SetBalance(t.Context(), id, d("9"))

	next := *f.settings.Current()
	next.SaveInterval = 1
	f.settings.Swap(&next)
	f.ledger.ReloadSettings()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if v, ok := f.backend.Stored(id); ok && v.Equal(d("9")) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("auto flush did not persist the write")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// 快取不受 reload 影響
	expectBalance(t, f, id, "9")
}

func TestLedger_ReloadToSynchronousFlushes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	id := uuid.New()
	f.ledger.SetBalance(t.Context(), id, d("3"))

	next := *f.settings.Current()
	next.SaveInterval = 0
	f.settings.Swap(&next)
	f.ledger.ReloadSettings()

	expectStored(t, f, id, "3")
}

func TestLedger_ReloadAppliesNewBounds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	id := uuid.New()

	next := *f.settings.Current()
	next.MaxBalance = decimal.NewNullDecimal(d("120"))
	f.settings.Swap(&next)
	f.ledger.ReloadSettings()

	expectResult(t, f.ledger.Deposit(t.Context(), id, d("21")), domain.StatusExceedsMaxBalance, "100")
	expectResult(t, f.ledger.Deposit(t.Context(), id, d("20")), domain.StatusSuccess, "120")
}

func TestLedger_Shutdown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ctx := t.Context()
	a, b := uuid.New(), uuid.New()
	f.ledger.SetBalance(ctx, a, d("11"))

	f.ledger.Shutdown(ctx)
	f.ledger.Shutdown(ctx)

	// 關閉時做最後一次 flush
	expectStored(t, f, a, "11")

	expectResult(t, f.ledger.Deposit(ctx, a, d("1")), domain.StatusDatabaseError, "")
	expectResult(t, f.ledger.SetBalance(ctx, a, d("1")), domain.StatusDatabaseError, "")
	expectResult(t, f.ledger.Transfer(ctx, a, b, d("1")), domain.StatusDatabaseError, "")
	expectBalance(t, f, a, "11")
}

func TestLedger_JournalReplay(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pending.journal")
	openJournal := func() *journal.File {
		j, err := journal.Open(path)
		if err != nil {
			t.Fatalf("open journal: %v", err)
		}
		return j
	}

	a, b := uuid.New(), uuid.New()

	// 第一個 process: 寫入後沒有 flush 就結束
	first := newFixture(t, nil, usecase.WithJournal(openJournal()))
	first.ledger.SetBalance(t.Context(), a, d("77"))
	first.ledger.Deposit(t.Context(), b, d("1"))
	first.ledger.Transfer(t.Context(), a, b, d("7"))
	first.ledger.SetBalance(t.Context(), a, d("5"))

	// 第二個 process: 重播日誌寫入新的後端
	second := newFixture(t, nil, usecase.WithJournal(openJournal()))
	expectStored(t, second, a, "5")
	if _, ok := second.backend.Stored(b); ok {
		t.Fatalf("write dropped by transfer was replayed")
	}
	if second.ledger.PendingCount() != 0 {
		t.Fatalf("replayed writes not flushed: %d", second.ledger.PendingCount())
	}
}

// gatedBackend 第一次讀取 target 後停住，直到 release 被關閉
// 用來讓「建立帳戶的讀取」與其他操作交錯
type gatedBackend struct {
	*memory.Backend
	target  uuid.UUID
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *gatedBackend) LoadBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, bool, error) {
	v, found, err := b.Backend.LoadBalance(ctx, id)
	if id != b.target {
		return v, found, err
	}
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.entered)
		<-b.release
	}
	return v, found, err
}

func TestLedger_CreateRacingOtherOperations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		// during 在建立帳戶的讀取停住時執行
		during func(t *testing.T, f *fixture, id, other uuid.UUID)
		// want 為空字串代表帳戶不應存在
		want string
	}{
		{
			name: "deposit",
			during: func(t *testing.T, f *fixture, id, _ uuid.UUID) {
				expectResult(t, f.ledger.Deposit(t.Context(), id, d("10")), domain.StatusSuccess, "110")
			},
			want: "110",
		},
		{
			name: "transfer",
			during: func(t *testing.T, f *fixture, id, other uuid.UUID) {
				expectResult(t, f.ledger.Transfer(t.Context(), id, other, d("30")), domain.StatusSuccess, "70")
			},
			want: "70",
		},
		{
			name: "flush_then_evict",
			during: func(t *testing.T, f *fixture, id, _ uuid.UUID) {
				f.ledger.Deposit(t.Context(), id, d("10"))
				if err := f.ledger.FlushPendingWrites(t.Context()); err != nil {
					t.Fatalf("flush: %v", err)
				}
				f.ledger.EvictFromCache(id)
			},
			want: "110",
		},
		{
			name: "delete",
			during: func(t *testing.T, f *fixture, id, _ uuid.UUID) {
				f.ledger.Deposit(t.Context(), id, d("10"))
				f.ledger.DeleteBalance(t.Context(), id)
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			id, other := uuid.New(), uuid.New()
			s := config.Default()
			holder := config.NewHolder("", s)
			backend := &gatedBackend{
				Backend: memory.NewBackend(),
				target:  id,
				entered: make(chan struct{}),
				release: make(chan struct{}),
			}
			ledger := usecase.NewLedger(backend, holder)
			if err := ledger.Start(t.Context()); err != nil {
				t.Fatalf("start: %v", err)
			}
			t.Cleanup(func() { ledger.Shutdown(context.Background()) })
			f := &fixture{ledger: ledger, backend: backend.Backend, settings: holder}

			done := make(chan struct{})
			go func() {
				defer close(done)
				ledger.GetBalance(context.Background(), id)
			}()
			<-backend.entered

			tt.during(t, f, id, other)

			close(backend.release)
			<-done

			if err := ledger.FlushPendingWrites(t.Context()); err != nil {
				t.Fatalf("flush: %v", err)
			}
			if ledger.PendingCount() != 0 {
				t.Fatalf("pending after flush: %d", ledger.PendingCount())
			}

			if tt.want == "" {
				if _, ok := f.backend.Stored(id); ok {
					t.Fatalf("deleted account was persisted again")
				}
				if ledger.HasBalance(t.Context(), id) {
					t.Fatalf("deleted account still visible")
				}
				return
			}
			expectStored(t, f, id, tt.want)
			ledger.EvictFromCache(id)
			expectBalance(t, f, id, tt.want)
		})
	}
}
