// Package sqlstoretest 所有 usecase.Backend 實作共用的行為測試
package sqlstoretest

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-mem-economy/internal/app/core/domain"
	"github.com/JoeShih716/go-mem-economy/internal/app/core/usecase"
)

// Factory 為每個子測試建立一個空的後端
type Factory func(t *testing.T) usecase.Backend

// Run 對 newBackend 建立的後端執行完整的行為測試
func Run(t *testing.T, newBackend Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, b usecase.Backend)
	}{
		{"load_absent", testLoadAbsent},
		{"save_and_load", testSaveAndLoad},
		{"upsert_overwrites", testUpsertOverwrites},
		{"exact_decimal_round_trip", testExactRoundTrip},
		{"save_balances_batch", testSaveBalances},
		{"delete", testDelete},
		{"top_balances_order", testTopBalances},
		{"total_and_count", testTotalAndCount},
		{"total_is_exact", testTotalIsExact},
		{"execute_transfer", testExecuteTransfer},
		{"shutdown", testShutdown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newBackend(t)
			if err := b.Initialize(t.Context()); err != nil {
				t.Fatalf("initialize: %v", err)
			}
			t.Cleanup(b.Shutdown)
			tc.fn(t, b)
		})
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustLoad(t *testing.T, b usecase.Backend, id uuid.UUID) (decimal.Decimal, bool) {
	t.Helper()
	v, found, err := b.LoadBalance(t.Context(), id)
	if err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	return v, found
}

func expectBalance(t *testing.T, b usecase.Backend, id uuid.UUID, want decimal.Decimal) {
	t.Helper()
	got, found := mustLoad(t, b, id)
	if !found {
		t.Fatalf("account %s: no row, want %s", id, want)
	}
	if !got.Equal(want) {
		t.Fatalf("account %s: got %s, want %s", id, got, want)
	}
}

func testLoadAbsent(t *testing.T, b usecase.Backend) {
	id := uuid.New()
	if _, found := mustLoad(t, b, id); found {
		t.Fatalf("expected no row")
	}
	ok, err := b.HasBalance(t.Context(), id)
	if err != nil || ok {
		t.Fatalf("has balance: %v %v", ok, err)
	}
}

func testSaveAndLoad(t *testing.T, b usecase.Backend) {
	zero := uuid.New()
	frac := uuid.New()
	if err := b.SaveBalance(t.Context(), zero, decimal.Zero); err != nil {
		t.Fatalf("save zero: %v", err)
	}
	if err := b.SaveBalance(t.Context(), frac, dec("12.3456")); err != nil {
		t.Fatalf("save fractional: %v", err)
	}

	// 餘額為 0 與沒有資料必須可以區分
	expectBalance(t, b, zero, decimal.Zero)
	expectBalance(t, b, frac, dec("12.3456"))

	ok, err := b.HasBalance(t.Context(), zero)
	if err != nil || !ok {
		t.Fatalf("has balance: %v %v", ok, err)
	}
}

// 超過 float64 精度的值也必須原樣讀回
func testExactRoundTrip(t *testing.T, b usecase.Backend) {
	values := []decimal.Decimal{
		dec("12345678901234.5678"),
		dec("0.0001"),
		dec("-98765432109876.5432"),
		domain.MaxValue,
	}
	batch := make(map[uuid.UUID]decimal.Decimal)
	for _, v := range values {
		single := uuid.New()
		if err := b.SaveBalance(t.Context(), single, v); err != nil {
			t.Fatalf("save %s: %v", v, err)
		}
		expectBalance(t, b, single, v)
		batch[uuid.New()] = v
	}

	if err := b.SaveBalances(t.Context(), batch); err != nil {
		t.Fatalf("save balances: %v", err)
	}
	for id, want := range batch {
		expectBalance(t, b, id, want)
	}

	from, to := uuid.New(), uuid.New()
	if err := b.ExecuteTransfer(t.Context(), from, dec("99999999999999.9998"), to, dec("0.0002")); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	expectBalance(t, b, from, dec("99999999999999.9998"))
	expectBalance(t, b, to, dec("0.0002"))
}

func testUpsertOverwrites(t *testing.T, b usecase.Backend) {
	id := uuid.New()
	for _, v := range []string{"10", "250.5", "3"} {
		if err := b.SaveBalance(t.Context(), id, dec(v)); err != nil {
			t.Fatalf("save %s: %v", v, err)
		}
	}
	expectBalance(t, b, id, dec("3"))

	n, err := b.PlayerCount(t.Context())
	if err != nil || n != 1 {
		t.Fatalf("player count: %d %v", n, err)
	}
}

func testSaveBalances(t *testing.T, b usecase.Backend) {
	existing := uuid.New()
	if err := b.SaveBalance(t.Context(), existing, dec("1")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	batch := map[uuid.UUID]decimal.Decimal{existing: dec("99")}
	for i := 0; i < 20; i++ {
		batch[uuid.New()] = decimal.NewFromInt(int64(i))
	}
	if err := b.SaveBalances(t.Context(), batch); err != nil {
		t.Fatalf("save balances: %v", err)
	}
	for id, want := range batch {
		expectBalance(t, b, id, want)
	}

	if err := b.SaveBalances(t.Context(), nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}

func testDelete(t *testing.T, b usecase.Backend) {
	id := uuid.New()
	if err := b.SaveBalance(t.Context(), id, dec("5")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := b.DeleteBalance(t.Context(), id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found := mustLoad(t, b, id); found {
		t.Fatalf("row still present after delete")
	}
	// 不存在的帳戶
	if err := b.DeleteBalance(t.Context(), uuid.New()); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
}

func testTopBalances(t *testing.T, b usecase.Backend) {
	ids := []uuid.UUID{
		uuid.MustParse("00000000-0000-0000-0000-000000000003"),
		uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		uuid.MustParse("00000000-0000-0000-0000-000000000004"),
	}
	values := []string{"50", "50", "700.25", "1"}
	batch := make(map[uuid.UUID]decimal.Decimal)
	for i, id := range ids {
		batch[id] = dec(values[i])
	}
	if err := b.SaveBalances(t.Context(), batch); err != nil {
		t.Fatalf("seed: %v", err)
	}

	top, err := b.TopBalances(t.Context(), 3)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	want := []struct {
		id  uuid.UUID
		bal string
	}{
		{ids[2], "700.25"},
		{ids[1], "50"}, // 同額時 UUID 字典序較小者在前
		{ids[0], "50"},
	}
	if len(top) != len(want) {
		t.Fatalf("top: got %d entries, want %d", len(top), len(want))
	}
	for i, w := range want {
		if top[i].AccountID != w.id || !top[i].Balance.Equal(dec(w.bal)) {
			t.Fatalf("top[%d]: got %s=%s, want %s=%s", i, top[i].AccountID, top[i].Balance, w.id, w.bal)
		}
	}

	empty, err := b.TopBalances(t.Context(), 0)
	if err != nil || len(empty) != 0 {
		t.Fatalf("limit 0: %v %v", empty, err)
	}
}

func testTotalAndCount(t *testing.T, b usecase.Backend) {
	total, err := b.TotalBalance(t.Context())
	if err != nil || !total.IsZero() {
		t.Fatalf("empty total: %s %v", total, err)
	}
	n, err := b.PlayerCount(t.Context())
	if err != nil || n != 0 {
		t.Fatalf("empty count: %d %v", n, err)
	}

	batch := map[uuid.UUID]decimal.Decimal{
		uuid.New(): dec("10.5"),
		uuid.New(): dec("20.25"),
		uuid.New(): dec("0"),
	}
	if err := b.SaveBalances(t.Context(), batch); err != nil {
		t.Fatalf("seed: %v", err)
	}

	total, err = b.TotalBalance(t.Context())
	if err != nil || !total.Equal(dec("30.75")) {
		t.Fatalf("total: %s %v", total, err)
	}
	n, err = b.PlayerCount(t.Context())
	if err != nil || n != 3 {
		t.Fatalf("count: %d %v", n, err)
	}
}

func testTotalIsExact(t *testing.T, b usecase.Backend) {
	batch := map[uuid.UUID]decimal.Decimal{
		uuid.New(): dec("0.1"),
		uuid.New(): dec("0.2"),
		uuid.New(): domain.MaxValue,
		uuid.New(): domain.MaxValue,
	}
	if err := b.SaveBalances(t.Context(), batch); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// 2 * 99999999999999.9999 + 0.3
	want := dec("200000000000000.2998")
	total, err := b.TotalBalance(t.Context())
	if err != nil || !total.Equal(want) {
		t.Fatalf("total: got %s %v, want %s", total, err, want)
	}

	top, err := b.TopBalances(t.Context(), 4)
	if err != nil || len(top) != 4 {
		t.Fatalf("top: %v %v", top, err)
	}
	if !top[0].Balance.Equal(domain.MaxValue) || !top[3].Balance.Equal(dec("0.1")) {
		t.Fatalf("top order: %v", top)
	}
}

func testExecuteTransfer(t *testing.T, b usecase.Backend) {
	from, to := uuid.New(), uuid.New()
	if err := b.SaveBalance(t.Context(), from, dec("100")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// 收款方還沒有資料列時也要建立
	if err := b.ExecuteTransfer(t.Context(), from, dec("60"), to, dec("40")); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	expectBalance(t, b, from, dec("60"))
	expectBalance(t, b, to, dec("40"))
}

func testShutdown(t *testing.T, b usecase.Backend) {
	b.Shutdown()
	b.Shutdown()

	_, _, err := b.LoadBalance(t.Context(), uuid.New())
	if !errors.Is(err, domain.ErrBackendClosed) {
		t.Fatalf("load after shutdown: %v", err)
	}
	if err := b.SaveBalance(t.Context(), uuid.New(), decimal.Zero); !errors.Is(err, domain.ErrBackendClosed) {
		t.Fatalf("save after shutdown: %v", err)
	}
}
