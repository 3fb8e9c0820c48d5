package receiving

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cobalt-erp/cobalt-erp/internal/inventory"
	"github.com/cobalt-erp/cobalt-erp/internal/shared"
)

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// memoryLedgerStore mirrors the movement tables for tests.
type memoryLedgerStore struct {
	movements []inventory.Movement
	stock     map[int64]decimal.Decimal
	nextID    int64
}

func newMemoryLedgerStore() *memoryLedgerStore {
	return &memoryLedgerStore{stock: make(map[int64]decimal.Decimal)}
}

func (m *memoryLedgerStore) InsertMovement(_ context.Context, mv inventory.Movement) (int64, error) {
	m.nextID++
	mv.ID = m.nextID
	m.movements = append(m.movements, mv)
	return mv.ID, nil
}

func (m *memoryLedgerStore) MovementsByRef(_ context.Context, refType string, refID int64) ([]inventory.Movement, error) {
	var out []inventory.Movement
	for _, mv := range m.movements {
		if mv.RefType == refType && mv.RefID == refID {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (m *memoryLedgerStore) DeleteMovementsByRef(_ context.Context, refType string, refID int64) error {
	kept := m.movements[:0]
	for _, mv := range m.movements {
		if mv.RefType != refType || mv.RefID != refID {
			kept = append(kept, mv)
		}
	}
	m.movements = kept
	return nil
}

func (m *memoryLedgerStore) SumByMaterial(_ context.Context, materialIDs []int64) (map[int64]decimal.Decimal, error) {
	wanted := make(map[int64]struct{}, len(materialIDs))
	for _, id := range materialIDs {
		wanted[id] = struct{}{}
	}
	totals := make(map[int64]decimal.Decimal)
	for _, mv := range m.movements {
		if _, ok := wanted[mv.MaterialID]; ok {
			totals[mv.MaterialID] = totals[mv.MaterialID].Add(mv.QtyChange)
		}
	}
	return totals, nil
}

func (m *memoryLedgerStore) UpsertStockItem(_ context.Context, materialID int64, onHand decimal.Decimal) error {
	m.stock[materialID] = onHand
	return nil
}

func (m *memoryLedgerStore) AdjustStockItem(_ context.Context, materialID int64, delta decimal.Decimal) error {
	m.stock[materialID] = m.stock[materialID].Add(delta)
	return nil
}

// memoryRecvRepo backs Service with in-process maps. The same value serves
// as the transactional repository; WithTx simply passes it through.
type memoryRecvRepo struct {
	orders   map[int64]OrderRef
	items    map[int64][]OrderItemRef
	receipts map[int64]Receipt
	grLines  map[int64][]ReceiptLine
	reports  map[int64]QCReport
	qcLines  map[int64][]QCLine
	returns  map[int64]Return
	retLines map[int64][]ReturnLine
	ledger   *memoryLedgerStore
	nextID   int64
}

func newMemoryRecvRepo() *memoryRecvRepo {
	return &memoryRecvRepo{
		orders:   make(map[int64]OrderRef),
		items:    make(map[int64][]OrderItemRef),
		receipts: make(map[int64]Receipt),
		grLines:  make(map[int64][]ReceiptLine),
		reports:  make(map[int64]QCReport),
		qcLines:  make(map[int64][]QCLine),
		returns:  make(map[int64]Return),
		retLines: make(map[int64][]ReturnLine),
		ledger:   newMemoryLedgerStore(),
	}
}

func (m *memoryRecvRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryRecvRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRecvRepo) Ledger() inventory.TxStore { return m.ledger }

func (m *memoryRecvRepo) GetOrder(_ context.Context, orderID int64) (OrderRef, []OrderItemRef, error) {
	order, ok := m.orders[orderID]
	if !ok {
		return OrderRef{}, nil, shared.ErrNotFound
	}
	return order, m.items[orderID], nil
}

func (m *memoryRecvRepo) GetReceipt(_ context.Context, id int64) (Receipt, []ReceiptLine, error) {
	gr, ok := m.receipts[id]
	if !ok {
		return Receipt{}, nil, shared.ErrNotFound
	}
	return gr, m.grLines[id], nil
}

func (m *memoryRecvRepo) ReceivedByOrderItem(_ context.Context, orderID, excludeReceiptID int64) (map[int64]decimal.Decimal, error) {
	sums := make(map[int64]decimal.Decimal)
	for id, gr := range m.receipts {
		if gr.OrderID != orderID || id == excludeReceiptID || !gr.Status.countsTowardReceived() {
			continue
		}
		for _, line := range m.grLines[id] {
			sums[line.OrderItemID] = sums[line.OrderItemID].Add(line.Qty)
		}
	}
	return sums, nil
}

func (m *memoryRecvRepo) GetQCReport(_ context.Context, id int64) (QCReport, []QCLine, error) {
	qc, ok := m.reports[id]
	if !ok {
		return QCReport{}, nil, shared.ErrNotFound
	}
	return qc, m.qcLines[id], nil
}

func (m *memoryRecvRepo) AcceptedByReceiptLine(_ context.Context, receiptID int64) (map[int64]decimal.Decimal, error) {
	sums := make(map[int64]decimal.Decimal)
	for id, qc := range m.reports {
		if qc.ReceiptID != receiptID || qc.Status != QCPassed {
			continue
		}
		for _, line := range m.qcLines[id] {
			sums[line.ReceiptLineID] = sums[line.ReceiptLineID].Add(line.AcceptedQty)
		}
	}
	return sums, nil
}

func (m *memoryRecvRepo) ReturnedByReceiptLine(_ context.Context, receiptID, excludeReturnID int64) (map[int64]decimal.Decimal, error) {
	sums := make(map[int64]decimal.Decimal)
	for id, ret := range m.returns {
		if ret.ReceiptID != receiptID || id == excludeReturnID || ret.Status != ReturnPosted {
			continue
		}
		for _, line := range m.retLines[id] {
			sums[line.ReceiptLineID] = sums[line.ReceiptLineID].Add(line.Qty)
		}
	}
	return sums, nil
}

func (m *memoryRecvRepo) GetReturn(_ context.Context, id int64) (Return, []ReturnLine, error) {
	ret, ok := m.returns[id]
	if !ok {
		return Return{}, nil, shared.ErrNotFound
	}
	return ret, m.retLines[id], nil
}

func (m *memoryRecvRepo) QCExistsForReceipt(_ context.Context, receiptID int64) (bool, error) {
	for _, qc := range m.reports {
		if qc.ReceiptID == receiptID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRecvRepo) ReturnExistsForReceipt(_ context.Context, receiptID int64) (bool, error) {
	for _, ret := range m.returns {
		if ret.ReceiptID == receiptID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRecvRepo) ListReceipts(_ context.Context, orderID int64, status ReceiptStatus) ([]Receipt, error) {
	var out []Receipt
	for _, gr := range m.receipts {
		if orderID != 0 && gr.OrderID != orderID {
			continue
		}
		if status != "" && gr.Status != status {
			continue
		}
		out = append(out, gr)
	}
	return out, nil
}

func (m *memoryRecvRepo) ListQCReports(_ context.Context, receiptID int64) ([]QCReport, error) {
	var out []QCReport
	for _, qc := range m.reports {
		if receiptID == 0 || qc.ReceiptID == receiptID {
			out = append(out, qc)
		}
	}
	return out, nil
}

func (m *memoryRecvRepo) ListReturns(_ context.Context, receiptID int64) ([]Return, error) {
	var out []Return
	for _, ret := range m.returns {
		if receiptID == 0 || ret.ReceiptID == receiptID {
			out = append(out, ret)
		}
	}
	return out, nil
}

func (m *memoryRecvRepo) InsertReceipt(_ context.Context, gr Receipt) (int64, error) {
	gr.ID = m.id()
	m.receipts[gr.ID] = gr
	return gr.ID, nil
}

func (m *memoryRecvRepo) UpdateReceipt(_ context.Context, gr Receipt) error {
	if _, ok := m.receipts[gr.ID]; !ok {
		return shared.ErrNotFound
	}
	m.receipts[gr.ID] = gr
	return nil
}

func (m *memoryRecvRepo) ReplaceReceiptLines(_ context.Context, receiptID int64, lines []ReceiptLine) error {
	stored := make([]ReceiptLine, 0, len(lines))
	for _, line := range lines {
		line.ID = m.id()
		line.ReceiptID = receiptID
		stored = append(stored, line)
	}
	m.grLines[receiptID] = stored
	return nil
}

func (m *memoryRecvRepo) DeleteReceipt(_ context.Context, id int64) error {
	delete(m.receipts, id)
	delete(m.grLines, id)
	return nil
}

func (m *memoryRecvRepo) InsertQCReport(_ context.Context, qc QCReport) (int64, error) {
	qc.ID = m.id()
	m.reports[qc.ID] = qc
	return qc.ID, nil
}

func (m *memoryRecvRepo) UpdateQCReport(_ context.Context, qc QCReport) error {
	if _, ok := m.reports[qc.ID]; !ok {
		return shared.ErrNotFound
	}
	m.reports[qc.ID] = qc
	return nil
}

func (m *memoryRecvRepo) ReplaceQCLines(_ context.Context, reportID int64, lines []QCLine) error {
	stored := make([]QCLine, 0, len(lines))
	for _, line := range lines {
		line.ID = m.id()
		line.ReportID = reportID
		stored = append(stored, line)
	}
	m.qcLines[reportID] = stored
	return nil
}

func (m *memoryRecvRepo) DeleteQCReport(_ context.Context, id int64) error {
	delete(m.reports, id)
	delete(m.qcLines, id)
	return nil
}

func (m *memoryRecvRepo) InsertReturn(_ context.Context, ret Return) (int64, error) {
	ret.ID = m.id()
	m.returns[ret.ID] = ret
	return ret.ID, nil
}

func (m *memoryRecvRepo) UpdateReturn(_ context.Context, ret Return) error {
	if _, ok := m.returns[ret.ID]; !ok {
		return shared.ErrNotFound
	}
	m.returns[ret.ID] = ret
	return nil
}

func (m *memoryRecvRepo) ReplaceReturnLines(_ context.Context, returnID int64, lines []ReturnLine) error {
	stored := make([]ReturnLine, 0, len(lines))
	for _, line := range lines {
		line.ID = m.id()
		line.ReturnID = returnID
		stored = append(stored, line)
	}
	m.retLines[returnID] = stored
	return nil
}

func (m *memoryRecvRepo) DeleteReturn(_ context.Context, id int64) error {
	delete(m.returns, id)
	delete(m.retLines, id)
	return nil
}

func newRecvService(t *testing.T) (*Service, *memoryRecvRepo) {
	t.Helper()
	repo := newMemoryRecvRepo()
	return NewService(repo, inventory.NewLedger(), nil, nil), repo
}

// seedOrder registers a confirmed single-item order: item 11, material 101,
// ordered quantity 10.
func seedOrder(repo *memoryRecvRepo) {
	repo.orders[1] = OrderRef{ID: 1, Number: "PO-1", VendorID: 5, Status: "CONFIRMED"}
	repo.items[1] = []OrderItemRef{{ID: 11, MaterialID: 101, Qty: qty("10")}}
}

func postedReceipt(t *testing.T, svc *Service, qtyStr string) (Receipt, []ReceiptLine) {
	t.Helper()
	gr, err := svc.CreateReceipt(context.Background(), CreateReceiptInput{
		OrderID: 1,
		Status:  "posted",
		Lines:   []ReceiptLineInput{{MaterialID: 101, Qty: qty(qtyStr)}},
	})
	require.NoError(t, err)
	gr, lines, err := svc.GetReceipt(context.Background(), gr.ID)
	require.NoError(t, err)
	return gr, lines
}

func TestCreateReceiptRequiresConfirmedOrder(t *testing.T) {
	svc, repo := newRecvService(t)
	repo.orders[1] = OrderRef{ID: 1, Status: "DRAFT"}
	repo.items[1] = []OrderItemRef{{ID: 11, MaterialID: 101, Qty: qty("10")}}

	_, err := svc.CreateReceipt(context.Background(), CreateReceiptInput{
		OrderID: 1,
		Lines:   []ReceiptLineInput{{MaterialID: 101, Qty: qty("1")}},
	})
	require.ErrorIs(t, err, ErrNotConfirmed)
}

func TestOverReceiptRejected(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	ctx := context.Background()

	_, err := svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: 1,
		Status:  "checked",
		Lines:   []ReceiptLineInput{{MaterialID: 101, Qty: qty("6")}},
	})
	require.NoError(t, err)

	_, err = svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: 1,
		Lines:   []ReceiptLineInput{{MaterialID: 101, Qty: qty("5")}},
	})
	require.ErrorIs(t, err, ErrOverReceipt)

	_, err = svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: 1,
		Lines:   []ReceiptLineInput{{MaterialID: 101, Qty: qty("4")}},
	})
	require.NoError(t, err)
}

func TestDraftReceiptsDoNotCountTowardReceived(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	ctx := context.Background()

	_, err := svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: 1,
		Status:  "draft",
		Lines:   []ReceiptLineInput{{MaterialID: 101, Qty: qty("9")}},
	})
	require.NoError(t, err)

	_, err = svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: 1,
		Status:  "draft",
		Lines:   []ReceiptLineInput{{MaterialID: 101, Qty: qty("10")}},
	})
	require.NoError(t, err)
}

func TestEditCountedReceiptExcludesItself(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	ctx := context.Background()

	gr, err := svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: 1,
		Status:  "checked",
		Lines:   []ReceiptLineInput{{MaterialID: 101, Qty: qty("6")}},
	})
	require.NoError(t, err)

	// growing the receipt to the full ordered quantity must not collide
	// with its own prior lines
	_, err = svc.UpdateReceipt(ctx, gr.ID, UpdateReceiptInput{
		Status: "checked",
		Lines:  []ReceiptLineInput{{MaterialID: 101, Qty: qty("10")}},
	})
	require.NoError(t, err)

	_, err = svc.UpdateReceipt(ctx, gr.ID, UpdateReceiptInput{
		Status: "checked",
		Lines:  []ReceiptLineInput{{MaterialID: 101, Qty: qty("11")}},
	})
	require.ErrorIs(t, err, ErrOverReceipt)
}

func TestReceiptLineResolution(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	repo.items[1] = append(repo.items[1],
		OrderItemRef{ID: 12, MaterialID: 102, Qty: qty("4")},
		OrderItemRef{ID: 13, MaterialID: 102, Qty: qty("4")},
	)
	ctx := context.Background()

	_, err := svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: 1,
		Lines:   []ReceiptLineInput{{MaterialID: 999, Qty: qty("1")}},
	})
	require.ErrorIs(t, err, ErrUnknownMaterial)

	_, err = svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: 1,
		Lines:   []ReceiptLineInput{{MaterialID: 102, Qty: qty("1")}},
	})
	require.ErrorIs(t, err, ErrAmbiguousMaterial)

	_, err = svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: 1,
		Lines:   []ReceiptLineInput{{OrderItemID: 999, Qty: qty("1")}},
	})
	require.ErrorIs(t, err, ErrForeignLine)

	_, err = svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: 1,
		Lines:   []ReceiptLineInput{{OrderItemID: 11, MaterialID: 102, Qty: qty("1")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	// explicit item reference disambiguates a duplicated material
	_, err = svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: 1,
		Lines:   []ReceiptLineInput{{OrderItemID: 12, Qty: qty("2")}},
	})
	require.NoError(t, err)
}

func TestPostedReceiptIsImmutable(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	gr, _ := postedReceipt(t, svc, "5")

	_, err := svc.UpdateReceipt(context.Background(), gr.ID, UpdateReceiptInput{Note: "late edit"})
	require.ErrorIs(t, err, shared.ErrImmutable)
}

func TestReceiptOrderRetargetForbidden(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	repo.orders[2] = OrderRef{ID: 2, Number: "PO-2", VendorID: 5, Status: "CONFIRMED"}
	repo.items[2] = []OrderItemRef{{ID: 21, MaterialID: 101, Qty: qty("10")}}
	ctx := context.Background()

	gr, err := svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: 1,
		Lines:   []ReceiptLineInput{{MaterialID: 101, Qty: qty("3")}},
	})
	require.NoError(t, err)

	_, err = svc.UpdateReceipt(ctx, gr.ID, UpdateReceiptInput{OrderID: 2})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeleteReceiptBlockedByQC(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	gr, lines := postedReceipt(t, svc, "5")
	ctx := context.Background()

	_, err := svc.CreateQCReport(ctx, CreateQCInput{
		ReceiptID: gr.ID,
		Lines:     []QCLineInput{{ReceiptLineID: lines[0].ID}},
	})
	require.NoError(t, err)

	err = svc.DeleteReceipt(ctx, gr.ID)
	require.ErrorIs(t, err, ErrInUse)
}

func TestQCRequiresPostedReceipt(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	ctx := context.Background()

	gr, err := svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: 1,
		Status:  "checked",
		Lines:   []ReceiptLineInput{{MaterialID: 101, Qty: qty("5")}},
	})
	require.NoError(t, err)

	_, lines, err := svc.GetReceipt(ctx, gr.ID)
	require.NoError(t, err)
	_, err = svc.CreateQCReport(ctx, CreateQCInput{
		ReceiptID: gr.ID,
		Lines:     []QCLineInput{{ReceiptLineID: lines[0].ID}},
	})
	require.ErrorIs(t, err, ErrGRNotPosted)
}

func TestQCLineRules(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	gr, lines := postedReceipt(t, svc, "10")
	ctx := context.Background()
	lineID := lines[0].ID

	three := qty("3")
	_, err := svc.CreateQCReport(ctx, CreateQCInput{
		ReceiptID: gr.ID,
		Lines:     []QCLineInput{{ReceiptLineID: lineID, Result: "fail", AcceptedQty: &three}},
	})
	require.ErrorIs(t, err, ErrAcceptedQtyOutOfRange)

	eleven := qty("11")
	_, err = svc.CreateQCReport(ctx, CreateQCInput{
		ReceiptID: gr.ID,
		Lines:     []QCLineInput{{ReceiptLineID: lineID, AcceptedQty: &eleven}},
	})
	require.ErrorIs(t, err, ErrAcceptedQtyOutOfRange)

	_, err = svc.CreateQCReport(ctx, CreateQCInput{
		ReceiptID: gr.ID,
		Lines:     []QCLineInput{{ReceiptLineID: lineID, Result: "maybe"}},
	})
	require.ErrorIs(t, err, ErrInvalidResult)

	_, err = svc.CreateQCReport(ctx, CreateQCInput{
		ReceiptID: gr.ID,
		Lines: []QCLineInput{
			{ReceiptLineID: lineID},
			{ReceiptLineID: lineID},
		},
	})
	require.ErrorIs(t, err, ErrDuplicateLine)

	// omitted result and quantity default to a full pass
	qc, err := svc.CreateQCReport(ctx, CreateQCInput{
		ReceiptID: gr.ID,
		Lines:     []QCLineInput{{ReceiptLineID: lineID}},
	})
	require.NoError(t, err)
	_, qcLines, err := svc.GetQCReport(ctx, qc.ID)
	require.NoError(t, err)
	require.Equal(t, ResultPass, qcLines[0].Result)
	require.True(t, qcLines[0].AcceptedQty.Equal(qty("10")))
}

func TestQCPlainSaveDoesNotPostStock(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	gr, lines := postedReceipt(t, svc, "10")
	ctx := context.Background()

	qc, err := svc.CreateQCReport(ctx, CreateQCInput{
		ReceiptID: gr.ID,
		Lines:     []QCLineInput{{ReceiptLineID: lines[0].ID}},
	})
	require.NoError(t, err)

	_, err = svc.UpdateQCReport(ctx, qc.ID, UpdateQCInput{Status: "failed"})
	require.NoError(t, err)

	require.Empty(t, repo.ledger.movements)
	require.True(t, repo.ledger.stock[101].IsZero())
}

func TestCheckedAtLifecycle(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	gr, lines := postedReceipt(t, svc, "10")
	ctx := context.Background()

	qc, err := svc.CreateQCReport(ctx, CreateQCInput{
		ReceiptID: gr.ID,
		Status:    "pending",
		Lines:     []QCLineInput{{ReceiptLineID: lines[0].ID}},
	})
	require.NoError(t, err)
	require.Nil(t, qc.CheckedAt)

	qc, err = svc.UpdateQCReport(ctx, qc.ID, UpdateQCInput{Status: "failed"})
	require.NoError(t, err)
	require.NotNil(t, qc.CheckedAt)
	stamped := *qc.CheckedAt

	// the timestamp is set once, later saves keep it
	qc, err = svc.UpdateQCReport(ctx, qc.ID, UpdateQCInput{Status: "failed"})
	require.NoError(t, err)
	require.Equal(t, stamped, *qc.CheckedAt)

	qc, err = svc.UpdateQCReport(ctx, qc.ID, UpdateQCInput{Status: "pending"})
	require.NoError(t, err)
	require.Nil(t, qc.CheckedAt)
}

func TestFinalizePendingRejected(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	gr, lines := postedReceipt(t, svc, "10")
	ctx := context.Background()

	qc, err := svc.CreateQCReport(ctx, CreateQCInput{
		ReceiptID: gr.ID,
		Lines:     []QCLineInput{{ReceiptLineID: lines[0].ID}},
	})
	require.NoError(t, err)

	_, err = svc.FinalizeQCReport(ctx, qc.ID, FinalizeQCInput{Status: "pending"})
	require.ErrorIs(t, err, ErrCannotFinalizePending)
}

func TestFinalizePassPostsAcceptedQuantities(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	gr, lines := postedReceipt(t, svc, "10")
	ctx := context.Background()
	lineID := lines[0].ID

	qc, err := svc.CreateQCReport(ctx, CreateQCInput{
		ReceiptID: gr.ID,
		Lines:     []QCLineInput{{ReceiptLineID: lineID}},
	})
	require.NoError(t, err)

	// a failed verdict posts nothing
	_, err = svc.FinalizeQCReport(ctx, qc.ID, FinalizeQCInput{Status: "failed"})
	require.NoError(t, err)
	require.Empty(t, repo.ledger.movements)

	eight := qty("8")
	finalized, err := svc.FinalizeQCReport(ctx, qc.ID, FinalizeQCInput{
		Status: "passed",
		Lines:  []QCLineInput{{ReceiptLineID: lineID, AcceptedQty: &eight}},
	})
	require.NoError(t, err)
	require.Equal(t, QCPassed, finalized.Status)
	require.Len(t, repo.ledger.movements, 1)
	require.True(t, repo.ledger.stock[101].Equal(qty("8")))
}

func TestRefinalizePassedReportIsIdempotent(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	gr, lines := postedReceipt(t, svc, "10")
	ctx := context.Background()

	qc, err := svc.CreateQCReport(ctx, CreateQCInput{
		ReceiptID: gr.ID,
		Lines:     []QCLineInput{{ReceiptLineID: lines[0].ID}},
	})
	require.NoError(t, err)
	_, err = svc.FinalizeQCReport(ctx, qc.ID, FinalizeQCInput{Status: "passed"})
	require.NoError(t, err)
	require.True(t, repo.ledger.stock[101].Equal(qty("10")))

	// repeating the same finalize replaces the movements instead of
	// stacking them
	_, err = svc.FinalizeQCReport(ctx, qc.ID, FinalizeQCInput{Status: "passed"})
	require.NoError(t, err)
	require.Len(t, repo.ledger.movements, 1)
	require.True(t, repo.ledger.stock[101].Equal(qty("10")))

	// and a corrected accepted quantity lands on the corrected balance
	seven := qty("7")
	_, err = svc.FinalizeQCReport(ctx, qc.ID, FinalizeQCInput{
		Status: "passed",
		Lines:  []QCLineInput{{ReceiptLineID: lines[0].ID, AcceptedQty: &seven}},
	})
	require.NoError(t, err)
	require.Len(t, repo.ledger.movements, 1)
	require.True(t, repo.ledger.stock[101].Equal(seven))
}

func TestPassedReportIsTerminal(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	gr, lines := postedReceipt(t, svc, "10")
	ctx := context.Background()

	qc, err := svc.CreateQCReport(ctx, CreateQCInput{
		ReceiptID: gr.ID,
		Lines:     []QCLineInput{{ReceiptLineID: lines[0].ID}},
	})
	require.NoError(t, err)
	_, err = svc.FinalizeQCReport(ctx, qc.ID, FinalizeQCInput{Status: "passed"})
	require.NoError(t, err)

	_, err = svc.UpdateQCReport(ctx, qc.ID, UpdateQCInput{Status: "pending"})
	require.ErrorIs(t, err, shared.ErrImmutable)
	_, err = svc.FinalizeQCReport(ctx, qc.ID, FinalizeQCInput{Status: "failed"})
	require.ErrorIs(t, err, shared.ErrImmutable)
	err = svc.DeleteQCReport(ctx, qc.ID)
	require.ErrorIs(t, err, shared.ErrImmutable)
}

func TestDeleteFailedReportSweepsNothing(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	gr, lines := postedReceipt(t, svc, "10")
	ctx := context.Background()

	qc, err := svc.CreateQCReport(ctx, CreateQCInput{
		ReceiptID: gr.ID,
		Status:    "failed",
		Lines:     []QCLineInput{{ReceiptLineID: lines[0].ID, Result: "fail"}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteQCReport(ctx, qc.ID))
	require.Empty(t, repo.ledger.movements)
}

// passedQC accepts the given quantity on the receipt's single line.
func passedQC(t *testing.T, svc *Service, receiptID, lineID int64, accepted string) QCReport {
	t.Helper()
	ctx := context.Background()
	qc, err := svc.CreateQCReport(ctx, CreateQCInput{
		ReceiptID: receiptID,
		Lines:     []QCLineInput{{ReceiptLineID: lineID}},
	})
	require.NoError(t, err)
	a := qty(accepted)
	qc, err = svc.FinalizeQCReport(ctx, qc.ID, FinalizeQCInput{
		Status: "passed",
		Lines:  []QCLineInput{{ReceiptLineID: lineID, AcceptedQty: &a}},
	})
	require.NoError(t, err)
	return qc
}

func TestOverReturnRejected(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	gr, lines := postedReceipt(t, svc, "10")
	lineID := lines[0].ID
	passedQC(t, svc, gr.ID, lineID, "10")
	ctx := context.Background()

	_, err := svc.CreateReturn(ctx, CreateReturnInput{
		ReceiptID: gr.ID,
		Status:    "posted",
		Lines:     []ReturnLineInput{{ReceiptLineID: lineID, Qty: qty("3")}},
	})
	require.NoError(t, err)
	require.True(t, repo.ledger.stock[101].Equal(qty("7")))

	_, err = svc.CreateReturn(ctx, CreateReturnInput{
		ReceiptID: gr.ID,
		Status:    "posted",
		Lines:     []ReturnLineInput{{ReceiptLineID: lineID, Qty: qty("8")}},
	})
	require.ErrorIs(t, err, ErrOverReturn)

	_, err = svc.CreateReturn(ctx, CreateReturnInput{
		ReceiptID: gr.ID,
		Status:    "posted",
		Lines:     []ReturnLineInput{{ReceiptLineID: lineID, Qty: qty("7")}},
	})
	require.NoError(t, err)
	require.True(t, repo.ledger.stock[101].IsZero())
}

func TestUnpostedReturnMovesNoStock(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	gr, lines := postedReceipt(t, svc, "10")
	lineID := lines[0].ID
	passedQC(t, svc, gr.ID, lineID, "10")
	ctx := context.Background()

	ret, err := svc.CreateReturn(ctx, CreateReturnInput{
		ReceiptID: gr.ID,
		Status:    "draft",
		Lines:     []ReturnLineInput{{ReceiptLineID: lineID, Qty: qty("4")}},
	})
	require.NoError(t, err)
	require.True(t, repo.ledger.stock[101].Equal(qty("10")))

	// posting on save, then demoting, rolls the movements back
	_, err = svc.UpdateReturn(ctx, ret.ID, UpdateReturnInput{Status: "posted"})
	require.NoError(t, err)
	require.True(t, repo.ledger.stock[101].Equal(qty("6")))
}

func TestPostedReturnIsImmutable(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	gr, lines := postedReceipt(t, svc, "10")
	lineID := lines[0].ID
	passedQC(t, svc, gr.ID, lineID, "10")
	ctx := context.Background()

	ret, err := svc.CreateReturn(ctx, CreateReturnInput{
		ReceiptID: gr.ID,
		Status:    "posted",
		Lines:     []ReturnLineInput{{ReceiptLineID: lineID, Qty: qty("2")}},
	})
	require.NoError(t, err)

	_, err = svc.UpdateReturn(ctx, ret.ID, UpdateReturnInput{Status: "draft"})
	require.ErrorIs(t, err, shared.ErrImmutable)
}

func TestDeleteReturnRollsBackMovements(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	gr, lines := postedReceipt(t, svc, "10")
	lineID := lines[0].ID
	passedQC(t, svc, gr.ID, lineID, "10")
	ctx := context.Background()

	ret, err := svc.CreateReturn(ctx, CreateReturnInput{
		ReceiptID: gr.ID,
		Status:    "posted",
		Lines:     []ReturnLineInput{{ReceiptLineID: lineID, Qty: qty("3")}},
	})
	require.NoError(t, err)
	require.True(t, repo.ledger.stock[101].Equal(qty("7")))

	require.NoError(t, svc.DeleteReturn(ctx, ret.ID))
	require.True(t, repo.ledger.stock[101].Equal(qty("10")))
}

func TestReturnRequiresPassedQC(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	gr, lines := postedReceipt(t, svc, "10")
	ctx := context.Background()

	// no QC report yet, nothing is returnable
	_, err := svc.CreateReturn(ctx, CreateReturnInput{
		ReceiptID: gr.ID,
		Status:    "posted",
		Lines:     []ReturnLineInput{{ReceiptLineID: lines[0].ID, Qty: qty("1")}},
	})
	require.ErrorIs(t, err, ErrOverReturn)
}

func TestReceiveInspectReturnFlow(t *testing.T) {
	svc, repo := newRecvService(t)
	seedOrder(repo)
	ctx := context.Background()

	gr, err := svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: 1,
		Status:  "posted",
		Lines:   []ReceiptLineInput{{MaterialID: 101, Qty: qty("10")}},
	})
	require.NoError(t, err)
	require.Empty(t, repo.ledger.movements)

	_, lines, err := svc.GetReceipt(ctx, gr.ID)
	require.NoError(t, err)
	lineID := lines[0].ID

	passedQC(t, svc, gr.ID, lineID, "10")
	require.True(t, repo.ledger.stock[101].Equal(qty("10")))

	ret, err := svc.CreateReturn(ctx, CreateReturnInput{
		ReceiptID: gr.ID,
		Status:    "posted",
		Lines:     []ReturnLineInput{{ReceiptLineID: lineID, Qty: qty("3"), Reason: "damaged"}},
	})
	require.NoError(t, err)
	require.True(t, repo.ledger.stock[101].Equal(qty("7")))

	require.NoError(t, svc.DeleteReturn(ctx, ret.ID))
	require.True(t, repo.ledger.stock[101].Equal(qty("10")))
}
