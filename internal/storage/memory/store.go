package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-engine/internal/errs"
	interfaces "github.com/sheikh-saqib/card-ledger-engine/internal/interfaces"
	"github.com/sheikh-saqib/card-ledger-engine/internal/models"
)

// MemoryCardStore is an in-memory implementation of interfaces.CardStore.
// Units of work are staged in a memTx and applied in one step on commit, so
// a failed unit leaves no trace.
type MemoryCardStore struct {
	mu          sync.RWMutex // protects the maps below
	cards       map[string]models.Card
	movements   map[string][]models.LimitMovement // card id -> movements in sequence order
	movementIdx map[string]models.LimitMovement
	bills       map[string]models.Bill
	plans       map[string]models.InstallmentPlan
	items       map[string]models.InstallmentItem
	keys        map[string]models.IdempotencyRecord // card id + key

	locksMu   sync.Mutex
	cardLocks map[string]*sync.Mutex
}

func NewMemoryCardStore() *MemoryCardStore {
	return &MemoryCardStore{
		cards:       make(map[string]models.Card),
		movements:   make(map[string][]models.LimitMovement),
		movementIdx: make(map[string]models.LimitMovement),
		bills:       make(map[string]models.Bill),
		plans:       make(map[string]models.InstallmentPlan),
		items:       make(map[string]models.InstallmentItem),
		keys:        make(map[string]models.IdempotencyRecord),
		cardLocks:   make(map[string]*sync.Mutex),
	}
}

func (m *MemoryCardStore) cardLock(cardID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	if _, exists := m.cardLocks[cardID]; !exists {
		m.cardLocks[cardID] = &sync.Mutex{}
	}
	return m.cardLocks[cardID]
}

func (m *MemoryCardStore) InTx(ctx context.Context, cardID string, fn func(tx interfaces.CardTx) error) error {
	lock := m.cardLock(cardID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	card, err := m.GetCard(ctx, cardID)
	if err != nil {
		return err
	}

	tx := &memTx{
		store: m,
		card:  card,
		bills: make(map[string]models.Bill),
		plans: make(map[string]models.InstallmentPlan),
		items: make(map[string]models.InstallmentItem),
		keys:  make(map[string]models.IdempotencyRecord),
	}
	if err := fn(tx); err != nil {
		return err
	}
	// a unit that outlived its request must not commit
	if err := ctx.Err(); err != nil {
		return err
	}
	m.commit(tx)
	return nil
}

func (m *MemoryCardStore) commit(tx *memTx) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.cardDirty {
		m.cards[tx.card.ID] = tx.card
	}
	for _, mv := range tx.movements {
		m.movements[mv.CardID] = append(m.movements[mv.CardID], mv)
		m.movementIdx[mv.ID] = mv
	}
	for id, b := range tx.bills {
		m.bills[id] = b
	}
	for id, p := range tx.plans {
		m.plans[id] = p
	}
	for id, it := range tx.items {
		m.items[id] = it
	}
	for k, v := range tx.keys {
		m.keys[k] = v
	}
	if tx.deleted {
		delete(m.cards, tx.card.ID)
		delete(m.movements, tx.card.ID)
	}
}

func (m *MemoryCardStore) CreateCard(ctx context.Context, card models.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.cards[card.ID]; exists {
		return errs.Wrap(errs.ErrInconsistent, "card %s already exists", card.ID)
	}
	m.cards[card.ID] = card
	return nil
}

func (m *MemoryCardStore) GetCard(ctx context.Context, cardID string) (models.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	card, ok := m.cards[cardID]
	if !ok {
		return models.Card{}, errs.Wrap(errs.ErrNotFound, "card %s", cardID)
	}
	return card, nil
}

func (m *MemoryCardStore) ListCardIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.cards))
	for id := range m.cards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryCardStore) ListCards(ctx context.Context, userID string) ([]models.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cards := make([]models.Card, 0)
	for _, c := range m.cards {
		if c.UserID == userID {
			cards = append(cards, c)
		}
	}
	sort.Slice(cards, func(i, j int) bool {
		if !cards[i].CreatedAt.Equal(cards[j].CreatedAt) {
			return cards[i].CreatedAt.Before(cards[j].CreatedAt)
		}
		return cards[i].ID < cards[j].ID
	})
	return cards, nil
}

func (m *MemoryCardStore) ListMovements(ctx context.Context, cardID string) ([]models.LimitMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	copied := make([]models.LimitMovement, len(m.movements[cardID]))
	copy(copied, m.movements[cardID])
	return copied, nil
}

func (m *MemoryCardStore) RecentMovements(ctx context.Context, cardID string, n int) ([]models.LimitMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.movements[cardID]
	result := make([]models.LimitMovement, 0, min(n, len(all)))
	for i := len(all) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, all[i])
	}
	return result, nil
}

func (m *MemoryCardStore) GetBill(ctx context.Context, billID string) (models.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bill, ok := m.bills[billID]
	if !ok {
		return models.Bill{}, errs.Wrap(errs.ErrNotFound, "bill %s", billID)
	}
	return bill, nil
}

func (m *MemoryCardStore) ListBills(ctx context.Context, cardID string) ([]models.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.Bill
	for _, b := range m.bills {
		if b.CardID == cardID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].BillYear != result[j].BillYear {
			return result[i].BillYear > result[j].BillYear
		}
		return result[i].BillMonth > result[j].BillMonth
	})
	return result, nil
}

func (m *MemoryCardStore) ListUnpaidBillsDueBefore(ctx context.Context, day time.Time) ([]models.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.Bill
	for _, b := range m.bills {
		if (b.Status == models.BillOpen || b.Status == models.BillPartial) &&
			b.RemainingAmount.Sign() > 0 && b.DueDate.Before(day) {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryCardStore) GetPlan(ctx context.Context, planID string) (models.InstallmentPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	plan, ok := m.plans[planID]
	if !ok {
		return models.InstallmentPlan{}, errs.Wrap(errs.ErrNotFound, "installment plan %s", planID)
	}
	return plan, nil
}

func (m *MemoryCardStore) ListPlans(ctx context.Context, cardID string) ([]models.InstallmentPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.InstallmentPlan
	for _, p := range m.plans {
		if p.CardID == cardID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *MemoryCardStore) ListItems(ctx context.Context, planID string) ([]models.InstallmentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.itemsOf(planID, nil), nil
}

// itemsOf lists the committed items of a plan with staged overrides applied.
// Callers hold m.mu.
func (m *MemoryCardStore) itemsOf(planID string, staged map[string]models.InstallmentItem) []models.InstallmentItem {
	seen := make(map[string]bool)
	var result []models.InstallmentItem
	for id, it := range staged {
		if it.PlanID == planID {
			result = append(result, it)
			seen[id] = true
		}
	}
	for id, it := range m.items {
		if it.PlanID == planID && !seen[id] {
			result = append(result, it)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].InstallmentNumber < result[j].InstallmentNumber })
	return result
}

func (m *MemoryCardStore) GetItem(ctx context.Context, itemID string) (models.InstallmentItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[itemID]
	if !ok {
		return models.InstallmentItem{}, errs.Wrap(errs.ErrNotFound, "installment item %s", itemID)
	}
	return item, nil
}

// memTx stages the writes of one unit of work.
type memTx struct {
	store     *MemoryCardStore
	card      models.Card
	cardDirty bool
	movements []models.LimitMovement
	bills     map[string]models.Bill
	plans     map[string]models.InstallmentPlan
	items     map[string]models.InstallmentItem
	keys      map[string]models.IdempotencyRecord
	deleted   bool
}

func (t *memTx) Card() models.Card { return t.card }

func (t *memTx) SaveCard(card models.Card) error {
	if card.ID != t.card.ID {
		return errs.Wrap(errs.ErrInconsistent, "unit for card %s cannot save card %s", t.card.ID, card.ID)
	}
	t.card = card
	t.cardDirty = true
	return nil
}

func (t *memTx) CountDependents() (models.CardDependents, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	deps := models.CardDependents{Movements: len(t.store.movements[t.card.ID]) + len(t.movements)}
	for id, b := range t.store.bills {
		if _, staged := t.bills[id]; !staged && b.CardID == t.card.ID {
			deps.Bills++
		}
	}
	for _, b := range t.bills {
		if b.CardID == t.card.ID {
			deps.Bills++
		}
	}
	for id, p := range t.store.plans {
		if _, staged := t.plans[id]; !staged && p.CardID == t.card.ID {
			deps.Plans++
		}
	}
	for _, p := range t.plans {
		if p.CardID == t.card.ID {
			deps.Plans++
		}
	}
	return deps, nil
}

func (t *memTx) DeleteCard() error {
	t.deleted = true
	return nil
}

func (t *memTx) AppendMovement(mv models.LimitMovement) error {
	if mv.CardID != t.card.ID {
		return errs.Wrap(errs.ErrInconsistent, "unit for card %s cannot append movement of card %s", t.card.ID, mv.CardID)
	}
	t.store.mu.RLock()
	committed := t.store.movements[mv.CardID]
	t.store.mu.RUnlock()

	want := int64(len(committed)+len(t.movements)) + 1
	if mv.Sequence != want {
		return errs.Wrap(errs.ErrInconsistent, "movement sequence %d, expected %d", mv.Sequence, want)
	}
	var last *models.LimitMovement
	if n := len(t.movements); n > 0 {
		last = &t.movements[n-1]
	} else if n := len(committed); n > 0 {
		last = &committed[n-1]
	}
	if last != nil && !last.NewUsedAmount.Equal(mv.PreviousUsedAmount) {
		return errs.Wrap(errs.ErrInconsistent, "movement %d breaks the chain: previous %s, last new %s",
			mv.Sequence, mv.PreviousUsedAmount.String(), last.NewUsedAmount.String())
	}
	t.movements = append(t.movements, mv)
	return nil
}

func (t *memTx) SumCharges(from, to time.Time) (decimal.Decimal, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	total := decimal.Zero
	add := func(mv models.LimitMovement) {
		if mv.Type == models.MovementCharge && !mv.CreatedAt.Before(from) && mv.CreatedAt.Before(to) {
			total = total.Add(mv.Amount)
		}
	}
	for _, mv := range t.store.movements[t.card.ID] {
		add(mv)
	}
	for _, mv := range t.movements {
		add(mv)
	}
	return total, nil
}

func (t *memTx) GetMovement(movementID string) (models.LimitMovement, error) {
	for _, mv := range t.movements {
		if mv.ID == movementID {
			return mv, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	mv, ok := t.store.movementIdx[movementID]
	if !ok || mv.CardID != t.card.ID {
		return models.LimitMovement{}, errs.Wrap(errs.ErrNotFound, "movement %s", movementID)
	}
	return mv, nil
}

func (t *memTx) BillExists(month, year int) (bool, error) {
	for _, b := range t.bills {
		if b.CardID == t.card.ID && b.BillMonth == month && b.BillYear == year {
			return true, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	for _, b := range t.store.bills {
		if b.CardID == t.card.ID && b.BillMonth == month && b.BillYear == year {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertBill(bill models.Bill) error {
	exists, _ := t.BillExists(bill.BillMonth, bill.BillYear)
	if exists {
		return errs.Wrap(errs.ErrDuplicateBill, "card %s %02d/%d", bill.CardID, bill.BillMonth, bill.BillYear)
	}
	t.bills[bill.ID] = bill
	return nil
}

func (t *memTx) GetBill(billID string) (models.Bill, error) {
	if b, ok := t.bills[billID]; ok {
		return b, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	b, ok := t.store.bills[billID]
	if !ok || b.CardID != t.card.ID {
		return models.Bill{}, errs.Wrap(errs.ErrNotFound, "bill %s", billID)
	}
	return b, nil
}

func (t *memTx) UpdateBill(bill models.Bill) error {
	if _, err := t.GetBill(bill.ID); err != nil {
		return err
	}
	t.bills[bill.ID] = bill
	return nil
}

func (t *memTx) InsertPlan(plan models.InstallmentPlan, items []models.InstallmentItem) error {
	if plan.CardID != t.card.ID {
		return errs.Wrap(errs.ErrInconsistent, "unit for card %s cannot insert plan of card %s", t.card.ID, plan.CardID)
	}
	t.plans[plan.ID] = plan
	for _, it := range items {
		t.items[it.ID] = it
	}
	return nil
}

func (t *memTx) GetPlan(planID string) (models.InstallmentPlan, error) {
	if p, ok := t.plans[planID]; ok {
		return p, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	p, ok := t.store.plans[planID]
	if !ok || p.CardID != t.card.ID {
		return models.InstallmentPlan{}, errs.Wrap(errs.ErrNotFound, "installment plan %s", planID)
	}
	return p, nil
}

func (t *memTx) UpdatePlan(plan models.InstallmentPlan) error {
	if _, err := t.GetPlan(plan.ID); err != nil {
		return err
	}
	t.plans[plan.ID] = plan
	return nil
}

func (t *memTx) GetItem(itemID string) (models.InstallmentItem, error) {
	item, ok := t.items[itemID]
	if !ok {
		t.store.mu.RLock()
		item, ok = t.store.items[itemID]
		t.store.mu.RUnlock()
	}
	if !ok {
		return models.InstallmentItem{}, errs.Wrap(errs.ErrNotFound, "installment item %s", itemID)
	}
	if _, err := t.GetPlan(item.PlanID); err != nil {
		return models.InstallmentItem{}, errs.Wrap(errs.ErrNotFound, "installment item %s", itemID)
	}
	return item, nil
}

func (t *memTx) ListItems(planID string) ([]models.InstallmentItem, error) {
	if _, err := t.GetPlan(planID); err != nil {
		return nil, err
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	return t.store.itemsOf(planID, t.items), nil
}

func (t *memTx) UpdateItem(item models.InstallmentItem) error {
	if _, err := t.GetItem(item.ID); err != nil {
		return err
	}
	t.items[item.ID] = item
	return nil
}

func (t *memTx) LookupIdempotencyKey(key string) (models.IdempotencyRecord, bool, error) {
	k := t.card.ID + "\x00" + key
	if rec, ok := t.keys[k]; ok {
		return rec, true, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	rec, ok := t.store.keys[k]
	return rec, ok, nil
}

func (t *memTx) SaveIdempotencyKey(rec models.IdempotencyRecord) error {
	k := t.card.ID + "\x00" + rec.Key
	if _, found, _ := t.LookupIdempotencyKey(rec.Key); found {
		return errs.Wrap(errs.ErrInvalidRequest, "idempotency key %q already used on card %s", rec.Key, t.card.ID)
	}
	t.keys[k] = rec
	return nil
}

// Compile-time check: ensure MemoryCardStore implements CardStore interface
var _ interfaces.CardStore = (*MemoryCardStore)(nil)
