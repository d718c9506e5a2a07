package ledger

import (
	"cmp"
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"storefront/internal/core/apperror"
	"storefront/internal/core/entity"
	"storefront/internal/core/id"
	"storefront/internal/core/tenant"
	"storefront/internal/core/tx"
)

// In-memory ledger storage. Transactions run one at a time against a clone of
// the committed state, which is swapped in on commit and dropped on rollback.

type levelKey struct {
	kind   entity.ItemKind
	itemID id.ID
	tenant id.ID
}

type memState struct {
	levels    map[levelKey]entity.StockLevel
	movements []entity.StockMovement
	items     map[levelKey]bool
	events    []MovementRecorded
}

func newMemState() *memState {
	return &memState{
		levels: make(map[levelKey]entity.StockLevel),
		items:  make(map[levelKey]bool),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		levels:    make(map[levelKey]entity.StockLevel, len(s.levels)),
		movements: append([]entity.StockMovement(nil), s.movements...),
		items:     make(map[levelKey]bool, len(s.items)),
		events:    append([]MovementRecorded(nil), s.events...),
	}
	for k, v := range s.levels {
		c.levels[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	return c
}

type memUoW struct {
	isolation string
	state     *memState
}

func (u *memUoW) IsolationLevel() string { return u.isolation }

type memStore struct {
	txLock sync.Mutex

	stateMu   sync.RWMutex
	committed *memState

	// failInsertMovement makes every InsertMovement call fail.
	failInsertMovement error

	// loseLevelInsert makes InsertLevelIfAbsent report success without
	// creating a row visible to the transaction.
	loseLevelInsert bool

	// listUoW is the unit of work of the last ListMovements call.
	listUoW tx.UnitOfWork
}

func newMemStore() *memStore {
	return &memStore{committed: newMemState()}
}

func (m *memStore) snapshot() *memState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.committed
}

func (m *memStore) state(uow tx.UnitOfWork) *memState {
	if u, ok := uow.(*memUoW); ok && u != nil {
		return u.state
	}
	return m.snapshot()
}

// mutate applies fn to the committed state directly, bypassing the ledger.
func (m *memStore) mutate(fn func(s *memState)) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	next := m.committed.clone()
	fn(next)
	m.committed = next
}

func (m *memStore) addItem(ref entity.ItemRef, tenantID id.ID) {
	m.mutate(func(s *memState) {
		s.items[levelKey{ref.Kind(), ref.ID(), tenantID}] = true
	})
}

// Within implements tx.Manager.
func (m *memStore) Within(ctx context.Context, uow tx.UnitOfWork, fn func(ctx context.Context, uow tx.UnitOfWork) error) error {
	if uow != nil {
		return fn(ctx, uow)
	}

	m.txLock.Lock()
	defer m.txLock.Unlock()

	work := &memUoW{isolation: tx.Serializable, state: m.snapshot().clone()}
	if err := fn(ctx, work); err != nil {
		return err
	}

	m.stateMu.Lock()
	m.committed = work.state
	m.stateMu.Unlock()
	return nil
}

// --- Repository ---

func (m *memStore) GetLevelForUpdate(_ context.Context, uow tx.UnitOfWork, ref entity.ItemRef, tenantID id.ID) (*entity.StockLevel, error) {
	l, ok := m.state(uow).levels[levelKey{ref.Kind(), ref.ID(), tenantID}]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (m *memStore) InsertLevelIfAbsent(_ context.Context, uow tx.UnitOfWork, level entity.StockLevel) error {
	if m.loseLevelInsert {
		return nil
	}
	s := m.state(uow)
	k := levelKey{level.Item().Kind(), level.Item().ID(), level.ClientID}
	if _, ok := s.levels[k]; !ok {
		s.levels[k] = level
	}
	return nil
}

func (m *memStore) UpdateLevelQuantity(_ context.Context, uow tx.UnitOfWork, levelID id.ID, quantity int, updatedAt time.Time) error {
	s := m.state(uow)
	for k, l := range s.levels {
		if l.ID == levelID {
			l.Quantity = quantity
			l.UpdatedAt = updatedAt
			s.levels[k] = l
			return nil
		}
	}
	return apperror.NewNotFound("stock level", levelID)
}

func (m *memStore) GetQuantities(_ context.Context, uow tx.UnitOfWork, kind entity.ItemKind, itemIDs []id.ID, tenantID *id.ID) (map[id.ID]int, error) {
	wanted := make(map[id.ID]bool, len(itemIDs))
	for _, itemID := range itemIDs {
		wanted[itemID] = true
	}
	out := make(map[id.ID]int)
	for k, l := range m.state(uow).levels {
		if k.kind != kind || !wanted[k.itemID] {
			continue
		}
		if tenantID != nil && k.tenant != *tenantID {
			continue
		}
		out[k.itemID] += l.Quantity
	}
	return out, nil
}

func (m *memStore) InsertMovement(_ context.Context, uow tx.UnitOfWork, movement entity.StockMovement) error {
	if m.failInsertMovement != nil {
		return m.failInsertMovement
	}
	s := m.state(uow)
	s.movements = append(s.movements, movement)
	return nil
}

func (m *memStore) GetMovement(_ context.Context, uow tx.UnitOfWork, movementID id.ID, tenantID *id.ID) (entity.StockMovement, error) {
	for _, mv := range m.state(uow).movements {
		if mv.ID != movementID {
			continue
		}
		if tenantID != nil && mv.ClientID != *tenantID {
			break
		}
		return mv, nil
	}
	return entity.StockMovement{}, apperror.NewMovementNotFound(movementID.String())
}

func (m *memStore) ListMovements(_ context.Context, uow tx.UnitOfWork, q MovementQuery) ([]entity.StockMovement, int, error) {
	m.listUoW = uow
	var matched []entity.StockMovement
	for _, mv := range m.state(uow).movements {
		if q.TenantID != nil && mv.ClientID != *q.TenantID {
			continue
		}
		if q.ItemID != nil && (mv.Item().Kind() != q.ItemKind || mv.Item().ID() != *q.ItemID) {
			continue
		}
		if q.MovementType != nil && mv.MovementType != *q.MovementType {
			continue
		}
		if q.DateFrom != nil && mv.MovementDate.Before(*q.DateFrom) {
			continue
		}
		if q.DateTo != nil && mv.MovementDate.After(*q.DateTo) {
			continue
		}
		matched = append(matched, mv)
	}

	less := func(a, b entity.StockMovement) int {
		switch q.OrderBy {
		case "movement_type":
			return cmp.Compare(string(a.MovementType), string(b.MovementType))
		case "quantity_change":
			return cmp.Compare(a.QuantityChange, b.QuantityChange)
		default:
			return a.MovementDate.Compare(b.MovementDate)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		c := less(matched[i], matched[j])
		if c == 0 {
			c = cmp.Compare(matched[i].ID.String(), matched[j].ID.String())
		}
		if q.Descending {
			return c > 0
		}
		return c < 0
	})

	total := len(matched)
	start := min(q.Offset, total)
	end := min(start+q.Limit, total)
	return matched[start:end], total, nil
}

func (m *memStore) SumMovements(_ context.Context, uow tx.UnitOfWork, ref entity.ItemRef, tenantID id.ID) (int, error) {
	sum := 0
	for _, mv := range m.state(uow).movements {
		if mv.ClientID == tenantID && mv.Item().Kind() == ref.Kind() && mv.Item().ID() == ref.ID() {
			sum += mv.QuantityChange
		}
	}
	return sum, nil
}

func (m *memStore) ListDrift(ctx context.Context, uow tx.UnitOfWork, limit int) ([]BalanceReport, error) {
	var out []BalanceReport
	for k, l := range m.state(uow).levels {
		sum, _ := m.SumMovements(ctx, uow, l.Item(), k.tenant)
		if sum != l.Quantity {
			out = append(out, BalanceReport{
				Item:        l.Item(),
				TenantID:    k.tenant,
				Quantity:    l.Quantity,
				MovementSum: sum,
				Drift:       l.Quantity - sum,
			})
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- ItemOracle / EventPublisher ---

func (m *memStore) Exists(_ context.Context, uow tx.UnitOfWork, ref entity.ItemRef, tenantID id.ID) (bool, error) {
	return m.state(uow).items[levelKey{ref.Kind(), ref.ID(), tenantID}], nil
}

func (m *memStore) PublishMovement(_ context.Context, uow tx.UnitOfWork, event MovementRecorded) error {
	s := m.state(uow)
	s.events = append(s.events, event)
	return nil
}

// --- fixtures ---

var (
	tenantA = id.MustParse("0190a000-0000-7000-8000-00000000000a")
	tenantB = id.MustParse("0190a000-0000-7000-8000-00000000000b")
	actor   = id.MustParse("0190a000-0000-7000-8000-0000000000ac")
)

type fixture struct {
	store  *memStore
	engine *Engine
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: newMemStore(),
		clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	var clockMu sync.Mutex
	tick := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		f.clock = f.clock.Add(time.Minute)
		return f.clock
	}
	f.engine = NewEngine(f.store, f.store, f.store, WithEventPublisher(f.store), WithClock(tick))
	return f
}

func (f *fixture) product(tenantID id.ID) entity.ItemRef {
	ref := entity.ProductRef(id.New())
	f.store.addItem(ref, tenantID)
	return ref
}

func (f *fixture) variant(tenantID id.ID) entity.ItemRef {
	ref := entity.VariantRef(id.New())
	f.store.addItem(ref, tenantID)
	return ref
}

func (f *fixture) level(ref entity.ItemRef, tenantID id.ID) (entity.StockLevel, bool) {
	l, ok := f.store.snapshot().levels[levelKey{ref.Kind(), ref.ID(), tenantID}]
	return l, ok
}

// levelRows counts level rows of ref across every tenant.
func (f *fixture) levelRows(ref entity.ItemRef) int {
	n := 0
	for k := range f.store.snapshot().levels {
		if k.kind == ref.Kind() && k.itemID == ref.ID() {
			n++
		}
	}
	return n
}

func (f *fixture) movements() []entity.StockMovement {
	return f.store.snapshot().movements
}

func scopeOf(tenantID id.ID) tenant.Scope {
	return tenant.NewScope(tenantID, id.Ptr(actor))
}

func superadmin(target *id.ID) tenant.Scope {
	return tenant.NewPrivilegedScope(target, id.Ptr(actor))
}
