package services

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/tontineledger/internal/common"
	"github.com/dmitrijs2005/tontineledger/internal/dbx"
	"github.com/dmitrijs2005/tontineledger/internal/server/models"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/audit"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/cycles"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/groups"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/idempotency"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/ledger"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/members"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/users"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/votes"
	"github.com/dmitrijs2005/tontineledger/internal/server/repositories/withdrawals"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory RepositoryManager. It ignores the DBTX handle, so
// rollbacks are not simulated; tests assert Commit/Rollback through sqlmock.
type memStore struct {
	mu sync.Mutex

	users       map[string]models.User // by external uid
	accounts    map[string]models.Account
	entries     []models.LedgerEntry
	events      []models.AuditEvent
	keys        map[string]string
	groups      map[string]models.Group
	members     []models.Member
	cycles      []models.Cycle
	requests    []models.WithdrawRequest
	votes       []models.Vote
	clock       time.Time
	lockedChain int

	failLedgerInsert error
	failAuditInsert  error
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]models.User{},
		accounts: map[string]models.Account{},
		keys:     map[string]string{},
		groups:   map[string]models.Group{},
		clock:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

// tick returns a strictly increasing timestamp for created_at columns.
func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memStore) RunMigrations(context.Context, *sql.DB) error { return nil }

func (s *memStore) Users(dbx.DBTX) users.Repository             { return memUsers{s} }
func (s *memStore) Accounts(dbx.DBTX) accounts.Repository       { return memAccounts{s} }
func (s *memStore) Ledger(dbx.DBTX) ledger.Repository           { return memLedger{s} }
func (s *memStore) Audit(dbx.DBTX) audit.Repository             { return memAudit{s} }
func (s *memStore) Idempotency(dbx.DBTX) idempotency.Repository { return memKeys{s} }
func (s *memStore) Groups(dbx.DBTX) groups.Repository           { return memGroups{s} }
func (s *memStore) Members(dbx.DBTX) members.Repository         { return memMembers{s} }
func (s *memStore) Cycles(dbx.DBTX) cycles.Repository           { return memCycles{s} }
func (s *memStore) Withdrawals(dbx.DBTX) withdrawals.Repository { return memRequests{s} }
func (s *memStore) Votes(dbx.DBTX) votes.Repository             { return memVotes{s} }

type memUsers struct{ s *memStore }

func (r memUsers) Ensure(_ context.Context, id, externalUID string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[externalUID]
	if !ok {
		u = models.User{ID: id, ExternalUID: externalUID, CreatedAt: r.s.tick()}
		r.s.users[externalUID] = u
	}
	return &u, nil
}

func (r memUsers) GetByExternalUID(_ context.Context, externalUID string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[externalUID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &u, nil
}

type memAccounts struct{ s *memStore }

func (r memAccounts) Get(_ context.Context, id string) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &a, nil
}

func (r memAccounts) Create(_ context.Context, a *models.Account) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.accounts {
		if existing.ID == a.ID || (existing.UserID == a.UserID && existing.Currency == a.Currency) {
			return false, nil
		}
	}
	stored := *a
	stored.CreatedAt = r.s.tick()
	r.s.accounts[a.ID] = stored
	return true, nil
}

func (r memAccounts) GetByOwner(_ context.Context, userID, currency string) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if a.UserID == userID && a.Currency == currency {
			return &a, nil
		}
	}
	return nil, common.ErrorNotFound
}

type memLedger struct{ s *memStore }

func (r memLedger) Insert(_ context.Context, e *models.LedgerEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failLedgerInsert != nil {
		return r.s.failLedgerInsert
	}
	e.CreatedAt = r.s.tick()
	r.s.entries = append(r.s.entries, *e)
	return nil
}

func (r memLedger) Balance(_ context.Context, accountID string) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.balanceLocked(accountID), nil
}

func (s *memStore) balanceLocked(accountID string) decimal.Decimal {
	b := decimal.Zero
	for _, e := range s.entries {
		if e.AccountID != accountID {
			continue
		}
		if e.Direction == models.Credit {
			b = b.Add(e.Amount)
		} else {
			b = b.Sub(e.Amount)
		}
	}
	return b
}

func (r memLedger) ByReference(_ context.Context, reference string) ([]*models.LedgerEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range r.s.entries {
		if e.Reference != nil && *e.Reference == reference {
			c := e
			out = append(out, &c)
		}
	}
	return out, nil
}

type memAudit struct{ s *memStore }

func (r memAudit) LockChain(context.Context) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.lockedChain++
	return nil
}

func (r memAudit) LatestHash(context.Context) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if len(r.s.events) == 0 {
		return models.GenesisHash, nil
	}
	return r.s.events[len(r.s.events)-1].CurrentHash, nil
}

func (r memAudit) Insert(_ context.Context, e *models.AuditEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failAuditInsert != nil {
		return r.s.failAuditInsert
	}
	e.Seq = int64(len(r.s.events) + 1)
	e.CreatedAt = r.s.tick()
	r.s.events = append(r.s.events, *e)
	return nil
}

func (r memAudit) Iterate(_ context.Context, fn func(*models.AuditEvent) error) error {
	r.s.mu.Lock()
	events := append([]models.AuditEvent(nil), r.s.events...)
	r.s.mu.Unlock()
	for i := range events {
		if err := fn(&events[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r memAudit) CountGroupActions(_ context.Context, action, groupID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, e := range r.s.events {
		if e.Action == action && strings.Contains(string(e.Payload), `"group_id":"`+groupID+`"`) {
			n++
		}
	}
	return n, nil
}

type memKeys struct{ s *memStore }

func (r memKeys) Claim(_ context.Context, key, owner string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.keys[key]; ok {
		return false, nil
	}
	r.s.keys[key] = owner
	return true, nil
}

type memGroups struct{ s *memStore }

func (r memGroups) Create(_ context.Context, g *models.Group) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g.CreatedAt = r.s.tick()
	r.s.groups[g.ID] = *g
	return nil
}

func (r memGroups) Get(_ context.Context, id string) (*models.Group, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.groups[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &g, nil
}

func (r memGroups) GetForUpdate(ctx context.Context, id string) (*models.Group, error) {
	return r.Get(ctx, id)
}

func (r memGroups) UpdateStatus(_ context.Context, id string, status models.GroupStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.groups[id]
	if !ok {
		return common.ErrorNotFound
	}
	g.Status = status
	r.s.groups[id] = g
	return nil
}

func (r memGroups) UpdateSchedule(_ context.Context, id, frequency, signature string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.groups[id]
	if !ok {
		return common.ErrorNotFound
	}
	g.FrequencyType, g.SignatureHash = frequency, signature
	r.s.groups[id] = g
	return nil
}

type memMembers struct{ s *memStore }

func (r memMembers) Add(_ context.Context, m *models.Member) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.members {
		if existing.TontineID == m.TontineID && existing.UserID == m.UserID {
			return common.ErrAlreadyMember
		}
	}
	m.JoinedAt = r.s.tick()
	r.s.members = append(r.s.members, *m)
	return nil
}

func (r memMembers) Get(_ context.Context, tontineID, userID string) (*models.Member, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.members {
		if m.TontineID == tontineID && m.UserID == userID {
			return &m, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memMembers) List(_ context.Context, tontineID string) ([]*models.Member, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Member
	for _, m := range r.s.members {
		if m.TontineID == tontineID {
			c := m
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r memMembers) Count(ctx context.Context, tontineID string) (int, error) {
	list, err := r.List(ctx, tontineID)
	return len(list), err
}

func (r memMembers) UpdateReputation(_ context.Context, id string, score decimal.Decimal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.members {
		if r.s.members[i].ID == id {
			r.s.members[i].ReputationScore = score
			return nil
		}
	}
	return common.ErrorNotFound
}

type memCycles struct{ s *memStore }

func (r memCycles) InFlightForUpdate(_ context.Context, tontineID string) (*models.Cycle, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.cycles {
		if c.TontineID == tontineID && c.Status.InFlight() {
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memCycles) LastNumber(_ context.Context, tontineID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, c := range r.s.cycles {
		if c.TontineID == tontineID && c.CycleNumber > n {
			n = c.CycleNumber
		}
	}
	return n, nil
}

func (r memCycles) Create(_ context.Context, c *models.Cycle) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.tick()
	c.CreatedAt, c.UpdatedAt = now, now
	r.s.cycles = append(r.s.cycles, *c)
	return nil
}

func (r memCycles) Update(_ context.Context, c *models.Cycle) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.cycles {
		if r.s.cycles[i].ID == c.ID {
			c.UpdatedAt = r.s.tick()
			r.s.cycles[i] = *c
			return nil
		}
	}
	return common.ErrorNotFound
}

type memRequests struct{ s *memStore }

func (r memRequests) Create(_ context.Context, w *models.WithdrawRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.tick()
	w.CreatedAt, w.UpdatedAt = now, now
	r.s.requests = append(r.s.requests, *w)
	return nil
}

func (r memRequests) Get(_ context.Context, id string) (*models.WithdrawRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.requests {
		if w.ID == id {
			return &w, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memRequests) GetForUpdate(ctx context.Context, id string) (*models.WithdrawRequest, error) {
	return r.Get(ctx, id)
}

func (r memRequests) UpdateStatus(_ context.Context, id string, status models.WithdrawStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.requests {
		if r.s.requests[i].ID == id {
			r.s.requests[i].Status = status
			r.s.requests[i].UpdatedAt = r.s.tick()
			return nil
		}
	}
	return common.ErrorNotFound
}

func (r memRequests) ListRecent(_ context.Context, tontineID string, limit int) ([]*models.WithdrawRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.WithdrawRequest
	for _, w := range r.s.requests {
		if w.TontineID == tontineID {
			c := w
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memVotes struct{ s *memStore }

func (r memVotes) Create(_ context.Context, v *models.Vote) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.votes {
		if existing.WithdrawRequestID == v.WithdrawRequestID && existing.UserID == v.UserID {
			return common.ErrAlreadyVoted
		}
	}
	v.CreatedAt = r.s.tick()
	r.s.votes = append(r.s.votes, *v)
	return nil
}

func (r memVotes) ListByRequest(_ context.Context, requestID string) ([]*models.Vote, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Vote
	for _, v := range r.s.votes {
		if v.WithdrawRequestID == requestID {
			c := v
			out = append(out, &c)
		}
	}
	return out, nil
}

// newTxDB returns a sqlmock DB whose expectations the test declares with
// expectCommits / expectRollback.
func newTxDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func expectCommits(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
}

func expectRollback(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectRollback()
}
