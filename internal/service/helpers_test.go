package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ticketguard/ticketing/internal/custody"
	"github.com/ticketguard/ticketing/internal/domain"
	"github.com/ticketguard/ticketing/internal/ledger"
)

// memDB is the shared in-memory backing store for the repository fakes. All
// fakes operate under one mutex so cross-repository operations observe a
// consistent state, matching the transactional guarantees of the real store.
type memDB struct {
	mu       sync.Mutex
	events   map[string]*domain.Event
	users    map[string]*domain.User
	tickets  map[string]*domain.Ticket
	waitlist map[string]*domain.WaitlistEntry
	intents  map[string]*domain.MintIntent
	seq      int
	clock    time.Time
}

func newMemDB() *memDB {
	return &memDB{
		events:   make(map[string]*domain.Event),
		users:    make(map[string]*domain.User),
		tickets:  make(map[string]*domain.Ticket),
		waitlist: make(map[string]*domain.WaitlistEntry),
		intents:  make(map[string]*domain.MintIntent),
		clock:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (db *memDB) nextID(prefix string) string {
	db.seq++
	return fmt.Sprintf("%s-%04d", prefix, db.seq)
}

// tick returns a strictly increasing timestamp so FIFO ordering by creation
// time is deterministic.
func (db *memDB) tick() time.Time {
	db.clock = db.clock.Add(time.Second)
	return db.clock
}

func (db *memDB) addEvent(title string, total int, price int64) *domain.Event {
	db.mu.Lock()
	defer db.mu.Unlock()
	event := &domain.Event{
		ID:           db.nextID("evt"),
		Title:        title,
		StartsAt:     time.Date(2025, 9, 1, 20, 0, 0, 0, time.UTC),
		Price:        price,
		TotalTickets: total,
		CreatedAt:    db.tick(),
	}
	db.events[event.ID] = event
	return event
}

func (db *memDB) addUser(email, wallet string) *domain.User {
	db.mu.Lock()
	defer db.mu.Unlock()
	user := &domain.User{
		ID:                  db.nextID("usr"),
		Email:               email,
		Auth:                domain.PasswordCredential{Hash: "x"},
		Role:                domain.UserRoleMember,
		WalletAddress:       wallet,
		EncryptedPrivateKey: "blob-" + wallet,
		CreatedAt:           db.tick(),
	}
	db.users[user.ID] = user
	return user
}

func (db *memDB) addOwnedTicket(userID, eventID string, tokenID int64) *domain.Ticket {
	db.mu.Lock()
	defer db.mu.Unlock()
	owner := userID
	ticket := &domain.Ticket{
		ID:        db.nextID("tkt"),
		TokenID:   tokenID,
		Status:    domain.TicketStatusOwned,
		OwnerID:   &owner,
		EventID:   eventID,
		CreatedAt: db.tick(),
	}
	db.tickets[ticket.ID] = ticket
	return ticket
}

func (db *memDB) ownedCount(eventID string) int {
	count := 0
	for _, t := range db.tickets {
		if t.EventID == eventID && t.Status == domain.TicketStatusOwned {
			count++
		}
	}
	return count
}

type fakeEventRepo struct{ db *memDB }

func (r *fakeEventRepo) Create(_ context.Context, event *domain.Event) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	event.ID = r.db.nextID("evt")
	event.CreatedAt = r.db.tick()
	copied := *event
	r.db.events[event.ID] = &copied
	return nil
}

func (r *fakeEventRepo) Update(_ context.Context, event *domain.Event) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.events[event.ID]; !ok {
		return domain.ErrEventNotFound
	}
	copied := *event
	r.db.events[event.ID] = &copied
	return nil
}

func (r *fakeEventRepo) GetByID(_ context.Context, id string) (*domain.Event, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	event, ok := r.db.events[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	copied := *event
	return &copied, nil
}

func (r *fakeEventRepo) List(_ context.Context) ([]domain.Event, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var all []domain.Event
	for _, event := range r.db.events {
		all = append(all, *event)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartsAt.Before(all[j].StartsAt) })
	return all, nil
}

func (r *fakeEventRepo) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.events[id]; !ok {
		return domain.ErrEventNotFound
	}
	delete(r.db.events, id)
	return nil
}

func (r *fakeEventRepo) CountOwned(_ context.Context, eventID string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.ownedCount(eventID), nil
}

type fakeUserRepo struct{ db *memDB }

func (r *fakeUserRepo) Create(_ context.Context, user *domain.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.users {
		if existing.Email == user.Email {
			return domain.ErrEmailTaken
		}
	}
	user.ID = r.db.nextID("usr")
	user.CreatedAt = r.db.tick()
	copied := *user
	r.db.users[user.ID] = &copied
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	user, ok := r.db.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, user := range r.db.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

type fakeTicketRepo struct {
	db *memDB
	// failCreate forces the next CreateWithinCapacity to fail with this
	// error, simulating a store outage after a confirmed mint.
	failCreate error
}

func (r *fakeTicketRepo) CreateWithinCapacity(_ context.Context, ticket *domain.Ticket) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.failCreate != nil {
		err := r.failCreate
		r.failCreate = nil
		return err
	}
	event, ok := r.db.events[ticket.EventID]
	if !ok {
		return domain.ErrEventNotFound
	}
	if r.db.ownedCount(ticket.EventID) >= event.TotalTickets {
		return domain.ErrSoldOut
	}
	ticket.ID = r.db.nextID("tkt")
	ticket.CreatedAt = r.db.tick()
	copied := *ticket
	r.db.tickets[ticket.ID] = &copied
	return nil
}

func (r *fakeTicketRepo) MarkRefunded(_ context.Context, ticketID, ownerID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	ticket, ok := r.db.tickets[ticketID]
	if !ok {
		return domain.ErrTicketNotFound
	}
	if ticket.Status != domain.TicketStatusOwned || ticket.OwnerID == nil || *ticket.OwnerID != ownerID {
		return domain.ErrAlreadyRefunded
	}
	ticket.Status = domain.TicketStatusRefunded
	ticket.OwnerID = nil
	return nil
}

func (r *fakeTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	ticket, ok := r.db.tickets[id]
	if !ok {
		return nil, domain.ErrTicketNotFound
	}
	copied := *ticket
	return &copied, nil
}

func (r *fakeTicketRepo) GetByTokenID(_ context.Context, tokenID int64) (*domain.Ticket, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, ticket := range r.db.tickets {
		if ticket.TokenID == tokenID {
			copied := *ticket
			return &copied, nil
		}
	}
	return nil, domain.ErrTicketNotFound
}

func (r *fakeTicketRepo) ListOwnedByUser(_ context.Context, userID string) ([]domain.Ticket, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var owned []domain.Ticket
	for _, ticket := range r.db.tickets {
		if ticket.Status == domain.TicketStatusOwned && ticket.OwnerID != nil && *ticket.OwnerID == userID {
			owned = append(owned, *ticket)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].CreatedAt.Before(owned[j].CreatedAt) })
	return owned, nil
}

func (r *fakeTicketRepo) ListTokenIDsByUser(_ context.Context, userID string) ([]int64, error) {
	owned, err := r.ListOwnedByUser(context.Background(), userID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(owned))
	for _, ticket := range owned {
		ids = append(ids, ticket.TokenID)
	}
	return ids, nil
}

func (r *fakeTicketRepo) OwnsForEvent(_ context.Context, userID, eventID string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, ticket := range r.db.tickets {
		if ticket.EventID == eventID && ticket.Status == domain.TicketStatusOwned &&
			ticket.OwnerID != nil && *ticket.OwnerID == userID {
			return true, nil
		}
	}
	return false, nil
}

type fakeWaitlistRepo struct{ db *memDB }

func (r *fakeWaitlistRepo) UpsertWaiting(_ context.Context, userID, eventID string) (*domain.WaitlistEntry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, entry := range r.db.waitlist {
		if entry.UserID == userID && entry.EventID == eventID {
			entry.Status = domain.WaitlistStatusWaiting
			entry.UpdatedAt = r.db.tick()
			copied := *entry
			return &copied, nil
		}
	}
	entry := &domain.WaitlistEntry{
		ID:        r.db.nextID("wl"),
		UserID:    userID,
		EventID:   eventID,
		Status:    domain.WaitlistStatusWaiting,
		CreatedAt: r.db.tick(),
	}
	r.db.waitlist[entry.ID] = entry
	copied := *entry
	return &copied, nil
}

func (r *fakeWaitlistRepo) GetByUserAndEvent(_ context.Context, userID, eventID string) (*domain.WaitlistEntry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, entry := range r.db.waitlist {
		if entry.UserID == userID && entry.EventID == eventID {
			copied := *entry
			return &copied, nil
		}
	}
	return nil, domain.ErrWaitlistNotFound
}

func (r *fakeWaitlistRepo) Cancel(_ context.Context, userID, eventID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, entry := range r.db.waitlist {
		if entry.UserID == userID && entry.EventID == eventID && entry.Status == domain.WaitlistStatusWaiting {
			entry.Status = domain.WaitlistStatusCancelled
			entry.UpdatedAt = r.db.tick()
			return nil
		}
	}
	return domain.ErrWaitlistNotFound
}

func (r *fakeWaitlistRepo) Position(_ context.Context, target *domain.WaitlistEntry) (int, error) {
	entries, err := r.ListWaiting(context.Background(), target.EventID)
	if err != nil {
		return 0, err
	}
	for i, entry := range entries {
		if entry.ID == target.ID {
			return i + 1, nil
		}
	}
	return 0, domain.ErrWaitlistNotFound
}

func (r *fakeWaitlistRepo) ListWaiting(_ context.Context, eventID string) ([]domain.WaitlistEntry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var waiting []domain.WaitlistEntry
	for _, entry := range r.db.waitlist {
		if entry.EventID == eventID && entry.Status == domain.WaitlistStatusWaiting {
			waiting = append(waiting, *entry)
		}
	}
	sort.Slice(waiting, func(i, j int) bool {
		if waiting[i].CreatedAt.Equal(waiting[j].CreatedAt) {
			return waiting[i].ID < waiting[j].ID
		}
		return waiting[i].CreatedAt.Before(waiting[j].CreatedAt)
	})
	return waiting, nil
}

func (r *fakeWaitlistRepo) MarkFulfilledIfWaiting(_ context.Context, entryID string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	entry, ok := r.db.waitlist[entryID]
	if !ok {
		return false, domain.ErrWaitlistNotFound
	}
	if entry.Status != domain.WaitlistStatusWaiting {
		return false, nil
	}
	entry.Status = domain.WaitlistStatusFulfilled
	entry.UpdatedAt = r.db.tick()
	return true, nil
}

func (r *fakeWaitlistRepo) CountWaiting(_ context.Context, eventID string) (int, error) {
	entries, err := r.ListWaiting(context.Background(), eventID)
	return len(entries), err
}

type fakeIntentRepo struct{ db *memDB }

func (r *fakeIntentRepo) Create(_ context.Context, intent *domain.MintIntent) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	intent.ID = r.db.nextID("int")
	intent.State = domain.MintIntentPending
	intent.CreatedAt = r.db.tick()
	copied := *intent
	r.db.intents[intent.ID] = &copied
	return nil
}

func (r *fakeIntentRepo) MarkRecorded(_ context.Context, id string, tokenID int64, txRef string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	intent, ok := r.db.intents[id]
	if !ok {
		return errors.New("intent not found")
	}
	intent.State = domain.MintIntentRecorded
	intent.TokenID = &tokenID
	intent.TxRef = &txRef
	intent.Reason = nil
	return nil
}

func (r *fakeIntentRepo) MarkReconcile(_ context.Context, id string, tokenID *int64, txRef *string, reason string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	intent, ok := r.db.intents[id]
	if !ok {
		return errors.New("intent not found")
	}
	intent.State = domain.MintIntentReconcile
	if tokenID != nil {
		intent.TokenID = tokenID
	}
	if txRef != nil {
		intent.TxRef = txRef
	}
	intent.Reason = &reason
	return nil
}

func (r *fakeIntentRepo) Close(_ context.Context, id string, reason string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	intent, ok := r.db.intents[id]
	if !ok {
		return errors.New("intent not found")
	}
	intent.State = domain.MintIntentClosed
	intent.Reason = &reason
	return nil
}

func (r *fakeIntentRepo) ListReconcilable(_ context.Context, limit int) ([]domain.MintIntent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var stranded []domain.MintIntent
	for _, intent := range r.db.intents {
		if intent.State == domain.MintIntentReconcile {
			stranded = append(stranded, *intent)
		}
	}
	sort.Slice(stranded, func(i, j int) bool { return stranded[i].CreatedAt.Before(stranded[j].CreatedAt) })
	if limit > 0 && len(stranded) > limit {
		stranded = stranded[:limit]
	}
	return stranded, nil
}

func (r *fakeIntentRepo) IncrementAttempts(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if intent, ok := r.db.intents[id]; ok {
		intent.Attempts++
	}
	return nil
}

const fakeCustodianAddr = "0xC0570D1A0000000000000000000000000000000"

// fakeLedger is a scripted ledger. Mint errors are consumed from mintErrs in
// order; once drained, mints succeed with sequential token ids.
type fakeLedger struct {
	mu            sync.Mutex
	mintErrs      []error
	transferErr   []error
	nextToken     int64
	mintCalls     int
	transferCalls int
	topUpCalls    int
	owners        map[int64]string
	infos         map[int64]ledger.TicketInfo
	mintedTo      map[string][]int64
	balances      map[string]*big.Int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		nextToken: 100,
		owners:    make(map[int64]string),
		infos:     make(map[int64]ledger.TicketInfo),
		mintedTo:  make(map[string][]int64),
		balances:  make(map[string]*big.Int),
	}
}

func (l *fakeLedger) Mint(_ context.Context, recipient, eventLabel string, eventTime, price int64) (ledger.MintResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mintCalls++
	if len(l.mintErrs) > 0 {
		err := l.mintErrs[0]
		l.mintErrs = l.mintErrs[1:]
		if err != nil {
			return ledger.MintResult{}, err
		}
	}
	l.nextToken++
	id := l.nextToken
	l.owners[id] = recipient
	l.infos[id] = ledger.TicketInfo{Label: eventLabel, EventTime: eventTime, Price: price, Owner: recipient}
	l.mintedTo[strings.ToLower(recipient)] = append(l.mintedTo[strings.ToLower(recipient)], id)
	return ledger.MintResult{TokenID: id, TxRef: fmt.Sprintf("0xtx%d", id)}, nil
}

func (l *fakeLedger) TransferToCustodian(_ context.Context, credentialHex string, tokenID int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transferCalls++
	if len(l.transferErr) > 0 {
		err := l.transferErr[0]
		l.transferErr = l.transferErr[1:]
		if err != nil {
			return "", err
		}
	}
	if _, ok := l.owners[tokenID]; !ok {
		return "", ledger.ErrNotFound
	}
	l.owners[tokenID] = fakeCustodianAddr
	info := l.infos[tokenID]
	info.Owner = fakeCustodianAddr
	l.infos[tokenID] = info
	return fmt.Sprintf("0xreturn%d", tokenID), nil
}

func (l *fakeLedger) TicketInfo(_ context.Context, tokenID int64) (ledger.TicketInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.infos[tokenID]
	if !ok {
		return ledger.TicketInfo{}, ledger.ErrNotFound
	}
	return info, nil
}

func (l *fakeLedger) BalanceOf(_ context.Context, address string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if balance, ok := l.balances[strings.ToLower(address)]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(1_000_000), nil
}

func (l *fakeLedger) TopUpGas(_ context.Context, address string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.topUpCalls++
	l.balances[strings.ToLower(address)] = big.NewInt(1_000_000)
	return "0xtopup", nil
}

func (l *fakeLedger) MintedTokenIDs(_ context.Context, address string) ([]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int64(nil), l.mintedTo[strings.ToLower(address)]...), nil
}

func (l *fakeLedger) CustodianAddress() string { return fakeCustodianAddr }

// seedToken records a token as already minted, simulating a mint that landed
// on the ledger even though the submitter never saw the confirmation.
func (l *fakeLedger) seedToken(tokenID int64, owner string, info ledger.TicketInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info.Owner = owner
	l.owners[tokenID] = owner
	l.infos[tokenID] = info
	l.mintedTo[strings.ToLower(owner)] = append(l.mintedTo[strings.ToLower(owner)], tokenID)
}

// moveToken rewrites ownership directly, simulating an out-of-band transfer.
func (l *fakeLedger) moveToken(tokenID int64, to string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owners[tokenID] = to
	info := l.infos[tokenID]
	info.Owner = to
	l.infos[tokenID] = info
}

func (l *fakeLedger) mints() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mintCalls
}

func testLogger() *zap.Logger { return zap.NewNop() }

func testCustody(t *testing.T) *custody.Custody {
	t.Helper()
	c, err := custody.New(strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("custody init: %v", err)
	}
	return c
}

// setEncryptedKey gives the user a credential blob decryptable by
// testCustody's key.
func (db *memDB) setEncryptedKey(t *testing.T, userID string) {
	t.Helper()
	_, blob, err := testCustody(t).NewCredential()
	if err != nil {
		t.Fatalf("credential: %v", err)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users[userID].EncryptedPrivateKey = blob
}

func (db *memDB) ownedCountLocked(eventID string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.ownedCount(eventID)
}
