package service

import (
	"context"
	"testing"
	"time"

	"github.com/ticketguard/ticketing/internal/domain"
	"github.com/ticketguard/ticketing/internal/ledger"
)

type reconcileFixture struct {
	db      *memDB
	ledger  *fakeLedger
	tickets *fakeTicketRepo
	intents *fakeIntentRepo
	svc     *ReconcileService
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	db := newMemDB()
	lc := newFakeLedger()
	tickets := &fakeTicketRepo{db: db}
	intents := &fakeIntentRepo{db: db}
	svc := NewReconcileService(ReconcileDependencies{
		IntentRepo:   intents,
		TicketRepo:   tickets,
		UserRepo:     &fakeUserRepo{db: db},
		EventRepo:    &fakeEventRepo{db: db},
		WaitlistRepo: &fakeWaitlistRepo{db: db},
		Custody:      testCustody(t),
		Ledger:       lc,
		Logger:       testLogger(),
	})
	return &reconcileFixture{db: db, ledger: lc, tickets: tickets, intents: intents, svc: svc}
}

// parkIntent creates a RECONCILE intent, optionally with a known token id.
func (f *reconcileFixture) parkIntent(t *testing.T, userID, eventID string, tokenID *int64, age time.Duration) *domain.MintIntent {
	t.Helper()
	ctx := context.Background()
	intent := &domain.MintIntent{UserID: userID, EventID: eventID}
	if err := f.intents.Create(ctx, intent); err != nil {
		t.Fatal(err)
	}
	if err := f.intents.MarkReconcile(ctx, intent.ID, tokenID, nil, "test"); err != nil {
		t.Fatal(err)
	}
	f.db.mu.Lock()
	f.db.intents[intent.ID].CreatedAt = time.Now().Add(-age)
	f.db.mu.Unlock()
	return intent
}

func (f *reconcileFixture) intentByID(t *testing.T, id string) domain.MintIntent {
	t.Helper()
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	intent, ok := f.db.intents[id]
	if !ok {
		t.Fatalf("intent %s not found", id)
	}
	return *intent
}

func TestReconcileRun(t *testing.T) {
	ctx := context.Background()

	t.Run("forward-inserts a confirmed token with no local record", func(t *testing.T) {
		f := newReconcileFixture(t)
		event := f.db.addEvent("Concert", 5, 500)
		user := f.db.addUser("a@example.com", "0xaaa")
		tokenID := int64(42)
		f.ledger.seedToken(tokenID, "0xaaa", ledger.TicketInfo{
			Label: event.Title, EventTime: event.StartsAt.Unix(), Price: event.Price,
		})
		intent := f.parkIntent(t, user.ID, event.ID, &tokenID, 0)

		resolved, err := f.svc.Run(ctx, 10)
		if err != nil || resolved != 1 {
			t.Fatalf("resolved=%d err=%v, want 1,nil", resolved, err)
		}
		if got := f.intentByID(t, intent.ID).State; got != domain.MintIntentRecorded {
			t.Errorf("intent state = %s, want RECORDED", got)
		}
		ticket, err := f.tickets.GetByTokenID(ctx, tokenID)
		if err != nil {
			t.Fatalf("expected a local ticket: %v", err)
		}
		if ticket.OwnerID == nil || *ticket.OwnerID != user.ID {
			t.Errorf("ticket owner = %v, want %s", ticket.OwnerID, user.ID)
		}
	})

	t.Run("discovers the token id from issuance logs", func(t *testing.T) {
		f := newReconcileFixture(t)
		event := f.db.addEvent("Concert", 5, 500)
		user := f.db.addUser("a@example.com", "0xaaa")
		f.ledger.seedToken(77, "0xaaa", ledger.TicketInfo{
			Label: event.Title, EventTime: event.StartsAt.Unix(), Price: event.Price,
		})
		intent := f.parkIntent(t, user.ID, event.ID, nil, 0)

		resolved, err := f.svc.Run(ctx, 10)
		if err != nil || resolved != 1 {
			t.Fatalf("resolved=%d err=%v, want 1,nil", resolved, err)
		}
		after := f.intentByID(t, intent.ID)
		if after.State != domain.MintIntentRecorded {
			t.Errorf("intent state = %s, want RECORDED", after.State)
		}
		if after.TokenID == nil || *after.TokenID != 77 {
			t.Errorf("intent token = %v, want 77", after.TokenID)
		}
	})

	t.Run("fulfills the waiting entry once the lottery ticket is recorded", func(t *testing.T) {
		f := newReconcileFixture(t)
		event := f.db.addEvent("Concert", 5, 500)
		user := f.db.addUser("a@example.com", "0xaaa")

		// A lottery run whose mint outcome was unknown leaves the entry
		// WAITING and the intent parked without a token id.
		wl := &fakeWaitlistRepo{db: f.db}
		entry, err := wl.UpsertWaiting(ctx, user.ID, event.ID)
		if err != nil {
			t.Fatal(err)
		}
		f.ledger.seedToken(55, "0xaaa", ledger.TicketInfo{
			Label: event.Title, EventTime: event.StartsAt.Unix(), Price: event.Price,
		})
		f.parkIntent(t, user.ID, event.ID, nil, 0)

		resolved, err := f.svc.Run(ctx, 10)
		if err != nil || resolved != 1 {
			t.Fatalf("resolved=%d err=%v, want 1,nil", resolved, err)
		}
		if _, err := f.tickets.GetByTokenID(ctx, 55); err != nil {
			t.Fatalf("expected a local ticket: %v", err)
		}
		after, err := wl.GetByUserAndEvent(ctx, user.ID, event.ID)
		if err != nil {
			t.Fatal(err)
		}
		if after.Status != domain.WaitlistStatusFulfilled {
			t.Errorf("entry %s status = %s, want FULFILLED", entry.ID, after.Status)
		}
	})

	t.Run("reclaims the token when capacity is gone", func(t *testing.T) {
		f := newReconcileFixture(t)
		event := f.db.addEvent("Concert", 1, 500)
		rival := f.db.addUser("r@example.com", "0xrrr")
		f.db.addOwnedTicket(rival.ID, event.ID, 1)
		user := f.db.addUser("a@example.com", "0xaaa")
		f.db.setEncryptedKey(t, user.ID)
		tokenID := int64(42)
		f.ledger.seedToken(tokenID, "0xaaa", ledger.TicketInfo{
			Label: event.Title, EventTime: event.StartsAt.Unix(), Price: event.Price,
		})
		intent := f.parkIntent(t, user.ID, event.ID, &tokenID, 0)

		resolved, err := f.svc.Run(ctx, 10)
		if err != nil || resolved != 1 {
			t.Fatalf("resolved=%d err=%v, want 1,nil", resolved, err)
		}
		if got := f.intentByID(t, intent.ID).State; got != domain.MintIntentClosed {
			t.Errorf("intent state = %s, want CLOSED", got)
		}
		info, _ := f.ledger.TicketInfo(ctx, tokenID)
		if info.Owner != fakeCustodianAddr {
			t.Errorf("token owner = %s, want custodian", info.Owner)
		}
		if _, err := f.tickets.GetByTokenID(ctx, tokenID); err == nil {
			t.Error("no local ticket should exist for the reclaimed token")
		}
	})

	t.Run("marks recorded when the local ticket already exists", func(t *testing.T) {
		f := newReconcileFixture(t)
		event := f.db.addEvent("Concert", 5, 500)
		user := f.db.addUser("a@example.com", "0xaaa")
		tokenID := int64(42)
		f.ledger.seedToken(tokenID, "0xaaa", ledger.TicketInfo{
			Label: event.Title, EventTime: event.StartsAt.Unix(), Price: event.Price,
		})
		f.db.addOwnedTicket(user.ID, event.ID, tokenID)
		intent := f.parkIntent(t, user.ID, event.ID, &tokenID, 0)

		resolved, err := f.svc.Run(ctx, 10)
		if err != nil || resolved != 1 {
			t.Fatalf("resolved=%d err=%v, want 1,nil", resolved, err)
		}
		if got := f.intentByID(t, intent.ID).State; got != domain.MintIntentRecorded {
			t.Errorf("intent state = %s, want RECORDED", got)
		}
		if f.db.ownedCountLocked(event.ID) != 1 {
			t.Error("no duplicate ticket may be inserted")
		}
	})

	t.Run("leaves a fresh unfound mint pending", func(t *testing.T) {
		f := newReconcileFixture(t)
		event := f.db.addEvent("Concert", 5, 500)
		user := f.db.addUser("a@example.com", "0xaaa")
		intent := f.parkIntent(t, user.ID, event.ID, nil, time.Minute)

		resolved, err := f.svc.Run(ctx, 10)
		if err != nil {
			t.Fatal(err)
		}
		if resolved != 0 {
			t.Errorf("resolved = %d, want 0", resolved)
		}
		if got := f.intentByID(t, intent.ID).State; got != domain.MintIntentReconcile {
			t.Errorf("intent state = %s, want RECONCILE (still in grace)", got)
		}
	})

	t.Run("closes an unfound mint after the grace period", func(t *testing.T) {
		f := newReconcileFixture(t)
		event := f.db.addEvent("Concert", 5, 500)
		user := f.db.addUser("a@example.com", "0xaaa")
		intent := f.parkIntent(t, user.ID, event.ID, nil, time.Hour)

		resolved, err := f.svc.Run(ctx, 10)
		if err != nil || resolved != 1 {
			t.Fatalf("resolved=%d err=%v, want 1,nil", resolved, err)
		}
		if got := f.intentByID(t, intent.ID).State; got != domain.MintIntentClosed {
			t.Errorf("intent state = %s, want CLOSED", got)
		}
	})

	t.Run("closes when the token moved away from the user", func(t *testing.T) {
		f := newReconcileFixture(t)
		event := f.db.addEvent("Concert", 5, 500)
		user := f.db.addUser("a@example.com", "0xaaa")
		tokenID := int64(42)
		f.ledger.seedToken(tokenID, "0xelsewhere", ledger.TicketInfo{
			Label: event.Title, EventTime: event.StartsAt.Unix(), Price: event.Price,
		})
		intent := f.parkIntent(t, user.ID, event.ID, &tokenID, 0)

		resolved, err := f.svc.Run(ctx, 10)
		if err != nil || resolved != 1 {
			t.Fatalf("resolved=%d err=%v, want 1,nil", resolved, err)
		}
		if got := f.intentByID(t, intent.ID).State; got != domain.MintIntentClosed {
			t.Errorf("intent state = %s, want CLOSED", got)
		}
	})
}
