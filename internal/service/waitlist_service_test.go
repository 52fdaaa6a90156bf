package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ticketguard/ticketing/internal/domain"
	"github.com/ticketguard/ticketing/internal/ledger"
)

type waitlistFixture struct {
	db       *memDB
	ledger   *fakeLedger
	tickets  *fakeTicketRepo
	svc      *WaitlistService
	purchase *TicketService
}

func newWaitlistFixture(t *testing.T) *waitlistFixture {
	t.Helper()
	db := newMemDB()
	lc := newFakeLedger()
	purchase, tickets, _ := newTicketService(db, lc, 3)
	svc := NewWaitlistService(WaitlistDependencies{
		WaitlistRepo: &fakeWaitlistRepo{db: db},
		EventRepo:    &fakeEventRepo{db: db},
		TicketRepo:   tickets,
		Purchaser:    purchase,
		Logger:       testLogger(),
	})
	return &waitlistFixture{db: db, ledger: lc, tickets: tickets, svc: svc, purchase: purchase}
}

func TestWaitlistJoin(t *testing.T) {
	ctx := context.Background()

	t.Run("positions count from the head", func(t *testing.T) {
		f := newWaitlistFixture(t)
		event := f.db.addEvent("Concert", 1, 500)
		first := f.db.addUser("1@example.com", "0x1")
		second := f.db.addUser("2@example.com", "0x2")

		status, err := f.svc.Join(ctx, first.ID, event.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status.Position != 1 {
			t.Errorf("first position = %d, want 1", status.Position)
		}

		status, err = f.svc.Join(ctx, second.ID, event.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status.Position != 2 {
			t.Errorf("second position = %d, want 2", status.Position)
		}
	})

	t.Run("rejects duplicate active entries", func(t *testing.T) {
		f := newWaitlistFixture(t)
		event := f.db.addEvent("Concert", 1, 500)
		user := f.db.addUser("1@example.com", "0x1")

		if _, err := f.svc.Join(ctx, user.ID, event.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := f.svc.Join(ctx, user.ID, event.ID); !errors.Is(err, domain.ErrAlreadyWaiting) {
			t.Fatalf("expected ErrAlreadyWaiting, got %v", err)
		}
	})

	t.Run("rejects existing ticket holders", func(t *testing.T) {
		f := newWaitlistFixture(t)
		event := f.db.addEvent("Concert", 2, 500)
		user := f.db.addUser("1@example.com", "0x1")
		f.db.addOwnedTicket(user.ID, event.ID, 7)

		if _, err := f.svc.Join(ctx, user.ID, event.ID); !errors.Is(err, domain.ErrAlreadyOwns) {
			t.Fatalf("expected ErrAlreadyOwns, got %v", err)
		}
	})

	t.Run("rejoining after leaving keeps the original rank", func(t *testing.T) {
		f := newWaitlistFixture(t)
		event := f.db.addEvent("Concert", 1, 500)
		first := f.db.addUser("1@example.com", "0x1")
		second := f.db.addUser("2@example.com", "0x2")

		if _, err := f.svc.Join(ctx, first.ID, event.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := f.svc.Join(ctx, second.ID, event.ID); err != nil {
			t.Fatal(err)
		}
		if err := f.svc.Leave(ctx, first.ID, event.ID); err != nil {
			t.Fatal(err)
		}

		status, err := f.svc.Join(ctx, first.ID, event.ID)
		if err != nil {
			t.Fatal(err)
		}
		if status.Position != 1 {
			t.Errorf("rejoined position = %d, want 1 (original creation time kept)", status.Position)
		}
	})
}

func TestWaitlistLeave(t *testing.T) {
	ctx := context.Background()
	f := newWaitlistFixture(t)
	event := f.db.addEvent("Concert", 1, 500)
	user := f.db.addUser("1@example.com", "0x1")

	if err := f.svc.Leave(ctx, user.ID, event.ID); !errors.Is(err, domain.ErrWaitlistNotFound) {
		t.Fatalf("expected ErrWaitlistNotFound, got %v", err)
	}

	if _, err := f.svc.Join(ctx, user.ID, event.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Leave(ctx, user.ID, event.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.Leave(ctx, user.ID, event.ID); !errors.Is(err, domain.ErrWaitlistNotFound) {
		t.Fatalf("leaving twice: expected ErrWaitlistNotFound, got %v", err)
	}
}

func TestWaitlistMyStatus(t *testing.T) {
	ctx := context.Background()
	f := newWaitlistFixture(t)
	event := f.db.addEvent("Concert", 1, 500)
	user := f.db.addUser("1@example.com", "0x1")

	status, err := f.svc.MyStatus(ctx, user.ID, event.ID)
	if err != nil {
		t.Fatalf("no entry must not be an error, got %v", err)
	}
	if status.Entry != nil || status.Position != 0 {
		t.Errorf("expected zero status, got %+v", status)
	}

	if _, err := f.svc.Join(ctx, user.ID, event.ID); err != nil {
		t.Fatal(err)
	}
	status, err = f.svc.MyStatus(ctx, user.ID, event.ID)
	if err != nil {
		t.Fatal(err)
	}
	if status.Entry == nil || status.Position != 1 {
		t.Errorf("expected waiting at position 1, got %+v", status)
	}
}

func TestProcessLottery(t *testing.T) {
	ctx := context.Background()

	t.Run("empty queue completes without issuing", func(t *testing.T) {
		f := newWaitlistFixture(t)
		event := f.db.addEvent("Concert", 1, 500)

		completed, err := f.svc.ProcessLottery(ctx, event.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if completed {
			t.Error("empty queue cannot complete a lottery")
		}
	})

	t.Run("issues to the head of the queue in order", func(t *testing.T) {
		f := newWaitlistFixture(t)
		event := f.db.addEvent("Concert", 3, 500)
		first := f.db.addUser("1@example.com", "0x1")
		second := f.db.addUser("2@example.com", "0x2")
		if _, err := f.svc.Join(ctx, first.ID, event.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := f.svc.Join(ctx, second.ID, event.ID); err != nil {
			t.Fatal(err)
		}

		completed, err := f.svc.ProcessLottery(ctx, event.ID)
		if err != nil || !completed {
			t.Fatalf("completed=%v err=%v, want true,nil", completed, err)
		}
		owns, _ := f.tickets.OwnsForEvent(ctx, first.ID, event.ID)
		if !owns {
			t.Error("head of queue should own a ticket")
		}
		owns, _ = f.tickets.OwnsForEvent(ctx, second.ID, event.ID)
		if owns {
			t.Error("second in queue must not be served yet")
		}

		status, _ := f.svc.MyStatus(ctx, second.ID, event.ID)
		if status.Position != 1 {
			t.Errorf("second entrant position = %d, want 1 after head fulfilled", status.Position)
		}
	})

	t.Run("failed head purchase does not advance the queue", func(t *testing.T) {
		f := newWaitlistFixture(t)
		event := f.db.addEvent("Concert", 3, 500)
		first := f.db.addUser("1@example.com", "0x1")
		second := f.db.addUser("2@example.com", "0x2")
		if _, err := f.svc.Join(ctx, first.ID, event.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := f.svc.Join(ctx, second.ID, event.ID); err != nil {
			t.Fatal(err)
		}
		f.ledger.mintErrs = []error{ledger.ErrRejected}

		completed, err := f.svc.ProcessLottery(ctx, event.ID)
		if completed {
			t.Error("failed purchase cannot complete a lottery")
		}
		if err == nil {
			t.Fatal("expected an error")
		}

		status, _ := f.svc.MyStatus(ctx, first.ID, event.ID)
		if status.Position != 1 {
			t.Errorf("head position = %d, want 1 (no advance on failure)", status.Position)
		}
		owns, _ := f.tickets.OwnsForEvent(ctx, second.ID, event.ID)
		if owns {
			t.Error("queue must not skip to the second entrant")
		}
	})

	t.Run("ambiguous mint outcome leaves the head waiting", func(t *testing.T) {
		f := newWaitlistFixture(t)
		event := f.db.addEvent("Concert", 3, 500)
		user := f.db.addUser("1@example.com", "0x1")
		if _, err := f.svc.Join(ctx, user.ID, event.ID); err != nil {
			t.Fatal(err)
		}
		// The mint is broadcast but never confirmed: the purchase parks an
		// intent and reports itself as pending, not failed.
		f.ledger.mintErrs = []error{ledger.ErrOutcomeUnknown}

		completed, err := f.svc.ProcessLottery(ctx, event.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if completed {
			t.Error("an unconfirmed mint cannot complete a lottery")
		}

		// No ticket exists yet, so the entry must not be consumed.
		status, _ := f.svc.MyStatus(ctx, user.ID, event.ID)
		if status.Entry == nil || status.Entry.Status != domain.WaitlistStatusWaiting {
			t.Fatalf("entry = %+v, want WAITING", status.Entry)
		}
		if status.Position != 1 {
			t.Errorf("position = %d, want 1", status.Position)
		}
		if got := f.db.ownedCountLocked(event.ID); got != 0 {
			t.Errorf("owned tickets = %d, want 0", got)
		}
		if got := intentState(t, f.db); got != domain.MintIntentReconcile {
			t.Errorf("intent state = %s, want RECONCILE", got)
		}
	})

	t.Run("capacity one cycles through refund and re-lottery", func(t *testing.T) {
		f := newWaitlistFixture(t)
		event := f.db.addEvent("Tiny Show", 1, 500)
		holder := f.db.addUser("h@example.com", "0xh")
		waiter := f.db.addUser("w@example.com", "0xw")

		result, err := f.purchase.Purchase(ctx, holder.ID, event.ID)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.svc.Join(ctx, waiter.ID, event.ID); err != nil {
			t.Fatal(err)
		}

		// Sold out: the waiter cannot buy directly.
		if _, err := f.purchase.Purchase(ctx, waiter.ID, event.ID); !errors.Is(err, domain.ErrSoldOut) {
			t.Fatalf("expected ErrSoldOut, got %v", err)
		}

		refunds := NewRefundService(RefundDependencies{
			TicketRepo: f.tickets,
			UserRepo:   &fakeUserRepo{db: f.db},
			Custody:    testCustody(t),
			Ledger:     f.ledger,
			Waitlist:   f.svc,
			Logger:     testLogger(),
		})
		f.db.setEncryptedKey(t, holder.ID)

		refund, err := refunds.Refund(ctx, holder.ID, result.Ticket.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !refund.LotteryCompleted {
			t.Fatal("freed capacity should reach the waiter in the same pass")
		}
		owns, _ := f.tickets.OwnsForEvent(ctx, waiter.ID, event.ID)
		if !owns {
			t.Error("waiter should own the reissued ticket")
		}
	})

	t.Run("concurrent purchase and lottery issue exactly one last ticket", func(t *testing.T) {
		f := newWaitlistFixture(t)
		event := f.db.addEvent("Concert", 1, 500)
		buyer := f.db.addUser("b@example.com", "0xb")
		waiter := f.db.addUser("w@example.com", "0xw")
		if _, err := f.svc.Join(ctx, waiter.ID, event.ID); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		var buyErr, lotteryErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, buyErr = f.purchase.Purchase(ctx, buyer.ID, event.ID)
		}()
		go func() {
			defer wg.Done()
			_, lotteryErr = f.svc.ProcessLottery(ctx, event.ID)
		}()
		wg.Wait()

		owned := f.db.ownedCountLocked(event.ID)
		if owned != 1 {
			t.Fatalf("owned tickets = %d, want exactly 1 (buyErr=%v lotteryErr=%v)", owned, buyErr, lotteryErr)
		}
	})
}
