package notifier

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mjl-/bstore"

	"github.com/cratehost/cratehost/internal/db"
)

func newTestQueue(t *testing.T) (*Queue, *db.DB) {
	t.Helper()
	ctx := context.Background()
	d, err := db.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	// No consumer goroutine started: tests read q.ch directly so a failed
	// SMTP dial never runs during the test.
	return &Queue{cfg: Config{Sender: "registry@localhost"}, ch: make(chan Notification, 2), db: d}, d
}

func addPackageWithOwner(t *testing.T, d *db.DB, pkg string, userID int64) {
	t.Helper()
	err := d.Write(context.Background(), func(tx *bstore.Tx) error {
		if _, err := d.Packages().EnsureTx(tx, pkg, nil, nil, nil); err != nil {
			return err
		}
		return d.Packages().AddOwnerTx(tx, pkg, userID)
	})
	if err != nil {
		t.Fatalf("addPackageWithOwner: %v", err)
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Enqueue(Notification{Subject: "one"})
	q.Enqueue(Notification{Subject: "two"})
	q.Enqueue(Notification{Subject: "three"}) // dropped, queue capacity is 2

	if len(q.ch) != 2 {
		t.Fatalf("len(q.ch) = %d, want 2", len(q.ch))
	}
	first := <-q.ch
	second := <-q.ch
	if first.Subject != "one" || second.Subject != "two" {
		t.Fatalf("unexpected queued order: %q, %q", first.Subject, second.Subject)
	}
}

func TestNotifyDepsResolvesOwnersAndEnqueues(t *testing.T) {
	q, d := newTestQueue(t)
	ctx := context.Background()

	u, err := d.Users().UpsertFromOAuth(ctx, "owner@example.com", "owner", "Owner")
	if err != nil {
		t.Fatalf("UpsertFromOAuth: %v", err)
	}
	addPackageWithOwner(t, d, "widget", u.ID)

	q.NotifyDeps(ctx, "widget", "1.0.0", true, false)

	select {
	case n := <-q.ch:
		if len(n.Owners) != 1 || n.Owners[0] != "owner@example.com" {
			t.Fatalf("Owners = %v, want [owner@example.com]", n.Owners)
		}
		if n.Subject == "" {
			t.Fatalf("Subject is empty")
		}
	default:
		t.Fatalf("expected a notification to be enqueued")
	}
}

func TestNotifyDepsSkipsWhenNoOwners(t *testing.T) {
	q, d := newTestQueue(t)
	ctx := context.Background()

	err := d.Write(ctx, func(tx *bstore.Tx) error {
		_, err := d.Packages().EnsureTx(tx, "widget", nil, nil, nil)
		return err
	})
	if err != nil {
		t.Fatalf("EnsureTx: %v", err)
	}

	q.NotifyDeps(ctx, "widget", "1.0.0", true, false)

	select {
	case n := <-q.ch:
		t.Fatalf("expected no notification for a package with no owners, got %v", n)
	default:
	}
}
