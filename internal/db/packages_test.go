package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mjl-/bstore"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestPackagesEnsureTxIsIdempotent(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := d.Write(ctx, func(tx *bstore.Tx) error {
			_, err := d.Packages().EnsureTx(tx, "foo", []string{"x86_64-unknown-linux-gnu"}, nil, nil)
			return err
		})
		if err != nil {
			t.Fatalf("EnsureTx iteration %d: %v", i, err)
		}
	}

	pkg, err := d.Packages().Get(ctx, "foo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if pkg.Lowercase != "foo" {
		t.Fatalf("Lowercase = %q, want foo", pkg.Lowercase)
	}
}

func TestPackagesGetByLowercaseDetectsCollision(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	if err := d.Write(ctx, func(tx *bstore.Tx) error {
		_, err := d.Packages().EnsureTx(tx, "Foo", nil, nil, nil)
		return err
	}); err != nil {
		t.Fatalf("EnsureTx: %v", err)
	}

	pkg, err := d.Packages().GetByLowercase(ctx, Lowercase("foo"))
	if err != nil {
		t.Fatalf("GetByLowercase: %v", err)
	}
	if pkg.Name != "Foo" {
		t.Fatalf("Name = %q, want Foo", pkg.Name)
	}

	if _, err := d.Packages().GetByLowercase(ctx, Lowercase("bar")); err != bstore.ErrAbsent {
		t.Fatalf("GetByLowercase(bar) err = %v, want ErrAbsent", err)
	}
}

func TestPackagesSearchMatchesSubstringCaseInsensitively(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	for _, name := range []string{"Foobar", "baz", "foobaz"} {
		n := name
		if err := d.Write(ctx, func(tx *bstore.Tx) error {
			_, err := d.Packages().EnsureTx(tx, n, nil, nil, nil)
			return err
		}); err != nil {
			t.Fatalf("EnsureTx(%s): %v", n, err)
		}
	}

	results, err := d.Packages().Search(ctx, "FOO", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Search(FOO) = %d results, want 2: %+v", len(results), results)
	}
}

func TestPackagesOwnership(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	// Owners 1 and 2 must exist as users: DBPackageOwner.UserID references DBUser.
	for _, login := range []string{"one", "two"} {
		if _, err := d.Users().UpsertFromOAuth(ctx, login+"@example.com", login, login); err != nil {
			t.Fatalf("seeding user %s: %v", login, err)
		}
	}

	if err := d.Write(ctx, func(tx *bstore.Tx) error {
		if _, err := d.Packages().EnsureTx(tx, "widget", nil, nil, nil); err != nil {
			return err
		}
		if err := d.Packages().AddOwnerTx(tx, "widget", 1); err != nil {
			return err
		}
		return d.Packages().AddOwnerTx(tx, "widget", 2)
	}); err != nil {
		t.Fatalf("seeding owners: %v", err)
	}

	ok, err := d.Packages().IsOwner(ctx, "widget", 1)
	if err != nil || !ok {
		t.Fatalf("IsOwner(1) = %v, %v, want true, nil", ok, err)
	}

	err = d.Write(ctx, func(tx *bstore.Tx) error {
		return d.Packages().AddOwnerTx(tx, "widget", 1)
	})
	if err != ErrOwnerAlreadyPresent {
		t.Fatalf("re-adding owner err = %v, want ErrOwnerAlreadyPresent", err)
	}

	if err := d.Packages().RemoveOwner(ctx, "widget", 1); err != nil {
		t.Fatalf("RemoveOwner(1): %v", err)
	}

	if err := d.Packages().RemoveOwner(ctx, "widget", 2); !IsLastOwnerErr(err) {
		t.Fatalf("RemoveOwner(last) err = %v, want last-owner sentinel", err)
	}
}
