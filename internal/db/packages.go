package db

import (
	"context"
	"strings"

	"github.com/mjl-/bstore"
)

// Packages is the typed repository for DBPackage and DBPackageOwner rows.
type Packages struct{ db *DB }

func (d *DB) Packages() Packages { return Packages{d} }

// Lowercase is the collation used for case-insensitive name uniqueness.
// Open question in spec.md resolved here as ASCII lower-casing: crate names
// are restricted to [A-Za-z0-9_-] at publish time (see internal/pipeline),
// so ASCII fold and Unicode case-fold coincide; ASCII is cheaper and what
// the teacher's own digest-canonicalization style (lower-casing hex
// digests in xdigestcanon) already favors for this kind of key.
func Lowercase(name string) string { return strings.ToLower(name) }

func (p Packages) Get(ctx context.Context, name string) (DBPackage, error) {
	pkg := DBPackage{Name: name}
	err := p.db.bdb.Get(ctx, &pkg)
	return pkg, err
}

// GetByLowercase looks up a package by its case-insensitive shadow key,
// used to detect NameCollision during publish.
func (p Packages) GetByLowercase(ctx context.Context, lower string) (DBPackage, error) {
	return bstore.QueryDB[DBPackage](ctx, p.db.bdb).FilterNonzero(DBPackage{Lowercase: lower}).Get()
}

// EnsureTx creates the package row inside an existing transaction if it
// does not already exist, returning the (possibly newly inserted) row.
func (p Packages) EnsureTx(tx *bstore.Tx, name string, docTargets, nativeTargets, capabilities []string) (DBPackage, error) {
	pkg := DBPackage{Name: name}
	err := tx.Get(&pkg)
	if err == nil {
		return pkg, nil
	}
	if err != bstore.ErrAbsent {
		return DBPackage{}, err
	}
	pkg = DBPackage{
		Name:          name,
		Lowercase:     Lowercase(name),
		DocTargets:    docTargets,
		NativeTargets: nativeTargets,
		Capabilities:  capabilities,
	}
	if err := tx.Insert(&pkg); err != nil {
		return DBPackage{}, err
	}
	return pkg, nil
}

func (p Packages) Search(ctx context.Context, substr string, limit int) ([]DBPackage, error) {
	var out []DBPackage
	lower := Lowercase(substr)
	err := bstore.QueryDB[DBPackage](ctx, p.db.bdb).ForEach(func(pkg DBPackage) error {
		if limit > 0 && len(out) >= limit {
			return nil
		}
		if strings.Contains(pkg.Lowercase, lower) {
			out = append(out, pkg)
		}
		return nil
	})
	return out, err
}

func (p Packages) Delete(ctx context.Context, name string) error {
	return p.db.Write(ctx, func(tx *bstore.Tx) error {
		_, err := bstore.QueryTx[DBPackage](tx).FilterNonzero(DBPackage{Name: name}).Delete()
		return err
	})
}

// --- ownership ---

func (p Packages) Owners(ctx context.Context, pkg string) ([]DBPackageOwner, error) {
	return bstore.QueryDB[DBPackageOwner](ctx, p.db.bdb).FilterNonzero(DBPackageOwner{Package: pkg}).List()
}

func (p Packages) IsOwner(ctx context.Context, pkg string, userID int64) (bool, error) {
	return bstore.QueryDB[DBPackageOwner](ctx, p.db.bdb).FilterNonzero(DBPackageOwner{Package: pkg, UserID: userID}).Exists()
}

var ErrOwnerAlreadyPresent = bstoreErrf("owner already present")

func (p Packages) AddOwnerTx(tx *bstore.Tx, pkg string, userID int64) error {
	exists, err := bstore.QueryTx[DBPackageOwner](tx).FilterNonzero(DBPackageOwner{Package: pkg, UserID: userID}).Exists()
	if err != nil {
		return err
	}
	if exists {
		return ErrOwnerAlreadyPresent
	}
	return tx.Insert(&DBPackageOwner{Package: pkg, UserID: userID})
}

// RemoveOwner enforces the invariant that the last owner may only be
// removed together with the package (spec.md §3: PackageOwner).
func (p Packages) RemoveOwner(ctx context.Context, pkg string, userID int64) error {
	return p.db.Write(ctx, func(tx *bstore.Tx) error {
		owners, err := bstore.QueryTx[DBPackageOwner](tx).FilterNonzero(DBPackageOwner{Package: pkg}).List()
		if err != nil {
			return err
		}
		if len(owners) <= 1 {
			return errLastOwner
		}
		_, err = bstore.QueryTx[DBPackageOwner](tx).FilterNonzero(DBPackageOwner{Package: pkg, UserID: userID}).Delete()
		return err
	})
}

var errLastOwner = bstoreErrf("cannot remove the last owner of a package")

type bstoreErrf string

func (e bstoreErrf) Error() string { return string(e) }

// IsLastOwnerErr reports whether err is the last-owner-removal sentinel.
func IsLastOwnerErr(err error) bool { return err == errLastOwner }
