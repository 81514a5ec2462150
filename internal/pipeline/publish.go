package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log"

	"github.com/mjl-/bstore"

	"github.com/cratehost/cratehost/internal/apierr"
	"github.com/cratehost/cratehost/internal/auth"
	"github.com/cratehost/cratehost/internal/blobstore"
	"github.com/cratehost/cratehost/internal/db"
	"github.com/cratehost/cratehost/internal/index"
)

// Publisher drives the nine-step publish transaction, grounded on the
// teacher's manifestPut: validate fully before any storage write, write the
// crate blob (step 5), persist the DB row set inside one transaction, and
// commit the index entry (step 7) only after that transaction commits. Side
// effects bstore's transaction cannot cover are compensated explicitly if a
// later step fails (the blob is deleted, then the DB rows), the same
// "removePaths" discipline manifestPut uses.
type Publisher struct {
	DB              *db.DB
	Blobs           blobstore.Store
	Index           *index.Store
	BodyLimit       int64
	KnownRegistries map[string]bool // "local" plus every configured external registry name.
	NotifyJobQueued func(jobID int64)
}

// Result is what a successful (or idempotent-replay) publish returns.
type Result struct {
	Package db.DBPackage
	Version db.DBPackageVersion
}

// Publish executes spec.md §4.5's nine steps against body, the raw bytes
// following the Cargo CLI's 4-byte-length-prefixed envelope.
func (p *Publisher) Publish(ctx context.Context, principal auth.Principal, userID int64, body io.Reader) Result {
	// Step 1 (partial): reject unauthenticated principals outright; full
	// ownership-aware authorization happens once we know if this is a new
	// or existing package, below.
	if principal.User == nil && principal.Token == nil {
		panic(apierr.Unauthorizedf("publish requires authentication"))
	}

	manifestJSON, tarball := readPublishBody(body, p.BodyLimit)

	// Step 2: parse & validate manifest.
	m, _ := ParseManifest(manifestJSON, p.KnownRegistries)

	// Step 4 (content checks, part 1): size and checksum.
	if int64(len(tarball)) > p.BodyLimit {
		panic(apierr.Invalidf(apierr.CodeBodyTooLarge, "tarball exceeds body limit of %d bytes", p.BodyLimit))
	}
	sum := sha256.Sum256(tarball)
	checksum := fmt.Sprintf("%x", sum)

	existingPkg, pkgErr := p.DB.Packages().Get(ctx, m.Name)
	pkgExists := pkgErr == nil
	if pkgErr != nil && pkgErr != bstore.ErrAbsent {
		apierr.Raise(pkgErr)
	}

	// Step 3: preflight.
	isOwner := true
	if pkgExists {
		var err error
		isOwner, err = p.DB.Packages().IsOwner(ctx, m.Name, userID)
		apierr.Raise(err)
	} else {
		lower := db.Lowercase(m.Name)
		if collided, err := p.DB.Packages().GetByLowercase(ctx, lower); err == nil && collided.Name != m.Name {
			panic(apierr.Conflictf(apierr.CodeNameCollision, "%q collides case-insensitively with existing package %q", m.Name, collided.Name))
		} else if err != nil && err != bstore.ErrAbsent {
			apierr.Raise(err)
		}
	}

	// Step 1 (full): now that ownership is known, enforce may_publish.
	if !auth.MayPublish(principal, isOwner) {
		panic(apierr.Forbiddenf("not permitted to publish %s", m.Name))
	}

	existingVersion, verErr := p.DB.Versions().Get(ctx, m.Name, m.Vers)
	versionExists := verErr == nil
	if verErr != nil && verErr != bstore.ErrAbsent {
		apierr.Raise(verErr)
	}
	if versionExists {
		if existingVersion.ChecksumSHA256 == checksum {
			// Idempotent replay (spec.md §4.5 "Idempotency").
			return Result{Package: existingPkg, Version: existingVersion}
		}
		canOverwrite := pkgExists && existingPkg.CanOverwrite
		if !canOverwrite {
			panic(apierr.Conflictf(apierr.CodeVersionExists, "%s@%s already published", m.Name, m.Vers))
		}
		if !auth.MayAdmin(principal) {
			panic(apierr.Forbiddenf("overwriting a published version requires admin"))
		}
	}

	// Step 4 (content checks, part 2): tarball structure.
	contents := inspectTarball(tarball, m.Name, m.Vers)
	description := m.Description
	readme := m.Readme
	if readme == "" {
		readme = contents.Readme
	}

	// Step 5: persist blob. On failure, abort without DB mutation.
	blobKey := blobstore.CrateKey(m.Name, m.Vers)
	apierr.Raise(p.Blobs.Put(ctx, blobKey, bytes.NewReader(tarball)))

	compensateBlob := func() {
		if err := p.Blobs.Delete(context.Background(), blobKey); err != nil {
			log.Printf("pipeline: compensating blob delete for %s failed: %v", blobKey, err)
		}
	}

	// Step 6 + 8: persist DB rows (package, version, docs, jobs) in one
	// transaction.
	var pkg db.DBPackage
	var pv db.DBPackageVersion
	var jobIDs []int64
	err := p.DB.Write(ctx, func(tx *bstore.Tx) error {
		var err error
		pkg, err = p.DB.Packages().EnsureTx(tx, m.Name, m.docTargets(), m.nativeTargets(), m.capabilities())
		if err != nil {
			return err
		}
		if !pkgExists {
			if err := p.DB.Packages().AddOwnerTx(tx, m.Name, userID); err != nil {
				return err
			}
		}

		pv, err = p.DB.Versions().InsertTx(tx, db.DBPackageVersion{
			Package:        m.Name,
			Version:        m.Vers,
			UploadedBy:     userID,
			Description:    description,
			ChecksumSHA256: checksum,
		})
		if err != nil {
			return err
		}

		for _, target := range pkg.DocTargets {
			if err := p.DB.Versions().InsertDocsRowTx(tx, m.Name, m.Vers, target); err != nil {
				return err
			}
		}

		for _, target := range pkg.DocTargets {
			job := db.DBDocGenJob{
				Package:     m.Name,
				Version:     m.Vers,
				Target:      target,
				UseNative:   false,
				State:       db.JobQueued,
				Priority:    1, // publish-triggered, per spec.md §4.6.
				TriggeredBy: userID,
				TriggerKind: db.TriggerPublish,
			}
			if err := tx.Insert(&job); err != nil {
				return err
			}
			jobIDs = append(jobIDs, job.ID)
		}
		return nil
	})
	if err != nil {
		compensateBlob()
		apierr.Raise(err)
	}

	if readme != "" {
		if err := p.Blobs.Put(ctx, blobstore.ReadmeKey(m.Name, m.Vers), bytes.NewReader([]byte(readme))); err != nil {
			log.Printf("pipeline: storing readme for %s@%s failed: %v", m.Name, m.Vers, err)
		}
	}

	// Step 7: index commit.
	entry := index.Entry{
		Name:     m.Name,
		Vers:     m.Vers,
		Cksum:    checksum,
		Features: m.Features,
		Yanked:   false,
		Links:    m.Links,
		V:        2,
		RustVersion: m.RustVersion,
	}
	for _, d := range m.Deps {
		entry.Deps = append(entry.Deps, index.EntryDep{
			Name: d.Name, Req: d.Req, Features: d.Features, Optional: d.Optional,
			DefaultFeatures: d.DefaultFeatures, Target: d.Target, Kind: d.Kind,
			Registry: d.Registry, ExplicitNameInToml: d.ExplicitNameInToml,
		})
	}

	canOverwriteIndex := pkgExists && existingPkg.CanOverwrite
	if err := p.Index.AddVersion(ctx, entry, canOverwriteIndex); err != nil {
		compensateBlob()
		p.compensateDBRows(m.Name, m.Vers, blobKey)
		apierr.Raise(err)
	}

	for _, id := range jobIDs {
		if p.NotifyJobQueued != nil {
			p.NotifyJobQueued(id)
		}
	}

	return Result{Package: pkg, Version: pv}
}

// compensateDBRows removes the version, docs and doc-gen job rows step 6/8
// inserted when the subsequent index commit (step 7) fails, recording an
// Orphan if the compensation itself cannot fully complete (spec.md §7). The
// package and owner rows of a newly created package are kept.
func (p *Publisher) compensateDBRows(name, version, blobKey string) {
	ctx := context.Background()
	err := p.DB.Write(ctx, func(tx *bstore.Tx) error {
		if _, err := bstore.QueryTx[db.DBDocGenJob](tx).FilterNonzero(db.DBDocGenJob{Package: name, Version: version}).Delete(); err != nil {
			return err
		}
		if _, err := bstore.QueryTx[db.DBPackageVersionDocs](tx).FilterNonzero(db.DBPackageVersionDocs{Package: name, Version: version}).Delete(); err != nil {
			return err
		}
		_, err := bstore.QueryTx[db.DBPackageVersion](tx).FilterNonzero(db.DBPackageVersion{Package: name, Version: version}).Delete()
		return err
	})
	if err != nil {
		p.DB.Orphans().Record(ctx, "package-version", name+"@"+version, err.Error())
	}
}

