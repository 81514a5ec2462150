// Package db is the metadata database (component C2): a single embedded
// github.com/mjl-/bstore database holding users, tokens, packages,
// versions, doc rows, jobs and the orphan ledger, exactly the teacher's
// "bstore.Open over a list of row types, typed repositories on top" shape,
// regrown from vex's DBRepo/DBBlob/DBTag family to this domain.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/mjl-/bstore"
)

// DBUser is an account, created on first successful OAuth callback. The
// first user ever created is implicitly made admin (see Users.UpsertFromOAuth).
type DBUser struct {
	ID          int64
	Email       string `bstore:"nonzero,unique"`
	Login       string `bstore:"nonzero,unique"`
	DisplayName string
	Roles       string    // comma-separated; "admin" is the only privileged role.
	Active      bool      `bstore:"default true"`
	Created     time.Time `bstore:"nonzero,default now"`
}

// DBToken is either a per-user token (UserID != 0) or a global read-only
// token (UserID == 0). Only the salted digest is persisted; the bearer
// secret is returned to the caller exactly once, at creation.
type DBToken struct {
	ID       int64
	UserID   int64  `bstore:"ref DBUser"` // 0 for global tokens.
	Name     string `bstore:"nonzero"`
	Prefix   string `bstore:"nonzero,index"` // first chars of the bearer secret, for indexed lookup without a login.
	Salt     []byte `bstore:"nonzero"`
	Digest   []byte `bstore:"nonzero"` // argon2id over (salt, secret).
	LastUsed time.Time
	CanWrite bool
	CanAdmin bool
	Created  time.Time `bstore:"nonzero,default now"`
}

// DBPackage is keyed by the exact crate name; Lowercase is a shadow unique
// key enforcing case-insensitive uniqueness (spec.md open question: this
// implementation uses ASCII lower-casing, see DESIGN.md).
type DBPackage struct {
	Name          string // primary key
	Lowercase     string `bstore:"nonzero,unique"`
	DocTargets    []string
	NativeTargets []string
	Capabilities  []string
	IsDeprecated  bool
	CanOverwrite  bool
	Created       time.Time `bstore:"nonzero,default now"`
}

// DBPackageOwner links a user to a package they may administer/publish to.
type DBPackageOwner struct {
	ID      int64
	Package string `bstore:"nonzero,ref DBPackage"`
	UserID  int64  `bstore:"nonzero,ref DBUser,unique UserID+Package"`
}

// DBPackageVersion is keyed by (Package, Version). Histogram is the packed
// per-day download histogram described in spec.md §6.4.
type DBPackageVersion struct {
	ID              int64
	Package         string `bstore:"nonzero,ref DBPackage,unique Package+Version"`
	Version         string `bstore:"nonzero"`
	UploadedAt      time.Time `bstore:"nonzero,default now"`
	UploadedBy      int64     `bstore:"nonzero,ref DBUser"`
	Description     string
	Yanked          bool
	Downloads       int64
	Histogram       []byte // 365 little-endian uint32 counters, rotated in place.
	HistogramEpoch  time.Time // day the histogram's bin 0 currently represents.
	ChecksumSHA256  string `bstore:"nonzero"`
	DepsLastCheck   time.Time
	DepsHasOutdated bool
	DepsHasCVEs     bool
}

// DBPackageVersionDocs is one row per (package, version, target). An absent
// row means a doc build for that target was never queued.
type DBPackageVersionDocs struct {
	ID          int64
	Package     string `bstore:"nonzero,ref DBPackage,unique Package+Version+Target"`
	Version     string `bstore:"nonzero"`
	Target      string `bstore:"nonzero"`
	IsAttempted bool
	IsPresent   bool
}

// JobState is one state of a DocGenJob's lifecycle.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobAssigned  JobState = "assigned"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// TriggerKind records why a DocGenJob was created.
type TriggerKind string

const (
	TriggerUser    TriggerKind = "user"
	TriggerPublish TriggerKind = "publish"
	TriggerAnalyze TriggerKind = "analyze"
)

// DBDocGenJob is a persistent record of one documentation build.
type DBDocGenJob struct {
	ID             int64
	Package        string      `bstore:"nonzero,ref DBPackage"`
	Version        string      `bstore:"nonzero"`
	Target         string      `bstore:"nonzero"`
	UseNative      bool
	Capabilities   []string
	State          JobState    `bstore:"nonzero"`
	Priority       int
	Attempts       int
	AssignedWorker string
	QueuedAt       time.Time `bstore:"nonzero,default now"`
	StartedAt      time.Time
	FinishedAt     time.Time
	LastUpdate     time.Time
	TriggeredBy    int64 `bstore:"ref DBUser"`
	TriggerKind    TriggerKind `bstore:"nonzero"`
	FailureReason  string
	Output         string
	CancelRequested bool
}

// DBOrphan is the residual-inconsistency ledger described in spec.md §7: a
// place to record what a pipeline's compensation could not fully clean up,
// rather than retrying forever or failing silently.
type DBOrphan struct {
	ID         int64
	Kind       string `bstore:"nonzero"` // e.g. "blob", "index-line"
	Key        string `bstore:"nonzero"`
	DetectedAt time.Time `bstore:"nonzero,default now"`
	Note       string
}

var allTypes = []any{
	DBUser{}, DBToken{}, DBPackage{}, DBPackageOwner{},
	DBPackageVersion{}, DBPackageVersionDocs{}, DBDocGenJob{}, DBOrphan{},
}

// DB wraps the opened bstore database. All repository types below embed or
// take a *DB.
type DB struct {
	bdb *bstore.DB
}

// Open opens (creating if absent) the database file at path, registering
// every row type, mirroring the teacher's xdb().
func Open(ctx context.Context, path string) (*DB, error) {
	bdb, err := bstore.Open(ctx, path, &bstore.Options{Perm: 0660}, allTypes...)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return &DB{bdb: bdb}, nil
}

func (d *DB) Close() error { return d.bdb.Close() }

// Write runs fn in a single read-write transaction, per bstore convention.
func (d *DB) Write(ctx context.Context, fn func(tx *bstore.Tx) error) error {
	return d.bdb.Write(ctx, fn)
}

// Read runs fn in a single read-only transaction.
func (d *DB) Read(ctx context.Context, fn func(tx *bstore.Tx) error) error {
	return d.bdb.Read(ctx, fn)
}

func (d *DB) Raw() *bstore.DB { return d.bdb }
