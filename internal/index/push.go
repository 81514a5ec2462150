package index

import (
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// reconciler retries pushing the index to its configured remote with
// exponential backoff, grounded on the teacher's upload.go inactivity-timer
// goroutine shape (a single background goroutine woken by a channel,
// mutating shared state under its own control rather than being driven
// synchronously from request handlers). Push failures never fail the
// mutation that triggered them (spec.md §4.4 point 4).
type reconciler struct {
	store *Store
	wake  chan struct{}
	once  sync.Once
}

func newReconciler(s *Store) *reconciler {
	return &reconciler{store: s, wake: make(chan struct{}, 1)}
}

func (r *reconciler) notify() {
	if r.store.cfg.RemoteURL == "" || !r.store.cfg.RemotePushChanges {
		return
	}
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *reconciler) start() {
	if r.store.cfg.RemoteURL == "" || !r.store.cfg.RemotePushChanges {
		return
	}
	r.once.Do(func() {
		go r.run()
	})
}

func (r *reconciler) run() {
	for range r.wake {
		backoff := time.Second
		for attempt := 0; attempt < 8; attempt++ {
			if err := r.push(); err == nil {
				break
			} else if errors.Is(err, git.NoErrAlreadyUpToDate) {
				break
			} else {
				log.Printf("index: push to %s failed (attempt %d): %v", r.store.cfg.RemoteURL, attempt, err)
			}
			jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
			time.Sleep(backoff + jitter)
			backoff *= 2
			if backoff > time.Minute {
				backoff = time.Minute
			}
		}
	}
}

func (r *reconciler) push() error {
	s := r.store
	remote, err := s.repo.Remote("origin")
	if err == git.ErrRemoteNotFound {
		_, err = s.repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{s.cfg.RemoteURL}})
		if err != nil {
			return err
		}
		remote, err = s.repo.Remote("origin")
	}
	if err != nil {
		return err
	}

	auth, err := ssh.NewPublicKeysFromFile("git", s.cfg.RemoteSSHKeyFile, "")
	if err != nil {
		return err
	}

	return remote.Push(&git.PushOptions{RemoteName: "origin", Auth: auth})
}
