// Package notifier is the outbound-email notifier (component C9): a
// single buffered channel feeding one consumer goroutine that sends a
// Notification over SMTP/STARTTLS, retrying a failed send at 1, 5, and 30
// minutes before dropping it with a warning log.
//
// The retry-timer shape is grown from the teacher's upload.go inactivity
// timer (a goroutine with a select over a timer channel and a done
// channel), generalized from "cancel after one timeout" to "retry a bounded
// number of times on a schedule before giving up."
package notifier

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/cratehost/cratehost/internal/db"
)

// Notification is one outbound message queued for delivery.
type Notification struct {
	Owners  []string // recipient email addresses
	Subject string
	Body    string
}

// retryDelays mirrors spec.md §4.9: retry at 1, 5, then 30 minutes, then
// drop with a warning log.
var retryDelays = []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute}

// Config carries the SMTP settings the queue needs, narrowed from
// config.Config the same way internal/index.Config is.
type Config struct {
	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	Sender   string
	CC       []string
}

// Queue is the single in-process notification channel plus its consumer.
type Queue struct {
	cfg Config
	ch  chan Notification
	db  *db.DB
}

// NewQueue starts the consumer goroutine and returns the queue. Callers
// stop it by cancelling ctx.
func NewQueue(ctx context.Context, cfg Config, d *db.DB) *Queue {
	q := &Queue{cfg: cfg, ch: make(chan Notification, 64), db: d}
	go q.run(ctx)
	return q
}

// Enqueue queues n for delivery, dropping it with a log line if the queue
// is full rather than blocking the caller (the caller is always a request
// path or an analyzer scan, neither of which should stall on mail).
func (q *Queue) Enqueue(n Notification) {
	select {
	case q.ch <- n:
	default:
		log.Printf("notifier: queue full, dropping notification %q", n.Subject)
	}
}

// NotifyDeps implements depanalyzer.Notifier: it resolves pkg's owners to
// email addresses and enqueues one notification describing the flip,
// mirroring spec.md §4.8 step 5's "enqueue a notification via C9."
func (q *Queue) NotifyDeps(ctx context.Context, pkg, version string, outdated, cves bool) {
	owners, err := q.db.Packages().Owners(ctx, pkg)
	if err != nil {
		log.Printf("notifier: looking up owners of %s: %v", pkg, err)
		return
	}
	var addrs []string
	for _, o := range owners {
		u, err := q.db.Users().Get(ctx, o.UserID)
		if err != nil {
			continue
		}
		addrs = append(addrs, u.Email)
	}
	if len(addrs) == 0 {
		return
	}

	var kind string
	switch {
	case outdated && cves:
		kind = "outdated and has known vulnerabilities"
	case cves:
		kind = "has known vulnerabilities"
	default:
		kind = "outdated"
	}

	q.Enqueue(Notification{
		Owners:  addrs,
		Subject: fmt.Sprintf("%s@%s dependencies are %s", pkg, version, kind),
		Body:    fmt.Sprintf("A dependency analysis of %s@%s found its dependencies are now %s.\n", pkg, version, kind),
	})
}

func (q *Queue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-q.ch:
			q.deliver(ctx, n)
		}
	}
}

// deliver attempts delivery, scheduling retries per retryDelays and
// dropping the notification with a warning log once they are exhausted.
func (q *Queue) deliver(ctx context.Context, n Notification) {
	if err := q.send(n); err == nil {
		return
	}
	for _, delay := range retryDelays {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := q.send(n); err == nil {
			return
		}
	}
	log.Printf("notifier: giving up on notification %q after retries", n.Subject)
}

func (q *Queue) send(n Notification) error {
	msg := mail.NewMsg()
	if err := msg.From(q.cfg.Sender); err != nil {
		return err
	}
	if err := msg.To(n.Owners...); err != nil {
		return err
	}
	if len(q.cfg.CC) > 0 {
		if err := msg.Cc(q.cfg.CC...); err != nil {
			return err
		}
	}
	msg.Subject(n.Subject)
	msg.SetBodyString(mail.TypeTextPlain, n.Body)

	client, err := mail.NewClient(q.cfg.SMTPHost,
		mail.WithPort(q.cfg.SMTPPort),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(q.cfg.SMTPUser),
		mail.WithPassword(q.cfg.SMTPPass),
	)
	if err != nil {
		return err
	}
	return client.DialAndSend(msg)
}
