package changefeed

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"nearfeed/internal/domain/feed"
	"nearfeed/internal/domain/post"
)

// SubjectPostsChanged is the subject post writers publish to after any
// mutation of the post collection.
const SubjectPostsChanged = "posts.changed"

// ListStore is the query side of the post collection.
type ListStore interface {
	ListDocuments(ctx context.Context, scope post.Scope) ([]post.Document, error)
}

// Notifier publishes change notifications after post mutations.
type Notifier struct {
	conn *nats.Conn
	log  *logrus.Logger
}

// NewNotifier creates a notifier on the given connection.
func NewNotifier(conn *nats.Conn, log *logrus.Logger) *Notifier {
	return &Notifier{conn: conn, log: log}
}

// PostsChanged signals that the post collection changed. Notification is
// best-effort; subscribers converge on the next change if one is lost.
func (n *Notifier) PostsChanged(postID string) {
	if err := n.conn.Publish(SubjectPostsChanged, []byte(postID)); err != nil {
		n.log.WithError(err).WithField("post_id", postID).Warn("failed to publish post change")
	}
}

// Feed implements post.ChangeFeed over NATS. Notifications carry no data;
// every notification triggers a fresh store query so each delivery is a
// full snapshot of the scoped collection, newest first.
type Feed struct {
	conn  *nats.Conn
	store ListStore
	log   *logrus.Logger
}

// NewFeed creates a change feed backed by the given connection and store.
func NewFeed(conn *nats.Conn, store ListStore, log *logrus.Logger) *Feed {
	return &Feed{conn: conn, store: store, log: log}
}

// Subscribe registers a snapshot callback for the scope. The initial
// snapshot is delivered shortly after Subscribe returns. A failed refresh
// is logged and skipped; the consumer keeps its last snapshot.
func (f *Feed) Subscribe(ctx context.Context, scope post.Scope, deliver func(post.Snapshot)) (post.Subscription, error) {
	refresh := func() {
		docs, err := f.store.ListDocuments(ctx, scope)
		if err != nil {
			f.log.WithError(fmt.Errorf("%w: %v", feed.ErrSubscription, err)).Warn("post snapshot refresh failed")
			return
		}
		deliver(post.Snapshot{Records: post.ParseAll(docs)})
	}

	sub, err := f.conn.Subscribe(SubjectPostsChanged, func(*nats.Msg) {
		refresh()
	})
	if err != nil {
		return nil, fmt.Errorf("error subscribing to %s: %w", SubjectPostsChanged, err)
	}

	go refresh()

	return &natsSubscription{sub: sub, log: f.log}, nil
}

type natsSubscription struct {
	sub  *nats.Subscription
	log  *logrus.Logger
	once sync.Once
}

func (s *natsSubscription) Unsubscribe() {
	s.once.Do(func() {
		if err := s.sub.Unsubscribe(); err != nil {
			s.log.WithError(err).Warn("failed to unsubscribe from post changes")
		}
	})
}
