package local

import (
	"context"
	"errors"

	"github.com/quizapp/quizsync/internal/quiz/schema"
)

// Subscribe returns a channel that receives a signal after every write
// affecting userID. The channel is closed by the returned cancel func or
// when the store is closed.
func (s *Store) Subscribe(userID string) (<-chan struct{}, func()) {
	return s.notifier.subscribe(userID)
}

// NotifyAll signals every subscriber. The daemon calls it when another
// process has written to the database file.
func (s *Store) NotifyAll() {
	s.notifier.notifyAll()
}

// WatchHistory returns a live view of the user's history, newest first.
//
// The current snapshot is sent immediately. A fresh snapshot follows every
// write that touches the user's rows. Each call is an independent
// subscription; the channel closes when ctx is done or the store closes.
func (s *Store) WatchHistory(ctx context.Context, userID string) (<-chan []*schema.QuizAttempt, error) {
	return watch(ctx, s, userID, func(ctx context.Context) ([]*schema.QuizAttempt, error) {
		return s.HistoryForUser(ctx, userID)
	})
}

// WatchProfile returns a live view of a cached profile. A nil value is sent
// while the user is not cached.
func (s *Store) WatchProfile(ctx context.Context, userID string) (<-chan *schema.UserProfile, error) {
	return watch(ctx, s, userID, func(ctx context.Context) (*schema.UserProfile, error) {
		p, err := s.GetProfile(ctx, userID)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return p, err
	})
}

// watch subscribes before taking the first snapshot, so a write that lands
// while the snapshot is read still produces a follow-up snapshot.
func watch[T any](ctx context.Context, s *Store, userID string, load func(context.Context) (T, error)) (<-chan T, error) {
	changes, cancel := s.Subscribe(userID)

	first, err := load(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan T, 1)
	out <- first

	go func() {
		defer close(out)
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				v, err := load(ctx)
				if err != nil {
					// A failed re-query keeps the last snapshot; the next
					// change retries.
					continue
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
