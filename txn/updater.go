package txn

import (
	relayerrors "github.com/relaykit/relaykit/errors"
	"github.com/relaykit/relaykit/logging"
	"github.com/relaykit/relaykit/state"
)

// Updater runs functions against a store with rollback on failure. It is
// the seam between consumer loops and state: every message handler's writes
// go through exactly one Apply call.
type Updater struct {
	store state.Store
	log   *logging.Logger
}

// NewUpdater creates an updater over the store.
func NewUpdater(store state.Store, log *logging.Logger) *Updater {
	if log == nil {
		log = logging.New()
	}
	return &Updater{
		store: store,
		log:   log.WithComponent("txn"),
	}
}

// Apply runs fn inside a transaction. If fn returns an error or panics,
// every write it made is undone and the original failure is returned,
// wrapped so the caller can decide between requeue and drop. A failed
// rollback takes precedence: it means the store may hold partial state and
// redelivery is no longer safe to reason about.
//
// On success it returns the number of writes fn made.
func (u *Updater) Apply(fn func(s state.Store) error) (writes int, err error) {
	t := Begin(u.store)

	defer func() {
		if recovered := recover(); recovered != nil {
			err = u.abort(t, relayerrors.RecoverPanic(recovered))
			writes = 0
		}
	}()

	if err := fn(t); err != nil {
		return 0, u.abort(t, err)
	}

	writes = t.Writes()
	t.Commit()
	return writes, nil
}

// abort rolls the transaction back and folds any rollback failure into the
// returned error.
func (u *Updater) abort(t *Txn, cause error) error {
	writes := t.Writes()
	if rbErr := t.Rollback(); rbErr != nil {
		u.log.Error("rollback_failed", map[string]any{
			"writes": writes,
			"cause":  cause.Error(),
			"error":  rbErr.Error(),
		})
		return rbErr
	}
	return cause
}
