package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"discover/internal/history"
	"discover/internal/ui"
	"discover/pkg/transaction"
)

// submit starts one transaction per resolved resource through start. Resources that cannot start
// are reported and skipped.
func submit[T any](items []T, label func(T) string, start func(T) (*transaction.Transaction, error)) ([]*transaction.Transaction, error) {
	var (
		txs  []*transaction.Transaction
		errs []error
	)
	for _, it := range items {
		tx, err := start(it)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label(it), err))
			continue
		}
		txs = append(txs, tx)
	}
	return txs, errors.Join(errs...)
}

// await waits for every transaction, showing progress for each on a terminal. Interrupting the
// command cancels the transactions still running. The journal entries of the finished
// transactions are printed in structured formats.
func await(ctx context.Context, txs []*transaction.Transaction) error {
	var failed int
	entries := make([]*history.Entry, 0, len(txs))
	for _, tx := range txs {
		status := awaitOne(ctx, tx)
		entries = append(entries, history.NewEntry(tx))
		if status != transaction.StatusDone {
			failed++
		}
	}
	if structured() {
		if err := emit(entries); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrTransactionsFailed, failed, len(txs))
	}
	return nil
}

func awaitOne(ctx context.Context, tx *transaction.Transaction) transaction.Status {
	res := tx.Resource()
	message := fmt.Sprintf("%s %s", verb(tx.Role()), res.DisplayName())

	var sp *ui.Spinner
	if !structured() && interactive() {
		sp = ui.NewSpinner(message)
		unsub := tx.Subscribe(func(ev transaction.Event) {
			sp.Progress(ev.Status.String(), ev.Progress)
		})
		defer unsub()
		sp.Start()
	}

	status, err := tx.Wait(ctx)
	if err != nil {
		// Interrupted: cancel and wait for the backend to acknowledge.
		tx.Cancel()
		status, _ = tx.Wait(context.WithoutCancel(ctx))
	}

	logger.Debug("transaction finished",
		zap.String("id", tx.ID()),
		zap.String("resource", res.UniqueID()),
		zap.Stringer("status", status),
		zap.Error(tx.Err()),
	)

	if structured() {
		return status
	}
	done := func(msg string) { ui.SuccessMsg("%s", msg) }
	fail := func(msg string) { ui.ErrorMsg("%s", msg) }
	if sp != nil {
		done, fail = sp.Success, sp.Error
	}
	switch status {
	case transaction.StatusDone:
		done(fmt.Sprintf("%s %s", pastVerb(tx.Role()), res.DisplayName()))
	case transaction.StatusCancelled:
		fail(fmt.Sprintf("%s cancelled", message))
	default:
		fail(fmt.Sprintf("%s failed: %v", message, tx.Err()))
	}
	return status
}

func verb(r transaction.Role) string {
	switch r {
	case transaction.RoleRemove:
		return "Removing"
	case transaction.RoleUpdate:
		return "Updating"
	}
	return "Installing"
}

func pastVerb(r transaction.Role) string {
	switch r {
	case transaction.RoleRemove:
		return "Removed"
	case transaction.RoleUpdate:
		return "Updated"
	}
	return "Installed"
}
