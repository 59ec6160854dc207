package partyline

import (
	"errors"
	"log/slog"

	"github.com/lmittmann/tint"
)

// FriendListReconciler matches a connection's reported relationship
// snapshot against the registry and decides, per contact, whether to
// accept a pending request, ignore it, or do nothing. Reconciliation
// runs on every relationship-list update and is idempotent under
// redelivery of the same snapshot: a contact whose handshake already
// completed is never accepted a second time, which breaks the
// re-accept loop with contacts that unfriend and re-request.
type FriendListReconciler struct {
	registry *ChatterRegistry
	logger   *slog.Logger
}

func NewFriendListReconciler(
	registry *ChatterRegistry,
	logger *slog.Logger,
) *FriendListReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FriendListReconciler{
		registry: registry,
		logger:   logger.With(loggerNameKey, "reconciler"),
	}
}

// Reconcile applies the snapshot. Identities not yet in the registry
// are skipped; they become known on the next full contact enumeration.
func (f *FriendListReconciler) Reconcile(
	conn *Connection,
	snapshot []Relationship,
) {
	for _, rel := range snapshot {
		switch rel.State {
		case RelationshipFriend:
			_, err := f.registry.MarkAdded(rel.Identity)
			if err != nil && !errors.Is(err, ErrChatterNotFound) {
				f.logger.Error(
					"error marking friend",
					tint.Err(err),
					"identity", rel.Identity,
				)
			}

		case RelationshipPendingIncoming:
			c, err := f.registry.Get(rel.Identity)
			if err != nil {
				// Unknown identity; the next enumeration registers it
				continue
			}
			if c.AddedToList {
				// Handshake already completed once, so this is a
				// re-request from a contact that unfriended us
				if ignoreErr := conn.transport.IgnoreContact(rel.Identity); ignoreErr != nil {
					f.logger.Error(
						"error ignoring contact request",
						tint.Err(ignoreErr),
						"identity", rel.Identity,
					)
				}
				continue
			}
			if acceptErr := conn.transport.AcceptContact(rel.Identity); acceptErr != nil {
				f.logger.Error(
					"error accepting contact request",
					tint.Err(acceptErr),
					"identity", rel.Identity,
				)
			}
			if _, markErr := f.registry.MarkAdded(rel.Identity); markErr != nil {
				f.logger.Error(
					"error marking contact accepted",
					tint.Err(markErr),
					"identity", rel.Identity,
				)
			}
			f.logger.Info("accepted contact request", "identity", rel.Identity)
		}
	}
}
