// Package entitlement implements the entitlement reconciliation engine: the
// single owner of the question "is this identity currently entitled". Truth
// about a purchase is scattered across three independently-failing sources --
// the local verdict cache, the remote purchase ledger, and the platform
// store -- and the engine consults them in a fixed precedence, resolves
// conflicts, and writes results back down the chain.
package entitlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/daybrief/daybrief/internal/domain/entitlement"
	"github.com/daybrief/daybrief/internal/shared/errors"
	"github.com/daybrief/daybrief/internal/shared/goroutine"
	"github.com/daybrief/daybrief/internal/shared/logger"
)

const backgroundRefreshTimeout = 30 * time.Second

// Policy carries the reconciliation policy values. StalenessWindow bounds how
// long a positive cached verdict may be served; negative verdicts have a zero
// window and always re-query, so a cached "entitled" can never outlive a
// server-side cancellation. RefreshMargin is how close to the staleness
// boundary a cache hit triggers a non-blocking background refresh.
type Policy struct {
	StalenessWindow time.Duration
	RefreshMargin   time.Duration
}

// ChangePublisher announces entitlement changes to other instances. The
// reconciler publishes after a revocation lands in the ledger; subscribers
// invalidate and re-resolve the subject.
type ChangePublisher interface {
	PublishChange(ctx context.Context, subjectKey string, changeType entitlement.NotificationType) error
}

// ResolveOptions controls a single resolve invocation
type ResolveOptions struct {
	// ForceRefresh bypasses the cache fast path. Purchase and restore
	// completion, identity changes, and explicit user refresh set it.
	ForceRefresh bool
}

// Reconciler produces entitlement verdicts. Verdicts are immutable values:
// every resolve builds a whole new one, and cache writes are last-write-wins
// per identity, never field-level merges.
type Reconciler struct {
	cache   entitlement.VerdictCache
	ledger  entitlement.LedgerRepository
	store   entitlement.StoreClient
	catalog *entitlement.ProductCatalog
	policy  Policy
	logger  logger.Interface

	group     singleflight.Group
	now       func() time.Time
	publisher ChangePublisher

	mu     sync.RWMutex
	gens   map[string]uint64
	latest map[string]entitlement.Verdict
}

// NewReconciler creates a reconciliation engine
func NewReconciler(
	cache entitlement.VerdictCache,
	ledger entitlement.LedgerRepository,
	store entitlement.StoreClient,
	catalog *entitlement.ProductCatalog,
	policy Policy,
	log logger.Interface,
) *Reconciler {
	return &Reconciler{
		cache:   cache,
		ledger:  ledger,
		store:   store,
		catalog: catalog,
		policy:  policy,
		logger:  log,
		now:     func() time.Time { return time.Now().UTC() },
		gens:    make(map[string]uint64),
		latest:  make(map[string]entitlement.Verdict),
	}
}

// SetChangePublisher wires the cross-instance change announcement. Optional:
// without it revocations still take effect locally and through the shared
// cache.
func (r *Reconciler) SetChangePublisher(publisher ChangePublisher) {
	r.publisher = publisher
}

// Resolve produces a verdict for an identity. It never returns an error: ad
// display and premium gating always need some answer, so every sub-source
// failure degrades along the precedence chain instead of propagating.
func (r *Reconciler) Resolve(ctx context.Context, identity entitlement.Identity, opts ResolveOptions) entitlement.Verdict {
	now := r.now()

	// No session is a defined state, not an error: deny by default without
	// touching any network source.
	if identity.IsZero() {
		return entitlement.DeniedVerdict(entitlement.SourceDefault, now)
	}

	key := identity.Key()
	gen := r.generation(key)

	if !opts.ForceRefresh {
		if verdict, ok := r.tryCache(ctx, identity, now); ok {
			r.commitLatest(key, gen, verdict)
			return verdict
		}
	}

	// A second resolve for the same identity while one is in flight attaches
	// to the pending result instead of issuing duplicate source calls (and
	// duplicate ledger write-backs). Different identities run independently.
	result, _, _ := r.group.Do(key, func() (any, error) {
		verdict := r.reconcile(ctx, identity, r.now())
		r.commit(ctx, key, gen, verdict)
		return verdict, nil
	})
	return result.(entitlement.Verdict)
}

// tryCache serves a fresh positive cache hit. Negative verdicts are never
// served from cache: their staleness window is zero by policy.
func (r *Reconciler) tryCache(ctx context.Context, identity entitlement.Identity, now time.Time) (entitlement.Verdict, bool) {
	entry, err := r.cache.Get(ctx, identity.Key())
	if err != nil {
		r.logger.Warnw("verdict cache read failed",
			"identity", identity.String(),
			"error", err)
		return entitlement.Verdict{}, false
	}
	if entry == nil || !entry.Verdict.Entitled {
		return entitlement.Verdict{}, false
	}
	age := entry.Age(now)
	if age >= r.policy.StalenessWindow || entry.Verdict.ExpiredAt(now) {
		return entitlement.Verdict{}, false
	}

	// Close to the staleness boundary: serve the hit but refresh behind it so
	// the cached value stays honest.
	if r.policy.StalenessWindow-age <= r.policy.RefreshMargin {
		r.scheduleRefresh(identity)
	}

	r.logger.Debugw("serving cached verdict",
		"identity", identity.String(),
		"tier", entry.Verdict.Tier,
		"age", age.String())
	return entry.Verdict.WithSource(entitlement.SourceCache), true
}

func (r *Reconciler) scheduleRefresh(identity entitlement.Identity) {
	goroutine.SafeGo(r.logger, "entitlement-refresh", func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundRefreshTimeout)
		defer cancel()
		r.Resolve(ctx, identity, ResolveOptions{ForceRefresh: true})
	})
}

// reconcile runs the ledger-then-store precedence chain
func (r *Reconciler) reconcile(ctx context.Context, identity entitlement.Identity, now time.Time) entitlement.Verdict {
	key := identity.Key()

	record, ledgerErr := r.ledger.GetBySubject(ctx, key)
	if ledgerErr != nil {
		r.logger.Warnw("ledger unreachable, falling back to platform store",
			"identity", identity.String(),
			"error", ledgerErr)
	} else if record.IsActiveAt(now) {
		verdict := r.catalog.VerdictFromRecord(record, now)
		if verdict.Entitled {
			return verdict
		}
		// An active row for an unrecognized product cannot grant access;
		// fall through to the store like any "no active record" answer.
		r.logger.Warnw("active ledger record for unrecognized product",
			"identity", identity.String(),
			"product_id", record.ProductID)
	}

	txs, storeErr := r.store.ActiveTransactions(ctx, key)
	if storeErr != nil {
		return r.storeUnreachableVerdict(ctx, identity, now, storeErr)
	}

	best := r.catalog.BestTransaction(txs, now)
	if best == nil {
		// The store confirmed zero entitlement-granting transactions.
		return entitlement.DeniedVerdict(entitlement.SourceStore, now)
	}

	verdict := r.catalog.VerdictFromTransaction(*best, now)
	if verdict.Entitled {
		// The platform knows about a purchase the ledger does not: ground
		// truth for "a purchase happened". Push it back so the two sources
		// converge. Guests never write to the ledger -- a guest identifier is
		// not a durable account key.
		if identity.IsAuthenticated() {
			r.scheduleWriteBack(identity, *best)
		}
	}
	return verdict
}

// storeUnreachableVerdict applies the asymmetric failure policy: when the
// store itself failed (as opposed to confirming zero records), prefer the
// last cached verdict over denying. Flashing ads at a paying user is worse
// than briefly keeping them for a non-paying one.
func (r *Reconciler) storeUnreachableVerdict(ctx context.Context, identity entitlement.Identity, now time.Time, storeErr error) entitlement.Verdict {
	r.logger.Warnw("platform store unreachable",
		"identity", identity.String(),
		"error", storeErr)

	// A lapsed expiry needs no network call to evaluate: a time-limited
	// verdict past its expiry is denied even here.
	entry, err := r.cache.Get(ctx, identity.Key())
	if err == nil && entry != nil && !entry.Verdict.ExpiredAt(now) {
		return entry.Verdict.WithSource(entitlement.SourceCache)
	}
	return entitlement.DeniedVerdict(entitlement.SourceDefault, now)
}

func (r *Reconciler) scheduleWriteBack(identity entitlement.Identity, tx entitlement.Transaction) {
	goroutine.SafeGo(r.logger, "ledger-write-back", func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundRefreshTimeout)
		defer cancel()

		record := &entitlement.LedgerRecord{
			ProductID:        tx.ProductID,
			PurchasedAt:      tx.PurchasedAt,
			ExpiresAt:        tx.ExpiresAt,
			Active:           true,
			LastNotification: entitlement.NotificationGrant,
			Metadata:         map[string]any{"transaction_id": tx.TransactionID},
		}
		if err := r.ledger.Upsert(ctx, identity.Key(), record); err != nil {
			// Absorbed: the next resolve that reaches the store will try the
			// write-back again.
			r.logger.Errorw("ledger write-back failed",
				"identity", identity.String(),
				"product_id", tx.ProductID,
				"error", err)
		}
	})
}

// Revoke clears the cached verdict and writes a "not entitled" record to the
// ledger, returning the resulting negative verdict. It is idempotent: on an
// already-revoked identity it is a no-op returning the same verdict. Unlike
// the read path, ledger failure here surfaces to the caller, since silently
// dropping a user-initiated revocation is user-visible.
func (r *Reconciler) Revoke(ctx context.Context, identity entitlement.Identity) (entitlement.Verdict, error) {
	now := r.now()

	if identity.IsZero() {
		return entitlement.DeniedVerdict(entitlement.SourceDefault, now), nil
	}

	key := identity.Key()
	gen := r.generation(key)

	if err := r.cache.Delete(ctx, key); err != nil {
		r.logger.Warnw("failed to clear cached verdict on revoke",
			"identity", identity.String(),
			"error", err)
	}

	verdict := entitlement.DeniedVerdict(entitlement.SourceDefault, now)
	if identity.IsAuthenticated() {
		wrote, err := r.revokeLedger(ctx, key, now)
		if err != nil {
			return entitlement.DeniedVerdict(entitlement.SourceDefault, now),
				fmt.Errorf("failed to revoke ledger record: %w", err)
		}
		verdict = entitlement.DeniedVerdict(entitlement.SourceLedger, now)
		if wrote {
			r.publishChange(key, entitlement.NotificationRevocation)
		}
	}

	r.commitLatest(key, gen, verdict)
	r.logger.Infow("entitlement revoked", "identity", identity.String())
	return verdict, nil
}

// revokeLedger writes the inactive record, skipping the write when the
// ledger already reflects the revocation. Reports whether a write happened.
func (r *Reconciler) revokeLedger(ctx context.Context, key string, now time.Time) (bool, error) {
	record, err := r.ledger.GetBySubject(ctx, key)
	if err != nil {
		return false, err
	}
	if record != nil && !record.Active && record.LastNotification == entitlement.NotificationRevocation {
		return false, nil
	}

	revoked := &entitlement.LedgerRecord{
		Active:           false,
		LastNotification: entitlement.NotificationRevocation,
	}
	if record != nil {
		revoked.ProductID = record.ProductID
		revoked.PurchasedAt = record.PurchasedAt
		revoked.ExpiresAt = record.ExpiresAt
		revoked.Metadata = record.Metadata
	} else {
		revoked.PurchasedAt = now
	}
	if err := r.ledger.Upsert(ctx, key, revoked); err != nil {
		return false, err
	}
	return true, nil
}

// publishChange announces a ledger change to other instances, best effort
func (r *Reconciler) publishChange(key string, changeType entitlement.NotificationType) {
	if r.publisher == nil {
		return
	}
	goroutine.SafeGo(r.logger, "entitlement-change-publish", func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundRefreshTimeout)
		defer cancel()
		if err := r.publisher.PublishChange(ctx, key, changeType); err != nil {
			r.logger.Warnw("failed to publish entitlement change",
				"subject_key", key,
				"change_type", changeType,
				"error", err)
		}
	})
}

// CompletePurchase drives a purchase through the platform store, then
// re-resolves synchronously so callers see the new entitlement without
// waiting for a staleness window to lapse.
func (r *Reconciler) CompletePurchase(ctx context.Context, identity entitlement.Identity, productID string) (entitlement.Verdict, error) {
	if identity.IsZero() {
		return entitlement.DeniedVerdict(entitlement.SourceDefault, r.now()),
			errors.NewUnauthorizedError("purchase requires a session")
	}
	if !r.catalog.Recognizes(productID) {
		return entitlement.DeniedVerdict(entitlement.SourceDefault, r.now()),
			errors.NewValidationError(fmt.Sprintf("product %s is not entitlement-granting", productID))
	}

	tx, err := r.store.Purchase(ctx, identity.Key(), productID)
	if err != nil {
		return r.Resolve(ctx, identity, ResolveOptions{}), fmt.Errorf("purchase failed: %w", err)
	}

	r.logger.Infow("purchase completed",
		"identity", identity.String(),
		"product_id", tx.ProductID,
		"transaction_id", tx.TransactionID)
	return r.Resolve(ctx, identity, ResolveOptions{ForceRefresh: true}), nil
}

// Restore replays historical purchases from the platform store and
// re-resolves synchronously.
func (r *Reconciler) Restore(ctx context.Context, identity entitlement.Identity) (entitlement.Verdict, error) {
	if identity.IsZero() {
		return entitlement.DeniedVerdict(entitlement.SourceDefault, r.now()),
			errors.NewUnauthorizedError("restore requires a session")
	}

	txs, err := r.store.Restore(ctx, identity.Key())
	if err != nil {
		return r.Resolve(ctx, identity, ResolveOptions{}), fmt.Errorf("restore failed: %w", err)
	}

	r.logger.Infow("purchases restored",
		"identity", identity.String(),
		"count", len(txs))
	return r.Resolve(ctx, identity, ResolveOptions{ForceRefresh: true}), nil
}

// Latest returns the projection of the last verdict produced for an identity.
// It is derived from, and never independent of, the last Resolve or Revoke.
func (r *Reconciler) Latest(identity entitlement.Identity) (entitlement.Verdict, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	verdict, ok := r.latest[identity.Key()]
	return verdict, ok
}

// Invalidate discards the identity's cached verdict and marks any in-flight
// resolve for it stale, so a slow response for an old identity can never
// corrupt the state of the identity that replaced it.
func (r *Reconciler) Invalidate(ctx context.Context, identity entitlement.Identity) {
	key := identity.Key()

	r.mu.Lock()
	r.gens[key]++
	delete(r.latest, key)
	r.mu.Unlock()

	if err := r.cache.Delete(ctx, key); err != nil {
		r.logger.Warnw("failed to invalidate cached verdict",
			"identity", identity.String(),
			"error", err)
	}
}

// Reset discards every cached verdict and projection and marks all in-flight
// resolves stale. Used on sign-out; the ledger is deliberately left alone so
// the record is there when the user signs back in.
func (r *Reconciler) Reset(ctx context.Context) {
	r.mu.Lock()
	for key := range r.gens {
		r.gens[key]++
	}
	for key := range r.latest {
		r.gens[key]++
		delete(r.latest, key)
	}
	r.mu.Unlock()

	if err := r.cache.Clear(ctx); err != nil {
		r.logger.Warnw("failed to clear verdict cache", "error", err)
	}
}

func (r *Reconciler) generation(key string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gens[key]
}

// commit persists the verdict to the cache and the latest projection unless
// the identity was invalidated while the resolve was in flight. Verdicts
// sourced from the cache itself or from the deny-by-default fallback are not
// written back: rewriting them would refresh StoredAt and could mask a real
// answer, or overwrite the cached verdict the failure-asymmetry policy
// preserves.
func (r *Reconciler) commit(ctx context.Context, key string, gen uint64, verdict entitlement.Verdict) {
	if !r.commitLatest(key, gen, verdict) {
		r.logger.Debugw("discarding stale resolve result", "subject_key", key)
		return
	}

	if verdict.Source != entitlement.SourceLedger && verdict.Source != entitlement.SourceStore {
		return
	}
	entry := &entitlement.CacheEntry{Verdict: verdict, StoredAt: r.now()}
	if err := r.cache.Put(ctx, key, entry); err != nil {
		r.logger.Warnw("failed to cache verdict",
			"subject_key", key,
			"error", err)
	}
}

// commitLatest updates the projection, reporting whether the generation was
// still current.
func (r *Reconciler) commitLatest(key string, gen uint64, verdict entitlement.Verdict) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gens[key] != gen {
		return false
	}
	r.latest[key] = verdict
	return true
}
