package pg

import (
	"context"
	"database/sql"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flowkernel/kernel/internal/events"
)

// SnapshotStore write-through persists the durable fields of each
// in-memory kernel component (consent, channel, policy, intent,
// directory) so an operator can inspect or restore state across a
// process restart. The in-memory registries remain the sole
// authoritative state during a process's lifetime (the kernel's
// component-level mutex serialization is not replicated at the SQL
// layer); these tables are a durability and observability aid, not a
// second source of truth consulted on the hot path.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(s *Store) *SnapshotStore { return &SnapshotStore{db: s.db} }

func (s *SnapshotStore) UpsertAuthorization(ctx context.Context, authHash common.Hash, owner common.Address, revoked bool, pulledTotal *big.Int) error {
	_, err := s.db.ExecContext(ctx, `
		insert into consent_authorizations(auth_hash, owner, revoked, pulled_total)
		values ($1, $2, $3, $4)
		on conflict (auth_hash) do update
		set owner = excluded.owner, revoked = excluded.revoked, pulled_total = excluded.pulled_total
	`, authHash.Hex(), owner.Hex(), revoked, pulledTotal.String())
	return err
}

func (s *SnapshotStore) UpsertChannel(ctx context.Context, id common.Hash, grantor, grantee, token common.Address, ratePerSecond uint64, maxBalance, accrued *big.Int, lastUpdate uint64, paused, revoked bool) error {
	_, err := s.db.ExecContext(ctx, `
		insert into channels(channel_id, grantor, grantee, token, rate_per_second, max_balance, accrued, last_update, paused, revoked)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		on conflict (channel_id) do update
		set rate_per_second = excluded.rate_per_second,
		    max_balance = excluded.max_balance,
		    accrued = excluded.accrued,
		    last_update = excluded.last_update,
		    paused = excluded.paused,
		    revoked = excluded.revoked
	`, id.Hex(), grantor.Hex(), grantee.Hex(), token.Hex(), ratePerSecond, maxBalance.String(), accrued.String(), lastUpdate, paused, revoked)
	return err
}

func (s *SnapshotStore) UpsertPolicy(ctx context.Context, id common.Hash, grantor, grantee, token common.Address, maxPerPull, maxPerEpoch *big.Int, epoch uint64, spent *big.Int, revoked bool) error {
	_, err := s.db.ExecContext(ctx, `
		insert into policies(policy_id, grantor, grantee, token, max_per_pull, max_per_epoch, current_epoch, spent_this_epoch, revoked)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		on conflict (policy_id) do update
		set current_epoch = excluded.current_epoch,
		    spent_this_epoch = excluded.spent_this_epoch,
		    revoked = excluded.revoked
	`, id.Hex(), grantor.Hex(), grantee.Hex(), token.Hex(), maxPerPull.String(), maxPerEpoch.String(), epoch, spent.String(), revoked)
	return err
}

func (s *SnapshotStore) UpsertIntent(ctx context.Context, h common.Hash, owner common.Address, movedSoFar *big.Int, revoked bool) error {
	_, err := s.db.ExecContext(ctx, `
		insert into flow_intents(intent_hash, owner, moved_so_far, revoked)
		values ($1,$2,$3,$4)
		on conflict (intent_hash) do update
		set moved_so_far = excluded.moved_so_far, revoked = excluded.revoked
	`, h.Hex(), owner.Hex(), movedSoFar.String(), revoked)
	return err
}

func (s *SnapshotStore) UpsertDomain(ctx context.Context, id common.Hash, adapter, destination common.Address, active bool) error {
	_, err := s.db.ExecContext(ctx, `
		insert into domains(domain_id, adapter, destination, active)
		values ($1,$2,$3,$4)
		on conflict (domain_id) do update
		set adapter = excluded.adapter, destination = excluded.destination, active = excluded.active
	`, id.Hex(), adapter.Hex(), destination.Hex(), active)
	return err
}

// ConsentSource is the subset of ConsentRegistry the snapshot writer
// reads to resolve the full row a partial event doesn't carry.
type ConsentSource interface {
	OwnerOf(authHash common.Hash) (common.Address, bool)
	IsRevoked(authHash common.Hash) bool
	PulledTotal(authHash common.Hash) *big.Int
}

// ChannelSource is the subset of the channel Registry the snapshot
// writer reads.
type ChannelSource interface {
	Snapshot(id common.Hash) (grantor, grantee, token common.Address, ratePerSecond uint64, maxBalance, accrued *big.Int, lastUpdate uint64, paused, revoked bool, err error)
}

// PolicySource is the subset of the policy Enforcer the snapshot
// writer reads.
type PolicySource interface {
	Snapshot(id common.Hash) (grantor, grantee, token common.Address, maxPerPull, maxPerEpoch *big.Int, currentEpoch uint64, spentThisEpoch *big.Int, revoked bool, err error)
}

// IntentSource is the subset of the IntentRegistry the snapshot writer
// reads.
type IntentSource interface {
	OwnerOf(h common.Hash) (common.Address, bool)
	MovedSoFar(h common.Hash) *big.Int
	IsRevoked(h common.Hash) bool
}

// DirectorySource is the subset of the DomainDirectory the snapshot
// writer reads.
type DirectorySource interface {
	Snapshot(id common.Hash) (adapter, destination common.Address, active bool, err error)
}

// Sources bundles the read-only registry queries Listen needs to turn
// a bus event into a full-row upsert.
type Sources struct {
	Consent   ConsentSource
	Channels  ChannelSource
	Policies  PolicySource
	Intents   IntentSource
	Directory DirectorySource
}

// Listen subscribes to bus and, for every event that marks a change
// to durable component state, re-reads the current state from the
// matching source and upserts it, until ctx is cancelled. The
// in-memory registries stay authoritative; this only keeps Postgres
// caught up for operator inspection and crash-recovery visibility.
// Upsert failures are reported on errs (non-blocking send); callers
// that don't care may pass a nil channel.
func (s *SnapshotStore) Listen(ctx context.Context, bus *events.Bus, src Sources, errs chan<- error) {
	sub := bus.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if err := s.apply(ctx, evt, src); err != nil && errs != nil {
				select {
				case errs <- err:
				default:
				}
			}
		}
	}
}

func (s *SnapshotStore) apply(ctx context.Context, evt events.Event, src Sources) error {
	switch evt.Name {
	case events.PullExecuted, events.AuthorizationRevoked, events.AuthorizationBudgetUpdated:
		authHash, ok := evt.Fields["auth_hash"].(common.Hash)
		if !ok || src.Consent == nil {
			return nil
		}
		owner, _ := src.Consent.OwnerOf(authHash)
		return s.UpsertAuthorization(ctx, authHash, owner, src.Consent.IsRevoked(authHash), src.Consent.PulledTotal(authHash))

	case events.ChannelOpened, events.ChannelRateUpdated, events.ChannelPaused, events.ChannelResumed, events.ChannelRevoked, events.Pulled:
		id, ok := evt.Fields["id"].(common.Hash)
		if !ok || src.Channels == nil {
			return nil
		}
		grantor, grantee, token, rate, maxBalance, accrued, lastUpdate, paused, revoked, err := src.Channels.Snapshot(id)
		if err != nil {
			return err
		}
		return s.UpsertChannel(ctx, id, grantor, grantee, token, rate, maxBalance, accrued, lastUpdate, paused, revoked)

	case events.PolicyCreated, events.PolicySpend, events.ReceiverAllowed, events.PolicyRevoked:
		id, ok := evt.Fields["policy_id"].(common.Hash)
		if !ok || src.Policies == nil {
			return nil
		}
		grantor, grantee, token, maxPerPull, maxPerEpoch, epoch, spent, revoked, err := src.Policies.Snapshot(id)
		if err != nil {
			return err
		}
		return s.UpsertPolicy(ctx, id, grantor, grantee, token, maxPerPull, maxPerEpoch, epoch, spent, revoked)

	case events.IntentRevoked:
		h, ok := evt.Fields["intent_hash"].(common.Hash)
		if !ok || src.Intents == nil {
			return nil
		}
		owner, _ := src.Intents.OwnerOf(h)
		return s.UpsertIntent(ctx, h, owner, src.Intents.MovedSoFar(h), src.Intents.IsRevoked(h))

	case events.RebalanceExecuted:
		h, ok := evt.Fields["intent_hash"].(common.Hash)
		if !ok || src.Intents == nil {
			return nil
		}
		owner, _ := src.Intents.OwnerOf(h)
		return s.UpsertIntent(ctx, h, owner, src.Intents.MovedSoFar(h), src.Intents.IsRevoked(h))

	case events.DestinationConfigured:
		id, ok := evt.Fields["domain_id"].(common.Hash)
		if !ok || src.Directory == nil {
			return nil
		}
		adapter, destination, active, err := src.Directory.Snapshot(id)
		if err != nil {
			return err
		}
		return s.UpsertDomain(ctx, id, adapter, destination, active)
	}
	return nil
}
