package pg

import (
	"context"
	"math/big"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"

	"github.com/flowkernel/kernel/internal/events"
)

func TestUpsertAuthorization(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	authHash := common.HexToHash("0xaa")
	owner := common.HexToAddress("0x01")

	mock.ExpectExec("insert into consent_authorizations").
		WithArgs(authHash.Hex(), owner.Hex(), false, "100").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := &SnapshotStore{db: db}
	if err := s.UpsertAuthorization(context.Background(), authHash, owner, false, big.NewInt(100)); err != nil {
		t.Fatalf("UpsertAuthorization: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsertChannel(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	id := common.HexToHash("0xbb")
	grantor := common.HexToAddress("0x01")
	grantee := common.HexToAddress("0x02")
	token := common.HexToAddress("0x03")

	mock.ExpectExec("insert into channels").
		WithArgs(id.Hex(), grantor.Hex(), grantee.Hex(), token.Hex(), uint64(2), "1000", "40", uint64(20), false, false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := &SnapshotStore{db: db}
	err = s.UpsertChannel(context.Background(), id, grantor, grantee, token, 2, big.NewInt(1000), big.NewInt(40), 20, false, false)
	if err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

type fakeConsentSource struct {
	owner   common.Address
	revoked bool
	pulled  *big.Int
}

func (f fakeConsentSource) OwnerOf(common.Hash) (common.Address, bool) { return f.owner, true }
func (f fakeConsentSource) IsRevoked(common.Hash) bool                 { return f.revoked }
func (f fakeConsentSource) PulledTotal(common.Hash) *big.Int           { return f.pulled }

type fakeChannelSource struct {
	grantor, grantee, token common.Address
	rate                    uint64
	maxBalance, accrued     *big.Int
	lastUpdate              uint64
	paused, revoked         bool
}

func (f fakeChannelSource) Snapshot(common.Hash) (common.Address, common.Address, common.Address, uint64, *big.Int, *big.Int, uint64, bool, bool, error) {
	return f.grantor, f.grantee, f.token, f.rate, f.maxBalance, f.accrued, f.lastUpdate, f.paused, f.revoked, nil
}

func TestSnapshotListenAppliesPullExecuted(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	authHash := common.HexToHash("0xaa")
	owner := common.HexToAddress("0x01")

	mock.ExpectExec("insert into consent_authorizations").
		WithArgs(authHash.Hex(), owner.Hex(), false, "250").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := &SnapshotStore{db: db}
	src := Sources{Consent: fakeConsentSource{owner: owner, pulled: big.NewInt(250)}}
	evt := events.New(events.PullExecuted, "auth_hash", authHash, "amount", big.NewInt(250))
	if err := s.apply(context.Background(), evt, src); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSnapshotListenAppliesChannelRevoked(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	id := common.HexToHash("0xbb")
	grantor := common.HexToAddress("0x01")
	grantee := common.HexToAddress("0x02")
	token := common.HexToAddress("0x03")

	mock.ExpectExec("insert into channels").
		WithArgs(id.Hex(), grantor.Hex(), grantee.Hex(), token.Hex(), uint64(2), "1000", "40", uint64(20), false, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := &SnapshotStore{db: db}
	src := Sources{Channels: fakeChannelSource{
		grantor: grantor, grantee: grantee, token: token, rate: 2,
		maxBalance: big.NewInt(1000), accrued: big.NewInt(40), lastUpdate: 20, revoked: true,
	}}
	evt := events.New(events.ChannelRevoked, "id", id)
	if err := s.apply(context.Background(), evt, src); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSnapshotListenIgnoresUnrelatedEvent(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	s := &SnapshotStore{db: db}
	evt := events.New(events.Routed, "channel_id", common.HexToHash("0xcc"))
	if err := s.apply(context.Background(), evt, Sources{}); err != nil {
		t.Fatalf("apply: %v", err)
	}
}
