package pg

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/flowkernel/kernel/internal/events"
)

func TestEventStoreAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("insert into kernel_events").
		WithArgs(events.Pulled, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	es := &EventStore{db: db}
	evt := events.New(events.Pulled, "amount", "100")
	if err := es.Append(context.Background(), evt); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEventStoreList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"sequence", "name", "fields", "recorded_at"}).
		AddRow(int64(1), events.Pulled, []byte(`{"amount":"100"}`), time.Unix(0, 0)).
		AddRow(int64(2), events.ChannelPaused, []byte(`{}`), time.Unix(1, 0))

	mock.ExpectQuery("select sequence, name, fields, recorded_at").
		WithArgs(int64(0), 200).
		WillReturnRows(rows)

	es := &EventStore{db: db}
	recs, last, err := es.List(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}
	if last != 2 {
		t.Fatalf("last = %d, want 2", last)
	}
	if recs[0].Fields["amount"] != "100" {
		t.Fatalf("recs[0].Fields[amount] = %v, want 100", recs[0].Fields["amount"])
	}
}
