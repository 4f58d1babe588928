package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/model"
	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/retry"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestStore_FindSink(t *testing.T) {
	s, mock := newMock(t)
	query := regexp.QuoteMeta(`SELECT schema_name FROM information_schema.schemata WHERE schema_name = $1`)

	mock.ExpectQuery(query).WithArgs("master_sheet").
		WillReturnRows(sqlmock.NewRows([]string{"schema_name"}).AddRow("master_sheet"))
	mock.ExpectQuery(query).WithArgs("other").
		WillReturnRows(sqlmock.NewRows([]string{"schema_name"}))

	id, found, err := s.FindSink(context.Background(), "Master Sheet")
	if err != nil || !found || id != "master_sheet" {
		t.Fatalf("FindSink() = %q, %v, %v", id, found, err)
	}
	_, found, err = s.FindSink(context.Background(), "other")
	if err != nil || found {
		t.Fatalf("FindSink(other) = %v, %v; want not found", found, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestStore_CreateSink(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE SCHEMA "master"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE "master"."ingested_sources"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	id, err := s.CreateSink(context.Background(), "Master")
	if err != nil {
		t.Fatalf("CreateSink() error = %v", err)
	}
	if id != "master" {
		t.Errorf("id = %q", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestStore_AddSection(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "master"\."prcp" \(row_id bigserial PRIMARY KEY, "region_type" text, .*"day_31" text, source_file text NOT NULL\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.AddSection(context.Background(), "master", "prcp", model.Header); err != nil {
		t.Fatalf("AddSection() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func rowArgs(r model.Row, source string) []driver.Value {
	var args []driver.Value
	for _, v := range r.Values() {
		args = append(args, v)
	}
	return append(args, source)
}

func TestStore_AppendValues(t *testing.T) {
	s, mock := newMock(t)
	source := "prcp-202001-cty-scaled.csv"
	rows := []model.Row{
		{RegionType: "cty", RegionCode: "VA001", RegionName: "Accomack", Year: "2020", Month: "01", VariableType: "PRCP"},
		{RegionType: "cty", RegionCode: "VA003", RegionName: "Albemarle", Year: "2020", Month: "01", VariableType: "PRCP"},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO "master"."prcp" ("region_type", "region_code"`))
	prep.ExpectExec().WithArgs(rowArgs(rows[0], source)...).WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs(rowArgs(rows[1], source)...).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "master"."ingested_sources" (section, source, row_count)`)).
		WithArgs("prcp", source, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.AppendValues(context.Background(), "master", "prcp", source, rows); err != nil {
		t.Fatalf("AppendValues() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestStore_AppendValues_EmptyRecordsLedgerOnly(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "master"."ingested_sources"`)).
		WithArgs("tmin", "tmin-195101-cty-scaled.csv", 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.AppendValues(context.Background(), "master", "tmin", "tmin-195101-cty-scaled.csv", nil); err != nil {
		t.Fatalf("AppendValues() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestStore_AppendValues_RollsBackOnFailure(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO "master"."prcp"`))
	prep.ExpectExec().WillReturnError(&pq.Error{Code: "57P01", Message: "terminating connection due to administrator command"})
	mock.ExpectRollback()

	err := s.AppendValues(context.Background(), "master", "prcp", "x.csv", []model.Row{{RegionCode: "VA001"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !retry.IsServerError(err) {
		t.Errorf("admin shutdown should be transient, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestStore_Sources(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT source FROM "master"."ingested_sources" WHERE section = $1`)).
		WithArgs("tavg").
		WillReturnRows(sqlmock.NewRows([]string{"source"}).AddRow("a.csv").AddRow("b.csv"))

	got, err := s.Sources(context.Background(), "master", "tavg")
	if err != nil {
		t.Fatalf("Sources() error = %v", err)
	}
	if len(got) != 2 || got[0] != "a.csv" || got[1] != "b.csv" {
		t.Fatalf("unexpected sources %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"connection failure", &pq.Error{Code: "08006"}, true},
		{"serialization", &pq.Error{Code: "40001"}, true},
		{"too many connections", &pq.Error{Code: "53300"}, true},
		{"undefined table", &pq.Error{Code: "42P01"}, false},
		{"bad conn", driver.ErrBadConn, true},
		{"other", errors.New("syntax"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retry.IsServerError(classify("op", tt.err)); got != tt.transient {
				t.Errorf("transient = %v, want %v", got, tt.transient)
			}
		})
	}
}
