package users

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/tontineledger/internal/common"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

const (
	insertQ = `(?s)^INSERT\s+INTO\s+users\s*\(id,\s*external_uid\)\s*VALUES\s*\(\$1,\s*\$2\)\s*ON\s+CONFLICT\s*\(external_uid\)\s*DO\s+NOTHING$`
	selectQ = `(?s)^SELECT\s+id,\s*external_uid,\s*email,\s*phone,\s*created_at\s+FROM\s+users\s+WHERE\s+external_uid\s*=\s*\$1$`
)

func TestEnsure_InsertsThenSelects(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectExec(insertQ).WithArgs("id-1", "alice").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(selectQ).WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_uid", "email", "phone", "created_at"}).
			AddRow("id-1", "alice", nil, nil, now))

	u, err := repo.Ensure(context.Background(), "id-1", "alice")
	if err != nil {
		t.Fatalf("Ensure error: %v", err)
	}
	if u.ID != "id-1" || u.ExternalUID != "alice" || u.Email != nil {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnsure_ExistingRowIsReturned(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	email := "a@example.com"
	mock.ExpectExec(insertQ).WithArgs("id-1", "alice").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(selectQ).WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_uid", "email", "phone", "created_at"}).
			AddRow("id-1", "alice", email, nil, time.Now()))

	u, err := repo.Ensure(context.Background(), "id-1", "alice")
	if err != nil {
		t.Fatalf("Ensure error: %v", err)
	}
	if u.Email == nil || *u.Email != email {
		t.Fatalf("unexpected email: %v", u.Email)
	}
}

func TestEnsure_InsertError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertQ).WithArgs("id-1", "alice").WillReturnError(errors.New("db down"))

	_, err := repo.Ensure(context.Background(), "id-1", "alice")
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGetByExternalUID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(selectQ).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByExternalUID(context.Background(), "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}
