package votes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/tontineledger/internal/common"
	"github.com/dmitrijs2005/tontineledger/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepository(db)
	now := time.Now()

	mock.ExpectQuery(`(?s)INSERT INTO tontine_votes \(id, tontine_id, withdraw_request_id, user_id, approved\) .* RETURNING created_at`).
		WithArgs("v-1", "g-1", "w-1", "bob", true).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectQuery(`INSERT INTO tontine_votes`).
		WithArgs("v-2", "g-1", "w-1", "bob", false).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectQuery(`INSERT INTO tontine_votes`).WillReturnError(errors.New("down"))

	v := &models.Vote{ID: "v-1", TontineID: "g-1", WithdrawRequestID: "w-1", UserID: "bob", Approved: true}
	require.NoError(t, repo.Create(context.Background(), v))
	assert.Equal(t, now, v.CreatedAt)

	err = repo.Create(context.Background(), &models.Vote{ID: "v-2", TontineID: "g-1", WithdrawRequestID: "w-1", UserID: "bob"})
	assert.ErrorIs(t, err, common.ErrAlreadyVoted)

	err = repo.Create(context.Background(), &models.Vote{ID: "v-3"})
	assert.ErrorContains(t, err, "db error: down")
}

func TestListByRequest(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	now := time.Now()

	cols := []string{"id", "tontine_id", "withdraw_request_id", "user_id", "approved", "created_at"}
	mock.ExpectQuery(`(?s)WHERE withdraw_request_id = \$1 ORDER BY created_at, id`).WithArgs("w-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("v-1", "g-1", "w-1", "alice", true, now).
			AddRow("v-2", "g-1", "w-1", "bob", false, now))

	list, err := NewPostgresRepository(db).ListByRequest(context.Background(), "w-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Approved)
	assert.False(t, list[1].Approved)
}
