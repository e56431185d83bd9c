package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *DB) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return mock, &DB{conn: conn}
}

func TestAppendSurfacesDatabaseError(t *testing.T) {
	mock, db := setupMockDB(t)
	mock.ExpectExec("INSERT INTO messages").
		WithArgs("Anbu", "", "hi", "general", false, false, sqlmock.AnyArg()).
		WillReturnError(errors.New("disk I/O error"))

	err := db.Append(context.Background(), ChatMessage{Sender: "Anbu", Body: "hi", Room: "general"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append message")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryRecentReturnsExplicitFailure(t *testing.T) {
	mock, db := setupMockDB(t)
	mock.ExpectQuery("SELECT id, sender, sender_photo, message, room, private, system, created_at FROM messages WHERE room").
		WithArgs("general", DefaultPageSize, 0).
		WillReturnError(errors.New("database is locked"))

	messages, err := db.QueryRecent(context.Background(), "general", 0, 0)
	require.Error(t, err)
	assert.Nil(t, messages, "no partial history on failure")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryRecentScansRows(t *testing.T) {
	mock, db := setupMockDB(t)
	created := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "sender", "sender_photo", "message", "room", "private", "system", "created_at"}).
		AddRow(int64(7), "Bala", "/b.png", "vanakkam", "sports", int64(1), int64(0), created.Format(timeLayout))
	mock.ExpectQuery("SELECT id, sender").
		WithArgs(10, 10).
		WillReturnRows(rows)

	messages, err := db.QueryRecent(context.Background(), "", 2, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "vanakkam", messages[0].Body)
	assert.True(t, messages[0].Private)
	assert.False(t, messages[0].System)
	assert.True(t, messages[0].CreatedAt.Equal(created))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserLookupFailure(t *testing.T) {
	mock, db := setupMockDB(t)
	mock.ExpectQuery("SELECT id FROM users WHERE email").
		WithArgs("a@example.com", "anbu").
		WillReturnError(errors.New("connection reset"))

	_, err := db.CreateUser(context.Background(), NewUser{Name: "anbu", Email: "a@example.com", Password: "pw"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateUser)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserDuplicate(t *testing.T) {
	mock, db := setupMockDB(t)
	mock.ExpectQuery("SELECT id FROM users WHERE email").
		WithArgs("a@example.com", "anbu").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	_, err := db.CreateUser(context.Background(), NewUser{Name: "anbu", Email: "a@example.com", Password: "pw"})
	assert.ErrorIs(t, err, ErrDuplicateUser)
	assert.NoError(t, mock.ExpectationsWereMet())
}
