package repositories

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var messageRowColumns = []string{"id", "connection_id", "sender_id", "content", "read", "created_at"}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestCreateMessageReturnsDurableRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO messages (connection_id, sender_id, content)`)).
		WithArgs("c1", "u1", "hello").
		WillReturnRows(sqlmock.NewRows(messageRowColumns).AddRow("m1", "c1", "u1", "hello", false, now))

	msg, err := repo.CreateMessage(context.Background(), "c1", "u1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, now, msg.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListMessagesOrdersByCreatedAt(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM messages WHERE connection_id=$1 ORDER BY created_at ASC`)).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(messageRowColumns).
			AddRow("m1", "c1", "a", "one", true, t0).
			AddRow("m2", "c1", "b", "two", false, t0.Add(time.Minute)))

	msgs, err := repo.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.True(t, msgs[0].Read)
	assert.Equal(t, "m2", msgs[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMessageNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM messages WHERE id=$1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(messageRowColumns))

	_, err := repo.GetMessage(context.Background(), "missing")
	require.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMarkReadSkipsEmptyBatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	n, err := repo.MarkRead(context.Background(), "c1", "u1", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkReadUpdatesIncomingOnly(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE messages SET read = TRUE`)).
		WithArgs(sqlmock.AnyArg(), "c1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.MarkRead(context.Background(), "c1", "u1", []string{"m1", "m2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionRepoGetConnection(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConnectionRepo(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM connections WHERE id=$1`)).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "mentor_id", "mentee_id", "status", "created_at", "updated_at"}).
			AddRow("c1", "mentor", "mentee", "accepted", now, now))

	conn, err := repo.GetConnection(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "mentee", conn.OtherParty("mentor"))
	assert.True(t, conn.HasParticipant("mentee"))
	assert.False(t, conn.HasParticipant("stranger"))
}

func TestConnectionRepoGetConnectionNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConnectionRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM connections WHERE id=$1`)).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id", "mentor_id", "mentee_id", "status", "created_at", "updated_at"}))

	_, err := repo.GetConnection(context.Background(), "nope")
	require.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestConnectionRepoIsParticipant(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConnectionRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("c1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.IsParticipant(context.Background(), "c1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBulkProfiles(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProfileRepo(db)

	empty, err := repo.BulkProfiles(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name FROM profiles WHERE id = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("a", "Ada").AddRow("b", "Bo"))

	profiles, err := repo.BulkProfiles(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "Ada", profiles[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}
