package sessions

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*SQLRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewSQLRepository(db), mock, db
}

func TestUpsert(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+backup_sessions.*ON\s+CONFLICT\s+\(user_did\)\s+DO\s+UPDATE\s+SET`).
		WithArgs("u", "backup", "in_progress", "", "http://b", "tok", int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), &models.BackupSession{
		UserDID: "u", Action: models.ActionBackup, State: models.BackupInProgress,
		RemoteEndpoint: "http://b", RemoteToken: "tok", UpdatedAt: 9,
	})
	if err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
}

func TestGet(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+user_did,\s*action,\s*state.*FROM\s+backup_sessions\s+WHERE\s+user_did\s*=\s*\$1$`).
		WithArgs("u").
		WillReturnRows(sqlmock.NewRows([]string{"user_did", "action", "state", "message", "remote_endpoint", "remote_token", "updated_at"}).
			AddRow("u", "restore", "failed", "checksum failed", "http://b", "tok", int64(3)))

	s, err := repo.Get(context.Background(), "u")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if s.Action != models.ActionRestore || s.State != models.BackupFailed || s.Message != "checksum failed" {
		t.Fatalf("unexpected session: %+v", s)
	}

	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+backup_sessions`).WithArgs("ghost").WillReturnError(sql.ErrNoRows)
	if _, err := repo.Get(context.Background(), "ghost"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}
