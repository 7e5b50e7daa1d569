package subscriptions

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

var cols = []string{"user_did", "kind", "plan_name", "max_bytes", "file_bytes_used", "db_bytes_used",
	"start_time", "end_time", "state", "created_at", "updated_at"}

func TestCreate_Conflict(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+subscriptions.*ON\s+CONFLICT\s+\(user_did,\s*kind\)\s+DO\s+NOTHING$`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Create(context.Background(), &models.Vault{UserDID: "u", Kind: models.KindVault, State: models.StateRunning})
	if !errors.Is(err, common.ErrorConflict) {
		t.Fatalf("want conflict, got %v", err)
	}
}

func TestGet_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+user_did,.*FROM\s+subscriptions\s+WHERE\s+user_did\s*=\s*\$1\s+AND\s+kind\s*=\s*\$2$`).
		WithArgs("u", "vault").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("u", "vault", "free", int64(500), int64(1), int64(2), int64(10), int64(-1), "running", int64(10), int64(11)))

	v, err := repo.Get(context.Background(), "u", models.KindVault)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if v.PlanName != "free" || v.BytesUsed() != 3 || v.State != models.StateRunning || v.EndTime != models.NoExpiry {
		t.Fatalf("unexpected vault: %+v", v)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT.*FROM\s+subscriptions`).WithArgs("ghost", "backup").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "ghost", models.KindBackup)
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestAddFileBytes_ClampsInSQL(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^UPDATE\s+subscriptions\s+SET\s+file_bytes_used\s*=\s*CASE\s+WHEN\s+file_bytes_used\s*\+\s*\$1\s*<\s*0\s+THEN\s+0`).
		WithArgs(int64(-50), int64(7), "u", "vault").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.AddFileBytes(context.Background(), "u", models.KindVault, -50, 7); err != nil {
		t.Fatalf("AddFileBytes error: %v", err)
	}
}

func TestUpdate_MissingRow(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^UPDATE\s+subscriptions\s+SET\s+plan_name`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.Vault{UserDID: "u", Kind: models.KindVault})
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestList_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT.*WHERE\s+kind\s*=\s*\$1`).WithArgs("vault").WillReturnError(errors.New("gone"))

	if _, err := repo.List(context.Background(), models.KindVault); err == nil {
		t.Fatal("expected error")
	}
}
