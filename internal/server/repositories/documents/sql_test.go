package documents

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
)

var ns = models.Namespace{UserDID: "did:u", AppDID: "did:a"}

func newRepoWithMock(t *testing.T) (*SQLRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewSQLRepository(db), mock, db
}

func TestCreateCollection(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+collections\s*\(user_did,\s*app_did,\s*name,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4\)\s*ON\s+CONFLICT.*DO\s+NOTHING$`

	mock.ExpectExec(q).WithArgs("did:u", "did:a", "groups", int64(100)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("did:u", "did:a", "groups", int64(100)).WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.CreateCollection(context.Background(), ns, "groups", 100)
	if err != nil || !created {
		t.Fatalf("first create = %v, %v", created, err)
	}
	created, err = repo.CreateCollection(context.Background(), ns, "groups", 100)
	if err != nil || created {
		t.Fatalf("second create = %v, %v", created, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDropCollection_DeletesDocumentsFirst(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+documents\s+WHERE\s+user_did\s*=\s*\$1\s+AND\s+app_did\s*=\s*\$2\s+AND\s+collection\s*=\s*\$3$`).
		WithArgs("did:u", "did:a", "groups").WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+collections\s+WHERE.*name\s*=\s*\$3$`).
		WithArgs("did:u", "did:a", "groups").WillReturnResult(sqlmock.NewResult(0, 1))

	dropped, err := repo.DropCollection(context.Background(), ns, "groups")
	if err != nil || !dropped {
		t.Fatalf("DropCollection = %v, %v", dropped, err)
	}
}

func TestScan_ReturnsRowsInOrder(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"doc_id", "body"}).
		AddRow("1", `{"_id":"1"}`).
		AddRow("2", `{"_id":"2"}`)
	mock.ExpectQuery(`(?s)^SELECT\s+doc_id,\s*body\s+FROM\s+documents.*ORDER\s+BY\s+seq$`).
		WithArgs("did:u", "did:a", "groups").WillReturnRows(rows)

	docs, err := repo.Scan(context.Background(), ns, "groups")
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "1" || string(docs[1].Body) != `{"_id":"2"}` {
		t.Fatalf("unexpected docs: %+v", docs)
	}
}

func TestInsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+documents`).
		WithArgs("did:u", "did:a", "groups", "1", `{}`).
		WillReturnError(errors.New("disk full"))

	err := repo.Insert(context.Background(), ns, "groups", []Document{{ID: "1", Body: []byte(`{}`)}})
	if err == nil || !regexp.MustCompile(`db error: .*disk full`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestSize(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+COALESCE\(SUM\(octet_length\(body\)\),\s*0\)\s+FROM\s+documents\s+WHERE\s+user_did\s*=\s*\$1$`).
		WithArgs("did:u").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(42)))

	n, err := repo.Size(context.Background(), "did:u")
	if err != nil || n != 42 {
		t.Fatalf("Size = %d, %v", n, err)
	}
}

func TestListNamespaces(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+DISTINCT\s+user_did,\s*app_did\s+FROM\s+collections`).
		WillReturnRows(sqlmock.NewRows([]string{"user_did", "app_did"}).AddRow("u1", "a1").AddRow("u2", "a1"))

	got, err := repo.ListNamespaces(context.Background())
	if err != nil {
		t.Fatalf("ListNamespaces error: %v", err)
	}
	if len(got) != 2 || got[1].UserDID != "u2" {
		t.Fatalf("unexpected namespaces: %+v", got)
	}
}

func TestRemove_ReportsExistence(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+documents.*doc_id\s*=\s*\$4$`).
		WithArgs("did:u", "did:a", "groups", "x").WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Remove(context.Background(), ns, "groups", "x")
	if err != nil || ok {
		t.Fatalf("Remove = %v, %v", ok, err)
	}
}
