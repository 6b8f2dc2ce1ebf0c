package files

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/google/go-cmp/cmp"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var fileColumns = []string{
	"sharing_group_id", "file_id", "file_group_id", "user_id", "device_id", "version", "mime_type",
	"checksum", "change_resolver_name", "app_meta_data", "app_meta_data_version", "deleted", "size", "created_at", "updated_at",
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+files\b.*VALUES`).
		WithArgs("sg", "f1", nil, "u1", "d1", int64(0), "text/plain",
			"abc", "CommentFile", nil, int64(0), false, int64(5), now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.FileRecord{
		SharingGroupID:     "sg",
		FileID:             "f1",
		UserID:             "u1",
		DeviceID:           "d1",
		MimeType:           "text/plain",
		Checksum:           "abc",
		ChangeResolverName: "CommentFile",
		Size:               5,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+files\b`).WillReturnError(errors.New("boom"))

	err := repo.Create(context.Background(), &models.FileRecord{SharingGroupID: "sg", FileID: "f1"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestLookup_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := sqlmock.NewRows(fileColumns).
		AddRow("sg", "f1", "g1", "u1", "d1", int64(3), "text/plain", "abc", "CommentFile", "meta", int64(2), false, int64(10), now, now)
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+files\s+WHERE\s+sharing_group_id=\$1\s+AND\s+file_id=\$2$`).
		WithArgs("sg", "f1").
		WillReturnRows(rows)

	got, err := repo.Lookup(context.Background(), "sg", "f1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &models.FileRecord{
		SharingGroupID:     "sg",
		FileID:             "f1",
		FileGroupID:        "g1",
		UserID:             "u1",
		DeviceID:           "d1",
		Version:            3,
		MimeType:           "text/plain",
		Checksum:           "abc",
		ChangeResolverName: "CommentFile",
		AppMetaData:        "meta",
		AppMetaDataVersion: 2,
		Size:               10,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestLookup_NullGroupAndMeta(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(fileColumns).
		AddRow("sg", "f1", nil, "u1", "d1", int64(0), "text/plain", "abc", "AppendLines", nil, int64(0), true, int64(1), now, now)
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+files\s+WHERE`).WithArgs("sg", "f1").WillReturnRows(rows)

	got, err := repo.Lookup(context.Background(), "sg", "f1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.HasFileGroup() || got.AppMetaData != "" || !got.Deleted {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestLookup_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+files\s+WHERE`).
		WithArgs("sg", "missing").
		WillReturnRows(sqlmock.NewRows(fileColumns))

	_, err := repo.Lookup(context.Background(), "sg", "missing")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestLookupByFileGroup(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(fileColumns).
		AddRow("sg", "a", "g1", "u1", "d1", int64(1), "m", "c1", "R", nil, int64(0), false, int64(1), now, now).
		AddRow("sg", "b", "g1", "u1", "d1", int64(2), "m", "c2", "R", nil, int64(0), false, int64(2), now, now)
	mock.ExpectQuery(`(?s)^SELECT\s+.*FROM\s+files\s+WHERE\s+sharing_group_id=\$1\s+AND\s+file_group_id=\$2\s+ORDER\s+BY\s+file_id$`).
		WithArgs("sg", "g1").
		WillReturnRows(rows)

	got, err := repo.LookupByFileGroup(context.Background(), "sg", "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].FileID != "a" || got[1].Version != 2 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestLookupByFileGroup_QueryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT`).WillReturnError(errors.New("boom"))

	if _, err := repo.LookupByFileGroup(context.Background(), "sg", "g1"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestUpdateVersion(t *testing.T) {
	tests := []struct {
		name    string
		result  driverResult
		execErr error
		wantErr error
		anyErr  bool
	}{
		{name: "updated", result: driverResult{rows: 1}},
		{name: "stale version", result: driverResult{rows: 0}, wantErr: common.ErrVersionConflict},
		{name: "db error", execErr: errors.New("boom"), anyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newRepoWithMock(t)
			defer db.Close()

			exp := mock.ExpectExec(`(?s)^\s*UPDATE\s+files\s+SET\b.*WHERE\s+sharing_group_id=\$10\s+AND\s+file_id=\$11\s+AND\s+version=\$12$`).
				WithArgs(int64(4), "sum", int64(9), "d2", "text/plain", nil, int64(0), false, sqlmock.AnyArg(), "sg", "f1", int64(3))
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, tt.result.rows))
			}

			err := repo.UpdateVersion(context.Background(), &models.FileRecord{
				SharingGroupID: "sg",
				FileID:         "f1",
				Version:        4,
				Checksum:       "sum",
				Size:           9,
				DeviceID:       "d2",
				MimeType:       "text/plain",
				UpdatedAt:      time.Now(),
			}, 3)

			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("want %v, got %v", tt.wantErr, err)
				}
			case tt.anyErr:
				if err == nil {
					t.Fatalf("expected error")
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

type driverResult struct {
	rows int64
}

func TestMarkDeleted(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec(`^UPDATE\s+files\s+SET\s+deleted=TRUE`).
		WithArgs(at, "sg", "f1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkDeleted(context.Background(), "sg", "f1", at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMarkDeleted_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`^UPDATE\s+files\s+SET\s+deleted=TRUE`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkDeleted(context.Background(), "sg", "f1", time.Now())
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}
