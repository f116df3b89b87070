package migrate

import (
	"context"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatementsKeepsDollarQuotedBodies(t *testing.T) {
	src := `
-- leading comment; with a semicolon
create table a (id int);
insert into a values (1), (2); -- trailing
create function f() returns trigger as $$
begin
	raise exception 'no; really';
end;
$$ language plpgsql;
select 'it''s; fine';
`
	stmts := splitStatements(src)
	require.Len(t, stmts, 4)
	assert.Contains(t, stmts[0], "create table a")
	assert.True(t, strings.HasPrefix(stmts[1], "insert into a"))
	assert.Contains(t, stmts[2], "raise exception 'no; really';")
	assert.True(t, strings.HasSuffix(stmts[2], "$$ language plpgsql"))
	assert.Equal(t, "select 'it''s; fine'", stmts[3])
}

func TestSplitStatementsNamedDollarTag(t *testing.T) {
	stmts := splitStatements("do $body$ begin perform 1; end $body$; select $1;")
	require.Len(t, stmts, 2)
	assert.Equal(t, "do $body$ begin perform 1; end $body$", stmts[0])
	assert.Equal(t, "select $1", stmts[1])
}

func TestEmbeddedMigrationsAreOrderedAndPaired(t *testing.T) {
	ups, err := collectSQL(Embedded(), migrationsDir, ".up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	downs, err := collectSQL(Embedded(), migrationsDir, ".down.sql")
	require.NoError(t, err)
	require.Len(t, downs, len(ups))
	for i := range ups {
		assert.Equal(t, strings.TrimSuffix(ups[i].Base, ".up.sql"), strings.TrimSuffix(downs[i].Base, ".down.sql"))
		if i > 0 {
			assert.Less(t, ups[i-1].Base, ups[i].Base)
		}
	}

	ledgerSQL, err := fs.ReadFile(Embedded(), "sql/migrations/0003_audit_ledger.up.sql")
	require.NoError(t, err)
	stmts := splitStatements(string(ledgerSQL))
	require.Len(t, stmts, 6)
	assert.Contains(t, stmts[3], "raise exception")
}

func TestCollectSQLMissingDirectory(t *testing.T) {
	files, err := collectSQL(fstest.MapFS{}, "sql/seeds", ".sql")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func testFiles() fstest.MapFS {
	return fstest.MapFS{
		"sql/migrations/0001_a.up.sql":   {Data: []byte("create table a (id int);\ncreate table b (id int);")},
		"sql/migrations/0001_a.down.sql": {Data: []byte("drop table b;\ndrop table a;")},
		"sql/migrations/0002_c.up.sql":   {Data: []byte("create table c (id int);")},
		"sql/migrations/0002_c.down.sql": {Data: []byte("drop table c;")},
	}
}

func expectBookkeeping(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesOnlyPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectBookkeeping(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table c").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_c.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	applied, err := NewManager(db, WithFiles(testFiles())).Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_c.up.sql"}, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectBookkeeping(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql").AddRow("0002_c.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table c").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations").
		WithArgs("0002_c.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	name, err := NewManager(db, WithFiles(testFiles())).Down(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0002_c.up.sql", name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownWithNothingApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectBookkeeping(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	_, err = NewManager(db, WithFiles(testFiles())).Down(context.Background())
	require.EqualError(t, err, "no migrations applied")
}

func TestFailedMigrationRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectBookkeeping(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table b").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	applied, err := NewManager(db, WithFiles(testFiles())).Up(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}
