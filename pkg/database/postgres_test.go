package database

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mentor-trust-api/pkg/config"
)

func TestDSNEscapesCredentials(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "trust", Password: "p@ss word", Name: "mentor_admin", SSLMode: "disable"})

	assert.Equal(t, "postgres://trust:p%40ss%20word@db:5432/mentor_admin?application_name=mentor-trust-api&sslmode=disable", dsn)
}

func TestReadyRequiresLedgerHead(t *testing.T) {
	raw, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer raw.Close()
	db := sqlx.NewDb(raw, "sqlmock")

	mock.ExpectPing()
	mock.ExpectQuery("SELECT last_sequence FROM audit_ledger_head").WillReturnRows(sqlmock.NewRows([]string{"last_sequence"}).AddRow(12))
	require.NoError(t, Ready(context.Background(), db))

	mock.ExpectPing()
	mock.ExpectQuery("SELECT last_sequence FROM audit_ledger_head").WillReturnError(sql.ErrNoRows)
	assert.EqualError(t, Ready(context.Background(), db), "audit ledger head missing: run migrations")

	require.NoError(t, mock.ExpectationsWereMet())
}
