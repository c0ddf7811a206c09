// Package database creates tenant databases through an administrative
// PostgreSQL connection.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"

	"github.com/lib/pq"

	"github.com/arcweb/provisioner/config"
	"github.com/arcweb/provisioner/tenant"
)

// AdminDatabase is the maintenance database every cluster has.
const AdminDatabase = "postgres"

// Ensurer guarantees tenant databases exist.
type Ensurer struct {
	conn config.Database
	log  *slog.Logger
	open func(dsn string) (*sql.DB, error)
}

// NewEnsurer returns an Ensurer that connects with conn.
func NewEnsurer(conn config.Database) *Ensurer {
	return &Ensurer{
		conn: conn,
		log:  slog.Default().With("component", "database"),
		open: func(dsn string) (*sql.DB, error) { return sql.Open("postgres", dsn) },
	}
}

// EnsureDatabase creates the tenant's database owned by the configured user
// unless a database with exactly that name exists. It returns the database
// name. The admin connection is closed before returning.
func (e *Ensurer) EnsureDatabase(ctx context.Context, spec tenant.Spec) (name string, err error) {
	name = spec.Name()

	db, err := e.open(AdminDSN(e.conn))
	if err != nil {
		return "", &ProvisioningError{Database: name, Op: "open", Err: err}
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = &ProvisioningError{Database: name, Op: "close", Err: cerr}
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return "", &ProvisioningError{Database: name, Op: "connect", Err: err}
	}

	exists, err := databaseExists(ctx, db, name)
	if err != nil {
		return "", &ProvisioningError{Database: name, Op: "lookup", Err: err}
	}
	if exists {
		e.log.Info("database already exists", "database", name)
		return name, nil
	}

	stmt, err := CreateStatement(name, e.conn.User)
	if err != nil {
		return "", &ProvisioningError{Database: name, Op: "validate", Err: err}
	}

	e.log.Info("creating database", "database", name, "owner", e.conn.User)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return "", &ProvisioningError{Database: name, Op: "create", Err: err}
	}
	return name, nil
}

func databaseExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateStatement builds the CREATE DATABASE statement. Both identifiers must
// pass tenant.ValidateIdentifier and are quoted.
func CreateStatement(name, owner string) (string, error) {
	if err := tenant.ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("database name: %w", err)
	}
	if err := tenant.ValidateIdentifier(owner); err != nil {
		return "", fmt.Errorf("owner: %w", err)
	}
	return "CREATE DATABASE " + pq.QuoteIdentifier(name) + " OWNER " + pq.QuoteIdentifier(owner), nil
}

// AdminDSN returns the lib/pq URL of the administrative database.
func AdminDSN(conn config.Database) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(conn.User, conn.Password),
		Host:   net.JoinHostPort(conn.Host, conn.Port),
		Path:   "/" + AdminDatabase,
	}
	if conn.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {conn.SSLMode}}.Encode()
	}
	return u.String()
}

// ProvisioningError wraps every failure of the ensure-database step.
type ProvisioningError struct {
	Database string
	Op       string
	Err      error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("ensure database %s: %s: %v", e.Database, e.Op, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}
