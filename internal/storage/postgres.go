package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/xaenox/rescue-bot/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// PostgresLedger persists dispatch decisions so they outlive a restart.
type PostgresLedger struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresLedger(ctx context.Context, config DatabaseConfig, logger *zap.Logger) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	ledger := &PostgresLedger{db: db, logger: logger}

	if err := ledger.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("Dispatch ledger connected",
		zap.String("host", config.Host),
		zap.String("dbname", config.DBName))
	return ledger, nil
}

func (l *PostgresLedger) initializeSchema(ctx context.Context) error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := l.db.ExecContext(ctx, string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Record(ctx context.Context, d models.Dispatch) error {
	query := `
		INSERT INTO dispatches (id, session_id, category, unit_id, facility_id, facility_name,
			eta_minutes, status, confirmed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := l.db.ExecContext(ctx, query,
		d.ID, d.SessionID, string(d.Category), d.UnitID, d.FacilityID, d.FacilityName,
		d.ETAMinutes, string(d.Status), d.Confirmed, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error recording dispatch: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Update(ctx context.Context, d models.Dispatch) error {
	query := `
		UPDATE dispatches
		SET eta_minutes = $1, status = $2, confirmed = $3, updated_at = $4
		WHERE id = $5`

	result, err := l.db.ExecContext(ctx, query, d.ETAMinutes, string(d.Status), d.Confirmed, d.UpdatedAt, d.ID)
	if err != nil {
		return fmt.Errorf("error updating dispatch: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDispatchNotFound
	}
	return nil
}

const dispatchColumns = `id, session_id, category, unit_id, facility_id, facility_name,
	eta_minutes, status, confirmed, created_at, updated_at`

func scanDispatch(row interface{ Scan(...any) error }) (models.Dispatch, error) {
	var (
		d            models.Dispatch
		category     string
		status       string
		facilityID   sql.NullString
		facilityName sql.NullString
	)
	err := row.Scan(&d.ID, &d.SessionID, &category, &d.UnitID, &facilityID, &facilityName,
		&d.ETAMinutes, &status, &d.Confirmed, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return models.Dispatch{}, err
	}
	d.Category = models.Category(category)
	d.Status = models.DispatchStatus(status)
	d.FacilityID = facilityID.String
	d.FacilityName = facilityName.String
	return d, nil
}

func (l *PostgresLedger) Get(ctx context.Context, id string) (models.Dispatch, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+dispatchColumns+` FROM dispatches WHERE id = $1`, id)
	d, err := scanDispatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Dispatch{}, ErrDispatchNotFound
	}
	if err != nil {
		return models.Dispatch{}, fmt.Errorf("error querying dispatch: %w", err)
	}
	return d, nil
}

func (l *PostgresLedger) ListBySession(ctx context.Context, sessionID string) ([]models.Dispatch, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+dispatchColumns+` FROM dispatches WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("error querying dispatches: %w", err)
	}
	defer rows.Close()

	var out []models.Dispatch
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning dispatch: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) Close() error {
	return l.db.Close()
}
