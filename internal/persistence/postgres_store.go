package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lht-media/packager/pkg/api"
)

// PostgresInstanceStore is an InstanceStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver. The caller is
// responsible for importing the driver for its side effects, e.g.:
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
//
// and providing a DSN via sql.Open.
type PostgresInstanceStore struct {
	db *sql.DB
}

// Ensure PostgresInstanceStore implements InstanceStore.
var _ InstanceStore = (*PostgresInstanceStore)(nil)

// NewPostgresInstanceStore initializes the required schema in the given
// database and returns a new PostgresInstanceStore.
func NewPostgresInstanceStore(db *sql.DB) (*PostgresInstanceStore, error) {
	s := &PostgresInstanceStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresInstanceStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			status TEXT NOT NULL,
			current_step INTEGER NOT NULL,
			pending_step TEXT NOT NULL DEFAULT '',
			input BYTEA,
			state BYTEA,
			output BYTEA,
			interrupt BYTEA,
			error TEXT,
			lease_owner TEXT NOT NULL DEFAULT '',
			lease_until BIGINT NOT NULL DEFAULT 0,
			started_at BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL DEFAULT 0
		);
	`)
	return err
}

func (s *PostgresInstanceStore) SaveInstance(inst *api.WorkflowInstance) error {
	enc, err := encodeInstance(inst)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO instances (id, workflow_name, status, current_step, pending_step, input, state, output, interrupt, error, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		inst.ID,
		inst.Name,
		string(inst.Status),
		inst.CurrentStep,
		inst.PendingStep,
		enc.input,
		enc.state,
		enc.output,
		enc.interrupt,
		enc.errStr,
		inst.StartedAt.UnixMilli(),
		time.Now().UnixMilli(),
	)
	return err
}

func (s *PostgresInstanceStore) UpdateInstance(inst *api.WorkflowInstance) error {
	enc, err := encodeInstance(inst)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE instances
		SET workflow_name = $1, status = $2, current_step = $3, pending_step = $4, input = $5, state = $6, output = $7, interrupt = $8, error = $9, updated_at = $10
		WHERE id = $11`,
		inst.Name,
		string(inst.Status),
		inst.CurrentStep,
		inst.PendingStep,
		enc.input,
		enc.state,
		enc.output,
		enc.interrupt,
		enc.errStr,
		time.Now().UnixMilli(),
		inst.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInstanceNotFound
	}

	return nil
}

func (s *PostgresInstanceStore) GetInstance(id string) (*api.WorkflowInstance, error) {
	row := s.db.QueryRow(`
		SELECT `+instanceColumns+`
		FROM instances
		WHERE id = $1`,
		id,
	)

	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return inst, nil
}

func (s *PostgresInstanceStore) ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM instances`
	var args []any
	var clauses []string

	if filter.WorkflowName != "" {
		args = append(args, filter.WorkflowName)
		clauses = append(clauses, fmt.Sprintf("workflow_name = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.WorkflowInstance

	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return instances, nil
}

func (s *PostgresInstanceStore) TryAcquireLease(ctx context.Context, instanceID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UnixMilli()
	until := now + ttl.Milliseconds()

	res, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET lease_owner = $1, lease_until = $2
		WHERE id = $3 AND (lease_owner = '' OR lease_owner = $1 OR lease_until <= $4)`,
		owner, until, instanceID, now,
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM instances WHERE id = $1`, instanceID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrInstanceNotFound
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresInstanceStore) RenewLease(ctx context.Context, instanceID, owner string, ttl time.Duration) error {
	now := time.Now().UnixMilli()
	until := now + ttl.Milliseconds()

	res, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET lease_until = $1
		WHERE id = $2 AND lease_owner = $3 AND lease_until > $4`,
		until, instanceID, owner, now,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrLeaseNotHeld
	}
	return nil
}

func (s *PostgresInstanceStore) ReleaseLease(ctx context.Context, instanceID, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET lease_owner = '', lease_until = 0
		WHERE id = $1 AND lease_owner = $2`,
		instanceID, owner,
	)
	return err
}
