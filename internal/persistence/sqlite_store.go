package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lht-media/packager/pkg/api"
)

// SQLiteInstanceStore is an InstanceStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteInstanceStore struct {
	db *sql.DB
}

// Ensure SQLiteInstanceStore implements InstanceStore.
var _ InstanceStore = (*SQLiteInstanceStore)(nil)

// NewSQLiteInstanceStore initializes the required schema in the given
// database and returns a new SQLiteInstanceStore.
func NewSQLiteInstanceStore(db *sql.DB) (*SQLiteInstanceStore, error) {
	s := &SQLiteInstanceStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteInstanceStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			status TEXT NOT NULL,
			current_step INTEGER NOT NULL,
			pending_step TEXT NOT NULL DEFAULT '',
			input BLOB,
			state BLOB,
			output BLOB,
			interrupt BLOB,
			error TEXT,
			lease_owner TEXT NOT NULL DEFAULT '',
			lease_until INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0
		);`,
	)
	return err
}

// instanceColumns is the column list shared by all reads, in scan order.
const instanceColumns = `id, workflow_name, status, current_step, pending_step, input, state, output, interrupt, error, started_at, updated_at`

type encodedInstance struct {
	input     []byte
	state     []byte
	output    []byte
	interrupt []byte
	errStr    string
}

func encodeInstance(inst *api.WorkflowInstance) (encodedInstance, error) {
	var enc encodedInstance
	var err error

	if enc.input, err = EncodeValue(inst.Input); err != nil {
		return enc, err
	}
	if enc.state, err = EncodeValue(inst.State); err != nil {
		return enc, err
	}
	if enc.output, err = EncodeValue(inst.Output); err != nil {
		return enc, err
	}
	if enc.interrupt, err = encodeInterrupt(inst.Interrupt); err != nil {
		return enc, err
	}
	if inst.Err != nil {
		enc.errStr = inst.Err.Error()
	}
	return enc, nil
}

func scanInstance(row interface{ Scan(...any) error }) (*api.WorkflowInstance, error) {
	var (
		inst      api.WorkflowInstance
		statusStr string
		input     []byte
		state     []byte
		output    []byte
		interrupt []byte
		errStr    sql.NullString
		startedMs int64
		updatedMs int64
	)

	if err := row.Scan(&inst.ID, &inst.Name, &statusStr, &inst.CurrentStep, &inst.PendingStep,
		&input, &state, &output, &interrupt, &errStr, &startedMs, &updatedMs); err != nil {
		return nil, err
	}

	inst.Status = api.Status(statusStr)

	var err error
	if inst.Input, err = DecodeValue(input); err != nil {
		return nil, err
	}
	if inst.State, err = DecodeValue(state); err != nil {
		return nil, err
	}
	if inst.Output, err = DecodeValue(output); err != nil {
		return nil, err
	}
	if inst.Interrupt, err = decodeInterrupt(interrupt); err != nil {
		return nil, err
	}
	if errStr.Valid && errStr.String != "" {
		inst.Err = errors.New(errStr.String)
	}
	if startedMs > 0 {
		inst.StartedAt = time.UnixMilli(startedMs)
	}
	if updatedMs > 0 {
		inst.UpdatedAt = time.UnixMilli(updatedMs)
	}

	return &inst, nil
}

func (s *SQLiteInstanceStore) SaveInstance(inst *api.WorkflowInstance) error {
	enc, err := encodeInstance(inst)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO instances (id, workflow_name, status, current_step, pending_step, input, state, output, interrupt, error, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (s *SQLiteInstanceStore) UpdateInstance(inst *api.WorkflowInstance) error {
	enc, err := encodeInstance(inst)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE instances
		SET workflow_name = ?, status = ?, current_step = ?, pending_step = ?, input = ?, state = ?, output = ?, interrupt = ?, error = ?, updated_at = ?
		WHERE id = ?`,
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

func (s *SQLiteInstanceStore) GetInstance(id string) (*api.WorkflowInstance, error) {
	row := s.db.QueryRow(`
		SELECT `+instanceColumns+`
		FROM instances
		WHERE id = ?`,
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

func (s *SQLiteInstanceStore) ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM instances`
	var args []any
	var clauses []string

	if filter.WorkflowName != "" {
		clauses = append(clauses, "workflow_name = ?")
		args = append(args, filter.WorkflowName)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
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

func (s *SQLiteInstanceStore) TryAcquireLease(ctx context.Context, instanceID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UnixMilli()
	until := now + ttl.Milliseconds()

	res, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET lease_owner = ?, lease_until = ?
		WHERE id = ? AND (lease_owner = '' OR lease_owner = ? OR lease_until <= ?)`,
		owner, until, instanceID, owner, now,
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

	// Distinguish "leased by someone else" from "no such instance".
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM instances WHERE id = ?`, instanceID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrInstanceNotFound
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteInstanceStore) RenewLease(ctx context.Context, instanceID, owner string, ttl time.Duration) error {
	now := time.Now().UnixMilli()
	until := now + ttl.Milliseconds()

	res, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET lease_until = ?
		WHERE id = ? AND lease_owner = ? AND lease_until > ?`,
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

func (s *SQLiteInstanceStore) ReleaseLease(ctx context.Context, instanceID, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET lease_owner = '', lease_until = 0
		WHERE id = ? AND lease_owner = ?`,
		instanceID, owner,
	)
	return err
}
