package persistence

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lht-media/packager/pkg/api"
)

// RedisInstanceStore is an InstanceStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>inst:<id>            => gob-encoded redisInstancePayload
//	<prefix>lease:<id>           => current lease owner (with TTL)
//	<prefix>idx:all              => SET of all instance IDs
//	<prefix>idx:wf:<workflow>    => SET of instance IDs for a given workflow
//	<prefix>idx:status:<status>  => SET of instance IDs for a given status
//
// The indexes are best-effort; they are always updated on Save/Update, and
// ListInstances filters by payload so stale index entries are harmless.
type RedisInstanceStore struct {
	client *redis.Client
	prefix string
}

var _ InstanceStore = (*RedisInstanceStore)(nil)

type redisInstancePayload struct {
	ID          string
	Workflow    string
	Status      string
	CurrentStep int
	PendingStep string
	Input       []byte
	State       []byte
	Output      []byte
	Interrupt   []byte
	Error       string
	StartedAt   int64
	UpdatedAt   int64
}

// NewRedisInstanceStore creates a RedisInstanceStore.
// prefix is optional but recommended (e.g. "packager:").
func NewRedisInstanceStore(client *redis.Client, prefix string) *RedisInstanceStore {
	if prefix == "" {
		prefix = "packager:"
	}
	return &RedisInstanceStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisInstanceStore) keyInstance(id string) string {
	return s.prefix + "inst:" + id
}

func (s *RedisInstanceStore) keyLease(id string) string {
	return s.prefix + "lease:" + id
}

func (s *RedisInstanceStore) keyAll() string {
	return s.prefix + "idx:all"
}

func (s *RedisInstanceStore) keyWorkflow(name string) string {
	return s.prefix + "idx:wf:" + name
}

func (s *RedisInstanceStore) keyStatus(status api.Status) string {
	return s.prefix + "idx:status:" + string(status)
}

func encodeRedisPayload(inst *api.WorkflowInstance) ([]byte, error) {
	enc, err := encodeInstance(inst)
	if err != nil {
		return nil, err
	}

	payload := redisInstancePayload{
		ID:          inst.ID,
		Workflow:    inst.Name,
		Status:      string(inst.Status),
		CurrentStep: inst.CurrentStep,
		PendingStep: inst.PendingStep,
		Input:       enc.input,
		State:       enc.state,
		Output:      enc.output,
		Interrupt:   enc.interrupt,
		Error:       enc.errStr,
		StartedAt:   inst.StartedAt.UnixMilli(),
		UpdatedAt:   time.Now().UnixMilli(),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRedisPayload(data []byte) (*api.WorkflowInstance, error) {
	if len(data) == 0 {
		return nil, ErrInstanceNotFound
	}
	var payload redisInstancePayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return nil, err
	}

	inst := &api.WorkflowInstance{
		ID:          payload.ID,
		Name:        payload.Workflow,
		Status:      api.Status(payload.Status),
		CurrentStep: payload.CurrentStep,
		PendingStep: payload.PendingStep,
	}

	var err error
	if inst.Input, err = DecodeValue(payload.Input); err != nil {
		return nil, err
	}
	if inst.State, err = DecodeValue(payload.State); err != nil {
		return nil, err
	}
	if inst.Output, err = DecodeValue(payload.Output); err != nil {
		return nil, err
	}
	if inst.Interrupt, err = decodeInterrupt(payload.Interrupt); err != nil {
		return nil, err
	}
	if payload.Error != "" {
		inst.Err = errors.New(payload.Error)
	}
	if payload.StartedAt > 0 {
		inst.StartedAt = time.UnixMilli(payload.StartedAt)
	}
	if payload.UpdatedAt > 0 {
		inst.UpdatedAt = time.UnixMilli(payload.UpdatedAt)
	}

	return inst, nil
}

func (s *RedisInstanceStore) SaveInstance(inst *api.WorkflowInstance) error {
	ctx := context.Background()

	data, err := encodeRedisPayload(inst)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.keyInstance(inst.ID), data, 0).Err(); err != nil {
		return err
	}

	// Update indexes (best-effort; index failures are not fatal).
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyAll(), inst.ID)
	pipe.SAdd(ctx, s.keyWorkflow(inst.Name), inst.ID)
	pipe.SAdd(ctx, s.keyStatus(inst.Status), inst.ID)
	_, _ = pipe.Exec(ctx)

	return nil
}

func (s *RedisInstanceStore) UpdateInstance(inst *api.WorkflowInstance) error {
	ctx := context.Background()

	// UpdateInstance requires the instance to already exist.
	exists, err := s.client.Exists(ctx, s.keyInstance(inst.ID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrInstanceNotFound
	}

	data, err := encodeRedisPayload(inst)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.keyInstance(inst.ID), data, 0).Err(); err != nil {
		return err
	}

	// Index updates: we just re-add; some stale index entries may remain if
	// workflow name/status changed, but ListInstances filters by payload.
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyAll(), inst.ID)
	pipe.SAdd(ctx, s.keyWorkflow(inst.Name), inst.ID)
	pipe.SAdd(ctx, s.keyStatus(inst.Status), inst.ID)
	_, _ = pipe.Exec(ctx)

	return nil
}

func (s *RedisInstanceStore) GetInstance(id string) (*api.WorkflowInstance, error) {
	ctx := context.Background()

	data, err := s.client.Get(ctx, s.keyInstance(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return decodeRedisPayload(data)
}

func (s *RedisInstanceStore) ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	ctx := context.Background()

	var ids []string
	var err error

	switch {
	case filter.WorkflowName != "" && filter.Status != "":
		ids, err = s.client.SInter(ctx,
			s.keyWorkflow(filter.WorkflowName),
			s.keyStatus(filter.Status),
		).Result()
	case filter.WorkflowName != "":
		ids, err = s.client.SMembers(ctx, s.keyWorkflow(filter.WorkflowName)).Result()
	case filter.Status != "":
		ids, err = s.client.SMembers(ctx, s.keyStatus(filter.Status)).Result()
	default:
		ids, err = s.client.SMembers(ctx, s.keyAll()).Result()
	}

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*api.WorkflowInstance{}, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return []*api.WorkflowInstance{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keyInstance(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var instances []*api.WorkflowInstance
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		inst, err := decodeRedisPayload(data)
		if err != nil {
			return nil, err
		}

		// Stale index entries: re-check the filter against the payload.
		if filter.WorkflowName != "" && inst.Name != filter.WorkflowName {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		instances = append(instances, inst)
	}

	return instances, nil
}

func (s *RedisInstanceStore) TryAcquireLease(ctx context.Context, instanceID, owner string, ttl time.Duration) (bool, error) {
	exists, err := s.client.Exists(ctx, s.keyInstance(instanceID)).Result()
	if err != nil {
		return false, err
	}
	if exists == 0 {
		return false, ErrInstanceNotFound
	}

	ok, err := s.client.SetNX(ctx, s.keyLease(instanceID), owner, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	// Re-entrant: the same owner may refresh its own lease.
	current, err := s.client.Get(ctx, s.keyLease(instanceID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Lease expired between SetNX and Get; try once more.
			return s.client.SetNX(ctx, s.keyLease(instanceID), owner, ttl).Result()
		}
		return false, err
	}
	if current != owner {
		return false, nil
	}

	if err := s.client.Set(ctx, s.keyLease(instanceID), owner, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisInstanceStore) RenewLease(ctx context.Context, instanceID, owner string, ttl time.Duration) error {
	current, err := s.client.Get(ctx, s.keyLease(instanceID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrLeaseNotHeld
		}
		return err
	}
	if current != owner {
		return ErrLeaseNotHeld
	}
	return s.client.Set(ctx, s.keyLease(instanceID), owner, ttl).Err()
}

func (s *RedisInstanceStore) ReleaseLease(ctx context.Context, instanceID, owner string) error {
	current, err := s.client.Get(ctx, s.keyLease(instanceID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	if current != owner {
		return nil
	}
	return s.client.Del(ctx, s.keyLease(instanceID)).Err()
}
