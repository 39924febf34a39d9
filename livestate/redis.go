package livestate

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/olenive/petrivelte/store"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func workerKey(id string) string { return "petrivelte:worker:" + id }
func netKey(id string) string    { return "petrivelte:net:" + id }

func ownerWorkersKey(owner string) string { return "petrivelte:owner:" + owner + ":workers" }
func ownerNetsKey(owner string) string    { return "petrivelte:owner:" + owner + ":nets" }

const allOwnersKey = "petrivelte:owners"

func (r *RedisStore) SetWorker(ctx context.Context, w *store.Worker) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, workerKey(w.ID), data, 0)
	pipe.SAdd(ctx, ownerWorkersKey(w.Owner), w.ID)
	pipe.SAdd(ctx, allOwnersKey, w.Owner)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetWorker(ctx context.Context, id string) (*store.Worker, error) {
	data, err := r.client.Get(ctx, workerKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var w store.Worker
	return &w, json.Unmarshal(data, &w)
}

func (r *RedisStore) RemoveWorker(ctx context.Context, id, owner string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, workerKey(id))
	pipe.SRem(ctx, ownerWorkersKey(owner), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) SetNet(ctx context.Context, n *store.Net) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, netKey(n.ID), data, 0)
	pipe.SAdd(ctx, ownerNetsKey(n.Owner), n.ID)
	pipe.SAdd(ctx, allOwnersKey, n.Owner)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetNet(ctx context.Context, id string) (*store.Net, error) {
	data, err := r.client.Get(ctx, netKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var n store.Net
	return &n, json.Unmarshal(data, &n)
}

func (r *RedisStore) RemoveNet(ctx context.Context, id, owner string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, netKey(id))
	pipe.SRem(ctx, ownerNetsKey(owner), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) WorkerIDs(ctx context.Context, owner string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, ownerWorkersKey(owner)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return ids, err
}

func (r *RedisStore) NetIDs(ctx context.Context, owner string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, ownerNetsKey(owner)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return ids, err
}

// FlushAll clears every cached entity. Used before a full resync.
func (r *RedisStore) FlushAll(ctx context.Context) error {
	owners, err := r.client.SMembers(ctx, allOwnersKey).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	for _, owner := range owners {
		workerIDs, _ := r.WorkerIDs(ctx, owner)
		for _, id := range workerIDs {
			r.client.Del(ctx, workerKey(id))
		}
		netIDs, _ := r.NetIDs(ctx, owner)
		for _, id := range netIDs {
			r.client.Del(ctx, netKey(id))
		}
		r.client.Del(ctx, ownerWorkersKey(owner), ownerNetsKey(owner))
	}
	return r.client.Del(ctx, allOwnersKey).Err()
}
