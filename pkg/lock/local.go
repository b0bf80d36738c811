package lock

import (
	"context"
	"time"
)

// LocalReplicaClient adapts an in-process *Replica to the ReplicaClient
// interface, used for single-process tests and for the default
// non-clustered run mode where every "replica application" is actually
// this same process.
type LocalReplicaClient struct {
	Replica *Replica
}

func (l *LocalReplicaClient) Acquire(ctx context.Context, id, requester, acquireID string, ttl time.Duration) (AcquireResult, error) {
	return l.Replica.Acquire(id, requester, acquireID, ttl), nil
}

func (l *LocalReplicaClient) Release(ctx context.Context, id, requester, acquireID string) error {
	l.Replica.Release(id, requester, acquireID)
	return nil
}

func (l *LocalReplicaClient) Holder(ctx context.Context, id string) (string, bool, error) {
	h, ok := l.Replica.Holder(id)
	return h, ok, nil
}
