package lock

import (
	"context"
	"crypto/sha1" //nolint:gosec // used only for deterministic subset placement, not for security.
	"encoding/binary"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/darlean-io/darlean-go/pkg/actorerror"
	"github.com/darlean-io/darlean-go/pkg/metrics"
	"github.com/darlean-io/darlean-go/pkg/parallel"
)

// ReplicaClient is how the Service reaches one replica, abstracting over
// whether the replica is local (in-process, used heavily in tests) or
// remote (RemoteReplicaClient, which invokes the replica's application
// directly over a transport.Transport, not through pkg/portal).
type ReplicaClient interface {
	Acquire(ctx context.Context, id, requester, acquireID string, ttl time.Duration) (AcquireResult, error)
	Release(ctx context.Context, id, requester, acquireID string) error
	Holder(ctx context.Context, id string) (string, bool, error)
}

// Service is the quorum acquire/release client described in spec §4.4. It
// is constructed once per process with the full ordered list of replica
// applications and the desired redundancy (subset size, typically an odd
// number such as 3).
type Service struct {
	replicas   []string
	clients    map[string]ReplicaClient
	redundancy int
}

// NewService constructs a Service over the given ordered list of replica
// application names and their clients, using the given redundancy (subset
// size). redundancy is clamped to len(replicas) if larger.
func NewService(replicas []string, clients map[string]ReplicaClient, redundancy int) *Service {
	if redundancy <= 0 || redundancy > len(replicas) {
		redundancy = len(replicas)
	}
	return &Service{replicas: replicas, clients: clients, redundancy: redundancy}
}

// subset deterministically picks s.redundancy consecutive replicas (wrapping
// around) starting at an offset derived from hashing id, per spec §4.4
// step 1: "hashing the id (SHA-1 of length-prefixed parts, mod replicas) to
// pick a starting offset, then walking consecutive replicas".
func (s *Service) subset(idParts []string) []string {
	n := len(s.replicas)
	if n == 0 {
		return nil
	}
	h := sha1.New() //nolint:gosec
	for _, p := range idParts {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p)))
		h.Write(lenBuf[:])
		h.Write([]byte(p))
	}
	sum := h.Sum(nil)
	offset := int(binary.BigEndian.Uint64(sum[:8]) % uint64(n))

	k := s.redundancy
	if k > n {
		k = n
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = s.replicas[(offset+i)%n]
	}
	return out
}

// quorum is ceil(n/2 + 1/4) per spec §4.4 step 4.
func quorum(n int) int {
	return int(math.Ceil(float64(n)/2 + 0.25))
}

// AcquireOptions configures one Acquire call.
type AcquireOptions struct {
	TTL time.Duration
}

// AcquireResponse is returned by Acquire on success.
type AcquireResponse struct {
	AcquireID string
	Duration  time.Duration
}

// Acquire runs the full protocol of spec §4.4: fan out acquire to the id's
// subset, and if a quorum of replicas grant the lease to the same holder,
// the lock is considered taken and the minimum granted duration is
// returned. Otherwise already-granted replicas are released and
// ACTOR_LOCK_FAILED is returned carrying the holders actually observed.
func (s *Service) Acquire(ctx context.Context, idParts []string, requester string, opts AcquireOptions) (*AcquireResponse, *actorerror.ActionError) {
	start := time.Now()
	defer func() { metrics.LockAcquireDurations.Observe(time.Since(start).Seconds()) }()

	subset := s.subset(idParts)
	if len(subset) == 0 {
		return nil, actorerror.New(actorerror.CodeActorLockFailed, "No lock replicas configured", nil)
	}
	acquireID := uuid.NewString()

	type outcome struct {
		app    string
		res    AcquireResult
		err    error
	}
	tasks := make([]parallel.Task[outcome], len(subset))
	for i, app := range subset {
		app := app
		tasks[i] = func(ctx context.Context) (outcome, error) {
			client, ok := s.clients[app]
			if !ok {
				return outcome{app: app, err: errUnknownReplica}, nil
			}
			res, err := client.Acquire(ctx, encodeID(idParts), requester, acquireID, opts.TTL)
			return outcome{app: app, res: res, err: err}, nil
		}
	}
	results := parallel.Run(ctx, int64(len(tasks)), tasks)

	var (
		grantedApps   []string
		minDuration   = opts.TTL
		grantedHolders = map[string]struct{}{}
		allHolders     = map[string]struct{}{}
	)
	for _, r := range results {
		if r.Err != nil || r.Value.err != nil {
			continue
		}
		o := r.Value
		if o.res.Granted {
			grantedApps = append(grantedApps, o.app)
			if o.res.Duration < minDuration {
				minDuration = o.res.Duration
			}
			grantedHolders[o.res.Holder] = struct{}{}
			allHolders[o.res.Holder] = struct{}{}
		} else if o.res.Holder != "" {
			allHolders[o.res.Holder] = struct{}{}
		}
	}

	// Spec §4.4 step 4: a quorum of grants that all agree on a single
	// holder. Disagreement among the non-granting replicas' reported
	// holders does not by itself sink an otherwise-valid quorum.
	need := quorum(len(subset))
	if len(grantedApps) >= need && len(grantedHolders) == 1 {
		if _, ok := grantedHolders[requester]; ok {
			return &AcquireResponse{AcquireID: acquireID, Duration: minDuration}, nil
		}
	}

	// Did not reach quorum (or quorum reached but disagreed on holder):
	// undo any partial grants.
	s.releaseAll(context.Background(), subset, idParts, requester, acquireID)

	observed := make([]string, 0, len(allHolders))
	for h := range allHolders {
		observed = append(observed, h)
	}
	err := actorerror.New(actorerror.CodeActorLockFailed, "Failed to acquire lock for [id]: observed holders [holders]",
		map[string]any{"id": encodeID(idParts), "holders": observed})
	return nil, err
}

// Release asks every replica in id's subset to release requester's lease,
// per spec §4.4.
func (s *Service) Release(ctx context.Context, idParts []string, requester, acquireID string) {
	s.releaseAll(ctx, s.subset(idParts), idParts, requester, acquireID)
}

func (s *Service) releaseAll(ctx context.Context, subset []string, idParts []string, requester, acquireID string) {
	tasks := make([]parallel.Task[struct{}], len(subset))
	for i, app := range subset {
		app := app
		tasks[i] = func(ctx context.Context) (struct{}, error) {
			client, ok := s.clients[app]
			if !ok {
				return struct{}{}, nil
			}
			_ = client.Release(ctx, encodeID(idParts), requester, acquireID)
			return struct{}{}, nil
		}
	}
	parallel.Run(ctx, int64(len(tasks)), tasks)
}

// GetLockHolders runs the same subset selection and reports the union of
// currently live holders; callers treat the first element as authoritative
// when the actor is singular, per spec §4.4.
func (s *Service) GetLockHolders(ctx context.Context, idParts []string) []string {
	subset := s.subset(idParts)
	type outcome struct {
		holder string
		ok     bool
	}
	tasks := make([]parallel.Task[outcome], len(subset))
	for i, app := range subset {
		app := app
		tasks[i] = func(ctx context.Context) (outcome, error) {
			client, ok := s.clients[app]
			if !ok {
				return outcome{}, nil
			}
			h, ok, _ := client.Holder(ctx, encodeID(idParts))
			return outcome{holder: h, ok: ok}, nil
		}
	}
	results := parallel.Run(ctx, int64(len(tasks)), tasks)
	seen := map[string]struct{}{}
	var out []string
	for _, r := range results {
		if r.Err != nil || !r.Value.ok || r.Value.holder == "" {
			continue
		}
		if _, dup := seen[r.Value.holder]; dup {
			continue
		}
		seen[r.Value.holder] = struct{}{}
		out = append(out, r.Value.holder)
	}
	return out
}

func encodeID(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}

var errUnknownReplica = actorerror.New(actorerror.CodeActorLockFailed, "Unknown lock replica application", nil)
