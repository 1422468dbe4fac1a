// Package cluster implements CLASP's optional multi-node session directory
// (SPEC_FULL.md §B.1), modeled on the teacher's registry.Registry. A single
// Router Core instance never touches this package: it exists so several
// Router Core processes behind a load balancer can see each other's session
// roster and elect one "scheduler leader" node for firing due Bundles,
// exactly the role the teacher's healthMap/registryMap/poolNode trio plays
// for toolset health in registry.Registry.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/pool"
	"goa.design/pulse/rmap"
)

// Config configures a Directory. Redis is required; an empty Name defaults
// to "clasp".
type Config struct {
	// Redis is the shared Pulse/Redis connection. Nodes sharing Redis and
	// Name form one logical cluster.
	Redis *redis.Client
	// Name derives the directory's Pulse resource names: "<name>:sessions"
	// for the roster map and "<name>" for the pool node.
	Name string
	// SchedulerTickInterval is how often the elected leader's scheduler
	// ticker fires. Defaults to 1ms, matching the default in-process bundle
	// scheduler tolerance (spec §6 bundle_scheduler_tolerance_us).
	SchedulerTickInterval time.Duration
}

// RosterEntry is one session's cross-node-visible summary.
type RosterEntry struct {
	SessionID          string   `json:"session_id"`
	Name               string   `json:"name"`
	SubscribedPrefixes []string `json:"subscribed_prefixes"`
}

// Directory is a joined cluster session roster plus a distributed scheduler
// ticker. Safe for concurrent use; all mutating calls go through Pulse's
// replicated map and pool primitives, which serialize writes at the Redis
// layer.
type Directory struct {
	cfg      Config
	sessions *rmap.Map
	poolNode *pool.Node
}

// Join connects to Redis and joins the named cluster's session roster and
// scheduler pool. The caller must call Close when done.
func Join(ctx context.Context, cfg Config) (*Directory, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("cluster: redis client is required")
	}
	if cfg.Name == "" {
		cfg.Name = "clasp"
	}
	if cfg.SchedulerTickInterval <= 0 {
		cfg.SchedulerTickInterval = time.Millisecond
	}

	sessions, err := rmap.Join(ctx, cfg.Name+":sessions", cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("cluster: join session roster: %w", err)
	}

	node, err := pool.AddNode(ctx, cfg.Name, cfg.Redis)
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("cluster: add pool node: %w", err)
	}

	return &Directory{cfg: cfg, sessions: sessions, poolNode: node}, nil
}

// RegisterSession publishes a session's roster entry to every node in the
// cluster. Call on session Active transition; call UnregisterSession on
// disconnect.
func (d *Directory) RegisterSession(ctx context.Context, entry RosterEntry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cluster: encode roster entry: %w", err)
	}
	if _, err := d.sessions.Set(ctx, entry.SessionID, string(encoded)); err != nil {
		return fmt.Errorf("cluster: publish roster entry: %w", err)
	}
	return nil
}

// UnregisterSession removes a session's roster entry.
func (d *Directory) UnregisterSession(ctx context.Context, sessionID string) error {
	if _, err := d.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("cluster: remove roster entry: %w", err)
	}
	return nil
}

// Roster returns every session currently registered cluster-wide, across
// every Router Core node sharing this Directory's Redis and Name.
func (d *Directory) Roster() []RosterEntry {
	keys := d.sessions.Keys()
	out := make([]RosterEntry, 0, len(keys))
	for _, k := range keys {
		raw, ok := d.sessions.Get(k)
		if !ok {
			continue
		}
		var entry RosterEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// RunSchedulerLeader runs onTick on a Pulse distributed ticker: only the
// node holding the ticker's lease fires at any given moment, so a multi-node
// deployment still has exactly one node driving Bundle deadlines even though
// every node's State Store and Subscription Index are otherwise independent
// per process. Blocks until ctx is cancelled.
func (d *Directory) RunSchedulerLeader(ctx context.Context, onTick func(nowUS uint64)) error {
	ticker, err := d.poolNode.NewTicker(ctx, d.cfg.Name+":scheduler", d.cfg.SchedulerTickInterval)
	if err != nil {
		return fmt.Errorf("cluster: start scheduler ticker: %w", err)
	}
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ticker.C:
			if !ok {
				return nil
			}
			onTick(uint64(time.Now().UnixMicro()))
		}
	}
}

// Close releases the roster map and pool node. It does not close the shared
// Redis client, which the caller owns.
func (d *Directory) Close(ctx context.Context) error {
	var err error
	if d.poolNode != nil {
		if cerr := d.poolNode.Close(ctx); cerr != nil {
			err = cerr
		}
	}
	if d.sessions != nil {
		d.sessions.Close()
	}
	return err
}
