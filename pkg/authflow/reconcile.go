package authflow

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/lkarlslund/proxydesk/pkg/backend"
)

// Snapshot records which credential keys existed when a flow started.
type Snapshot struct {
	Keys  map[string]struct{}
	Taken time.Time
}

func NewSnapshot(keys []string, now time.Time) Snapshot {
	s := Snapshot{Keys: make(map[string]struct{}, len(keys)), Taken: now}
	for _, k := range keys {
		s.Keys[k] = struct{}{}
	}
	return s
}

// GroupAssigner is implemented by backends that can move a credential record
// to another auth group.
type GroupAssigner interface {
	UpdateAuthFileGroup(ctx context.Context, id string, groupID int64) error
}

// NewRecords returns the fetched records whose key is not in the snapshot
// and that were created or updated at or after the snapshot time.
//
// Two flows running against the same account at the same time can claim each
// other's records; the backend gives no correlation id to tell them apart.
func NewRecords(snap Snapshot, fetched []backend.CredentialRecord) []backend.CredentialRecord {
	var out []backend.CredentialRecord
	for _, r := range fetched {
		if _, seen := snap.Keys[r.ID]; seen {
			continue
		}
		if !r.CreatedAt.Before(snap.Taken) || !r.UpdatedAt.Before(snap.Taken) {
			out = append(out, r)
		}
	}
	return out
}

// Settled is the outcome of a best-effort batch.
type Settled struct {
	Done   []string
	Failed map[string]error
}

// settleAll runs fn for every key with at most limit in flight and waits for
// all of them. Failures are collected, never returned.
func settleAll(ctx context.Context, limit int, keys []string, fn func(context.Context, string) error) Settled {
	res := Settled{Failed: map[string]error{}}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, key := range keys {
		g.Go(func() error {
			err := fn(gctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[key] = err
			} else {
				res.Done = append(res.Done, key)
			}
			return nil
		})
	}
	_ = g.Wait()
	return res
}

// AssignGroup moves every record not already in groupID into it.
func AssignGroup(ctx context.Context, ga GroupAssigner, records []backend.CredentialRecord, groupID int64, limit int, logger *log.Logger) Settled {
	var ids []string
	for _, r := range records {
		if r.AuthGroupID != groupID {
			ids = append(ids, r.ID)
		}
	}
	res := settleAll(ctx, limit, ids, func(ctx context.Context, id string) error {
		return ga.UpdateAuthFileGroup(ctx, id, groupID)
	})
	for id, err := range res.Failed {
		logger.Warn("assign group to new credential failed", "id", id, "group", groupID, "err", err)
	}
	return res
}
