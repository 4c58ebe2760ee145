// Package cache keeps permission snapshots so that a user's snapshot is fetched once and
// shared across navigations and sessions until logout or expiry.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"reporthub.io/internal/auth"
)

// SnapshotCache stores permission snapshots under a key built by Key.
type SnapshotCache interface {
	Get(ctx context.Context, key string) (*auth.Snapshot, bool, error)
	Put(ctx context.Context, key string, snap *auth.Snapshot, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key names the cache entry of username as seen through credential. Credentials are decoded
// without verifying the signature, so an entry is only reachable with the exact credential the
// backend accepted when it was filled.
func Key(username, credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return username + ":" + hex.EncodeToString(sum[:])
}

// wireSnapshot is the serialized form shared by every backend.
type wireSnapshot struct {
	Organizations []auth.ResourcePermission `json:"organizations"`
	Teams         []auth.ResourcePermission `json:"teams"`
}

func toWire(snap *auth.Snapshot) wireSnapshot {
	orgs, teams := snap.Raw()
	return wireSnapshot{Organizations: orgs, Teams: teams}
}

func fromWire(w wireSnapshot) *auth.Snapshot {
	snap, _ := auth.NewSnapshot(w.Organizations, w.Teams)
	return snap
}
