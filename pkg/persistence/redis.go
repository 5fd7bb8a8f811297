// Package persistence provides the optional caches a node may use
// alongside the in-memory session/handshake state: a Redis-backed peer
// directory (last-known dial address per PeerID) and a Postgres-backed
// scrollback log. Neither is required by the core — both are supplemental
// features named in SPEC_FULL.md's domain-stack expansion, adapted from
// the teacher's discovery-node caching layer.
package persistence

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// PeerRecord is what the directory cache stores per peer: its
// last-seen dial address and verify key fingerprint, enough to retry a
// direct connection without rerunning discovery.
type PeerRecord struct {
	PeerID      string    `json:"peer_id"`
	Address     string    `json:"address"`
	VerifyKeyFP string    `json:"verify_key_fp"`
	LastSeen    time.Time `json:"last_seen"`
}

// RedisCache is a best-effort, TTL'd directory of recently-seen peers.
// Grounded on pkg/persistence/redis.go's client-wrapper shape, narrowed
// from the teacher's discovery/session/challenge caches (all DHT-specific,
// out of spec scope) to the one cache a gossip chat node plausibly wants:
// "who did I last see at what address".
type RedisCache struct {
	client *redis.Client
	ctx    context.Context
	ttl    time.Duration
}

// RedisCacheConfig configures the connection.
type RedisCacheConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisCache dials Redis and verifies connectivity with a PING.
func NewRedisCache(cfg RedisCacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("persistence: connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = time.Hour
	}

	log.Println("[persistence] redis peer directory connected")
	return &RedisCache{client: client, ctx: ctx, ttl: ttl}, nil
}

// RememberPeer caches a peer's last-known address, keyed by PeerID.
func (rc *RedisCache) RememberPeer(rec PeerRecord) error {
	key := peerDirectoryKey(rec.PeerID)
	fields := map[string]interface{}{
		"address":       rec.Address,
		"verify_key_fp": rec.VerifyKeyFP,
		"last_seen":     rec.LastSeen.Unix(),
	}
	if err := rc.client.HSet(rc.ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("persistence: remember peer %s: %w", rec.PeerID, err)
	}
	return rc.client.Expire(rc.ctx, key, rc.ttl).Err()
}

// LookupPeer returns the cached record for peerID, or (PeerRecord{}, false)
// if it is absent or expired.
func (rc *RedisCache) LookupPeer(peerID string) (PeerRecord, bool, error) {
	key := peerDirectoryKey(peerID)
	res, err := rc.client.HGetAll(rc.ctx, key).Result()
	if err != nil {
		return PeerRecord{}, false, fmt.Errorf("persistence: lookup peer %s: %w", peerID, err)
	}
	if len(res) == 0 {
		return PeerRecord{}, false, nil
	}

	var lastSeen time.Time
	if v, ok := res["last_seen"]; ok {
		if unix, err := parseUnix(v); err == nil {
			lastSeen = time.Unix(unix, 0)
		}
	}

	return PeerRecord{
		PeerID:      peerID,
		Address:     res["address"],
		VerifyKeyFP: res["verify_key_fp"],
		LastSeen:    lastSeen,
	}, true, nil
}

// Forget removes a peer from the directory, e.g. after repeated dial
// failures.
func (rc *RedisCache) Forget(peerID string) error {
	return rc.client.Del(rc.ctx, peerDirectoryKey(peerID)).Err()
}

// Close releases the underlying Redis connection pool.
func (rc *RedisCache) Close() error {
	log.Println("[persistence] closing redis peer directory")
	return rc.client.Close()
}

// Health reports whether Redis is reachable.
func (rc *RedisCache) Health() error {
	return rc.client.Ping(rc.ctx).Err()
}

func peerDirectoryKey(peerID string) string {
	return fmt.Sprintf("umbra:peer:%s", peerID)
}

func parseUnix(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}
