// Package cache implements the cache-aside layer in front of acquisition.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/webharvest/harvester/internal/content"
)

// Backend is the uniform get/set-with-expiry contract. A miss is reported via
// the boolean, not an error; errors mean the backend itself misbehaved.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Key derives the deterministic cache key for an acquisition request. Only
// the fields that change the acquired payload participate: target, output
// format, and whether media is materialized.
func Key(platform string, req content.AcquisitionRequest) string {
	shape := fmt.Sprintf("%s|%s|%t", req.Target, req.OutputFormat, req.SaveMedia)
	sum := md5.Sum([]byte(shape))
	return fmt.Sprintf("acquire:%s:%s", platform, hex.EncodeToString(sum[:]))
}
