package util

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a new ULID string. Ids from one process sort by generation order.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// IDFrom derives a ULID from t and key. Equal inputs give equal ids.
func IDFrom(t time.Time, key string) string {
	var ms uint64
	if t.After(time.Unix(0, 0)) {
		ms = ulid.Timestamp(t)
	}
	sum := sha256.Sum256([]byte(key))
	return ulid.MustNew(ms, bytes.NewReader(sum[:10])).String()
}
