package downloader

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
)

// GenerateInstanceID returns a unique string for this process (hostname+pid+random).
// It tags journal rows so a restarted service can tell its own files apart
// from those left by a previous run.
func GenerateInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}

	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)

	return host + "-" + strconv.Itoa(os.Getpid()) + "-" + hex.EncodeToString(rnd)
}
