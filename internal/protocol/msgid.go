package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

const (
	// TimeWidth is the number of leading digits of an id holding the unix time.
	TimeWidth = 10
	digestLen = 16
)

// DigestPrefix hashes data with SHA3-256 and renders the first 16 bytes as
// concatenated decimal values.
func DigestPrefix(data []byte) string {
	sum := sha3.Sum256(data)
	var b strings.Builder
	for _, v := range sum[:digestLen] {
		b.WriteString(strconv.Itoa(int(v)))
	}
	return b.String()
}

// MessageID derives the deduplication id GossipSub uses for a payload.
// It embeds the time, so identical payloads published in different seconds
// get different ids.
func MessageID(data []byte, now time.Time) string {
	return fmt.Sprintf("%0*d", TimeWidth, now.Unix()) + DigestPrefix(data)
}

// IDTime returns the unix time encoded in an id.
func IDTime(id string) (int64, error) {
	if len(id) < TimeWidth {
		return 0, fmt.Errorf("message id %q shorter than %d digits", id, TimeWidth)
	}
	ts, err := strconv.ParseInt(id[:TimeWidth], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("message id %q: bad time prefix: %w", id, err)
	}
	return ts, nil
}

// Verification is the result of checking a payload against its id.
type Verification struct {
	OK       bool
	Computed string
	Received string
}

// Verify recomputes the digest of data and compares it with the hash part
// of id. A mismatch means the payload may have been altered; callers warn
// and carry on.
func Verify(data []byte, id string) Verification {
	v := Verification{Computed: DigestPrefix(data)}
	if len(id) >= TimeWidth {
		v.Received = id[TimeWidth:]
	}
	v.OK = v.Received == v.Computed
	return v
}
