package orders

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	trackingPrefix      = "TRK"
	trackingSuffixLen   = 6
	maxTrackingAttempts = 5
	base36Alphabet      = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// TrackingGenerator produces a candidate tracking number for the given instant.
type TrackingGenerator func(now time.Time) (string, error)

// NewTrackingNumber returns TRK + base36(unix millis) + 6 random base36
// characters, uppercased.
func NewTrackingNumber(now time.Time) (string, error) {
	suffix := make([]byte, trackingSuffixLen)
	limit := big.NewInt(int64(len(base36Alphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("tracking suffix: %w", err)
		}
		suffix[i] = base36Alphabet[n.Int64()]
	}
	stamp := strconv.FormatInt(now.UnixMilli(), 36)
	return strings.ToUpper(trackingPrefix + stamp + string(suffix)), nil
}
