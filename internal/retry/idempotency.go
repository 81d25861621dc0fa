package retry

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewIdempotencyKey generates a client order ID for one logical order
// intent. The same key is reused for every retry attempt of that
// intent; a new intent always gets a fresh key. This is the sole
// mechanism preventing duplicate order placement under retry.
//
// Format: robo_<unix-ms>_<uuid8>_<symbol>_<side>
func NewIdempotencyKey(symbol, side string) string {
	ms := time.Now().UnixMilli()
	short := uuid.NewString()[:8]
	return fmt.Sprintf("robo_%d_%s_%s_%s",
		ms, short, cleanSymbol(symbol), strings.ToLower(side))
}

// cleanSymbol strips non-alphanumeric characters so the key stays
// valid across exchange client-order-id rules.
func cleanSymbol(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return strings.ToLower(b.String())
}
