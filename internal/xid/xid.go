package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// OrderNumber returns a short human-readable order number, e.g. BLJ-20260828-3F91A2.
// Uniqueness is enforced by the orders.number unique index, not here.
func OrderNumber(at time.Time) string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("BLJ-%s-%d", at.UTC().Format("20060102"), at.UnixNano()%1000000)
	}
	return fmt.Sprintf("BLJ-%s-%s", at.UTC().Format("20060102"), strings.ToUpper(hex.EncodeToString(buf)))
}
