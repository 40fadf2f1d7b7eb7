package funnel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// MessageID is stable for a (funnel, address, step) triple so transports can
// drop the duplicate produced when an advance fails after a send.
func MessageID(funnelID, email string, stepIndex int, domain string) string {
	if domain == "" {
		domain = "drip.local"
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", funnelID, email, stepIndex)))
	return fmt.Sprintf("<%s.%d.%s@%s>", funnelID, stepIndex, hex.EncodeToString(sum[:8]), domain)
}
