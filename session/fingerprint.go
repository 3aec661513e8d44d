package session

import (
	"crypto/sha256"

	"github.com/jmcleod/ironsession/internal/util"
)

// Fingerprint identifies a credential in logs without revealing it.
func Fingerprint(c Credential) string {
	sum := sha256.Sum256([]byte(c))
	return util.HexEncode(sum[:4])
}
