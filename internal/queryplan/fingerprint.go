package queryplan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/domain"
)

// Fingerprint derives the cache key for one page of one plan executed by one
// caller. Two callers with identical plans but different permission surfaces
// get distinct keys; the cursor string is blanked first because the offset it
// decoded to is already part of the canonical plan.
func Fingerprint(id auth.Identity, plan domain.QueryPlan) (string, error) {
	canonical := plan
	canonical.Pagination.Cursor = ""
	payload, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("fingerprint plan: %w", err)
	}
	sum := sha256.New()
	sum.Write([]byte(id.PermissionFingerprint()))
	sum.Write([]byte{'|'})
	sum.Write(payload)
	return hex.EncodeToString(sum.Sum(nil)), nil
}
