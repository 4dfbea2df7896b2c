// README: Ride token issuance for dispatched groups.
package token

import (
	"fmt"

	"github.com/google/uuid"

	"ridepool/internal/types"
)

// Issue returns an opaque ride token for a dispatched group. The token is
// rendered as a QR code by the client layer; the core only treats it as a
// unique string.
func Issue(groupID types.ID) string {
	return fmt.Sprintf("RQ-%s-%s", groupID, uuid.NewString())
}
