package chat

import (
	"github.com/example/fleetopia/internal/models"
)

// CanAccess reports whether userID may read or write the conversation
// attached to a cargo offer. Only the two counterparties qualify: the
// offer owner and, once accepted, the accepted transporter.
func CanAccess(userID string, c *models.CargoOffer) bool {
	if userID == "" || c == nil {
		return false
	}
	if userID == c.UserID {
		return true
	}
	return c.AcceptedBy != "" && userID == c.AcceptedBy
}

// CanInitiate reports whether userID may open the conversation with a
// priced offer message. Pre-acceptance any authenticated non-owner may
// bid; post-acceptance the channel closes to the two counterparties.
func CanInitiate(userID string, c *models.CargoOffer) bool {
	if userID == "" || c == nil {
		return false
	}
	if userID == c.UserID {
		return false // owners never bid on their own cargo
	}
	if c.Status.Accepted() {
		return userID == c.AcceptedBy
	}
	return true
}
