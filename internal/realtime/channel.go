package realtime

import "fmt"

// AuthChannel is the fixed global channel for auth broadcasts.
const AuthChannel = "auth:broadcast"

// ConversationChannel returns the channel carrying conversation events
// for a company scope.
func ConversationChannel(companyID string) string {
	return fmt.Sprintf("company:%s:conversations", companyID)
}
