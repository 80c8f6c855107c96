package messaging

import "time"

// Collections a ChangeEvent can refer to.
const (
	CollectionUsers      = "users"
	CollectionCompanies  = "companies"
	CollectionAttendance = "attendance"
)

// ChangeEvent is the JSON payload published to the changes queue whenever
// the backend writes a document. For attendance, UID and CompanyID identify
// the query the new record belongs to.
type ChangeEvent struct {
	Collection string    `json:"collection"`
	DocumentID string    `json:"documentId"`
	UID        string    `json:"uid,omitempty"`
	CompanyID  string    `json:"companyId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
