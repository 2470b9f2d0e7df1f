package models

import "time"

// Account represents a registered user of the Duet platform. Accounts are
// soft-deleted: DeletedAt is set instead of removing the row, and deletion
// cascades (best-effort) to the account's pairings and sessions.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	MaxPairings  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// AccountUpdate carries the optional fields of a partial profile update.
// Nil pointers mean "leave unchanged".
type AccountUpdate struct {
	Email        *string
	DisplayName  *string
	PasswordHash *string
}

// Pairing statuses.
const (
	PairingStatusPending  = "pending"
	PairingStatusAccepted = "accepted"
	PairingStatusRejected = "rejected"
)

// Pairing links two accounts. A pairing starts pending with a one-time
// partner code and no partner; acceptance binds the partner and clears the
// code in a single conditional update.
type Pairing struct {
	ID          string
	RequesterID string
	PartnerID   *string
	Code        *string
	Status      string
	CreatedAt   time.Time
	RespondedAt *time.Time
	DeletedAt   *time.Time
}

// OtherParty returns the account on the opposite side of the pairing, or ""
// if the pairing has no bound partner yet.
func (p Pairing) OtherParty(accountID string) string {
	if p.RequesterID != accountID {
		return p.RequesterID
	}
	if p.PartnerID != nil {
		return *p.PartnerID
	}
	return ""
}

// Involves reports whether the account is the requester or the partner.
func (p Pairing) Involves(accountID string) bool {
	if p.RequesterID == accountID {
		return true
	}
	return p.PartnerID != nil && *p.PartnerID == accountID
}

// Program is a multi-day plan of conversation steps owned by one account and
// optionally shared through a pairing. Successive programs form a chain via
// PreviousProgramID.
type Program struct {
	ID                string
	OwnerID           string
	PairingID         *string
	SeedText          string
	PreviousProgramID *string
	CreatedAt         time.Time
	DeletedAt         *time.Time
}

// Step is a single day's unit of content within a program. Started flips
// false to true exactly once and never reverts.
type Step struct {
	ID        string
	ProgramID string
	Day       int
	Prompt    string
	Started   bool
	CreatedAt time.Time
}

// Contribution records an account's first touch on a step. The
// (StepID, AccountID) pair is unique; repeated inserts are no-ops.
type Contribution struct {
	StepID        string
	AccountID     string
	ContributedAt time.Time
}

// Message types.
const (
	MessageTypeUser      = "user_message"
	MessageTypeSystem    = "system"
	MessageTypeAssistant = "assistant_response"
)

// MetadataTypeGenerated marks system messages produced by a crossover
// generation call.
const MetadataTypeGenerated = "generated_response"

// MessageMetadata describes structured metadata attached to system messages.
// Sequence runs 1..Total within one generation batch.
type MessageMetadata struct {
	Type     string `json:"type"`
	Sequence int    `json:"sequence"`
	Total    int    `json:"total"`
}

// Message belongs to a step. SenderID is nil for system-authored entries.
type Message struct {
	ID        string
	StepID    string
	SenderID  *string
	Type      string
	Body      string
	Metadata  *MessageMetadata
	CreatedAt time.Time
}

// SessionTokens groups the bearer credentials issued to authenticated users.
type SessionTokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}
