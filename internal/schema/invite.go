package schema

import (
	"fmt"
	"time"
)

// InviteStatus is the lifecycle state of a team invitation.
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteRejected InviteStatus = "rejected"
)

// IsTerminal reports whether no further transition is allowed.
func (s InviteStatus) IsTerminal() bool {
	return s == InviteAccepted || s == InviteRejected
}

// TeamInvite asks ToUserID to join FromUserID's team.
type TeamInvite struct {
	ID           string       `json:"id"`
	FromUserID   string       `json:"fromUserId"`
	FromUsername string       `json:"fromUsername"`
	ToUserID     string       `json:"toUserId"`
	ToUsername   string       `json:"toUsername"`
	Status       InviteStatus `json:"status"`
	Message      string       `json:"message,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	AcceptedAt   *time.Time   `json:"acceptedAt,omitempty"`
	RejectedAt   *time.Time   `json:"rejectedAt,omitempty"`
}

// Validate checks if the TeamInvite has valid field values.
func (i *TeamInvite) Validate() error {
	if i.FromUserID == "" {
		return fmt.Errorf("fromUserId is required")
	}
	if i.ToUserID == "" {
		return fmt.Errorf("toUserId is required")
	}
	if i.FromUserID == i.ToUserID {
		return fmt.Errorf("an invite cannot target its sender")
	}
	switch i.Status {
	case InvitePending, InviteAccepted, InviteRejected:
	default:
		return fmt.Errorf("invalid invite status: %q", i.Status)
	}
	return nil
}

// CanTransition reports whether the invite may move to next.
func (i *TeamInvite) CanTransition(next InviteStatus) bool {
	return i.Status == InvitePending && next.IsTerminal()
}

// Counterpart returns the other identity of the invite relative to userID.
func (i *TeamInvite) Counterpart(userID string) string {
	if i.FromUserID == userID {
		return i.ToUserID
	}
	return i.FromUserID
}

// InviteMessage is the human-readable text stored with a new invite.
func InviteMessage(senderName string) string {
	return fmt.Sprintf("%s invited you to join their team", senderName)
}

// MembershipActive is the status of a membership created by acceptance.
const MembershipActive = "active"

// TeamMembership links a team leader and a member.
type TeamMembership struct {
	ID           string    `json:"id"`
	TeamLeaderID string    `json:"teamLeaderId"`
	MemberID     string    `json:"memberId"`
	Status       string    `json:"status"`
	JoinedAt     time.Time `json:"joinedAt"`
}
