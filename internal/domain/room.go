package domain

import "time"

// RoomCode is the human-shareable session identifier.
type RoomCode string

type ParticipantStatus string

const (
	StatusPending  ParticipantStatus = "pending"
	StatusApproved ParticipantStatus = "approved"
	StatusRejected ParticipantStatus = "rejected"
	StatusLeft     ParticipantStatus = "left"
)

type Participant struct {
	UserID   UserID            `json:"userId"`
	Username string            `json:"username"`
	Status   ParticipantStatus `json:"status"`
	JoinedAt time.Time         `json:"joinedAt"`
}

// Roster is the durable shared room record. It lives in the external
// cache store and is only ever mutated through a version-checked CAS.
type Roster struct {
	RoomID       string        `json:"roomId"`
	Code         RoomCode      `json:"code"`
	AdminUserID  UserID        `json:"adminUserId"`
	AdminOnline  bool          `json:"adminOnline"`
	Version      int64         `json:"version"`
	Participants []Participant `json:"participants"`
}

// Find returns the participant entry for uid, or nil.
func (r *Roster) Find(uid UserID) *Participant {
	for i := range r.Participants {
		if r.Participants[i].UserID == uid {
			return &r.Participants[i]
		}
	}
	return nil
}

// ByStatus returns participants with the given status, in roster order.
func (r *Roster) ByStatus(status ParticipantStatus) []Participant {
	out := make([]Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a deep copy safe to mutate before a CAS attempt.
func (r *Roster) Clone() *Roster {
	cp := *r
	cp.Participants = make([]Participant, len(r.Participants))
	copy(cp.Participants, r.Participants)
	return &cp
}
