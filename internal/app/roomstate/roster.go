package roomstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Lecture/internal/domain"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 50 * time.Millisecond
)

// RosterStore mutates the durable room record exclusively through
// read-modify-CAS with bounded exponential backoff. Atomicity is
// delegated to the store's script, not a separate distributed lock.
type RosterStore struct {
	kv          KV
	ttl         time.Duration
	maxAttempts int
	backoff     time.Duration
}

func NewRosterStore(kv KV, ttl time.Duration, maxAttempts int, backoff time.Duration) *RosterStore {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &RosterStore{kv: kv, ttl: ttl, maxAttempts: maxAttempts, backoff: backoff}
}

func dataKey(code domain.RoomCode) string    { return "room:" + string(code) + ":roster" }
func versionKey(code domain.RoomCode) string { return "room:" + string(code) + ":version" }

func (s *RosterStore) GetRoster(ctx context.Context, code domain.RoomCode) (*domain.Roster, error) {
	raw, err := s.kv.Get(ctx, dataKey(code))
	if err != nil {
		return nil, err
	}
	var roster domain.Roster
	if err := json.Unmarshal(raw, &roster); err != nil {
		return nil, fmt.Errorf("decode roster %s: %w", code, err)
	}
	return &roster, nil
}

// PutRoster seeds a roster unconditionally. Room provisioning belongs
// to an external collaborator; this exists for that path and for tests.
func (s *RosterStore) PutRoster(ctx context.Context, roster *domain.Roster) error {
	if roster.Version == 0 {
		roster.Version = 1
	}
	raw, err := json.Marshal(roster)
	if err != nil {
		return err
	}
	if err := s.kv.SetEx(ctx, dataKey(roster.Code), raw, s.ttl); err != nil {
		return err
	}
	return s.kv.SetEx(ctx, versionKey(roster.Code), []byte(fmt.Sprintf("%d", roster.Version)), s.ttl)
}

// update runs the read-modify-CAS loop. mutate edits a private clone;
// returning false means "no change needed" and skips the write.
func (s *RosterStore) update(ctx context.Context, code domain.RoomCode, mutate func(*domain.Roster) (bool, error)) (*domain.Roster, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := s.backoff * (1 << (attempt - 1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		current, err := s.GetRoster(ctx, code)
		if err != nil {
			return nil, err
		}
		next := current.Clone()
		changed, err := mutate(next)
		if err != nil {
			return nil, err
		}
		if !changed {
			return current, nil
		}

		next.Version = current.Version + 1
		raw, err := json.Marshal(next)
		if err != nil {
			return nil, err
		}
		ok, err := s.kv.CompareAndSwap(ctx, dataKey(code), versionKey(code), current.Version, raw, s.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return next, nil
		}
		log.Warn().Str("module", "roomstate").Str("room", string(code)).
			Int64("expected_version", current.Version).Int("attempt", attempt+1).
			Msg("roster CAS conflict, retrying")
	}
	return nil, fmt.Errorf("%w: room %s after %d attempts", ErrConflict, code, s.maxAttempts)
}

// ProcessJoinRequest applies the admission upsert policy for (room,
// user) and returns the user's resulting status plus the roster.
//
//   - absent        -> append Pending
//   - Approved/Left -> Approved, refresh joined-at (auto-readmit)
//   - Pending       -> refresh joined-at only
//   - Rejected      -> no mutation; hard deny, never retried
func (s *RosterStore) ProcessJoinRequest(ctx context.Context, code domain.RoomCode, user domain.User) (domain.ParticipantStatus, *domain.Roster, error) {
	var status domain.ParticipantStatus
	roster, err := s.update(ctx, code, func(r *domain.Roster) (bool, error) {
		p := r.Find(user.ID)
		if p == nil {
			r.Participants = append(r.Participants, domain.Participant{
				UserID:   user.ID,
				Username: user.Username,
				Status:   domain.StatusPending,
				JoinedAt: time.Now(),
			})
			status = domain.StatusPending
			return true, nil
		}
		switch p.Status {
		case domain.StatusApproved, domain.StatusLeft:
			p.Status = domain.StatusApproved
			p.JoinedAt = time.Now()
			status = domain.StatusApproved
			return true, nil
		case domain.StatusPending:
			p.JoinedAt = time.Now()
			status = domain.StatusPending
			return true, nil
		case domain.StatusRejected:
			status = domain.StatusRejected
			return false, nil
		}
		status = p.Status
		return false, nil
	})
	if err != nil {
		return "", nil, err
	}
	return status, roster, nil
}

// SetUserStatus transitions a participant's durable status. Moving to
// Left is only honored from Approved, which both keeps Rejected
// terminal and makes repeated leave calls idempotent.
func (s *RosterStore) SetUserStatus(ctx context.Context, code domain.RoomCode, uid domain.UserID, status domain.ParticipantStatus) (*domain.Roster, error) {
	return s.update(ctx, code, func(r *domain.Roster) (bool, error) {
		p := r.Find(uid)
		if p == nil {
			return false, nil
		}
		if p.Status == status {
			return false, nil
		}
		if status == domain.StatusLeft && p.Status != domain.StatusApproved {
			return false, nil
		}
		p.Status = status
		if status == domain.StatusApproved {
			p.JoinedAt = time.Now()
		}
		return true, nil
	})
}

// SetAdminOnline flips the durable admin-online flag.
func (s *RosterStore) SetAdminOnline(ctx context.Context, code domain.RoomCode, online bool) (*domain.Roster, error) {
	return s.update(ctx, code, func(r *domain.Roster) (bool, error) {
		if r.AdminOnline == online {
			return false, nil
		}
		r.AdminOnline = online
		return true, nil
	})
}
