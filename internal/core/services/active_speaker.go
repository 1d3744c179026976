package services

import (
	"context"
	"slices"

	"huddle/internal/core/domain"
)

// Forwardee is a room member whose own producers and subscriptions the
// scheduler pauses and resumes.
type Forwardee interface {
	ConnectionID() domain.ConnectionID
	OwnsProducer(id domain.ProducerID) bool
	HasSubscription(id domain.ProducerID) bool
	PauseOwn(ctx context.Context)
	ResumeOwn(ctx context.Context)
	PauseSubscription(ctx context.Context, id domain.ProducerID)
	ResumeSubscription(ctx context.Context, id domain.ProducerID)
	// MarkPending records that id was announced for subscription and reports
	// whether it was not already pending.
	MarkPending(id domain.ProducerID) bool
	ClearPending(id domain.ProducerID)
}

// ForwardingPlan is the outcome of one recompute pass.
type ForwardingPlan struct {
	Active []domain.ProducerID
	Muted  []domain.ProducerID
	// Demoted holds ids that were active after the previous pass and are muted now.
	Demoted          []domain.ProducerID
	NewSubscriptions map[domain.ConnectionID][]domain.ProducerID
}

// ActiveSpeakerScheduler keeps the ordered active-speaker list of a room and
// bounds live forwarding to the first window entries. It is not safe for
// concurrent use; the owning Room serializes every call.
type ActiveSpeakerScheduler struct {
	window     int
	placement  domain.SpeakerPlacement
	list       []domain.ProducerID
	lastActive []domain.ProducerID
}

func NewActiveSpeakerScheduler(window int, placement domain.SpeakerPlacement) *ActiveSpeakerScheduler {
	if window <= 0 {
		window = 5
	}
	if placement != domain.PlacementHead {
		placement = domain.PlacementTail
	}
	return &ActiveSpeakerScheduler{
		window:    window,
		placement: placement,
	}
}

// AddProducer inserts a newly published audio producer. Ids already present
// keep their position.
func (s *ActiveSpeakerScheduler) AddProducer(id domain.ProducerID) bool {
	if slices.Contains(s.list, id) {
		return false
	}
	if s.placement == domain.PlacementHead {
		s.list = slices.Insert(s.list, 0, id)
	} else {
		s.list = append(s.list, id)
	}
	return true
}

// Promote moves id to the front, inserting it when absent.
func (s *ActiveSpeakerScheduler) Promote(id domain.ProducerID) {
	s.Remove(id)
	s.list = slices.Insert(s.list, 0, id)
}

// Remove deletes id, keeping the relative order of the others.
func (s *ActiveSpeakerScheduler) Remove(id domain.ProducerID) bool {
	i := slices.Index(s.list, id)
	if i < 0 {
		return false
	}
	s.list = slices.Delete(s.list, i, i+1)
	return true
}

func (s *ActiveSpeakerScheduler) List() []domain.ProducerID {
	return slices.Clone(s.list)
}

func (s *ActiveSpeakerScheduler) Active() []domain.ProducerID {
	return slices.Clone(s.list[:min(s.window, len(s.list))])
}

func (s *ActiveSpeakerScheduler) Front() (domain.ProducerID, bool) {
	if len(s.list) == 0 {
		return "", false
	}
	return s.list[0], true
}

func (s *ActiveSpeakerScheduler) Len() int {
	return len(s.list)
}

func (s *ActiveSpeakerScheduler) Window() int {
	return s.window
}

func (s *ActiveSpeakerScheduler) IsActive(id domain.ProducerID) bool {
	i := slices.Index(s.list, id)
	return i >= 0 && i < s.window
}

// Recompute splits the list into the active window and the muted remainder,
// pauses or resumes every member's media accordingly and collects the active
// ids each member still has to subscribe to.
func (s *ActiveSpeakerScheduler) Recompute(ctx context.Context, members []Forwardee) ForwardingPlan {
	cut := min(s.window, len(s.list))
	plan := ForwardingPlan{
		Active:           slices.Clone(s.list[:cut]),
		Muted:            slices.Clone(s.list[cut:]),
		NewSubscriptions: make(map[domain.ConnectionID][]domain.ProducerID),
	}

	for _, id := range s.lastActive {
		if slices.Contains(plan.Muted, id) {
			plan.Demoted = append(plan.Demoted, id)
		}
	}
	s.lastActive = slices.Clone(plan.Active)

	for _, m := range members {
		for _, id := range plan.Muted {
			switch {
			case m.OwnsProducer(id):
				m.PauseOwn(ctx)
			case m.HasSubscription(id):
				m.PauseSubscription(ctx, id)
			default:
				m.ClearPending(id)
			}
		}

		var needs []domain.ProducerID
		for _, id := range plan.Active {
			switch {
			case m.OwnsProducer(id):
				m.ResumeOwn(ctx)
			case m.HasSubscription(id):
				m.ResumeSubscription(ctx, id)
			default:
				if m.MarkPending(id) {
					needs = append(needs, id)
				}
			}
		}
		if len(needs) > 0 {
			plan.NewSubscriptions[m.ConnectionID()] = needs
		}
	}

	return plan
}
