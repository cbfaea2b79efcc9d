package usecase

import "pitchroom/internal/domain"

// speakerAttributor tracks which judge, if any, spoke the latest line.
type speakerAttributor struct {
	roster  domain.Roster
	current *domain.SpeakerIdentity
}

func newSpeakerAttributor(roster domain.Roster) *speakerAttributor {
	return &speakerAttributor{roster: roster}
}

// Observe updates the highlight from a newly appended entry and reports
// whether it changed. Unknown speakers clear it.
func (a *speakerAttributor) Observe(entry domain.TranscriptEntry) bool {
	identity, ok := a.roster.Lookup(entry.Speaker)
	if !ok {
		return a.Reset()
	}
	if a.current != nil && *a.current == identity {
		return false
	}
	a.current = &identity
	return true
}

// Reset clears the highlight and reports whether one was set.
func (a *speakerAttributor) Reset() bool {
	if a.current == nil {
		return false
	}
	a.current = nil
	return true
}

func (a *speakerAttributor) Current() *domain.SpeakerIdentity {
	if a.current == nil {
		return nil
	}
	identity := *a.current
	return &identity
}
