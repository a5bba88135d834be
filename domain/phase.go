package domain

import (
	"fmt"
)

// Phase is the state of a job. Phases only ever increase; Cancelled and
// Error are absorbing failure states.
type Phase int

const (
	Unknown Phase = iota
	Initial
	PreStage
	Scheduling
	Running
	Closed
	PostStage
	Completed
	Cancelled
	Error
)

var phaseNames = []string{
	"UNKNOWN",
	"INITIAL",
	"PRE_STAGE",
	"SCHEDULING",
	"RUNNING",
	"CLOSED",
	"POST_STAGE",
	"COMPLETED",
	"CANCELLED",
	"ERROR",
}

func (p Phase) String() string {
	if p < Unknown || int(p) >= len(phaseNames) {
		return fmt.Sprintf("PHASE(%d)", int(p))
	}
	return phaseNames[p]
}

// Terminal is true for Completed, Cancelled and Error.
func (p Phase) Terminal() bool {
	return p >= Completed
}

// Growing is true while the job may still admit workers.
func (p Phase) Growing() bool {
	return p == Scheduling || p == Running
}

func ParsePhase(s string) (Phase, error) {
	for i, n := range phaseNames {
		if n == s {
			return Phase(i), nil
		}
	}
	return Unknown, fmt.Errorf("unknown phase %q", s)
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	v, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
