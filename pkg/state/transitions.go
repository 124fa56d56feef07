package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxToolFailures bounds recentToolFailures.
const MaxToolFailures = 10

var (
	// ErrGoalNotFound is returned when no goal carries the requested id.
	ErrGoalNotFound = errors.New("goal not found")
	// ErrProposalNotFound is returned when no proposal carries the requested id.
	ErrProposalNotFound = errors.New("proposal not found")
	// ErrInvalidTransition is returned for a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ProposalKind selects the code or UI proposal list.
type ProposalKind string

const (
	ProposalCode ProposalKind = "code"
	ProposalUI   ProposalKind = "ui"
)

// SetGoalStatus returns a patch moving a proposed goal to accepted (active)
// or rejected.
func SetGoalStatus(s AgentState, goalID string, accept bool) (Patch, error) {
	goals := make([]Goal, len(s.Goals))
	copy(goals, s.Goals)
	for i := range goals {
		if goals[i].ID != goalID {
			continue
		}
		if goals[i].Status != GoalProposed {
			return nil, fmt.Errorf("%w: goal %s is %s", ErrInvalidTransition, goalID, goals[i].Status)
		}
		if accept {
			goals[i].Status = GoalActive
		} else {
			goals[i].Status = GoalRejected
		}
		return Patch{"goals": goals}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrGoalNotFound, goalID)
}

// SetProposalStatus returns a patch accepting or rejecting a pending proposal.
func SetProposalStatus(s AgentState, kind ProposalKind, id string, accept bool) (Patch, error) {
	next := ProposalRejected
	if accept {
		next = ProposalAccepted
	}

	switch kind {
	case ProposalCode:
		proposals := make([]CodeProposal, len(s.CodeProposals))
		copy(proposals, s.CodeProposals)
		for i := range proposals {
			if proposals[i].ID != id {
				continue
			}
			if proposals[i].Status != ProposalPending {
				return nil, fmt.Errorf("%w: proposal %s is %s", ErrInvalidTransition, id, proposals[i].Status)
			}
			proposals[i].Status = next
			return Patch{"codeProposals": proposals}, nil
		}
	case ProposalUI:
		proposals := make([]UIProposal, len(s.UIProposals))
		copy(proposals, s.UIProposals)
		for i := range proposals {
			if proposals[i].ID != id {
				continue
			}
			if proposals[i].Status != ProposalPending {
				return nil, fmt.Errorf("%w: proposal %s is %s", ErrInvalidTransition, id, proposals[i].Status)
			}
			proposals[i].Status = next
			return Patch{"uiProposals": proposals}, nil
		}
	default:
		return nil, fmt.Errorf("unknown proposal kind %q", kind)
	}
	return nil, fmt.Errorf("%w: %s", ErrProposalNotFound, id)
}

// FailureSignature identifies failures that share a tool and an error.
func FailureSignature(toolName, message string) string {
	msg := strings.ToLower(strings.TrimSpace(message))
	return toolName + ":" + TruncateUTF8(msg, 120)
}

// TruncateUTF8 cuts s to at most n bytes without splitting a rune.
func TruncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// RecordToolFailures appends failures to the bounded list and returns the
// patch replacing it.
func RecordToolFailures(s AgentState, failures ...ToolFailure) Patch {
	list := make([]ToolFailure, 0, len(s.RecentToolFailures)+len(failures))
	list = append(list, s.RecentToolFailures...)
	now := time.Now().UnixMilli()
	for _, f := range failures {
		if f.Timestamp == 0 {
			f.Timestamp = now
		}
		if f.Signature == "" {
			f.Signature = FailureSignature(f.ToolName, f.Error)
		}
		list = append(list, f)
	}
	if len(list) > MaxToolFailures {
		list = list[len(list)-MaxToolFailures:]
	}
	return Patch{"recentToolFailures": list}
}

// CountSignature counts failures in s sharing signature.
func CountSignature(s AgentState, signature string) int {
	n := 0
	for _, f := range s.RecentToolFailures {
		if f.Signature == signature {
			n++
		}
	}
	return n
}
