package pipeline

import "github.com/viasnake/arbiter/internal/domain"

// jobTransitionAllowed enforces the job status state machine. from is nil
// when no prior state exists.
func jobTransitionAllowed(from *domain.JobState, to domain.JobStatus) bool {
	if from == nil {
		return true
	}
	switch from.Status {
	case domain.JobStarted:
		switch to {
		case domain.JobStarted, domain.JobHeartbeat, domain.JobCompleted, domain.JobFailed, domain.JobCancelled:
			return true
		}
		return false
	case domain.JobHeartbeat:
		switch to {
		case domain.JobHeartbeat, domain.JobCompleted, domain.JobFailed, domain.JobCancelled:
			return true
		}
		return false
	case domain.JobCompleted, domain.JobFailed, domain.JobCancelled:
		return to == from.Status
	default:
		return true
	}
}

// approvalTransitionAllowed enforces the approval status state machine.
func approvalTransitionAllowed(from *domain.ApprovalState, to domain.ApprovalStatus) bool {
	if from == nil {
		return true
	}
	switch from.Status {
	case domain.ApprovalRequested:
		switch to {
		case domain.ApprovalRequested, domain.ApprovalApproved, domain.ApprovalRejected, domain.ApprovalExpired:
			return true
		}
		return false
	case domain.ApprovalApproved, domain.ApprovalRejected, domain.ApprovalExpired:
		return to == from.Status
	default:
		return true
	}
}

func jobStatusOrNone(s *domain.JobState) string {
	if s == nil {
		return "none"
	}
	return string(s.Status)
}

func approvalStatusOrNone(s *domain.ApprovalState) string {
	if s == nil {
		return "none"
	}
	return string(s.Status)
}
