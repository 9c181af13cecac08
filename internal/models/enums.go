package models

type Role string

const (
	RoleProgrammer Role = "programmer"
	RoleSupport    Role = "support"
	RoleAdmin      Role = "admin"
	RoleModerator  Role = "moderator"
	RoleTester     Role = "tester"
	RoleDesigner   Role = "designer"
	RoleAnalyst    Role = "analyst"
	RoleManager    Role = "manager"
)

func (r Role) Valid() bool {
	switch r {
	case RoleProgrammer, RoleSupport, RoleAdmin, RoleModerator,
		RoleTester, RoleDesigner, RoleAnalyst, RoleManager:
		return true
	}
	return false
}

type ExecutorStatus string

const (
	ExecutorActive   ExecutorStatus = "active"
	ExecutorBusy     ExecutorStatus = "busy"
	ExecutorOffline  ExecutorStatus = "offline"
	ExecutorInactive ExecutorStatus = "inactive"
)

func (s ExecutorStatus) Valid() bool {
	switch s {
	case ExecutorActive, ExecutorBusy, ExecutorOffline, ExecutorInactive:
		return true
	}
	return false
}

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
	ComplexityExpert Complexity = "expert"
)

func (c Complexity) Valid() bool {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh, ComplexityExpert:
		return true
	}
	return false
}

type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestAssigned   RequestStatus = "assigned"
	RequestInProgress RequestStatus = "in_progress"
	RequestCompleted  RequestStatus = "completed"
	RequestCancelled  RequestStatus = "cancelled"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestAssigned, RequestInProgress, RequestCompleted, RequestCancelled:
		return true
	}
	return false
}

var validRequestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending:    {RequestAssigned, RequestCancelled},
	RequestAssigned:   {RequestInProgress, RequestCompleted, RequestCancelled},
	RequestInProgress: {RequestCompleted, RequestCancelled},
}

// CanTransition reports whether the status may move to the given next
// status. Completed and cancelled are terminal.
func (s RequestStatus) CanTransition(to RequestStatus) bool {
	for _, next := range validRequestTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpGreaterThan        Operator = "greater_than"
	OpLessThan           Operator = "less_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equal"
	OpLessThanOrEqual    Operator = "less_than_or_equal"
	OpContains           Operator = "contains"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not_in"
)

func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan,
		OpGreaterThanOrEqual, OpLessThanOrEqual, OpContains, OpIn, OpNotIn:
		return true
	}
	return false
}

type StreamStatus string

const (
	StreamPending StreamStatus = "pending"
	StreamSent    StreamStatus = "sent"
	StreamFailed  StreamStatus = "failed"
)

const (
	EventAssignmentCreated    = "assignment.created"
	EventAssignmentSuperseded = "assignment.superseded"
	EventRequestCompleted     = "request.completed"
	EventRequestCancelled     = "request.cancelled"
)
