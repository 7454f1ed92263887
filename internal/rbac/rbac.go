package rbac

type Role string
type Action string

// The draft's author is the student; the reviewer is the consultant.
const (
	RoleStudent    Role = "student"
	RoleConsultant Role = "consultant"
)

const (
	ActionRead     Action = "read"
	ActionEdit     Action = "edit"
	ActionAnnotate Action = "annotate"
	ActionDecide   Action = "decide"
	ActionResolve  Action = "resolve"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleStudent:
		return action == ActionRead || action == ActionEdit || action == ActionDecide || action == ActionResolve
	case RoleConsultant:
		return action == ActionRead || action == ActionAnnotate || action == ActionResolve
	default:
		return action == ActionRead
	}
}

func Valid(role string) bool {
	switch Role(role) {
	case RoleStudent, RoleConsultant:
		return true
	default:
		return false
	}
}

// Normalize maps unknown roles to the empty role, which may only read.
func Normalize(role string) Role {
	if Valid(role) {
		return Role(role)
	}
	return ""
}
