package domain

// Operator roles.
const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// OperatorContext is the authenticated caller injected into request handlers.
type OperatorContext struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// CanMutateIndex reports whether the caller may change the similarity index.
func (o *OperatorContext) CanMutateIndex() bool {
	return o != nil && o.Role == RoleOperator
}
