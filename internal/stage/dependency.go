package stage

import "github.com/specialistvlad/stagegrid/internal/stageid"

// DependencyType names the timing relation of a dependency edge.
type DependencyType string

// FinishToStart means the required stage must finish before the dependent
// stage starts. It is the only type the engine produces.
const FinishToStart DependencyType = "finish-to-start"

// Dependency asserts that DependentID may not start before RequiredID has
// Completed. Non-mandatory dependencies are advisory and never gate.
type Dependency struct {
	ID          stageid.ID     `json:"id" yaml:"id" validate:"required"`
	DependentID stageid.ID     `json:"dependent_id" yaml:"dependent_id" validate:"required"`
	RequiredID  stageid.ID     `json:"required_id" yaml:"required_id" validate:"required"`
	Type        DependencyType `json:"type" yaml:"type" validate:"required,oneof=finish-to-start"`
	Mandatory   bool           `json:"mandatory" yaml:"mandatory"`
}

// NewDependency builds a finish-to-start dependency with a fresh id.
func NewDependency(dependentID, requiredID stageid.ID, mandatory bool) Dependency {
	return Dependency{
		ID:          stageid.New(),
		DependentID: dependentID,
		RequiredID:  requiredID,
		Type:        FinishToStart,
		Mandatory:   mandatory,
	}
}
