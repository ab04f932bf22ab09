package provisioning

import (
	"github.com/imamik/vmaas/internal/platform/maas"
	"github.com/imamik/vmaas/internal/provisioning/lifecycle"
)

// State holds the shared results of provisioning phases.
// It is progressively populated as each phase completes and is passed
// to subsequent phases that need earlier results.
type State struct {
	// VM results (populated by the domain phases)
	Outcomes map[string]lifecycle.Outcome // domain name -> lifecycle outcome
	NodeMACs map[string][]string          // virtual node name -> MAC addresses

	// Controller results (populated once the controller is reachable)
	ControllerIP string
	APIKey       string
	Client       *maas.Client

	// Cluster results (populated by the configuration phases)
	Nodegroup        *maas.Nodegroup
	Nodes            []maas.Node
	ImportStatus     maas.ImportStatus
	EnvironmentsYAML []byte
}

// NewState creates an empty provisioning state.
func NewState() *State {
	return &State{
		Outcomes: make(map[string]lifecycle.Outcome),
		NodeMACs: make(map[string][]string),
	}
}
