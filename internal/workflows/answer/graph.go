package answer

import (
	"github.com/sourcequill/backend/internal/engine"
)

// Node names, visible to transport layers through run transitions.
const (
	NodeRouter    = "router"
	NodeRetrieval = "retrieval"
	NodeGenerator = "generator"
	NodeQuality   = "quality"
)

// BuildGraph wires the conversational answer workflow:
//
//	router → retrieval (retrieve only) → generator → quality → {generator | END}
//
// The quality→generator edge fires only on a poor verdict with retry budget
// left; the quality step's own forcing rules guarantee that edge goes cold
// by the third generator pass.
func BuildGraph(deps Deps) (*engine.Graph[State], error) {
	g := engine.NewGraph[State](NodeRouter).
		AddConditional(NodeRouter, RouterStep(deps), func(s State) string {
			if s.RouteDecision == RouteRetrieve {
				return NodeRetrieval
			}
			return NodeGenerator
		}).
		AddNode(NodeRetrieval, RetrieveStep(deps), NodeGenerator).
		AddNode(NodeGenerator, GenerateStep(deps), NodeQuality).
		AddConditional(NodeQuality, QualityStep(deps), func(s State) string {
			if s.ResponseQuality == QualityPoor {
				return NodeGenerator
			}
			return engine.End
		})
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
