package quiz

import (
	"errors"

	"github.com/sourcequill/backend/internal/engine"
)

const (
	NodeGenerator = "generator"
	NodeValidator = "validator"
)

// ErrInsufficientQuestions reports that the retry budget ran out before the
// accumulator reached the requested count.
var ErrInsufficientQuestions = errors.New("could not generate enough valid questions")

// BuildGraph wires the generate/validate loop. The validator's patch decides
// whether another pass is owed; the graph just reads the flag.
func BuildGraph(deps Deps) (*engine.Graph[State], error) {
	g := engine.NewGraph[State](NodeGenerator)
	g.AddNode(NodeGenerator, GenerateStep(deps), NodeValidator)
	g.AddConditional(NodeValidator, ValidateStep(deps), func(s State) string {
		if s.NeedsRegeneration {
			return NodeGenerator
		}
		return engine.End
	})
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Final truncates the accumulator to the requested count. It fails only when
// every pass together still fell short of the request itself.
func Final(s State) ([]Question, error) {
	if len(s.AccumulatedValid) < s.NumQuestions {
		return nil, ErrInsufficientQuestions
	}
	return append([]Question{}, s.AccumulatedValid[:s.NumQuestions]...), nil
}
