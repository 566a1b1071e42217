package pipeline

import (
	"fmt"

	"github.com/structflow/structflow/internal/schema"
)

type transitionKind int

const (
	toStage transitionKind = iota
	toAccept
	toReject
)

// Transition is where a run goes after a stage.
type Transition struct {
	kind   transitionKind
	stage  string
	reason string
}

func Then(stage string) Transition { return Transition{kind: toStage, stage: stage} }

func Accept() Transition { return Transition{kind: toAccept} }

func Reject(reason string) Transition { return Transition{kind: toReject, reason: reason} }

func (t Transition) String() string {
	switch t.kind {
	case toAccept:
		return "accept"
	case toReject:
		return "reject: " + t.reason
	}
	return "then " + t.stage
}

// Route transitions on the value of a discriminant field. Values missing
// from routes reject the run.
func Route(field string, routes map[string]Transition) func(schema.Result) Transition {
	return func(r schema.Result) Transition {
		v := r.String(field)
		if t, ok := routes[v]; ok {
			return t
		}
		return Reject(fmt.Sprintf("unsupported %s %q", field, v))
	}
}

// When continues to next if the boolean field is true and rejects with
// reason otherwise.
func When(field string, next Transition, reason string) func(schema.Result) Transition {
	return func(r schema.Result) Transition {
		if r.Bool(field) {
			return next
		}
		return Reject(reason)
	}
}
