package flow

import "github.com/procurahq/procura/pkg/domain"

// StepState marks a stage's position relative to the current one.
type StepState string

const (
	StepCompleted StepState = "completed"
	StepCurrent   StepState = "current"
	StepFuture    StepState = "future"
)

// ProcessStep is one element of the flow progression shown to users.
type ProcessStep struct {
	Stage domain.Stage `json:"stage"`
	State StepState    `json:"state"`
}

// progression covers the four main stages. The supplier portal
// (fornecedor) is a side stage reached by token and is not part of it.
var progression = []domain.Stage{
	domain.StageSolicitacao,
	domain.StageCotacao,
	domain.StageDecisao,
	domain.StageOrdemCompra,
}

// ProcessSteps renders the progression relative to the current stage. The
// fornecedor stage renders as if the flow were at cotacao, since supplier
// activity happens while quotes are being collected.
func ProcessSteps(current domain.Stage) []ProcessStep {
	if current == domain.StageFornecedor {
		current = domain.StageCotacao
	}
	steps := make([]ProcessStep, 0, len(progression))
	state := StepCompleted
	for _, s := range progression {
		if s == current {
			steps = append(steps, ProcessStep{Stage: s, State: StepCurrent})
			state = StepFuture
			continue
		}
		steps = append(steps, ProcessStep{Stage: s, State: state})
	}
	return steps
}
