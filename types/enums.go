package types

type Interval string

const (
	Day   Interval = "day"
	Week  Interval = "week"
	Month Interval = "month"
)

// Intervals lists every tracked window, shortest first.
var Intervals = []Interval{Day, Week, Month}

func (i Interval) Valid() bool {
	switch i {
	case Day, Week, Month:
		return true
	default:
		return false
	}
}

type ModelCode string

const (
	ModelGPT3   ModelCode = "gpt3"
	ModelGPT4   ModelCode = "gpt4"
	ModelGPT4o  ModelCode = "gpt4o"
	ModelDalle3 ModelCode = "dalle3"

	// ModelGptokens is the virtual currency code. Limits and usage recorded
	// under it are measured in usage points rather than operations.
	ModelGptokens ModelCode = "gptokens"
)

type ModelKind string

const (
	KindText  ModelKind = "text"
	KindImage ModelKind = "image"
)

type PlanCode string

const (
	PlanFree        PlanCode = "free"
	PlanPremium     PlanCode = "premium"
	PlanUnlimited   PlanCode = "unlimited"
	PlanGptokens20  PlanCode = "gptokens20"
	PlanGptokens100 PlanCode = "gptokens100"
	PlanGptokens500 PlanCode = "gptokens500"
	PlanLegacy      PlanCode = "legacy"
)

type ProductCode string

type JobState string

const (
	JobQueued     JobState = "queued"
	JobProcessing JobState = "processing"
	JobDone       JobState = "done"
	JobError      JobState = "error"
)
