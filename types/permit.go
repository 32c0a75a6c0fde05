package types

// RejectionReason enumerates why a PermitGate declined to grant a permit.
type RejectionReason string

const (
	ReasonConcurrencyLimit RejectionReason = "CONCURRENCY_LIMIT"
	ReasonRateLimit        RejectionReason = "RATE_LIMIT"
	ReasonBudgetExhausted  RejectionReason = "BUDGET_EXHAUSTED"
	ReasonCircuitOpen      RejectionReason = "CIRCUIT_OPEN"
	ReasonGlobalShed       RejectionReason = "GLOBAL_SHED"
)

// PermitRejection is returned as data, never thrown (spec.md §7).
type PermitRejection struct {
	Reason RejectionReason `json:"reason"`
	Detail string          `json:"detail,omitempty"`
}

func (r PermitRejection) Error() string {
	if r.Detail != "" {
		return string(r.Reason) + ": " + r.Detail
	}
	return string(r.Reason)
}

// Tokens is what ExecutionBudget.consume grants and release reverses.
type Tokens struct {
	Concurrency bool
	Rate        bool
	Cost        float64
	HasCost     bool
}

// GrantedTokens mirrors spec.md §3's Permit.tokensGranted shape for the
// serializable/outbound view of a Permit.
type GrantedTokens struct {
	Concurrency int      `json:"concurrency"`
	RPS         int      `json:"rps"`
	Cost        *float64 `json:"cost,omitempty"`
}

// Permit is the admission token granted by the PermitGate (spec.md §3).
// The abort handle is held through the AbortTokenIface method set, so
// this package does not import cancel; callers reach it via
// Permit.Abort().
type Permit struct {
	PermitID             string
	JobID                string
	DeadlineAt           int64 // absolute monotonic ms
	AttemptIndex         int
	TokensGranted        GrantedTokens
	CircuitStateSnapshot map[string]string
	WorkspaceLockToken   string

	abortToken interface {
		Fire(reason string)
		Fired() bool
		Reason() string
		Done() <-chan struct{}
	}
}

// AbortTokenIface is the minimal surface types.Permit needs from a
// cancel.Token, declared here so this package does not import cancel.
type AbortTokenIface interface {
	Fire(reason string)
	Fired() bool
	Reason() string
	Done() <-chan struct{}
}

// NewPermit constructs a Permit with its abort token attached.
func NewPermit(permitID, jobID string, deadlineAt int64, attempt int, tokens GrantedTokens, cbSnapshot map[string]string, abort AbortTokenIface) *Permit {
	return &Permit{
		PermitID:             permitID,
		JobID:                jobID,
		DeadlineAt:           deadlineAt,
		AttemptIndex:         attempt,
		TokensGranted:        tokens,
		CircuitStateSnapshot: cbSnapshot,
		abortToken:           abort,
	}
}

// Abort returns the permit's abort handle.
func (p *Permit) Abort() AbortTokenIface { return p.abortToken }

// PermitView is the serializable projection of a Permit sent over IPC as
// permit_granted.permit (spec.md §6): no abort handle.
type PermitView struct {
	PermitID             string            `json:"permitId"`
	JobID                string            `json:"jobId"`
	DeadlineAt           int64             `json:"deadlineAt"`
	AttemptIndex         int               `json:"attemptIndex"`
	TokensGranted        GrantedTokens     `json:"tokensGranted"`
	CircuitStateSnapshot map[string]string `json:"circuitStateSnapshot,omitempty"`
	WorkspaceLockToken   string            `json:"workspaceLockToken,omitempty"`
}

// View projects a Permit to its wire-safe form.
func (p *Permit) View() PermitView {
	return PermitView{
		PermitID:             p.PermitID,
		JobID:                p.JobID,
		DeadlineAt:           p.DeadlineAt,
		AttemptIndex:         p.AttemptIndex,
		TokensGranted:        p.TokensGranted,
		CircuitStateSnapshot: p.CircuitStateSnapshot,
		WorkspaceLockToken:   p.WorkspaceLockToken,
	}
}
