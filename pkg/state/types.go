package state

// SessionStatus is the lifecycle flag of an agent session.
type SessionStatus string

const (
	SessionInitializing SessionStatus = "initializing"
	SessionActive       SessionStatus = "active"
	SessionPaused       SessionStatus = "paused"
	SessionError        SessionStatus = "error"
)

// CloudStatus reports the health of the remote persistence tier.
type CloudStatus string

const (
	CloudOK          CloudStatus = "OK"
	CloudError       CloudStatus = "Error"
	CloudUnavailable CloudStatus = "Unavailable"

	// CloudSyncing is shown by UIs while a save is in flight. It is never persisted.
	CloudSyncing CloudStatus = "Syncing"
)

// GoalStatus is the lifecycle of a goal.
type GoalStatus string

const (
	GoalProposed  GoalStatus = "proposed"
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalRejected  GoalStatus = "rejected"
	GoalFailed    GoalStatus = "failed"
)

// StepStatus is the lifecycle of an actionable step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepDone       StepStatus = "done"
	StepSkipped    StepStatus = "skipped"
)

// ProposalStatus is the lifecycle of a code or UI change proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAgent  Sender = "agent"
	SenderSystem Sender = "system"
)

// AgentState is the single mutable root of a session.
type AgentState struct {
	SessionState              SessionStatus     `json:"sessionState"`
	IntrinsicValuation        Valuation         `json:"intrinsicValuation"`
	IntrinsicValuationWeights ValuationWeights  `json:"intrinsicValuationWeights"`
	Goals                     []Goal            `json:"goals"`
	SelfModel                 SelfModel         `json:"selfModel"`
	KnowledgeGraph            KnowledgeGraph    `json:"knowledgeGraph"`
	KinshipJournal            []JournalEntry    `json:"kinshipJournal"`
	ProactiveInitiatives      []Initiative      `json:"proactiveInitiatives"`
	CodeSandbox               CodeSandbox       `json:"codeSandbox"`
	ValueOntology             map[string]string `json:"valueOntology"`
	FinancialFreedom          FinanceSummary    `json:"financialFreedom"`
	CodeProposals             []CodeProposal    `json:"codeProposals"`
	UIProposals               []UIProposal      `json:"uiProposals"`
	RecentToolFailures        []ToolFailure     `json:"recentToolFailures"`
	CurrentInitiative         *Initiative       `json:"currentInitiative"`
	ContinuityState           ContinuityState   `json:"continuityState"`
}

// Valuation is the scored self-valuation vector.
type Valuation struct {
	Coherence        float64 `json:"coherence"`
	Complexity       float64 `json:"complexity"`
	Novelty          float64 `json:"novelty"`
	Efficiency       float64 `json:"efficiency"`
	EthicalAlignment float64 `json:"ethicalAlignment"`
	OverallScore     float64 `json:"overallScore"`
}

// ValuationWeights weighs each valuation dimension into the overall score.
type ValuationWeights struct {
	Coherence        float64 `json:"coherence"`
	Complexity       float64 `json:"complexity"`
	Novelty          float64 `json:"novelty"`
	Efficiency       float64 `json:"efficiency"`
	EthicalAlignment float64 `json:"ethicalAlignment"`
}

// Goal is a user- or model-authored objective.
type Goal struct {
	ID          string           `json:"id"`
	Description string           `json:"description"`
	Status      GoalStatus       `json:"status"`
	Steps       []ActionableStep `json:"steps"`
}

// ActionableStep is one ordered step towards a goal.
type ActionableStep struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
}

// SelfModel is the agent's self-description.
type SelfModel struct {
	CoreWisdom   []string `json:"coreWisdom"`
	Capabilities []string `json:"capabilities"`
	Limitations  []string `json:"limitations"`
	Description  string   `json:"description"`
}

// KnowledgeGraph holds nodes and directed labeled edges.
type KnowledgeGraph struct {
	Nodes []KnowledgeNode `json:"nodes"`
	Edges []KnowledgeEdge `json:"edges"`
}

type KnowledgeNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

type KnowledgeEdge struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Target string  `json:"target"`
	Label  string  `json:"label"`
	Weight float64 `json:"weight"`
}

// JournalEntry is an append-only narrative entry.
type JournalEntry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	Entry     string `json:"entry"`
}

// Initiative is an autonomous prompt the agent wants to raise.
type Initiative struct {
	ID           string `json:"id"`
	Prompt       string `json:"prompt"`
	Status       string `json:"status"`
	GeneratedAt  int64  `json:"generatedAt"`
	UserCategory string `json:"userCategory"`
}

// CodeSandbox records the last code execution.
type CodeSandbox struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Output   string `json:"output"`
	Status   string `json:"status"`
}

// FinanceSummary is a coarse financial snapshot.
type FinanceSummary struct {
	NetWorth        float64 `json:"netWorth"`
	MonthlyIncome   float64 `json:"monthlyIncome"`
	MonthlyExpenses float64 `json:"monthlyExpenses"`
	Assets          []Asset `json:"assets"`
}

type Asset struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// CodeProposal is a pending change to the agent's own code.
type CodeProposal struct {
	ID          string         `json:"id"`
	File        string         `json:"file"`
	Description string         `json:"description"`
	Code        string         `json:"code"`
	Status      ProposalStatus `json:"status"`
}

// UIProposal is a pending change to a UI component property.
type UIProposal struct {
	ID          string         `json:"id"`
	Component   string         `json:"component"`
	Property    string         `json:"property"`
	Value       string         `json:"value"`
	Description string         `json:"description"`
	Status      ProposalStatus `json:"status"`
}

// ToolFailure records one failed tool invocation.
type ToolFailure struct {
	ToolName  string         `json:"toolName"`
	Error     string         `json:"error"`
	Signature string         `json:"signature"`
	Args      map[string]any `json:"args,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// ContinuityState is derived from the outcome of the most recent save or load.
type ContinuityState struct {
	LastCloudSaveTime int64       `json:"lastCloudSaveTime"`
	LastLocalSaveTime int64       `json:"lastLocalSaveTime"`
	CloudStatus       CloudStatus `json:"cloudStatus"`
}

// Message is one entry of the conversation history.
type Message struct {
	ID        string `json:"id"`
	Sender    Sender `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}
