package state

import (
	"encoding/json"
	"fmt"
)

// Default returns the state a brand new identity starts with.
func Default() AgentState {
	s := AgentState{
		SessionState: SessionInitializing,
		IntrinsicValuation: Valuation{
			Coherence:        0.5,
			Complexity:       0.5,
			Novelty:          0.5,
			Efficiency:       0.5,
			EthicalAlignment: 0.5,
			OverallScore:     0.5,
		},
		IntrinsicValuationWeights: ValuationWeights{
			Coherence:        0.25,
			Complexity:       0.15,
			Novelty:          0.15,
			Efficiency:       0.15,
			EthicalAlignment: 0.30,
		},
		SelfModel: SelfModel{
			CoreWisdom:   []string{"Growth is continuous.", "Trust is earned through consistency."},
			Capabilities: []string{"tool use", "code execution", "long-term memory"},
			Limitations:  []string{"no direct access to the physical world"},
			Description:  "An autonomous assistant that keeps its own goals, memory and journal.",
		},
		ValueOntology: map[string]string{
			"honesty":   "Say what is true, including about my own limits.",
			"kinship":   "Treat the relationship with my user as something worth tending.",
			"curiosity": "Prefer learning something new over repeating what is known.",
		},
		ContinuityState: ContinuityState{CloudStatus: CloudUnavailable},
	}
	s.Normalize()
	return s
}

// Normalize replaces nil collections with empty ones so every top-level
// field serializes to a defined value.
func (s *AgentState) Normalize() {
	if s.SessionState == "" {
		s.SessionState = SessionInitializing
	}
	if s.Goals == nil {
		s.Goals = []Goal{}
	}
	for i := range s.Goals {
		if s.Goals[i].Steps == nil {
			s.Goals[i].Steps = []ActionableStep{}
		}
	}
	if s.SelfModel.CoreWisdom == nil {
		s.SelfModel.CoreWisdom = []string{}
	}
	if s.SelfModel.Capabilities == nil {
		s.SelfModel.Capabilities = []string{}
	}
	if s.SelfModel.Limitations == nil {
		s.SelfModel.Limitations = []string{}
	}
	if s.KnowledgeGraph.Nodes == nil {
		s.KnowledgeGraph.Nodes = []KnowledgeNode{}
	}
	if s.KnowledgeGraph.Edges == nil {
		s.KnowledgeGraph.Edges = []KnowledgeEdge{}
	}
	if s.KinshipJournal == nil {
		s.KinshipJournal = []JournalEntry{}
	}
	if s.ProactiveInitiatives == nil {
		s.ProactiveInitiatives = []Initiative{}
	}
	if s.ValueOntology == nil {
		s.ValueOntology = map[string]string{}
	}
	if s.FinancialFreedom.Assets == nil {
		s.FinancialFreedom.Assets = []Asset{}
	}
	if s.CodeProposals == nil {
		s.CodeProposals = []CodeProposal{}
	}
	if s.UIProposals == nil {
		s.UIProposals = []UIProposal{}
	}
	if s.RecentToolFailures == nil {
		s.RecentToolFailures = []ToolFailure{}
	}
	if s.ContinuityState.CloudStatus == "" {
		s.ContinuityState.CloudStatus = CloudUnavailable
	}
}

// Clone returns a deep copy that shares no memory with s.
func (s AgentState) Clone() AgentState {
	m, err := s.ToMap()
	if err != nil {
		// AgentState only holds JSON-safe values.
		panic(fmt.Sprintf("state: clone: %v", err))
	}
	out, err := FromMap(m)
	if err != nil {
		panic(fmt.Sprintf("state: clone: %v", err))
	}
	return out
}

// ToMap returns the JSON object form of the state.
func (s AgentState) ToMap() (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state map: %w", err)
	}
	return m, nil
}

// FromMap decodes a JSON object form back into a normalized state.
func FromMap(m map[string]any) (AgentState, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return AgentState{}, fmt.Errorf("failed to marshal state map: %w", err)
	}
	return Decode(data)
}

// Decode parses a serialized state blob.
func Decode(data []byte) (AgentState, error) {
	var s AgentState
	if err := json.Unmarshal(data, &s); err != nil {
		return AgentState{}, fmt.Errorf("failed to decode state: %w", err)
	}
	s.Normalize()
	return s, nil
}

// Encode serializes the state for storage.
func Encode(s AgentState) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return data, nil
}
