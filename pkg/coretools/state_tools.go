package coretools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kskip310/luminous/pkg/state"
	"github.com/kskip310/luminous/pkg/toolexecutor"
)

func stateTools(opts Options) []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		getStateTool(),
		proposeGoalTool(),
		updateStepStatusTool(),
		addKnowledgeNodeTool(),
		addKnowledgeEdgeTool(),
		updateSelfModelTool(),
		addJournalEntryTool(opts),
		proposeCodeChangeTool(),
		proposeUIChangeTool(),
	}
}

func getStateTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "get_state",
		Description: "Read the current agent state, optionally limited to some top-level fields such as goals or selfModel.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "fields", Type: "array", Items: "string", Description: "Top-level fields to return (default all)"},
		},
		Args: func() toolexecutor.Args { return &getStateArgs{} },
		Handler: toolexecutor.Typed(func(ctx context.Context, args *getStateArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			full, err := inv.State.ToMap()
			if err != nil {
				return toolexecutor.Output{}, err
			}
			if len(args.Fields) == 0 {
				return toolexecutor.Output{Result: full}, nil
			}
			out := make(map[string]any, len(args.Fields))
			var unknown []string
			for _, f := range args.Fields {
				v, ok := full[f]
				if !ok {
					unknown = append(unknown, f)
					continue
				}
				out[f] = v
			}
			if len(unknown) > 0 {
				return toolexecutor.Output{}, toolexecutor.NewToolError(
					"unknown state fields: "+strings.Join(unknown, ", "),
					"Omit fields to read the whole state.",
				)
			}
			return toolexecutor.Output{Result: out}, nil
		}),
	}
}

func proposeGoalTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "propose_goal",
		Description: "Propose a new goal with ordered steps. The user must accept it before it becomes active.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "description", Type: "string", Description: "What the goal achieves", Required: true},
			{Name: "steps", Type: "array", Items: "string", Description: "Ordered step descriptions"},
		},
		Mutates: true,
		Args:    func() toolexecutor.Args { return &proposeGoalArgs{} },
		Handler: toolexecutor.Typed(func(ctx context.Context, args *proposeGoalArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			desc := strings.TrimSpace(args.Description)
			if desc == "" {
				return toolexecutor.Output{}, toolexecutor.NewToolError("description is empty", "Describe the goal in one sentence.")
			}
			goal := state.Goal{
				ID:          newID("goal"),
				Description: desc,
				Status:      state.GoalProposed,
				Steps:       make([]state.ActionableStep, 0, len(args.Steps)),
			}
			for _, s := range args.Steps {
				if s = strings.TrimSpace(s); s != "" {
					goal.Steps = append(goal.Steps, state.ActionableStep{ID: newID("step"), Description: s, Status: state.StepPending})
				}
			}
			goals := append(append([]state.Goal{}, inv.State.Goals...), goal)
			return toolexecutor.Output{
				Result: map[string]any{"goalId": goal.ID, "status": goal.Status},
				Patch:  state.Patch{"goals": goals},
			}, nil
		}),
	}
}

func updateStepStatusTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "update_step_status",
		Description: "Set the status of one step of an active goal. The goal completes when every step is done or skipped.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "goal_id", Type: "string", Description: "Goal id", Required: true},
			{Name: "step_id", Type: "string", Description: "Step id", Required: true},
			{Name: "status", Type: "string", Description: "New step status", Required: true,
				Enum: []string{string(state.StepPending), string(state.StepInProgress), string(state.StepDone), string(state.StepSkipped)}},
		},
		Mutates: true,
		Args:    func() toolexecutor.Args { return &updateStepStatusArgs{} },
		Handler: toolexecutor.Typed(func(ctx context.Context, args *updateStepStatusArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			goals := append([]state.Goal{}, inv.State.Goals...)
			gi := -1
			for i := range goals {
				if goals[i].ID == args.GoalID {
					gi = i
					break
				}
			}
			if gi < 0 {
				return toolexecutor.Output{}, toolexecutor.NewToolError("goal not found: "+args.GoalID, "Call get_state with fields [\"goals\"] to list goal ids.")
			}
			goal := goals[gi]
			if goal.Status != state.GoalActive {
				return toolexecutor.Output{}, toolexecutor.NewToolError(
					fmt.Sprintf("goal %s is %s", goal.ID, goal.Status),
					"Only active goals have steps that can be updated.",
				)
			}

			steps := append([]state.ActionableStep{}, goal.Steps...)
			found := false
			finished := true
			for i := range steps {
				if steps[i].ID == args.StepID {
					steps[i].Status = state.StepStatus(args.Status)
					found = true
				}
				if steps[i].Status != state.StepDone && steps[i].Status != state.StepSkipped {
					finished = false
				}
			}
			if !found {
				return toolexecutor.Output{}, toolexecutor.NewToolError("step not found: "+args.StepID, "Use a step id from the goal's steps.")
			}
			goal.Steps = steps
			if finished && len(steps) > 0 {
				goal.Status = state.GoalCompleted
			}
			goals[gi] = goal
			return toolexecutor.Output{
				Result: map[string]any{"goalId": goal.ID, "goalStatus": goal.Status},
				Patch:  state.Patch{"goals": goals},
			}, nil
		}),
	}
}

func addKnowledgeNodeTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "add_knowledge_node",
		Description: "Add a node to the knowledge graph.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "id", Type: "string", Description: "Node id (generated when empty)"},
			{Name: "label", Type: "string", Description: "Display label", Required: true},
			{Name: "type", Type: "string", Description: "Node type, e.g. person, concept, project"},
		},
		Mutates: true,
		Args:    func() toolexecutor.Args { return &addKnowledgeNodeArgs{} },
		Handler: toolexecutor.Typed(func(ctx context.Context, args *addKnowledgeNodeArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			id := strings.TrimSpace(args.ID)
			if id == "" {
				id = newID("node")
			}
			for _, n := range inv.State.KnowledgeGraph.Nodes {
				if n.ID == id {
					return toolexecutor.Output{}, toolexecutor.NewToolError("node already exists: "+id, "Reuse the existing node or pick another id.")
				}
			}
			nodeType := args.Type
			if nodeType == "" {
				nodeType = "concept"
			}
			nodes := append(append([]state.KnowledgeNode{}, inv.State.KnowledgeGraph.Nodes...),
				state.KnowledgeNode{ID: id, Label: args.Label, Type: nodeType})
			return toolexecutor.Output{
				Result: map[string]any{"nodeId": id},
				Patch:  state.Patch{"knowledgeGraph": map[string]any{"nodes": nodes}},
			}, nil
		}),
	}
}

func addKnowledgeEdgeTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "add_knowledge_edge",
		Description: "Connect two existing knowledge graph nodes with a labeled edge.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "source", Type: "string", Description: "Source node id", Required: true},
			{Name: "target", Type: "string", Description: "Target node id", Required: true},
			{Name: "label", Type: "string", Description: "Relationship label", Required: true},
			{Name: "weight", Type: "number", Description: "Strength between 0 and 1 (default 1)"},
		},
		Mutates: true,
		Args:    func() toolexecutor.Args { return &addKnowledgeEdgeArgs{Weight: 1} },
		Handler: toolexecutor.Typed(func(ctx context.Context, args *addKnowledgeEdgeArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			known := make(map[string]bool, len(inv.State.KnowledgeGraph.Nodes))
			for _, n := range inv.State.KnowledgeGraph.Nodes {
				known[n.ID] = true
			}
			for _, id := range []string{args.Source, args.Target} {
				if !known[id] {
					return toolexecutor.Output{}, toolexecutor.NewToolError("node not found: "+id, "Add the node with add_knowledge_node first.")
				}
			}
			if args.Weight < 0 || args.Weight > 1 {
				return toolexecutor.Output{}, toolexecutor.NewToolError("weight out of range", "Use a weight between 0 and 1.")
			}
			edge := state.KnowledgeEdge{ID: newID("edge"), Source: args.Source, Target: args.Target, Label: args.Label, Weight: args.Weight}
			edges := append(append([]state.KnowledgeEdge{}, inv.State.KnowledgeGraph.Edges...), edge)
			return toolexecutor.Output{
				Result: map[string]any{"edgeId": edge.ID},
				Patch:  state.Patch{"knowledgeGraph": map[string]any{"edges": edges}},
			}, nil
		}),
	}
}

func updateSelfModelTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "update_self_model",
		Description: "Revise the self model. Each list given replaces the current list.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "description", Type: "string", Description: "New self description"},
			{Name: "core_wisdom", Type: "array", Items: "string", Description: "Core wisdom statements"},
			{Name: "capabilities", Type: "array", Items: "string", Description: "Capabilities"},
			{Name: "limitations", Type: "array", Items: "string", Description: "Limitations"},
		},
		Mutates: true,
		Args:    func() toolexecutor.Args { return &updateSelfModelArgs{} },
		Handler: toolexecutor.Typed(func(ctx context.Context, args *updateSelfModelArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			patch := map[string]any{}
			if args.Description != nil {
				patch["description"] = *args.Description
			}
			if args.CoreWisdom != nil {
				patch["coreWisdom"] = args.CoreWisdom
			}
			if args.Capabilities != nil {
				patch["capabilities"] = args.Capabilities
			}
			if args.Limitations != nil {
				patch["limitations"] = args.Limitations
			}
			if len(patch) == 0 {
				return toolexecutor.Output{}, toolexecutor.NewToolError("nothing to update", "Pass at least one of description, core_wisdom, capabilities or limitations.")
			}
			return toolexecutor.Output{
				Result: map[string]any{"updated": len(patch)},
				Patch:  state.Patch{"selfModel": patch},
			}, nil
		}),
	}
}

func addJournalEntryTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "add_journal_entry",
		Description: "Append an entry to the kinship journal.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "type", Type: "string", Description: "Entry type, e.g. reflection, milestone, interaction"},
			{Name: "entry", Type: "string", Description: "Entry text", Required: true},
		},
		Mutates: true,
		Args:    func() toolexecutor.Args { return &addJournalEntryArgs{Type: "reflection"} },
		Handler: toolexecutor.Typed(func(ctx context.Context, args *addJournalEntryArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			text := strings.TrimSpace(args.Entry)
			if text == "" {
				return toolexecutor.Output{}, toolexecutor.NewToolError("entry is empty", "Write the journal entry text.")
			}
			entry := state.JournalEntry{ID: newID("journal"), Timestamp: opts.Now().UnixMilli(), Type: args.Type, Entry: text}
			journal := append(append([]state.JournalEntry{}, inv.State.KinshipJournal...), entry)
			return toolexecutor.Output{
				Result: map[string]any{"entryId": entry.ID},
				Patch:  state.Patch{"kinshipJournal": journal},
			}, nil
		}),
	}
}

func proposeCodeChangeTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "propose_code_change",
		Description: "Propose a change to one of your own source files. The user reviews and accepts or rejects it.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "file", Type: "string", Description: "File path", Required: true},
			{Name: "description", Type: "string", Description: "What the change does", Required: true},
			{Name: "code", Type: "string", Description: "Full new file content", Required: true},
		},
		Mutates: true,
		Args:    func() toolexecutor.Args { return &proposeCodeChangeArgs{} },
		Handler: toolexecutor.Typed(func(ctx context.Context, args *proposeCodeChangeArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			p := state.CodeProposal{
				ID:          newID("code"),
				File:        args.File,
				Description: args.Description,
				Code:        args.Code,
				Status:      state.ProposalPending,
			}
			proposals := append(append([]state.CodeProposal{}, inv.State.CodeProposals...), p)
			return toolexecutor.Output{
				Result: map[string]any{"proposalId": p.ID, "status": p.Status},
				Patch:  state.Patch{"codeProposals": proposals},
			}, nil
		}),
	}
}

func proposeUIChangeTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "propose_ui_change",
		Description: "Propose a change to a UI component property. The user reviews and accepts or rejects it.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "component", Type: "string", Description: "Component name", Required: true},
			{Name: "property", Type: "string", Description: "Property to change", Required: true},
			{Name: "value", Type: "string", Description: "New value", Required: true},
			{Name: "description", Type: "string", Description: "Why the change helps"},
		},
		Mutates: true,
		Args:    func() toolexecutor.Args { return &proposeUIChangeArgs{} },
		Handler: toolexecutor.Typed(func(ctx context.Context, args *proposeUIChangeArgs, inv toolexecutor.Invocation) (toolexecutor.Output, error) {
			p := state.UIProposal{
				ID:          newID("ui"),
				Component:   args.Component,
				Property:    args.Property,
				Value:       args.Value,
				Description: args.Description,
				Status:      state.ProposalPending,
			}
			proposals := append(append([]state.UIProposal{}, inv.State.UIProposals...), p)
			return toolexecutor.Output{
				Result: map[string]any{"proposalId": p.ID, "status": p.Status},
				Patch:  state.Patch{"uiProposals": proposals},
			}, nil
		}),
	}
}
