package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kskip310/luminous/pkg/agent"
	"github.com/kskip310/luminous/pkg/snapshot"
	"github.com/kskip310/luminous/pkg/state"
	"github.com/kskip310/luminous/pkg/store"
)

// DefaultHistoryPage is the page size for history.load_more without a limit.
const DefaultHistoryPage = 50

type chatParams struct {
	Text string `json:"text"`
}

type goalParams struct {
	GoalID string `json:"goalId"`
}

type proposalParams struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type historyParams struct {
	Before int64 `json:"before"`
	Limit  int   `json:"limit"`
}

type uploadParams struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// Ack acknowledges a command queued for the worker.
type Ack struct {
	Accepted bool   `json:"accepted"`
	Kind     string `json:"kind,omitempty"`
}

// SyncResult summarizes a force-sync.
type SyncResult struct {
	Tier        store.Tier        `json:"tier"`
	Timestamp   int64             `json:"timestamp"`
	CloudStatus state.CloudStatus `json:"cloudStatus"`
	RemoteError string            `json:"remoteError,omitempty"`
	LocalError  string            `json:"localError,omitempty"`
}

// StateView answers state.get.
type StateView struct {
	Identity string           `json:"identity"`
	Phase    agent.Phase      `json:"phase"`
	State    state.AgentState `json:"state"`
}

// auditedMethods are the user decisions written to the audit log.
var auditedMethods = map[string]bool{
	"goal.accept":      true,
	"goal.reject":      true,
	"proposal.accept":  true,
	"proposal.reject":  true,
	"state.force_sync": true,
	"file.upload":      true,
}

func (s *Server) registerBuiltinMethods() {
	methods := map[string]RequestHandler{
		"chat.send":           s.handleChatSend,
		"goal.accept":         s.handleGoal(true),
		"goal.reject":         s.handleGoal(false),
		"proposal.accept":     s.handleProposal(true),
		"proposal.reject":     s.handleProposal(false),
		"state.force_sync":    s.handleForceSync,
		"state.verify_remote": s.handleVerifyRemote,
		"state.get":           s.handleStateGet,
		"history.load_more":   s.handleLoadMore,
		"file.upload":         s.handleFileUpload,
	}
	for name, handler := range methods {
		_ = s.router.RegisterMethod(name, handler)
	}
}

// command stamps the request's idempotency key on cmd so a resent request
// is not run twice.
func command(req *RPCRequest, cmd agent.Command) agent.Command {
	cmd.RequestID = req.IdempotencyKey
	return cmd
}

// commandError turns caller mistakes into InvalidParams errors.
func commandError(err error) error {
	if errors.Is(err, state.ErrGoalNotFound) ||
		errors.Is(err, state.ErrProposalNotFound) ||
		errors.Is(err, state.ErrInvalidTransition) {
		return invalidParams("%v", err)
	}
	return err
}

func (s *Server) handleChatSend(ctx context.Context, req *RPCRequest) (any, error) {
	var p chatParams
	if err := decodeParams(req.Params, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Text) == "" {
		return nil, invalidParams("text is required")
	}

	// The turn's output reaches every UI as bus events, so only the
	// acceptance is answered here.
	s.worker.Submit(ctx, command(req, agent.SendMessage(p.Text)))
	return Ack{Accepted: true, Kind: "message"}, nil
}

func (s *Server) handleGoal(accept bool) RequestHandler {
	return func(ctx context.Context, req *RPCRequest) (any, error) {
		var p goalParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if p.GoalID == "" {
			return nil, invalidParams("goalId is required")
		}

		cmd := agent.RejectGoal(p.GoalID)
		if accept {
			cmd = agent.AcceptGoal(p.GoalID)
		}
		if _, err := s.worker.Do(ctx, command(req, cmd)); err != nil {
			return nil, commandError(err)
		}
		return Ack{Accepted: true}, nil
	}
}

func (s *Server) handleProposal(accept bool) RequestHandler {
	return func(ctx context.Context, req *RPCRequest) (any, error) {
		var p proposalParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		kind := state.ProposalKind(p.Kind)
		if kind != state.ProposalCode && kind != state.ProposalUI {
			return nil, invalidParams("kind must be %q or %q", state.ProposalCode, state.ProposalUI)
		}
		if p.ID == "" {
			return nil, invalidParams("id is required")
		}

		cmd := agent.RejectProposal(kind, p.ID)
		if accept {
			cmd = agent.AcceptProposal(kind, p.ID)
		}
		if _, err := s.worker.Do(ctx, command(req, cmd)); err != nil {
			return nil, commandError(err)
		}
		return Ack{Accepted: true}, nil
	}
}

func (s *Server) handleForceSync(ctx context.Context, req *RPCRequest) (any, error) {
	res, err := s.worker.Do(ctx, command(req, agent.ForceSync()))
	if err != nil {
		return nil, err
	}
	out, ok := res.(store.SaveOutcome)
	if !ok {
		return nil, fmt.Errorf("unexpected force-sync result %T", res)
	}

	result := SyncResult{
		Tier:        out.Tier,
		Timestamp:   out.Timestamp,
		CloudStatus: out.Continuity(state.ContinuityState{}).CloudStatus,
	}
	if out.RemoteErr != nil {
		result.RemoteError = out.RemoteErr.Error()
	}
	if out.LocalErr != nil {
		result.LocalError = out.LocalErr.Error()
	}
	return result, nil
}

func (s *Server) handleVerifyRemote(ctx context.Context, req *RPCRequest) (any, error) {
	return s.worker.Do(ctx, command(req, agent.VerifyRemote()))
}

func (s *Server) handleStateGet(_ context.Context, _ *RPCRequest) (any, error) {
	return StateView{
		Identity: s.reader.Identity(),
		Phase:    s.reader.Phase(),
		State:    s.reader.State(),
	}, nil
}

func (s *Server) handleLoadMore(ctx context.Context, req *RPCRequest) (any, error) {
	var p historyParams
	if err := decodeParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.Before < 0 {
		return nil, invalidParams("before must not be negative")
	}
	if p.Limit <= 0 {
		p.Limit = DefaultHistoryPage
	}
	return s.worker.Do(ctx, command(req, agent.LoadMoreHistory(p.Before, p.Limit)))
}

// handleFileUpload restores snapshot files and sends any other text file
// to the agent as a user message.
func (s *Server) handleFileUpload(ctx context.Context, req *RPCRequest) (any, error) {
	var p uploadParams
	if err := decodeParams(req.Params, &p); err != nil {
		return nil, err
	}

	data := []byte(p.Content)
	switch p.Encoding {
	case "", "utf-8", "text":
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(p.Content)
		if err != nil {
			return nil, invalidParams("content is not valid base64: %v", err)
		}
		data = decoded
	default:
		return nil, invalidParams("unsupported encoding %q", p.Encoding)
	}
	if len(data) > s.maxUpload {
		return nil, invalidParams("file exceeds %d bytes", s.maxUpload)
	}

	snap, err := snapshot.Detect(data)
	switch {
	case err == nil:
		if _, err := s.worker.Do(ctx, command(req, agent.Restore(snap))); err != nil {
			return nil, err
		}
		return Ack{Accepted: true, Kind: "snapshot"}, nil
	case !errors.Is(err, snapshot.ErrNotSnapshot):
		return nil, invalidParams("%v", err)
	}

	if !utf8.Valid(data) || len(strings.TrimSpace(string(data))) == 0 {
		return nil, invalidParams("file %q is not readable text", p.Name)
	}
	text := fmt.Sprintf("Uploaded file %q:\n\n%s", p.Name, data)
	s.worker.Submit(ctx, command(req, agent.SendMessage(text)))
	return Ack{Accepted: true, Kind: "message"}, nil
}
