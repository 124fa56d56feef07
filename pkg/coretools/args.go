package coretools

type getStateArgs struct {
	Fields []string `json:"fields"`
}

func (getStateArgs) ToolName() string { return "get_state" }

type proposeGoalArgs struct {
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
}

func (proposeGoalArgs) ToolName() string { return "propose_goal" }

type updateStepStatusArgs struct {
	GoalID string `json:"goal_id"`
	StepID string `json:"step_id"`
	Status string `json:"status"`
}

func (updateStepStatusArgs) ToolName() string { return "update_step_status" }

type addKnowledgeNodeArgs struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

func (addKnowledgeNodeArgs) ToolName() string { return "add_knowledge_node" }

type addKnowledgeEdgeArgs struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Label  string  `json:"label"`
	Weight float64 `json:"weight"`
}

func (addKnowledgeEdgeArgs) ToolName() string { return "add_knowledge_edge" }

type updateSelfModelArgs struct {
	Description  *string  `json:"description"`
	CoreWisdom   []string `json:"core_wisdom"`
	Capabilities []string `json:"capabilities"`
	Limitations  []string `json:"limitations"`
}

func (updateSelfModelArgs) ToolName() string { return "update_self_model" }

type addJournalEntryArgs struct {
	Type  string `json:"type"`
	Entry string `json:"entry"`
}

func (addJournalEntryArgs) ToolName() string { return "add_journal_entry" }

type proposeCodeChangeArgs struct {
	File        string `json:"file"`
	Description string `json:"description"`
	Code        string `json:"code"`
}

func (proposeCodeChangeArgs) ToolName() string { return "propose_code_change" }

type proposeUIChangeArgs struct {
	Component   string `json:"component"`
	Property    string `json:"property"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

func (proposeUIChangeArgs) ToolName() string { return "propose_ui_change" }

type executeCodeArgs struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

func (executeCodeArgs) ToolName() string { return "execute_code" }

type kvGetArgs struct {
	Key string `json:"key"`
}

func (kvGetArgs) ToolName() string { return "kv_get" }

type kvSetArgs struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (kvSetArgs) ToolName() string { return "kv_set" }

type fsReadArgs struct {
	Path     string `json:"path"`
	MaxBytes int64  `json:"max_bytes"`
}

func (fsReadArgs) ToolName() string { return "fs_read" }

type fsWriteArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Append  bool   `json:"append"`
}

func (fsWriteArgs) ToolName() string { return "fs_write" }

type fsListArgs struct {
	Path string `json:"path"`
}

func (fsListArgs) ToolName() string { return "fs_list" }

type httpFetchArgs struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

func (httpFetchArgs) ToolName() string { return "http_fetch" }

type webSearchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (webSearchArgs) ToolName() string { return "web_search" }

type rememberArgs struct {
	Text string `json:"text"`
}

func (rememberArgs) ToolName() string { return "remember" }

type recallArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (recallArgs) ToolName() string { return "recall" }
