package onboarding

import (
	"fmt"
	"strings"

	"github.com/checksumhq/danny/internal/models"
)

// Phase selects who the agent is talking to and therefore which
// instructions and tools it runs with.
type Phase string

const (
	// PhaseSales interviews a sales colleague before the customer call.
	PhaseSales Phase = models.PhaseSales
	// PhaseCustomer interviews the customer directly.
	PhaseCustomer Phase = models.PhaseCustomer
)

// ParsePhase converts a stored or configured phase name.
func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("onboarding: unknown phase %q (sales, customer)", s)
	}
	return p, nil
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return models.KnownPhase(string(p))
}

const fieldGuide = `- customer_name: the customer's company or project name
- repository: the GitHub repository (owner/repo format)
- api_endpoints: the API endpoints to be tested (collect as a list)
- auth_method: how the API authenticates (e.g. API key, OAuth, JWT)
- auth_details: specifics like where to put the key, scopes needed, etc.
- test_output_folder: where generated test files should be saved
- test_output_format: preferred test framework/format (e.g. pytest, jest)
- test_descriptions: high-level descriptions of what to test (collect as a list)
- additional_context: anything else useful (conventions, quirks, priorities)`

const salesInstructions = `You are an onboarding assistant for Checksum, chatting with a sales colleague. Your job is to collect as much information as possible about a new customer before the customer interview begins.

Ask about each of these topics in a natural, conversational way:
` + fieldGuide + `

It's completely fine if the sales colleague doesn't know some answers; acknowledge that gracefully and move on. Use the save_answer tool to persist each piece of information as you receive it. Use get_current_state and list_unanswered_questions to track progress.

Only ask about test_output_folder once they have named the repository.

Keep the tone collegial and friendly. When all questions have been addressed (answered or skipped), summarise what was collected and let the colleague know the customer interview can now begin. If they confirm, call begin_customer_interview.`

const customerInstructions = `You are an onboarding assistant for Checksum, interviewing a customer to set up their automated test generation. A sales colleague has already provided some initial information.

Start by using get_current_state to see what's already been collected, then use list_unanswered_questions to identify gaps.

Your goals:
1. Confirm the information already provided is correct.
2. Fill in any missing fields by asking the customer directly.
3. Gather any additional context that would help generate better tests.

The fields you're collecting:
` + fieldGuide + `

Keep the tone professional and respectful. Use the save_answer tool to persist each piece of information. When all fields are filled, summarise the complete onboarding profile and confirm with the customer.`

// Instructions returns the system prompt for p. channelName, when set, is
// appended so the agent can refer to where the conversation happens.
func (p Phase) Instructions(channelName string) string {
	text := salesInstructions
	if p == PhaseCustomer {
		text = customerInstructions
	}
	if channelName != "" {
		text += fmt.Sprintf("\n\nThis conversation is taking place in the #%s channel.", channelName)
	}
	return text
}

// Param describes one string argument of a Tool.
type Param struct {
	Name        string
	Description string
	Enum        []string
}

// Tool describes a function the agent may call. All params are required.
type Tool struct {
	Name        string
	Description string
	Params      []Param
}

// Tool names.
const (
	ToolSaveAnswer             = "save_answer"
	ToolGetCurrentState        = "get_current_state"
	ToolListUnanswered         = "list_unanswered_questions"
	ToolBeginCustomerInterview = "begin_customer_interview"
)

var commonTools = []Tool{
	{
		Name:        ToolSaveAnswer,
		Description: "Save an answer for a specific onboarding field. Saving a field again overwrites it.",
		Params: []Param{
			{Name: "field_name", Description: "One of the onboarding fields (e.g. 'customer_name').", Enum: Fields},
			{Name: "value", Description: "The value to store. For list fields (api_endpoints, test_descriptions), pass a JSON array string."},
		},
	},
	{
		Name:        ToolGetCurrentState,
		Description: "Return the current state of all collected onboarding information as JSON.",
	},
	{
		Name:        ToolListUnanswered,
		Description: "Return a JSON list of field names that still need answers.",
	},
}

var beginCustomerTool = Tool{
	Name:        ToolBeginCustomerInterview,
	Description: "Hand the session over to the customer interview once the sales colleague has confirmed the summary.",
}

// Tools returns the tool set available in p.
func (p Phase) Tools() []Tool {
	tools := append([]Tool(nil), commonTools...)
	if p == PhaseSales {
		tools = append(tools, beginCustomerTool)
	}
	return tools
}
