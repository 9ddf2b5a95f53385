package pipeline

import (
	"fmt"
	"strings"
)

// Topology names one arrangement of agents.
type Topology string

const (
	// SingleStage uses one API Caller for analysis, matching and the call.
	SingleStage Topology = "single"
	// TwoStage runs a Request Interpreter, then the API Caller.
	TwoStage Topology = "two-stage"
	// ThreeStage runs an OpenAPI Analyst and a Request Interpreter, then the
	// API Caller.
	ThreeStage Topology = "three-stage"
)

// Topologies lists every supported topology.
var Topologies = []Topology{SingleStage, TwoStage, ThreeStage}

// ParseTopology validates a topology name.
func ParseTopology(s string) (Topology, error) {
	t := Topology(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Topologies {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown topology %q", s)
}

// Persona is the role-play description of an agent.
type Persona struct {
	Role      string
	Goal      string
	Backstory string

	// UsesTools marks the agent that is allowed to call the connector.
	UsesTools bool
}

var (
	AnalystPersona = Persona{
		Role:      "OpenAPI Analyst",
		Goal:      "Analyze OpenAPI spec {data} for API structure",
		Backstory: "Expert API architect with 20 years of experience.",
	}
	InterpreterPersona = Persona{
		Role:      "Request Interpreter",
		Goal:      "Match user request {request} to API endpoints",
		Backstory: "NLP and API integration expert with 10 years of experience.",
	}
	CallerPersona = Persona{
		Role:      "API Caller",
		Goal:      "Make API calls using {base_url} and handle errors",
		Backstory: "Experienced in diverse API integrations.",
		UsesTools: true,
	}
)

// Task IDs used by the built-in topologies.
const (
	TaskAnalyze   = "analyze"
	TaskInterpret = "interpret"
	TaskCall      = "call"
)

const (
	analyzeDescription = "Analyze OpenAPI JSON data.\n\n" +
		"List the available operations with their method, path, parameters and request body, " +
		"and note how requests must be formed.\n\nOperations:\n{catalog}"
	analyzeExpected = "A structured summary of the API: every operation with method, path, " +
		"required parameters and body shape."

	interpretDescription = "Interpret user request and match to API endpoint.\n\n" +
		"User request: {request}\n\nOperations:\n{catalog}\n\n" +
		"Pick the single operation that fulfils the request and derive the concrete values for " +
		"its path parameters, query parameters and body. If no operation fits, say NO MATCH and why."
	interpretExpected = "The chosen method and path template, the values for path_params, " +
		"query_params and body, or NO MATCH with a reason."

	callDescription = "Make API call and handle response.\n\n" +
		"User request: {request}\nBase URL: {base_url}\n\n" +
		"Use the unified_endpoint_connector tool exactly once for the matched operation. " +
		"Report the status code and the relevant part of the response. If the call fails, " +
		"report the error as returned. If no operation matches, do not call the tool and explain why."
	callExpected = "The outcome of the API call: status code and response data, or the error message."

	singleDescription = "Analyze the OpenAPI document, interpret the user request, match it to " +
		"an API endpoint, then make the API call and handle the response.\n\n" +
		"User request: {request}\nBase URL: {base_url}\n\nOpenAPI document:\n{data}\n\n" +
		"Use the unified_endpoint_connector tool exactly once for the matched operation. " +
		"If no operation matches, do not call the tool and explain why."
)

// Stage is one task of a topology before executors are attached.
type Stage struct {
	TaskID         string
	Persona        Persona
	Description    string
	ExpectedOutput string
	DependsOn      []string
}

// Stages returns the task layout of a topology. The API Caller always comes
// last and depends on every earlier stage.
func (t Topology) Stages() ([]Stage, error) {
	caller := Stage{
		TaskID:         TaskCall,
		Persona:        CallerPersona,
		Description:    callDescription,
		ExpectedOutput: callExpected,
	}
	interpret := Stage{
		TaskID:         TaskInterpret,
		Persona:        InterpreterPersona,
		Description:    interpretDescription,
		ExpectedOutput: interpretExpected,
	}

	switch t {
	case SingleStage:
		caller.Description = singleDescription
		return []Stage{caller}, nil
	case TwoStage:
		caller.DependsOn = []string{TaskInterpret}
		return []Stage{interpret, caller}, nil
	case ThreeStage:
		analyze := Stage{
			TaskID:         TaskAnalyze,
			Persona:        AnalystPersona,
			Description:    analyzeDescription,
			ExpectedOutput: analyzeExpected,
		}
		caller.DependsOn = []string{TaskAnalyze, TaskInterpret}
		return []Stage{analyze, interpret, caller}, nil
	}
	return nil, fmt.Errorf("unknown topology %q", t)
}
