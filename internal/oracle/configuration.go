package oracle

// Property types understood by the service
const (
	TypeTimezone   = "timezone"
	TypeDayOfMonth = "day_of_month"
	TypeDayOfWeek  = "day_of_week"
	TypeMonthOfYr  = "month_of_year"
	TypeTimeOfDay  = "time_of_day"
	TypeContinuous = "continuous"
	TypeEnum       = "enum"
)

// Property describes one feature of the agent context
type Property struct {
	Type string `json:"type"`
}

// Configuration is the model configuration an agent is created with
type Configuration struct {
	Context            map[string]Property `json:"context"`
	Output             []string            `json:"output"`
	TimeQuantum        int64               `json:"time_quantum"`
	LearningPeriod     int64               `json:"learning_period,omitempty"`
	OperationsAsEvents bool                `json:"operations_as_events,omitempty"`
	TreeMaxDepth       int                 `json:"tree_max_depth,omitempty"`
	TreeMaxOperations  int                 `json:"tree_max_operations,omitempty"`
}

const (
	// Week is the time quantum of the order models, in seconds
	Week int64 = 7 * 24 * 60 * 60
	// LearningWindow is the effective history the service learns from
	LearningWindow int64 = 3 * 365 * 24 * 60 * 60
)

// ModelConfiguration is the fixed configuration of every
// (client, category) and (client, brand) agent.
func ModelConfiguration() Configuration {
	return Configuration{
		Context: map[string]Property{
			"timezone":              {Type: TypeTimezone},
			"day":                   {Type: TypeDayOfMonth},
			"month":                 {Type: TypeMonthOfYr},
			"periodsSinceLastEvent": {Type: TypeContinuous},
			"order":                 {Type: TypeEnum},
		},
		Output:             []string{"order"},
		TimeQuantum:        Week,
		LearningPeriod:     LearningWindow,
		OperationsAsEvents: true,
		TreeMaxDepth:       10,
		TreeMaxOperations:  600,
	}
}
