package schema

import "strings"

// Trigger node types.
const (
	NodeTriggerCommand   = "trigger-command"
	NodeTriggerMessage   = "trigger-message"
	NodeTriggerCallback  = "trigger-callback"
	NodeTriggerSchedule  = "trigger-schedule"
	NodeTriggerEvent     = "trigger-event"
	NodeTriggerCondition = "trigger-condition"
	NodeTriggerWebhook   = "trigger-webhook"
)

// Action node types.
const (
	NodeSendMessage      = "action-send-message"
	NodeSendMedia        = "action-send-media"
	NodeSendKeyboard     = "action-send-keyboard"
	NodeRequestInput     = "action-request-input"
	NodeSetVariable      = "action-set-variable"
	NodeDelay            = "action-delay"
	NodeHTTPRequest      = "action-http-request"
	NodeSaveData         = "action-save-data"
	NodeSendNotification = "action-send-notification"
	NodeLog              = "action-log"
)

// Condition node types.
const (
	NodeConditionText     = "condition-text-contains"
	NodeConditionVariable = "condition-variable-compare"
	NodeConditionLogic    = "condition-logic"
	NodeConditionTime     = "condition-time"
	NodeConditionRandom   = "condition-random"
	NodeConditionSwitch   = "condition-switch"
	NodeConditionExists   = "condition-exists"
	NodeConditionType     = "condition-type"
)

// Data node types.
const (
	NodeDataMath   = "data-math"
	NodeDataString = "data-string"
	NodeDataArray  = "data-array"
	NodeDataJSON   = "data-json"
	NodeDataRandom = "data-random"
	NodeDataFormat = "data-format"
)

// Integration node types.
const (
	NodeIntegrationREST    = "integration-rest-api"
	NodeIntegrationGraphQL = "integration-graphql"
	NodeIntegrationCSV     = "integration-csv-parser"
)

// Aliases and container types kept for schemas produced by older editors.
const (
	NodeUtilityMath     = "utility-math"
	NodeScenarioFAQ     = "scenario-faq"
	NodeScenarioQuiz    = "scenario-quiz"
	NodeScenarioSupport = "scenario-support"
)

// Trigger kinds an inbound event is classified into.
const (
	TriggerCommand  = "command"
	TriggerMessage  = "message"
	TriggerCallback = "callback"
	TriggerSchedule = "schedule"
	TriggerEvent    = "event"
	TriggerWebhook  = "webhook"
)

// IsTriggerType reports whether a node type is an entry trigger.
func IsTriggerType(nodeType string) bool {
	return strings.HasPrefix(nodeType, "trigger-")
}

// TriggerKindOf maps a trigger node type to the trigger kind it answers.
// Returns "" for non-trigger types.
func TriggerKindOf(nodeType string) string {
	switch nodeType {
	case NodeTriggerCommand:
		return TriggerCommand
	case NodeTriggerMessage:
		return TriggerMessage
	case NodeTriggerCallback:
		return TriggerCallback
	case NodeTriggerSchedule:
		return TriggerSchedule
	case NodeTriggerEvent, NodeTriggerCondition:
		return TriggerEvent
	case NodeTriggerWebhook:
		return TriggerWebhook
	}
	return ""
}
