// Package observability provides the metrics surface for the supervisor.
package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrStatus  = "status"
	attrStage   = "stage"
	attrOutcome = "outcome"
	attrMethod  = "method"
	attrPath    = "path"
	attrCode    = "code"
)

func statusAttr(status string) attribute.KeyValue {
	return attribute.String(attrStatus, status)
}

func stageAttr(stage string) attribute.KeyValue {
	return attribute.String(attrStage, stage)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, path)
}

func codeAttr(code int) attribute.KeyValue {
	// Group status codes to keep cardinality down: 200-299 -> 2xx.
	return attribute.String(attrCode, fmt.Sprintf("%dxx", code/100))
}
