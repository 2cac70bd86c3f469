package telemetry

import (
	"strconv"

	"go.opentelemetry.io/otel/attribute"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String("method", method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String("path", path)
}

func statusAttr(status int) attribute.KeyValue {
	return attribute.String("status", strconv.Itoa(status))
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String("result", result)
}

func sourceAttr(source string) attribute.KeyValue {
	return attribute.String("source", source)
}

func filterAttr(filter string) attribute.KeyValue {
	return attribute.String("filter", filter)
}

func upstreamAttr(upstream string) attribute.KeyValue {
	return attribute.String("upstream", upstream)
}
