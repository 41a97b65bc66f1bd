package runtime

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DumpResult renders a Result as a JSON document navigable by dot-path
// (requestId, outputs.0.node, outputs.0.outputIndex,
// outputs.0.validCount, errors.0), the debug-dump supplement
// SPEC_FULL.md adds for inspecting a computeValues call without a full
// struct-to-struct diff tool.
func DumpResult(result Result) (string, error) {
	doc := "{}"
	var err error
	doc, err = sjson.Set(doc, "requestId", result.RequestID)
	if err != nil {
		return "", fmt.Errorf("runtime: dump result: %w", err)
	}
	for i, out := range result.Outputs {
		base := fmt.Sprintf("outputs.%d", i)
		doc, err = sjson.Set(doc, base+".node", out.Output.NodeIndex)
		if err != nil {
			return "", fmt.Errorf("runtime: dump result: %w", err)
		}
		doc, err = sjson.Set(doc, base+".outputIndex", out.Output.OutputIndex)
		if err != nil {
			return "", fmt.Errorf("runtime: dump result: %w", err)
		}
		doc, err = sjson.Set(doc, base+".validCount", out.Mask.Count())
		if err != nil {
			return "", fmt.Errorf("runtime: dump result: %w", err)
		}
	}
	for i, e := range result.Errors {
		doc, err = sjson.Set(doc, fmt.Sprintf("errors.%d", i), e.Error())
		if err != nil {
			return "", fmt.Errorf("runtime: dump result: %w", err)
		}
	}
	return doc, nil
}

// QueryDump navigates a DumpResult document by dot-path (gjson syntax,
// e.g. "outputs.0.validCount").
func QueryDump(doc, path string) gjson.Result {
	return gjson.Get(doc, path)
}

// OutputAt looks up the Nth requested output's validity count straight
// from a dump, a convenience wrapper over QueryDump for the common
// case.
func OutputAt(doc string, index int) (nodeIdx uint32, validCount int64, ok bool) {
	node := QueryDump(doc, fmt.Sprintf("outputs.%d.node", index))
	if !node.Exists() {
		return 0, 0, false
	}
	count := QueryDump(doc, fmt.Sprintf("outputs.%d.validCount", index))
	return uint32(node.Uint()), count.Int(), true
}
