package entries

import "github.com/bytedance/sonic"

// imageTokens approximates the cost of one image block.
const imageTokens = 750

// CountTokens estimates tokens for a text string at roughly four
// characters per token, rounding up. Close enough for display; exact
// counts belong to the recalculation pass.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// CountMessageTokens estimates the token footprint of an entry across its
// content blocks. Tool payloads are serialized to JSON and counted as
// text; images cost a flat approximation each.
func CountMessageTokens(entry Entry) int {
	total := 0

	// Top-level content, used by system and summary entries
	if content := getString(entry, "content"); content != "" {
		total += CountTokens(content)
	}
	if summary := getString(entry, "summary"); summary != "" {
		total += CountTokens(summary)
	}

	message := getMap(entry, "message")
	if message == nil {
		return total
	}

	if content, ok := message["content"].(string); ok {
		return total + CountTokens(content)
	}

	blocks, ok := message["content"].([]any)
	if !ok {
		return total
	}

	for _, raw := range blocks {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch getString(item, "type") {
		case "text":
			total += CountTokens(getString(item, "text"))
		case "thinking":
			total += CountTokens(getString(item, "thinking"))
		case "tool_use":
			total += countSerialized(item["input"])
		case "tool_result":
			total += countToolResult(item["content"])
		case "image":
			total += imageTokens
		}
	}

	return total
}

func countToolResult(content any) int {
	switch c := content.(type) {
	case string:
		return CountTokens(c)
	case []any:
		total := 0
		for _, raw := range c {
			part, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			switch getString(part, "type") {
			case "image":
				total += imageTokens
			case "text":
				total += CountTokens(getString(part, "text"))
			default:
				total += countSerialized(part)
			}
		}
		return total
	case nil:
		return 0
	default:
		return countSerialized(c)
	}
}

func countSerialized(v any) int {
	if v == nil {
		return 0
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return 0
	}
	return CountTokens(string(data))
}
