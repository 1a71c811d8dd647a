// Package entries maintains the in-memory working set of transcript
// entries loaded from JSONL files, enriched for display.
package entries

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Entry is one parsed JSONL line plus the metadata keys the loader adds:
// _file, _file_path, content_display, tool_items, content_tokens.
type Entry map[string]any

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

// EnrichContent derives a displayable string for an entry from its
// structured data. Entries that already carry non-empty string content are
// returned as-is.
func EnrichContent(entry Entry) string {
	if content := getString(entry, "content"); strings.TrimSpace(content) != "" {
		return content
	}

	switch getString(entry, "type") {
	case "summary":
		return getString(entry, "summary")
	case "file-history-snapshot":
		return describeSnapshot(entry)
	case "system":
		return describeSystem(entry)
	}

	message := getMap(entry, "message")
	if message == nil {
		return getString(entry, "content")
	}

	// Simple string content, common for user messages
	if content, ok := message["content"].(string); ok && strings.TrimSpace(content) != "" {
		return content
	}

	blocks, ok := message["content"].([]any)
	if !ok || len(blocks) == 0 {
		return getString(entry, "content")
	}

	var parts []string
	for _, raw := range blocks {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch getString(item, "type") {
		case "text":
			if text := getString(item, "text"); text != "" {
				parts = append(parts, text)
			}
		case "thinking":
			if thinking := getString(item, "thinking"); thinking != "" {
				parts = append(parts, "💭 Thought: "+strings.Join(strings.Fields(thinking), " "))
			}
		case "tool_use":
			parts = append(parts, describeToolUse(item))
		case "tool_result":
			parts = append(parts, describeToolResult(item, entry))
		}
	}

	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	return getString(entry, "content")
}

func describeSnapshot(entry Entry) string {
	snapshot := getMap(entry, "snapshot")
	files := getMap(snapshot, "trackedFileBackups")
	if len(files) == 0 {
		return "📸 File snapshot"
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	count := len(names)
	preview := strings.Join(names[:min(3, count)], ", ")
	if count > 3 {
		preview += fmt.Sprintf(", ... (+%d more)", count-3)
	}
	plural := "s"
	if count == 1 {
		plural = ""
	}
	return fmt.Sprintf("📸 Snapshot: %d file%s tracked - %s", count, plural, preview)
}

func describeSystem(entry Entry) string {
	content := getString(entry, "content")
	if getString(entry, "subtype") == "compact_boundary" {
		metadata := getMap(entry, "compactMetadata")
		if pre, ok := metadata["preTokens"].(float64); ok && pre > 0 {
			content += fmt.Sprintf(" (%s tokens)", formatThousands(int64(pre)))
		}
	}
	return content
}

// interestingParams are tool input keys worth surfacing in the one-line
// display.
var interestingParams = []string{"command", "file_path", "url", "pattern", "selector", "description"}

func describeToolUse(item map[string]any) string {
	name := getString(item, "name")
	if name == "" {
		name = "Unknown"
	}
	input := getMap(item, "input")

	var params []string
	for _, key := range interestingParams {
		value, ok := input[key].(string)
		if !ok {
			continue
		}
		if len(value) > 50 {
			value = truncate(value, 50) + "..."
		}
		params = append(params, key+"="+value)
		if len(params) == 2 {
			break
		}
	}

	if len(params) > 0 {
		return fmt.Sprintf("🔧 %s(%s)", name, strings.Join(params, ", "))
	}
	return "🔧 " + name
}

func describeToolResult(item map[string]any, entry Entry) string {
	toolResult := getMap(entry, "toolUseResult")

	switch content := item["content"].(type) {
	case string:
		lower := strings.ToLower(content)
		switch {
		case strings.Contains(lower, "exit code"):
			return "✓ Bash: " + firstLine(content, 100)
		case strings.Contains(strings.ToLower(fmt.Sprint(toolResult)), "command"):
			return "✓ Output: " + firstLine(content, 100)
		case toolResult["filePath"] != nil:
			filePath := getString(toolResult, "filePath")
			fileName := filePath[strings.LastIndex(filePath, "/")+1:]
			if fileName == "" {
				fileName = "file"
			}
			if _, edited := toolResult["oldString"]; edited {
				return "✓ Edited " + fileName
			}
			return "✓ Updated " + fileName
		case strings.Contains(content, "\n") && strings.Contains(content, "→"):
			// Looks like numbered file-read output
			return fmt.Sprintf("✓ Read file: %d lines", strings.Count(content, "\n")+1)
		case content != "":
			return "✓ Result: " + truncate(content, 100)
		default:
			return "✓ Tool completed"
		}
	case []any:
		if len(content) > 0 {
			return fmt.Sprintf("✓ Result: [%d items]", len(content))
		}
	case map[string]any:
		if len(content) > 0 {
			return fmt.Sprintf("✓ Result: {%d keys}", len(content))
		}
	case nil:
	default:
		return "✓ Result: " + truncate(fmt.Sprint(content), 100)
	}
	return "✓ Tool completed"
}

// ToolItems collects tool_use and tool_result blocks for detailed viewing.
// Returns nil when the entry has neither.
func ToolItems(entry Entry) map[string]any {
	var uses, results []any

	if message := getMap(entry, "message"); message != nil {
		if blocks, ok := message["content"].([]any); ok {
			for _, raw := range blocks {
				item, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				switch getString(item, "type") {
				case "tool_use":
					uses = append(uses, map[string]any{
						"id":    item["id"],
						"name":  item["name"],
						"input": item["input"],
					})
				case "tool_result":
					results = append(results, map[string]any{
						"tool_use_id": item["tool_use_id"],
						"content":     item["content"],
						"is_error":    item["is_error"] == true,
					})
				}
			}
		}
	}

	if len(uses) == 0 && len(results) == 0 {
		return nil
	}

	items := map[string]any{
		"tool_uses":    uses,
		"tool_results": results,
	}
	if result, ok := entry["toolUseResult"]; ok {
		items["toolUseResult"] = result
	}
	return items
}

func firstLine(s string, limit int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(s, limit)
}

// truncate cuts s to at most limit bytes, backing off to the previous
// rune boundary so the result stays valid UTF-8.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

func formatThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}
