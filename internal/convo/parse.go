// Package convo interprets inbound chat messages against a small persisted
// per-thread state, producing replies and store mutations.
package convo

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/secondbrain-hq/secondbrain/internal/core"
)

// Command is a quick-query keyword recognized in the Idle state.
type Command string

const (
	CommandNone  Command = ""
	CommandHelp  Command = "help"
	CommandNext  Command = "next"
	CommandToday Command = "today"
	CommandWeek  Command = "week"
)

var (
	updateNumberRe   = regexp.MustCompile(`^(\d+)\b`)
	fieldSelectionRe = regexp.MustCompile(`^(\d+)(?:[\).:\-]\s*|\s+)?(.*)$`)
)

// parseCommand recognizes the whole-message query keywords. A capture that
// merely contains the word "today" is not a command; only an exact keyword
// message is.
func parseCommand(text string) Command {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	cleaned = strings.NewReplacer("?", "", "!", "").Replace(cleaned)
	tokens := strings.Fields(cleaned)

	switch {
	case len(tokens) == 1 && (tokens[0] == "help" || tokens[0] == "commands"):
		return CommandHelp
	case len(tokens) == 1 && tokens[0] == "next":
		return CommandNext
	case len(tokens) == 1 && (tokens[0] == "today" || tokens[0] == "daily"):
		return CommandToday
	case len(tokens) == 1 && (tokens[0] == "week" || tokens[0] == "weekly"):
		return CommandWeek
	case len(tokens) == 2 && tokens[0] == "this" && tokens[1] == "week":
		return CommandWeek
	}
	return CommandNone
}

// parseUpdateRequest extracts N from "update N" / "update: N". Second return
// is false when the message is not an update request at all.
func parseUpdateRequest(text string) (int, bool) {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	if !strings.HasPrefix(cleaned, "update") {
		return 0, false
	}
	remainder := strings.TrimSpace(cleaned[len("update"):])
	remainder = strings.TrimSpace(strings.TrimPrefix(remainder, ":"))

	match := updateNumberRe.FindStringSubmatch(remainder)
	if match == nil {
		return 0, false
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseFieldSelection splits "2 New Value", "2) New Value" or a bare "2" into
// the field number and the optional inline value.
func parseFieldSelection(text string) (number int, value string, ok bool) {
	match := fieldSelectionRe.FindStringSubmatch(strings.TrimSpace(text))
	if match == nil {
		return 0, "", false
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, "", false
	}
	return n, strings.TrimSpace(match[2]), true
}

// parseFixCategory extracts the category from "fix: <category>". The second
// return distinguishes "not a fix command" from "fix with a bad category".
func parseFixCategory(text string) (core.Category, bool, bool) {
	cleaned := strings.TrimSpace(text)
	if !strings.HasPrefix(strings.ToLower(cleaned), "fix:") {
		return "", false, false
	}
	remainder := strings.ToLower(strings.TrimSpace(cleaned[len("fix:"):]))
	if remainder == "" {
		return "", false, true
	}
	token := strings.Fields(remainder)[0]
	category, ok := core.ParseCategory(token)
	return category, ok, true
}

// isCancel matches the cancel forms accepted from any state.
func isCancel(text string) bool {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	return cleaned == "cancel" || cleaned == "update cancel"
}

// stripBotPrefix removes a leading @-mention of the bot so "@sb today" and
// "today" parse identically in group rooms.
func stripBotPrefix(botName, text string) string {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return cleaned
	}

	names := []string{"bot"}
	if botName = strings.ToLower(strings.TrimSpace(botName)); botName != "" {
		names = append([]string{botName}, names...)
	}

	lower := strings.ToLower(cleaned)
	for _, name := range names {
		for _, variant := range []string{name, "@" + name} {
			for _, sep := range []string{" ", ":"} {
				prefix := variant + sep
				if strings.HasPrefix(lower, prefix) {
					return strings.TrimSpace(cleaned[len(prefix):])
				}
			}
		}
	}
	return cleaned
}

// isSystemMessage recognizes the bot's own outbound formats, which must never
// be re-captured when echoed back through the webhook.
func isSystemMessage(text string) bool {
	for _, prefix := range []string{"[SB DIGEST]", "[SB HELP]", "Filed as", "Needs review", "Updated "} {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}
