// Package hints turns platform failures into operator-facing remediation
// advice.
package hints

import "github.com/szaher/guildkeeper/internal/platform"

// Hint is a human-readable explanation of a failure.
type Hint struct {
	Code        int      `json:"code"`
	Title       string   `json:"title"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions"`
	// Retryable is false when re-running without a blueprint or guild change
	// will fail the same way.
	Retryable bool `json:"retryable"`
}

var table = map[int]Hint{
	platform.CodeMissingPermissions: {
		Title:   "Missing permissions",
		Message: "The bot lacks a permission required for this action.",
		Suggestions: []string{
			"Grant the bot the Manage Roles and Manage Channels permissions.",
			"Move the bot's role above the roles it must manage in Server Settings > Roles.",
			"Re-run setup once permissions are fixed; only failed items are retried.",
		},
		Retryable: true,
	},
	platform.CodeMissingAccess: {
		Title:   "Missing access",
		Message: "The bot cannot see the target channel or category.",
		Suggestions: []string{
			"Check that the bot can view the parent category.",
			"Remove channel overwrites that deny the bot View Channel.",
		},
		Retryable: true,
	},
	platform.CodeInvalidFormBody: {
		Title:   "Invalid request",
		Message: "The platform rejected the entity's parameters.",
		Suggestions: []string{
			"Check the name length (1-100 characters) and allowed characters in the blueprint.",
			"Check role colors and channel descriptions (max 1024 characters).",
			"This will not resolve on retry without a blueprint fix.",
		},
	},
	platform.CodeMaxRoles: {
		Title:   "Role limit reached",
		Message: "The guild has reached the maximum number of roles.",
		Suggestions: []string{
			"Delete unused roles, then re-run setup.",
		},
		Retryable: true,
	},
	platform.CodeMaxChannels: {
		Title:   "Channel limit reached",
		Message: "The guild has reached the maximum number of channels.",
		Suggestions: []string{
			"Delete unused channels or categories, then re-run setup.",
		},
		Retryable: true,
	},
	platform.CodeChannelTypeUnsupported: {
		Title:   "Channel type not supported",
		Message: "Forum channels require the guild to have Community enabled.",
		Suggestions: []string{
			"Enable Community in Server Settings to use forum channels.",
			"The channel was created as a text channel instead.",
		},
	},
}

var generic = Hint{
	Title:   "Unexpected error",
	Message: "The platform returned an error guildkeeper does not recognize.",
	Suggestions: []string{
		"Check the bot's logs for the full error.",
		"Re-run setup; transient failures are retried.",
	},
	Retryable: true,
}

// Classify returns the hint for err. It never fails: unknown codes and
// errors without platform detail get the generic hint.
func Classify(err error) Hint {
	return ForCode(platform.Code(err))
}

// ForCode returns the hint registered for a platform error code.
func ForCode(code int) Hint {
	h, ok := table[code]
	if !ok {
		h = generic
	}
	h.Code = code
	h.Suggestions = append([]string(nil), h.Suggestions...)
	return h
}

// Known reports whether code has a dedicated hint.
func Known(code int) bool {
	_, ok := table[code]
	return ok
}
