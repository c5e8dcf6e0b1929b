// Package command implements the in-band control protocol: chat messages
// whose content starts with "!" are intercepted before they reach the
// upstream and answered locally. The interpreter is session-stateful;
// parameters set with !set apply to later chat requests carrying the same
// session id.
package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuber-it/heinzel-ki/provider"
)

// Prefix marks a chat message as a command.
const Prefix = "!"

// SettableParams lists the session parameters !set accepts.
var SettableParams = []string{"model", "temperature", "max_tokens"}

// IsCommand reports whether content is a command message. A bare "!" or
// "! text" with a space after the prefix is ordinary chat.
func IsCommand(content string) bool {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, Prefix) || len(s) < 2 {
		return false
	}
	return s[1] != ' '
}

// Extract splits a command message into its lowercased name and arguments.
// "!set temperature=0.7" yields ("set", ["temperature=0.7"]).
func Extract(content string) (string, []string) {
	parts := strings.Fields(strings.TrimPrefix(strings.TrimSpace(content), Prefix))
	if len(parts) == 0 {
		return "", nil
	}
	return strings.ToLower(parts[0]), parts[1:]
}

// Result is the JSON-shaped outcome of one command.
type Result map[string]any

// Execute runs one command against the provider and the session parameters.
// It never fails; errors are reported inside the result.
func Execute(cmd string, args []string, p provider.Provider, params *SessionParams) Result {
	switch cmd {
	case "help":
		return Result{
			"commands": []string{
				"!status               - provider status",
				"!dlglog on|off        - toggle dialog logging",
				"!set key=value        - set parameter (model, temperature, max_tokens)",
				"!get key              - read parameter",
				"!help                 - this list",
			},
			"examples": []string{
				"!set model=gpt-4o-mini",
				"!set temperature=0.7",
				"!set max_tokens=512",
				"!get temperature",
				"!dlglog off",
			},
		}

	case "status":
		modelID := params.Model
		if modelID == "" {
			modelID = p.DefaultModel()
		}
		return Result{
			"provider":         p.Name(),
			"connected":        p.Connected(),
			"model":            modelID,
			"default_model":    p.DefaultModel(),
			"available_models": p.Models(),
			"dialog_logging":   p.DialogLogger().Enabled(),
			"temperature":      params.Temperature,
			"max_tokens":       params.MaxTokens,
			"retry_config":     p.RetryConfig(),
			"rate_limit_hits":  len(p.RateLimitHits()),
		}

	case "dlglog":
		if len(args) == 0 {
			return Result{"error": "syntax: !dlglog on|off", "current": p.DialogLogger().Enabled()}
		}
		switch strings.ToLower(args[0]) {
		case "on":
			p.DialogLogger().SetEnabled(true)
			return Result{"ok": true, "dialog_logging": true}
		case "off":
			p.DialogLogger().SetEnabled(false)
			return Result{"ok": true, "dialog_logging": false}
		default:
			return Result{"error": fmt.Sprintf("unknown value %q, expected on|off", args[0])}
		}

	case "set":
		return executeSet(args, p, params)

	case "get":
		return executeGet(args, p, params)

	default:
		return Result{
			"error": fmt.Sprintf("unknown command %q", Prefix+cmd),
			"hint":  "send !help for a list",
		}
	}
}

func executeSet(args []string, p provider.Provider, params *SessionParams) Result {
	if len(args) == 0 {
		return Result{"error": "syntax: !set key=value", "settable": SettableParams}
	}
	key, value, ok := strings.Cut(args[0], "=")
	if !ok {
		return Result{"error": fmt.Sprintf("syntax: !set key=value (no '=' in %q)", args[0])}
	}
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)

	switch key {
	case "temperature":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Result{"error": fmt.Sprintf("invalid value: %s", value)}
		}
		if v < 0 || v > 2 {
			return Result{"error": "temperature must be between 0.0 and 2.0"}
		}
		params.Temperature = &v
		return Result{"ok": true, "temperature": v}

	case "max_tokens":
		v, err := strconv.Atoi(value)
		if err != nil {
			return Result{"error": fmt.Sprintf("invalid value: %s", value)}
		}
		if v < 1 {
			return Result{"error": "max_tokens must be >= 1"}
		}
		params.MaxTokens = &v
		return Result{"ok": true, "max_tokens": v}

	case "model":
		available := p.Models()
		if !contains(available, value) {
			return Result{"error": fmt.Sprintf("unknown model %q", value), "available": available}
		}
		params.Model = value
		return Result{"ok": true, "model": value}

	default:
		return Result{"error": fmt.Sprintf("unknown parameter %q", key), "settable": SettableParams}
	}
}

func executeGet(args []string, p provider.Provider, params *SessionParams) Result {
	modelID := params.Model
	if modelID == "" {
		modelID = p.DefaultModel()
	}
	if len(args) == 0 {
		return Result{
			"model":       modelID,
			"temperature": params.Temperature,
			"max_tokens":  params.MaxTokens,
		}
	}
	switch strings.ToLower(args[0]) {
	case "model":
		return Result{"model": modelID}
	case "temperature":
		return Result{"temperature": params.Temperature}
	case "max_tokens":
		return Result{"max_tokens": params.MaxTokens}
	case "dialog_logging":
		return Result{"dialog_logging": p.DialogLogger().Enabled()}
	default:
		return Result{
			"error":    fmt.Sprintf("unknown parameter %q", args[0]),
			"gettable": append(append([]string{}, SettableParams...), "dialog_logging"),
		}
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
