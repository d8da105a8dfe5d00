// Package policygate evaluates an agent's Policy against a requested tool
// call and returns Allow, Deny, or Escalate, in the fixed rule order spec'd
// for the kernel's PolicyGate: blocked tools, an allow-list if present, path
// scoping for vfs_read/vfs_write/vfs_delete, permission flags, and finally
// the mode gate (safe/balanced/gloves_off).
package policygate

import (
	"path/filepath"
	"strings"

	"github.com/agentkernel/kernel/pkg/models"
)

// Decision is the outcome of evaluating one tool call against a Policy.
type Decision struct {
	Allowed   bool
	Reason    string
	Escalated bool // true if gloves_off bypassed a permission-flag denial
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

func escalate(reason string) Decision {
	return Decision{Allowed: true, Escalated: true, Reason: reason}
}

// toolAliases mirrors the canonicalization idiom from the teacher's tool
// policy package: several spellings map to one canonical tool name before
// any rule runs.
var toolAliases = map[string]string{
	"bash":        "exec",
	"shell":       "exec",
	"websearch":   "web_search",
	"webfetch":    "web_fetch",
}

// Normalize lower-cases a tool name and resolves known aliases.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if canon, ok := toolAliases[n]; ok {
		return canon
	}
	return n
}

// Input bundles everything the gate needs to decide one call; args are the
// tool's raw arguments, used only to pull out a path for scoping writes/reads.
type Input struct {
	Tool string
	Path string // set for vfs_read/vfs_write/vfs_delete; empty otherwise
	Text string // the agent's current turn text, checked against GlovesOffTriggers
}

// Evaluate runs the five rules from spec §4.2, in order, stopping at the
// first rule that produces a definitive answer.
func Evaluate(policy models.Policy, in Input) Decision {
	tool := Normalize(in.Tool)

	// 1. blockedTools
	if containsTool(policy.BlockedTools, tool) {
		return deny("tool is blocked: " + tool)
	}

	// 2. allowedTools: if non-empty, acts as a strict whitelist
	if len(policy.AllowedTools) > 0 && !containsTool(policy.AllowedTools, tool) {
		return deny("tool not in allow-list: " + tool)
	}

	// 3. path scoping for VFS tools
	if in.Path != "" {
		if ok, reason := checkPathScope(policy, tool, in.Path); !ok {
			return deny(reason)
		}
	}

	// 4 & 5. permission flags, gated by mode. Safe mode forbids destructive
	// ops regardless of flags, so it's checked before hasPermission rather
	// than as a fallback when the flag is missing.
	if reason, requiresPermission := permissionFor(tool); requiresPermission {
		if policy.Mode == models.ModeSafe {
			return deny(reason + " (safe mode forbids this regardless of flags)")
		}
		if granted := hasPermission(policy.Permissions, tool); !granted {
			switch policy.Mode {
			case models.ModeGlovesOff:
				if matchesAnyTrigger(policy.GlovesOffTriggers, in.Text) {
					return escalate(reason + " (escalated via gloves_off trigger)")
				}
				return deny(reason)
			default: // balanced
				return deny(reason)
			}
		}
	}

	return allow()
}

func containsTool(list []string, tool string) bool {
	for _, t := range list {
		if Normalize(t) == tool {
			return true
		}
	}
	return false
}

func checkPathScope(policy models.Policy, tool, path string) (bool, string) {
	switch tool {
	case "vfs_read":
		return matchesAny(policy.Reads, path), "path not in reads scope: " + path
	case "vfs_write", "vfs_delete":
		return matchesAny(policy.Writes, path), "path not in writes scope: " + path
	default:
		return true, ""
	}
}

func matchesAny(globs []string, path string) bool {
	if len(globs) == 0 {
		return false
	}
	for _, g := range globs {
		if ok, _ := filepath.Match(g, path); ok {
			return true
		}
		// "**" style recursive globs: filepath.Match doesn't support
		// double-star, so treat a "dir/**" glob as a directory prefix.
		if strings.HasSuffix(g, "/**") && strings.HasPrefix(path, strings.TrimSuffix(g, "**")) {
			return true
		}
		if g == "**" {
			return true
		}
	}
	return false
}

// permissionFor reports whether tool is gated by a Permissions flag, and if
// so the human-readable reason used in a denial.
func permissionFor(tool string) (reason string, gated bool) {
	switch tool {
	case "vfs_delete":
		return "delete requires deleteFiles permission", true
	case "spawn_agent":
		return "spawning requires spawnAgents permission", true
	case "web_search", "web_fetch":
		return "network access requires webAccess permission", true
	case "signal_parent":
		return "signaling parent requires signalParent permission", true
	default:
		return "", false
	}
}

func hasPermission(p models.Permissions, tool string) bool {
	switch tool {
	case "vfs_delete":
		return p.DeleteFiles
	case "spawn_agent":
		return p.SpawnAgents
	case "web_search", "web_fetch":
		return p.WebAccess
	case "signal_parent":
		return p.SignalParent
	default:
		return true
	}
}

func matchesAnyTrigger(triggers []string, text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, trig := range triggers {
		if trig == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(trig)) {
			return true
		}
	}
	return false
}

// EvaluateCustomTool checks whether a custom (declarative) tool is allowed:
// it is still subject to blockedTools/allowedTools, and additionally gated
// by Permissions.CustomTools under the same mode-gate rule as the built-ins.
func EvaluateCustomTool(policy models.Policy, toolName string, text string) Decision {
	tool := Normalize(toolName)
	if containsTool(policy.BlockedTools, tool) {
		return deny("tool is blocked: " + tool)
	}
	if len(policy.AllowedTools) > 0 && !containsTool(policy.AllowedTools, tool) {
		return deny("tool not in allow-list: " + tool)
	}
	if policy.Permissions.CustomTools {
		return allow()
	}
	switch policy.Mode {
	case models.ModeSafe:
		return deny("custom tools forbidden in safe mode")
	case models.ModeGlovesOff:
		if matchesAnyTrigger(policy.GlovesOffTriggers, text) {
			return escalate("custom tool escalated via gloves_off trigger")
		}
		return deny("custom tools require customTools permission")
	default:
		return deny("custom tools require customTools permission")
	}
}
