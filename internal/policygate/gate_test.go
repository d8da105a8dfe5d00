package policygate

import (
	"testing"

	"github.com/agentkernel/kernel/pkg/models"
)

func basePolicy(mode models.PolicyMode) models.Policy {
	return models.Policy{
		Mode:   mode,
		Reads:  []string{"**"},
		Writes: []string{"notes/**"},
	}
}

func TestEvaluate_BlockedToolWins(t *testing.T) {
	p := basePolicy(models.ModeGlovesOff)
	p.BlockedTools = []string{"vfs_delete"}
	p.Permissions.DeleteFiles = true
	p.GlovesOffTriggers = []string{"yolo"}

	d := Evaluate(p, Input{Tool: "vfs_delete", Path: "notes/a.md", Text: "yolo delete it"})
	if d.Allowed {
		t.Fatalf("expected deny, got allow: %+v", d)
	}
}

func TestEvaluate_AllowListIsWhitelist(t *testing.T) {
	p := basePolicy(models.ModeBalanced)
	p.AllowedTools = []string{"vfs_read"}

	if d := Evaluate(p, Input{Tool: "vfs_read", Path: "a.md"}); !d.Allowed {
		t.Errorf("vfs_read should be allowed: %+v", d)
	}
	if d := Evaluate(p, Input{Tool: "vfs_write", Path: "notes/a.md"}); d.Allowed {
		t.Errorf("vfs_write should be denied: %+v", d)
	}
}

func TestEvaluate_PathScoping(t *testing.T) {
	p := basePolicy(models.ModeBalanced)
	p.Permissions.DeleteFiles = true

	if d := Evaluate(p, Input{Tool: "vfs_write", Path: "notes/a.md"}); !d.Allowed {
		t.Errorf("in-scope write should be allowed: %+v", d)
	}
	if d := Evaluate(p, Input{Tool: "vfs_write", Path: "secrets/a.md"}); d.Allowed {
		t.Errorf("out-of-scope write should be denied: %+v", d)
	}
}

func TestEvaluate_ModeGate(t *testing.T) {
	tests := []struct {
		name      string
		mode      models.PolicyMode
		triggers  []string
		text      string
		granted   bool
		wantAllow bool
		wantEsc   bool
	}{
		{"safe always denies", models.ModeSafe, nil, "", false, false, false},
		{"safe denies even with trigger", models.ModeSafe, []string{"go"}, "go", false, false, false},
		{"safe denies even with permission granted", models.ModeSafe, nil, "", true, false, false},
		{"balanced denies without permission", models.ModeBalanced, nil, "", false, false, false},
		{"balanced allows with permission", models.ModeBalanced, nil, "", true, true, false},
		{"gloves_off denies without trigger", models.ModeGlovesOff, []string{"go"}, "not it", false, false, false},
		{"gloves_off escalates with trigger", models.ModeGlovesOff, []string{"go"}, "let's go", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := basePolicy(tt.mode)
			p.GlovesOffTriggers = tt.triggers
			p.Permissions.SpawnAgents = tt.granted

			d := Evaluate(p, Input{Tool: "spawn_agent", Text: tt.text})
			if d.Allowed != tt.wantAllow {
				t.Errorf("Allowed = %v, want %v (%+v)", d.Allowed, tt.wantAllow, d)
			}
			if d.Escalated != tt.wantEsc {
				t.Errorf("Escalated = %v, want %v (%+v)", d.Escalated, tt.wantEsc, d)
			}
		})
	}
}

func TestEvaluateCustomTool(t *testing.T) {
	p := basePolicy(models.ModeBalanced)
	if d := EvaluateCustomTool(p, "summarize", ""); d.Allowed {
		t.Errorf("custom tool without permission should be denied")
	}
	p.Permissions.CustomTools = true
	if d := EvaluateCustomTool(p, "summarize", ""); !d.Allowed {
		t.Errorf("custom tool with permission should be allowed")
	}
}
