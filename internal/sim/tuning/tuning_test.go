package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTuning(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cabins.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadRepoConfig(t *testing.T) {
	tu, err := Load(filepath.Join("..", "..", "..", "configs", "cabins.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.MapPrefix != "/ship-cabins" || tu.DefaultTemplate != "cabin-template" {
		t.Fatalf("unexpected tuning: %+v", tu)
	}
	if tu.Messages.Enter != "You enter the ship's cabin." {
		t.Fatalf("enter message: %q", tu.Messages.Enter)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	p := writeTuning(t, "cabin_dir: /srv/maps/ship-cabins\nmessages:\n  exit: \"Back on deck.\"\n")
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.Messages.Exit != "Back on deck." {
		t.Fatalf("exit message not overridden: %q", tu.Messages.Exit)
	}
	if tu.Messages.Distortion == "" || tu.Objects.DoorName != "cabin door" {
		t.Fatalf("defaults lost: %+v", tu)
	}
	if got := tu.SerialPath(); got != filepath.Join("/srv/maps/ship-cabins", "ship-serial.txt") {
		t.Fatalf("serial path: %s", got)
	}
	if !tu.TemplateFromMessage {
		t.Fatalf("template_from_message should default to true")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"backend":     "serial_backend: redis\n",
		"prefix":      "map_prefix: /\n",
		"template":    "default_template: ../etc\n",
		"placeholder": "instance_prefix: template-\n",
		"format":      "messages:\n  broken: \"it broke\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeTuning(t, body)); err == nil || !strings.Contains(err.Error(), "cabins.yaml") {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestConfigsCarryThrough(t *testing.T) {
	tu := Defaults()
	tu.CabinDir = "/data/ship-cabins"
	ic := tu.InstanceConfig()
	if ic.Dir != "/data/ship-cabins" || ic.Placeholder != "template" || ic.InstancePrefix != "cabin-" {
		t.Fatalf("instance config: %+v", ic)
	}
	cc := tu.CabinConfig()
	if cc.ExitKind != "cabin_exit_door" || !cc.TemplateFromMessage {
		t.Fatalf("cabin config: %+v", cc)
	}
}
