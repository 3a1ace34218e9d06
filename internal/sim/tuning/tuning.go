package tuning

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"shipcabin.ai/internal/sim/cabin"
	"shipcabin.ai/internal/sim/cabin/instance"
)

const (
	SerialBackendFile   = "file"
	SerialBackendSQLite = "sqlite"
)

// Tuning is configs/cabins.yaml.
type Tuning struct {
	// CabinDir holds templates, instances and the serial file on disk.
	CabinDir string `yaml:"cabin_dir"`
	// MapPrefix is CabinDir as a map path.
	MapPrefix string `yaml:"map_prefix"`

	SerialBackend string `yaml:"serial_backend"`
	// SerialFile is relative to CabinDir unless absolute.
	SerialFile string `yaml:"serial_file"`
	// SerialName is the counter row used by the sqlite backend.
	SerialName string `yaml:"serial_name"`

	DefaultTemplate     string `yaml:"default_template"`
	Placeholder         string `yaml:"placeholder"`
	InstancePrefix      string `yaml:"instance_prefix"`
	TemplateFromMessage bool   `yaml:"template_from_message"`

	Objects  Objects        `yaml:"objects"`
	Messages cabin.Messages `yaml:"messages"`
}

type Objects struct {
	DoorName string `yaml:"door_name"`
	DoorKind string `yaml:"door_kind"`
	ExitKind string `yaml:"exit_kind"`
	LinkKind string `yaml:"link_kind"`
}

func Defaults() Tuning {
	return Tuning{
		CabinDir:            "./configs/maps/ship-cabins",
		MapPrefix:           "/ship-cabins",
		SerialBackend:       SerialBackendFile,
		SerialFile:          "ship-serial.txt",
		SerialName:          "ship_serial",
		DefaultTemplate:     "cabin-template",
		Placeholder:         "template",
		InstancePrefix:      "cabin-",
		TemplateFromMessage: true,
		Objects: Objects{
			DoorName: "cabin door",
			DoorKind: "cabin_door",
			ExitKind: "cabin_exit_door",
			LinkKind: "invis_exit",
		},
		Messages: cabin.DefaultMessages(),
	}
}

func Load(p string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(p)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("cabins.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("cabins.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	t.CabinDir = strings.TrimSpace(t.CabinDir)
	t.MapPrefix = strings.TrimSpace(t.MapPrefix)
	if t.MapPrefix != "" {
		t.MapPrefix = path.Clean("/" + t.MapPrefix)
	}
	t.SerialBackend = strings.ToLower(strings.TrimSpace(t.SerialBackend))
	if t.SerialBackend == "" {
		t.SerialBackend = SerialBackendFile
	}
	t.SerialFile = strings.TrimSpace(t.SerialFile)
	t.DefaultTemplate = strings.TrimSpace(t.DefaultTemplate)
}

func (t Tuning) Validate() error {
	if t.CabinDir == "" {
		return fmt.Errorf("cabin_dir is required")
	}
	if t.MapPrefix == "" || t.MapPrefix == "/" {
		return fmt.Errorf("map_prefix must name a directory")
	}
	switch t.SerialBackend {
	case SerialBackendFile:
		if t.SerialFile == "" {
			return fmt.Errorf("serial_file is required for the file backend")
		}
	case SerialBackendSQLite:
		if strings.TrimSpace(t.SerialName) == "" {
			return fmt.Errorf("serial_name is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown serial_backend %q", t.SerialBackend)
	}
	if t.DefaultTemplate == "" || strings.ContainsAny(t.DefaultTemplate, `/\`) {
		return fmt.Errorf("invalid default_template %q", t.DefaultTemplate)
	}
	if t.InstancePrefix == "" {
		return fmt.Errorf("instance_prefix is required")
	}
	if t.Placeholder != "" && strings.Contains(t.InstancePrefix, t.Placeholder) {
		return fmt.Errorf("instance_prefix %q contains the placeholder", t.InstancePrefix)
	}
	for _, m := range []string{t.Messages.Rattle, t.Messages.Jammed, t.Messages.Broken} {
		if m != "" && strings.Count(m, "%s") != 1 {
			return fmt.Errorf("message %q must contain exactly one %%s", m)
		}
	}
	return nil
}

// SerialPath resolves SerialFile against CabinDir.
func (t Tuning) SerialPath() string {
	if filepath.IsAbs(t.SerialFile) {
		return t.SerialFile
	}
	return filepath.Join(t.CabinDir, t.SerialFile)
}

func (t Tuning) InstanceConfig() instance.Config {
	return instance.Config{
		Dir:             t.CabinDir,
		MapPrefix:       t.MapPrefix,
		DefaultTemplate: t.DefaultTemplate,
		Placeholder:     t.Placeholder,
		InstancePrefix:  t.InstancePrefix,
	}
}

func (t Tuning) CabinConfig() cabin.Config {
	return cabin.Config{
		DoorName:            t.Objects.DoorName,
		DoorKind:            t.Objects.DoorKind,
		ExitKind:            t.Objects.ExitKind,
		TemplateFromMessage: t.TemplateFromMessage,
		Messages:            t.Messages,
	}
}
