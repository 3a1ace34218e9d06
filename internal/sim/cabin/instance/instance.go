// Package instance copies cabin templates into per-vessel instance map files.
package instance

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"shipcabin.ai/internal/sim/cabin/model"
)

type Config struct {
	// Dir is the directory holding templates and instances on disk.
	Dir string
	// MapPrefix is the map path of Dir as the host's map loader sees it.
	MapPrefix       string
	DefaultTemplate string
	// Placeholder is replaced by the serial everywhere in the template text.
	Placeholder    string
	InstancePrefix string
	// KnownKind reports whether the host can instantiate an object kind. Nil
	// skips the kind check.
	KnownKind func(kind string) bool
}

// Instance is a materialized cabin.
type Instance struct {
	Serial   uint64
	Template string
	File     string
	MapPath  string
	EnterX   int
	EnterY   int
}

// templateFile is the part of a map file the materializer checks.
type templateFile struct {
	EnterX  *int             `yaml:"enter_x"`
	EnterY  *int             `yaml:"enter_y"`
	Width   int              `yaml:"width"`
	Height  int              `yaml:"height"`
	Objects []templateObject `yaml:"objects"`
}

type templateObject struct {
	Kind      string           `yaml:"kind"`
	Inventory []templateObject `yaml:"inventory"`
}

type Materializer struct {
	cfg Config
}

func New(cfg Config) *Materializer {
	if cfg.DefaultTemplate == "" {
		cfg.DefaultTemplate = "cabin-template"
	}
	if cfg.InstancePrefix == "" {
		cfg.InstancePrefix = "cabin-"
	}
	if cfg.MapPrefix == "" {
		cfg.MapPrefix = "/" + filepath.Base(cfg.Dir)
	}
	return &Materializer{cfg: cfg}
}

func (m *Materializer) Name(serial uint64) string {
	return m.cfg.InstancePrefix + strconv.FormatUint(serial, 10)
}

func (m *Materializer) FilePath(serial uint64) string {
	return filepath.Join(m.cfg.Dir, m.Name(serial))
}

// MapPath is the path the host readies for the instance.
func (m *Materializer) MapPath(serial uint64) string {
	return path.Join(m.cfg.MapPrefix, m.Name(serial))
}

func (m *Materializer) Exists(serial uint64) bool {
	_, err := os.Stat(m.FilePath(serial))
	return err == nil
}

// Materialize creates the instance file for serial from the named template (the
// default one when name is empty). The file is created exclusively: an existing
// instance yields a *model.DuplicateError and is left untouched.
func (m *Materializer) Materialize(templateName string, serial uint64) (Instance, error) {
	if serial == 0 {
		return Instance{}, fmt.Errorf("materialize: serial must be positive")
	}
	name, err := m.templateName(templateName)
	if err != nil {
		return Instance{}, err
	}
	content, tf, err := m.load(name, serial)
	if err != nil {
		return Instance{}, err
	}

	dst := m.FilePath(serial)
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Instance{}, &model.DuplicateError{Serial: serial, Path: dst}
		}
		return Instance{}, &model.ConfigError{What: "create cabin instance", Path: dst, Err: err}
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return Instance{}, &model.ConfigError{What: "write cabin instance", Path: dst, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return Instance{}, &model.ConfigError{What: "write cabin instance", Path: dst, Err: err}
	}

	return Instance{
		Serial:   serial,
		Template: name,
		File:     dst,
		MapPath:  m.MapPath(serial),
		EnterX:   *tf.EnterX,
		EnterY:   *tf.EnterY,
	}, nil
}

// Check resolves and validates a template without materializing it, so a broken
// template is reported before a serial is spent on it. It returns the resolved
// template name.
func (m *Materializer) Check(templateName string) (string, error) {
	name, err := m.templateName(templateName)
	if err != nil {
		return "", err
	}
	if _, _, err := m.load(name, 0); err != nil {
		return "", err
	}
	return name, nil
}

// Discard removes an instance file that never got linked to a door.
func (m *Materializer) Discard(inst Instance) error {
	if inst.Serial == 0 || inst.File != m.FilePath(inst.Serial) {
		return fmt.Errorf("discard: %q is not an instance of %s", inst.File, m.cfg.Dir)
	}
	return os.Remove(inst.File)
}

// load reads the template, substitutes serial for the placeholder and validates
// the result.
func (m *Materializer) load(name string, serial uint64) (string, templateFile, error) {
	var tf templateFile
	src := filepath.Join(m.cfg.Dir, name)
	raw, err := os.ReadFile(src)
	if err != nil {
		return "", tf, &model.ConfigError{What: "read cabin template " + strconv.Quote(name), Path: src, Err: err}
	}
	content := string(raw)
	if m.cfg.Placeholder != "" {
		content = strings.ReplaceAll(content, m.cfg.Placeholder, strconv.FormatUint(serial, 10))
	}
	if err := yaml.Unmarshal([]byte(content), &tf); err != nil {
		return "", tf, &model.ConfigError{What: "parse cabin template " + strconv.Quote(name), Path: src, Err: err}
	}
	if err := m.validate(tf); err != nil {
		return "", tf, &model.ConfigError{What: "cabin template " + strconv.Quote(name), Path: src, Err: err}
	}
	return content, tf, nil
}

func (m *Materializer) validate(tf templateFile) error {
	if tf.EnterX == nil || tf.EnterY == nil {
		return errors.New("declares no enter_x/enter_y")
	}
	if tf.Width < 0 || tf.Height < 0 {
		return fmt.Errorf("negative size %dx%d", tf.Width, tf.Height)
	}
	x, y := *tf.EnterX, *tf.EnterY
	if x < 0 || y < 0 || (tf.Width > 0 && x >= tf.Width) || (tf.Height > 0 && y >= tf.Height) {
		return fmt.Errorf("entry %d,%d outside the %dx%d map", x, y, tf.Width, tf.Height)
	}
	return m.checkKinds(tf.Objects)
}

func (m *Materializer) checkKinds(objs []templateObject) error {
	for _, o := range objs {
		if strings.TrimSpace(o.Kind) == "" {
			return errors.New("object without a kind")
		}
		if m.cfg.KnownKind != nil && !m.cfg.KnownKind(o.Kind) {
			return fmt.Errorf("unknown object kind %q", o.Kind)
		}
		if err := m.checkKinds(o.Inventory); err != nil {
			return err
		}
	}
	return nil
}

func (m *Materializer) templateName(requested string) (string, error) {
	name := strings.TrimSpace(requested)
	if name == "" {
		return m.cfg.DefaultTemplate, nil
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", &model.ConfigError{What: "invalid cabin template name " + strconv.Quote(name)}
	}
	if _, ok := m.serialOf(name); ok {
		return "", &model.ConfigError{What: "cabin template name " + strconv.Quote(name) + " names an instance"}
	}
	return name, nil
}

func (m *Materializer) serialOf(name string) (uint64, bool) {
	rest, ok := strings.CutPrefix(name, m.cfg.InstancePrefix)
	if !ok || rest == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Templates lists the template names available in the cabin directory.
func (m *Materializer) Templates() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return nil, &model.ConfigError{What: "read cabin directory", Path: m.cfg.Dir, Err: err}
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.Contains(e.Name(), ".") {
			continue
		}
		if _, ok := m.serialOf(e.Name()); ok {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// HighestSerial returns the largest serial with an instance file on disk, or 0.
// A counter below this value would hand out serials of existing cabins.
func (m *Materializer) HighestSerial() (uint64, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, &model.ConfigError{What: "read cabin directory", Path: m.cfg.Dir, Err: err}
	}
	var hi uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if v, ok := m.serialOf(e.Name()); ok && v > hi {
			hi = v
		}
	}
	return hi, nil
}
