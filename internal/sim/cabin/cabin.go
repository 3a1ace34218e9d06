// Package cabin runs the ship cabin state machine: first entry creates the vessel's
// private cabin, later entries reuse it, and the cabin's exit door returns the
// character to wherever the vessel is now.
package cabin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"shipcabin.ai/internal/sim/cabin/instance"
	"shipcabin.ai/internal/sim/cabin/model"
	"shipcabin.ai/internal/sim/cabin/portal"
	"shipcabin.ai/internal/sim/cabin/serial"
	"shipcabin.ai/internal/sim/cabin/tracker"
	"shipcabin.ai/internal/sim/host"
)

// Signal tells the host whether its default handling of the interaction still runs.
type Signal int

const (
	Consume Signal = iota
	Continue
)

func (s Signal) String() string {
	if s == Continue {
		return "continue"
	}
	return "consume"
}

type Trigger string

const (
	TriggerNone    Trigger = "none"
	TriggerExit    Trigger = "exit"
	TriggerEnter   Trigger = "enter"
	TriggerCreate  Trigger = "create"
	TriggerRefresh Trigger = "refresh"
)

type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"
	OutcomeEntered   Outcome = "entered"
	OutcomeExited    Outcome = "exited"
	OutcomeRefreshed Outcome = "refreshed"
	// OutcomeSpawned: the character was sent to its spawn point instead.
	OutcomeSpawned Outcome = "spawned"
	// OutcomeStuck: not even the spawn point was reachable.
	OutcomeStuck  Outcome = "stuck"
	OutcomeRepair Outcome = "repair"
	OutcomeFailed Outcome = "failed"
)

// State is where a character is in the cabin cycle.
type State int

const (
	Idle State = iota
	Entering
	Inside
	Exiting
)

func (s State) String() string {
	switch s {
	case Entering:
		return "entering"
	case Inside:
		return "inside"
	case Exiting:
		return "exiting"
	default:
		return "idle"
	}
}

// Interaction is a character activating an object.
type Interaction struct {
	Actor  string
	Object host.ObjectID
}

type Result struct {
	Signal  Signal
	Trigger Trigger
	Outcome Outcome
	Serial  uint64
	// Destination is where the actor was moved, zero if it stayed put.
	Destination model.Location
	// Source is set on exits resolved through the tracker.
	Source tracker.Source
}

type Messages struct {
	Enter      string `yaml:"enter"`
	Exit       string `yaml:"exit"`
	Distortion string `yaml:"distortion"`
	// Rattle, Jammed and Broken take the activated object's name.
	Rattle string `yaml:"rattle"`
	Jammed string `yaml:"jammed"`
	Broken string `yaml:"broken"`
	Repair string `yaml:"repair"`
}

func DefaultMessages() Messages {
	return Messages{
		Enter:      "You enter the ship's cabin.",
		Exit:       "You exit the ship's cabin.",
		Distortion: "You feel a distorsion of reality!",
		Rattle:     "The %s rattles. It can't take you back to your starting point.",
		Jammed:     "The %s is jammed. You can't get into the cabin.",
		Broken:     "The %s seems broken.",
		Repair:     "ERROR: The cabin map file already exists, but the door didn't have a connector to it. The contents of the /ship-cabins/ directory may need fixing.",
	}
}

type Config struct {
	// DoorName is the name of the cabin door inside a vessel's inventory.
	DoorName string
	DoorKind string
	ExitKind string
	// TemplateFromMessage lets a door without a cabin_template key name its
	// template in its message text.
	TemplateFromMessage bool
	Messages            Messages
}

type Orchestrator struct {
	host    host.Host
	alloc   serial.Allocator
	mat     *instance.Materializer
	linker  *portal.Linker
	tracker *tracker.Tracker
	cfg     Config
	log     *log.Logger
	rec     Recorder
	now     func() time.Time

	creating singleflight.Group

	mu     sync.Mutex
	states map[string]State
}

func New(h host.Host, alloc serial.Allocator, mat *instance.Materializer, linker *portal.Linker, cfg Config, logger *log.Logger) *Orchestrator {
	if cfg.DoorName == "" {
		cfg.DoorName = "cabin door"
	}
	if cfg.DoorKind == "" {
		cfg.DoorKind = "cabin_door"
	}
	if linker == nil {
		linker = portal.NewLinker(h, cfg.ExitKind, "")
	}
	cfg.ExitKind = linker.ExitKind()
	cfg.Messages = fillMessages(cfg.Messages)
	if logger == nil {
		logger = log.New(os.Stdout, "[cabin] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Orchestrator{
		host:    h,
		alloc:   alloc,
		mat:     mat,
		linker:  linker,
		tracker: tracker.New(h),
		cfg:     cfg,
		log:     logger,
		rec:     nopRecorder{},
		now:     time.Now,
		states:  map[string]State{},
	}
}

func fillMessages(m Messages) Messages {
	d := DefaultMessages()
	or := func(s, def string) string {
		if strings.TrimSpace(s) == "" {
			return def
		}
		return s
	}
	m.Enter = or(m.Enter, d.Enter)
	m.Exit = or(m.Exit, d.Exit)
	m.Distortion = or(m.Distortion, d.Distortion)
	m.Rattle = or(m.Rattle, d.Rattle)
	m.Jammed = or(m.Jammed, d.Jammed)
	m.Broken = or(m.Broken, d.Broken)
	m.Repair = or(m.Repair, d.Repair)
	return m
}

// SetRecorder installs the audit sink. Nil disables recording.
func (o *Orchestrator) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	o.rec = r
}

func (o *Orchestrator) Tracker() *tracker.Tracker { return o.tracker }

func (o *Orchestrator) State(actor string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.states[actor]
}

func (o *Orchestrator) setState(actor string, s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s == Idle {
		delete(o.states, actor)
		return
	}
	o.states[actor] = s
}

// Classify decides which cabin flow an activated object triggers.
func (o *Orchestrator) Classify(id host.ObjectID) Trigger {
	info, ok := o.host.Info(id)
	if !ok {
		return TriggerNone
	}
	return o.classify(info)
}

func (o *Orchestrator) classify(info host.ObjectInfo) Trigger {
	switch {
	case o.host.ReadKey(info.ID, model.KeyCabinExit) == model.ExitMarker:
		return TriggerExit
	case info.Kind == o.cfg.DoorKind || info.Name == o.cfg.DoorName:
		if o.host.ReadKey(info.ID, model.KeyShipSerial) == "" {
			return TriggerCreate
		}
		return TriggerEnter
	case info.Type == host.TypeTransport:
		return TriggerRefresh
	default:
		return TriggerNone
	}
}

// Handle runs the flow the activated object triggers. Only configuration and
// duplicate instance errors are returned; every other failure ends with the
// character at its spawn point, or where it stood when even that fails.
func (o *Orchestrator) Handle(ctx context.Context, ev Interaction) (Result, error) {
	info, ok := o.host.Info(ev.Object)
	if !ok {
		return Result{Signal: Continue, Trigger: TriggerNone, Outcome: OutcomeIgnored}, nil
	}
	var (
		res Result
		err error
	)
	switch trig := o.classify(info); trig {
	case TriggerExit:
		res = o.exit(ev.Actor, info)
	case TriggerEnter, TriggerCreate:
		res, err = o.enter(ctx, ev.Actor, info, trig)
	case TriggerRefresh:
		res = o.refresh(info)
	default:
		return Result{Signal: Continue, Trigger: TriggerNone, Outcome: OutcomeIgnored}, nil
	}
	o.rec.RecordTransit(TransitEntry{
		Time:        o.now().UTC(),
		Actor:       ev.Actor,
		Object:      uint64(ev.Object),
		Trigger:     res.Trigger,
		Outcome:     res.Outcome,
		Serial:      res.Serial,
		Destination: res.Destination,
		Source:      res.Source,
		Error:       errString(err),
	})
	return res, err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (o *Orchestrator) exit(actor string, door host.ObjectInfo) Result {
	res := Result{Signal: Consume, Trigger: TriggerExit}
	o.setState(actor, Exiting)
	defer o.setState(actor, Idle)

	serialKey := o.host.ReadKey(door.ID, model.KeyShipSerial)
	res.Serial, _ = strconv.ParseUint(serialKey, 10, 64)

	at, err := o.tracker.Resolve(serialKey, door.ID, actor)
	if err != nil {
		o.log.Printf("exit actor=%s serial=%s: %v", actor, serialKey, err)
		o.host.Message(actor, o.cfg.Messages.Distortion)
		return o.returnToSpawn(actor, door, res)
	}
	res.Source = at.Source
	m, ok := o.host.Ready(at.Map, host.MapShared)
	if !ok {
		o.log.Printf("exit actor=%s serial=%s: %v: %s", actor, serialKey, model.ErrMapUnavailable, at.Map)
		o.host.Message(actor, fmt.Sprintf(o.cfg.Messages.Rattle, door.Name))
		return o.returnToSpawn(actor, door, res)
	}
	if err := o.host.Teleport(actor, m, at.X, at.Y); err != nil {
		o.log.Printf("exit actor=%s serial=%s: teleport %s: %v", actor, serialKey, at.Location, err)
		o.host.Message(actor, fmt.Sprintf(o.cfg.Messages.Rattle, door.Name))
		return o.returnToSpawn(actor, door, res)
	}
	if at.Source == tracker.SourceLive {
		if err := o.tracker.RefreshBackup(door.ID, at.Location); err != nil {
			o.log.Printf("exit serial=%s: refresh backup: %v", serialKey, err)
		}
	}
	o.host.Message(actor, o.cfg.Messages.Exit)
	res.Outcome = OutcomeExited
	res.Destination = at.Location
	return res
}

func (o *Orchestrator) enter(ctx context.Context, actor string, door host.ObjectInfo, trig Trigger) (Result, error) {
	res := Result{Signal: Consume, Trigger: trig}
	o.setState(actor, Entering)
	entered := false
	defer func() {
		if !entered {
			o.setState(actor, Idle)
		}
	}()

	vessel, _ := o.host.Locate(door.ID)

	sn, err := o.doorSerial(ctx, door, vessel)
	res.Serial = sn
	if err != nil {
		switch {
		case errors.Is(err, model.ErrDuplicateInstance):
			o.log.Printf("enter actor=%s door=%d: %v", actor, door.ID, err)
			o.host.Message(actor, o.cfg.Messages.Repair)
			res.Outcome = OutcomeRepair
			return res, err
		default:
			o.log.Printf("enter actor=%s door=%d: %v", actor, door.ID, err)
			o.host.Message(actor, fmt.Sprintf(o.cfg.Messages.Broken, door.Name))
			res.Outcome = OutcomeFailed
			return res, err
		}
	}

	m, ok := o.host.Ready(o.mat.MapPath(sn), host.MapShared)
	if !ok {
		o.log.Printf("enter actor=%s serial=%d: %v: %s", actor, sn, model.ErrMapUnavailable, o.mat.MapPath(sn))
		o.host.Message(actor, fmt.Sprintf(o.cfg.Messages.Jammed, door.Name))
		return o.returnToSpawn(actor, door, res), nil
	}
	x, y := m.Entry()
	if err := o.host.Teleport(actor, m, x, y); err != nil {
		o.log.Printf("enter actor=%s serial=%d: teleport: %v", actor, sn, err)
		o.host.Message(actor, fmt.Sprintf(o.cfg.Messages.Jammed, door.Name))
		return o.returnToSpawn(actor, door, res), nil
	}
	o.host.Message(actor, o.cfg.Messages.Enter)
	entered = true
	o.setState(actor, Inside)
	res.Outcome = OutcomeEntered
	res.Destination = model.Location{Map: m.Path(), X: x, Y: y}

	o.tracker.RecordLive(strconv.FormatUint(sn, 10), door.ID)
	o.tracker.RecordLive(actor, door.ID)
	exit, ok := m.FindAt(o.cfg.ExitKind, x, y)
	if !ok {
		o.log.Printf("enter serial=%d: no exit door at %s %d,%d", sn, m.Path(), x, y)
		return res, nil
	}
	if err := o.tracker.RefreshBackup(exit, vessel); err != nil {
		o.log.Printf("enter serial=%d: refresh backup: %v", sn, err)
	}
	return res, nil
}

// doorSerial returns the door's cabin serial, creating the cabin on first use.
// Concurrent first entries through the same door share one creation.
func (o *Orchestrator) doorSerial(ctx context.Context, door host.ObjectInfo, vessel model.Location) (uint64, error) {
	if sn, ok, err := o.readSerial(door.ID); ok || err != nil {
		return sn, err
	}
	v, err, _ := o.creating.Do(strconv.FormatUint(uint64(door.ID), 10), func() (any, error) {
		if sn, ok, err := o.readSerial(door.ID); ok || err != nil {
			return sn, err
		}
		return o.create(ctx, door, vessel)
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

func (o *Orchestrator) readSerial(door host.ObjectID) (uint64, bool, error) {
	s := strings.TrimSpace(o.host.ReadKey(door, model.KeyShipSerial))
	if s == "" {
		return 0, false, nil
	}
	sn, err := strconv.ParseUint(s, 10, 64)
	if err != nil || sn == 0 {
		return 0, false, &model.ConfigError{What: fmt.Sprintf("door %d carries malformed serial %q", door, s)}
	}
	return sn, true, nil
}

func (o *Orchestrator) create(ctx context.Context, door host.ObjectInfo, vessel model.Location) (uint64, error) {
	tmpl, err := o.mat.Check(o.templateFor(door))
	if err != nil {
		return 0, err
	}
	sn, err := o.alloc.Allocate(ctx)
	if err != nil {
		return 0, fmt.Errorf("allocate serial: %w", err)
	}
	inst, err := o.mat.Materialize(tmpl, sn)
	if err != nil {
		return 0, err
	}
	m, ok := o.host.Ready(inst.MapPath, host.MapShared)
	if !ok {
		o.discard(inst)
		return 0, &model.ConfigError{What: "cabin instance does not load", Path: inst.File, Err: fmt.Errorf("ready %s", inst.MapPath)}
	}
	if vessel.IsZero() {
		o.log.Printf("create serial=%d: vessel of door %d has no position, link left without a target", sn, door.ID)
	}
	p, err := o.linker.Link(door.ID, vessel, inst, m)
	if err != nil {
		o.discard(inst)
		return 0, &model.ConfigError{What: "link cabin instance", Path: inst.File, Err: err}
	}
	if err := o.tracker.RefreshBackup(p.ExitDoor, vessel); err != nil {
		o.log.Printf("create serial=%d: refresh backup: %v", sn, err)
	}
	o.log.Printf("cabin created serial=%d template=%s map=%s vessel=%s", sn, inst.Template, inst.MapPath, vessel)
	o.rec.RecordInstance(InstanceEntry{
		Time:     o.now().UTC(),
		Serial:   sn,
		Template: inst.Template,
		Door:     uint64(door.ID),
		File:     inst.File,
		MapPath:  inst.MapPath,
		EnterX:   inst.EnterX,
		EnterY:   inst.EnterY,
		Vessel:   vessel,
	})
	return sn, nil
}

// discard drops the file of a cabin that never got linked. Its serial stays spent.
func (o *Orchestrator) discard(inst instance.Instance) {
	if err := o.mat.Discard(inst); err != nil {
		o.log.Printf("discard serial=%d: %v", inst.Serial, err)
		return
	}
	o.log.Printf("discarded unlinked cabin serial=%d file=%s", inst.Serial, inst.File)
}

func (o *Orchestrator) templateFor(door host.ObjectInfo) string {
	if t := strings.TrimSpace(o.host.ReadKey(door.ID, model.KeyTemplate)); t != "" {
		return t
	}
	if o.cfg.TemplateFromMessage {
		return strings.TrimSpace(door.Message)
	}
	return ""
}

// Refresh stores the current position of a vessel the host relocated on its own,
// such as by sailing it, and re-records the live handle of its door.
func (o *Orchestrator) Refresh(vessel host.ObjectID) Result {
	info, ok := o.host.Info(vessel)
	if !ok || info.Type != host.TypeTransport {
		return Result{Signal: Continue, Trigger: TriggerNone, Outcome: OutcomeIgnored}
	}
	return o.refresh(info)
}

// refresh stores a transport's current position on its cabin's exit door. The
// host still performs its own apply afterwards.
func (o *Orchestrator) refresh(vessel host.ObjectInfo) Result {
	res := Result{Signal: Continue, Trigger: TriggerRefresh, Outcome: OutcomeIgnored}
	door, ok := o.host.FindInInventory(vessel.ID, o.cfg.DoorName)
	if !ok {
		return res
	}
	sn, ok, err := o.readSerial(door)
	if err != nil {
		o.log.Printf("refresh vessel=%d: %v", vessel.ID, err)
		return res
	}
	if !ok {
		return res
	}
	res.Serial = sn
	loc, ok := o.host.Locate(vessel.ID)
	if !ok {
		return res
	}
	m, ok := o.host.Ready(o.mat.MapPath(sn), host.MapShared)
	if !ok {
		o.log.Printf("refresh serial=%d: %v: %s", sn, model.ErrMapUnavailable, o.mat.MapPath(sn))
		return res
	}
	x, y := m.Entry()
	exit, ok := m.FindAt(o.cfg.ExitKind, x, y)
	if !ok {
		return res
	}
	if err := o.tracker.RefreshBackup(exit, loc); err != nil {
		o.log.Printf("refresh serial=%d: %v", sn, err)
		return res
	}
	o.tracker.RecordLive(strconv.FormatUint(sn, 10), door)
	res.Outcome = OutcomeRefreshed
	res.Destination = loc
	return res
}

func (o *Orchestrator) returnToSpawn(actor string, obj host.ObjectInfo, res Result) Result {
	res.Outcome = OutcomeStuck
	sp, ok := o.host.SpawnPoint(actor)
	if !ok {
		o.host.Message(actor, fmt.Sprintf(o.cfg.Messages.Broken, obj.Name))
		return res
	}
	flags := host.MapShared
	if sp.Unique {
		flags = host.MapUnique
	}
	m, ok := o.host.Ready(sp.Map, flags)
	if !ok {
		o.host.Message(actor, fmt.Sprintf(o.cfg.Messages.Broken, obj.Name))
		return res
	}
	if err := o.host.Teleport(actor, m, sp.X, sp.Y); err != nil {
		o.log.Printf("spawn actor=%s: %v", actor, err)
		o.host.Message(actor, fmt.Sprintf(o.cfg.Messages.Broken, obj.Name))
		return res
	}
	res.Outcome = OutcomeSpawned
	res.Destination = sp.Location
	return res
}
