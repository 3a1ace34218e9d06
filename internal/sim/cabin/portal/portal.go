// Package portal wires a freshly materialized cabin to the vessel door it belongs to.
package portal

import (
	"fmt"
	"strconv"

	"shipcabin.ai/internal/sim/cabin/instance"
	"shipcabin.ai/internal/sim/cabin/model"
	"shipcabin.ai/internal/sim/host"
)

const (
	DefaultExitKind = "cabin_exit_door"
	DefaultLinkKind = "invis_exit"
)

// Portal names the objects placed inside a cabin by Link.
type Portal struct {
	EntryLink host.ObjectID
	ExitDoor  host.ObjectID
}

type Linker struct {
	objects  host.Objects
	exitKind string
	linkKind string
}

func NewLinker(objects host.Objects, exitKind, linkKind string) *Linker {
	if exitKind == "" {
		exitKind = DefaultExitKind
	}
	if linkKind == "" {
		linkKind = DefaultLinkKind
	}
	return &Linker{objects: objects, exitKind: exitKind, linkKind: linkKind}
}

func (l *Linker) ExitKind() string { return l.exitKind }

// Link places the invisible link and the exit door at the cabin's entry point and
// stamps the serial on the vessel door. The link records the vessel's position
// only when it is known. A door that already carries a serial is
// refused with model.ErrAlreadyLinked.
func (l *Linker) Link(door host.ObjectID, vessel model.Location, inst instance.Instance, m host.Map) (Portal, error) {
	if s := l.objects.ReadKey(door, model.KeyShipSerial); s != "" {
		return Portal{}, fmt.Errorf("%w: door %d has serial %s", model.ErrAlreadyLinked, door, s)
	}
	serial := strconv.FormatUint(inst.Serial, 10)
	x, y := inst.EnterX, inst.EnterY

	link, err := l.place(l.linkKind, m, x, y)
	if err != nil {
		return Portal{}, err
	}
	// An unknown vessel position leaves the link without a target rather than
	// pointing it at 0,0 of no map.
	if !vessel.IsZero() {
		if err := l.write(link, map[string]string{
			model.KeyLinkMap: vessel.Map,
			model.KeyLinkX:   strconv.Itoa(vessel.X),
			model.KeyLinkY:   strconv.Itoa(vessel.Y),
		}); err != nil {
			return Portal{}, err
		}
	}

	// Templates may ship their own exit door at the entry point.
	exit, ok := m.FindAt(l.exitKind, x, y)
	if !ok {
		if exit, err = l.place(l.exitKind, m, x, y); err != nil {
			return Portal{}, err
		}
	}
	if err := l.write(exit, map[string]string{
		model.KeyCabinExit:  model.ExitMarker,
		model.KeyShipSerial: serial,
	}); err != nil {
		return Portal{}, err
	}

	if err := l.objects.WriteKey(door, model.KeyShipSerial, serial, true); err != nil {
		return Portal{}, fmt.Errorf("stamp door %d: %w", door, err)
	}
	return Portal{EntryLink: link, ExitDoor: exit}, nil
}

func (l *Linker) place(kind string, m host.Map, x, y int) (host.ObjectID, error) {
	id, err := l.objects.Create(kind)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", kind, err)
	}
	if err := l.objects.Place(id, m, x, y); err != nil {
		return 0, fmt.Errorf("place %s in %s: %w", kind, m.Path(), err)
	}
	return id, nil
}

func (l *Linker) write(id host.ObjectID, kv map[string]string) error {
	for k, v := range kv {
		if err := l.objects.WriteKey(id, k, v, true); err != nil {
			return fmt.Errorf("write %s on %d: %w", k, id, err)
		}
	}
	return nil
}
