package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shipcabin.ai/internal/sim/cabin/instance"
	"shipcabin.ai/internal/sim/cabin/serial"
	"shipcabin.ai/internal/sim/tuning"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "serial":
			serialCmd(os.Args[2:])
			return
		case "repair-serial":
			repairSerialCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "unload":
			unloadCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

type cabinFlags struct {
	configDir *string
	dataDir   *string
	cabins    *string
}

func addCabinFlags(fs *flag.FlagSet) cabinFlags {
	return cabinFlags{
		configDir: fs.String("configs", "./configs", "config directory"),
		dataDir:   fs.String("data", "./data", "runtime data directory"),
		cabins:    fs.String("cabins", "", "path to cabins.yaml (default: <configs>/cabins.yaml)"),
	}
}

func (f cabinFlags) load() tuning.Tuning {
	p := strings.TrimSpace(*f.cabins)
	if p == "" {
		p = filepath.Join(*f.configDir, "cabins.yaml")
	}
	tune, err := tuning.Load(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load cabins config:", err)
		os.Exit(1)
	}
	return tune
}

// openCounter mirrors the server's backend choice.
func openCounter(tune tuning.Tuning, dataDir string) (serial.Counter, func()) {
	if tune.SerialBackend == tuning.SerialBackendSQLite {
		c, err := serial.OpenSQLiteCounter(filepath.Join(dataDir, "serial.sqlite"), tune.SerialName)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open counter:", err)
			os.Exit(1)
		}
		return c, func() { _ = c.Close() }
	}
	return serial.NewFileCounter(tune.SerialPath()), func() {}
}

// listCmd prints the cabin instances and templates on disk.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	cf := addCabinFlags(fs)
	_ = fs.Parse(args)

	tune := cf.load()
	mat := instance.New(tune.InstanceConfig())
	templates, err := mat.Templates()
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	hi, err := mat.HighestSerial()
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	fmt.Printf("cabin_dir=%s templates=%s highest_serial=%d\n", tune.CabinDir, strings.Join(templates, ","), hi)
}

func serialCmd(args []string) {
	fs := flag.NewFlagSet("serial", flag.ExitOnError)
	cf := addCabinFlags(fs)
	_ = fs.Parse(args)

	tune := cf.load()
	counter, closeFn := openCounter(tune, *cf.dataDir)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	v, err := counter.Peek(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "peek:", err)
		os.Exit(1)
	}
	fmt.Println(v)
}

func repairSerialCmd(args []string) {
	fs := flag.NewFlagSet("repair-serial", flag.ExitOnError)
	cf := addCabinFlags(fs)
	dryRun := fs.Bool("dry_run", false, "report without writing")
	_ = fs.Parse(args)

	tune := cf.load()
	counter, closeFn := openCounter(tune, *cf.dataDir)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	before, after, err := repairSerial(ctx, counter, instance.New(tune.InstanceConfig()), *dryRun)
	if err != nil {
		fmt.Fprintln(os.Stderr, "repair:", err)
		os.Exit(1)
	}
	switch {
	case before == after:
		fmt.Printf("serial=%d ok\n", before)
	case *dryRun:
		fmt.Printf("serial=%d would become %d\n", before, after)
	default:
		fmt.Printf("serial=%d repaired to %d\n", before, after)
	}
}

// repairSerial raises the counter to the highest instance serial on disk. It never
// lowers the counter.
func repairSerial(ctx context.Context, counter serial.Counter, mat *instance.Materializer, dryRun bool) (before, after uint64, err error) {
	before, err = counter.Peek(ctx)
	if err != nil {
		return 0, 0, err
	}
	hi, err := mat.HighestSerial()
	if err != nil {
		return before, before, err
	}
	if hi <= before {
		return before, before, nil
	}
	if dryRun {
		return before, hi, nil
	}
	if err := counter.Set(ctx, hi); err != nil {
		return before, before, err
	}
	return before, hi, nil
}
