package cmd

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"

	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"

	alphacorn "github.com/lunixbochs/alphacorn/go"
	"github.com/lunixbochs/alphacorn/go/loader"
	"github.com/lunixbochs/alphacorn/go/models"
)

// MachineCmd is the shared frame for the alphacorn binaries: flag parsing,
// config assembly, image/snapshot loading and profiling hooks. A binary
// customizes it through the Setup*/Run callbacks.
type MachineCmd struct {
	Config *models.Config

	SetupFlags   func() error
	SetupMachine func() error
	RunMachine   func(args []string) error
	Teardown     func()

	// set for binaries that run without a guest image argument
	NoExe bool

	Machine models.Machine
	Flags   *flag.FlagSet
}

func NewMachineCmd() *MachineCmd {
	fs := flag.NewFlagSet("cli", flag.ExitOnError)
	return &MachineCmd{Flags: fs}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// PrintError prints an error, and a stacktrace if available.
func (c *MachineCmd) PrintError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	if st, ok := err.(stackTracer); ok {
		for _, f := range st.StackTrace() {
			method := fmt.Sprintf("%n", f)
			fmt.Fprintf(os.Stderr, "  %s:%d %s()\n", f, f, method)
			if method == "main" {
				break
			}
		}
	}
}

// rcArgs returns extra flag tokens from the user's rc file, checked in every
// configdir search path. Lines starting with # are skipped.
func rcArgs() []string {
	var args []string
	configDirs := configdir.New("alphacorn", "cli")
	for _, config := range configDirs.QueryFolders(configdir.All) {
		data, err := config.ReadFile("rc")
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			args = append(args, strings.Fields(line)...)
		}
	}
	return args
}

// LoadImage writes a guest image into physical memory and points cpu 0's PC
// at its entry. A nonzero entry flag overrides the image's own. With rom set
// the loaded ranges are write-protected, for firmware images.
func (c *MachineCmd) LoadImage(path string, raw, rom bool, base, entry uint64) error {
	m := c.Machine
	var l loader.Loader
	if raw {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		l = loader.NewRawLoader(data, base, entry)
	} else {
		var err error
		l, err = loader.LoadFile(path)
		if err != nil {
			return err
		}
	}
	segs, err := l.Segments()
	if err != nil {
		return err
	}
	for _, seg := range segs {
		if err := m.PhysWrite(seg.Addr, seg.Data); err != nil {
			return errors.Wrapf(err, "loading segment at %#x", seg.Addr)
		}
		if rom && len(seg.Data) > 0 {
			m.MarkROM(seg.Addr, seg.Addr+uint64(len(seg.Data))-1)
		}
	}
	start := l.Entry()
	if entry != 0 {
		start = entry
	}
	return m.Cpu(0).RegWrite(m.Arch().PC, start)
}

func (c *MachineCmd) Run(argv []string) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	fs := c.Flags
	// machine shape
	model := fs.String("model", "EV6", "cpu model (EV4 EV5 EV56 PCA56 EV6 EV67 EV68 EV7 EV78)")
	ncpu := fs.Int("cpus", 1, "number of cpus")
	ram := fs.Uint64("mem", 128, "guest ram in MB")
	linesize := fs.Int("linesize", 64, "cache line size in bytes")
	align := fs.Bool("align", false, "fault on unaligned LDx/STx instead of emulating them")
	mmiostrict := fs.Bool("mmiostrict", false, "bus error on unclaimed MMIO instead of read-ones")
	timer := fs.Int("timer", 0, "device timer interval in cycles (0 disables)")
	jit := fs.Bool("jit", false, "enable the block translation cache")
	jithot := fs.Int("jithot", 50, "block heat before translation")

	// image loading
	raw := fs.Bool("raw", false, "treat the image as a flat binary instead of ELF")
	rom := fs.Bool("rom", false, "write-protect the loaded image (firmware)")
	base := fs.Uint64("base", 0, "load address for -raw images")
	entry := fs.Uint64("entry", 0, "override entry point")
	restore := fs.String("restore", "", "restore machine state from snapshot <file>")
	savepost := fs.String("savepost", "", "save state to file after emulation ends")

	// tracing flags
	trace := fs.Bool("trace", false, "recommended tracing options: -etrace -mtrace -rtrace")
	etrace := fs.Bool("etrace", false, "trace execution")
	mtrace := fs.Bool("mtrace", false, "trace memory access")
	rtrace := fs.Bool("rtrace", false, "trace register modification")
	tracefile := fs.String("to", "", "binary trace output file")
	verbose := fs.Bool("v", false, "verbose output")
	tnames := []string{"trace", "etrace", "mtrace", "rtrace", "to"}

	until := fs.Uint64("until", 0, "stop each cpu after this many cycles (0 = run to halt)")

	cpuprofile := fs.String("cpuprofile", "", "write cpu profile to <file>")
	memprofile := fs.String("memprofile", "", "write mem profile to <file>")

	fs.Usage = func() {
		usage := "Usage: %s [options]"
		if !c.NoExe {
			usage += " <image>"
		}
		usage += "\n\nOptions:\n"
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		var flags []*flag.Flag
		var tflags []*flag.Flag
		fs.VisitAll(func(f *flag.Flag) {
			for _, name := range tnames {
				if name == f.Name {
					tflags = append(tflags, f)
					return
				}
			}
			flags = append(flags, f)
		})
		models.PrintFlags(flags)
		fmt.Fprintf(os.Stderr, "\nTrace Options:\n")
		models.PrintFlags(tflags)
		fmt.Fprintf(os.Stderr, "\nExample:\n  %s -trace -model EV67 kernel.elf\n", os.Args[0])
	}
	if c.SetupFlags != nil {
		if err := c.SetupFlags(); err != nil {
			panic(err)
		}
	}
	args := append(rcArgs(), argv[1:]...)
	fs.Parse(args)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			panic(err)
		}
		pprof.StartCPUProfile(f)
	}

	rest := fs.Args()
	if !c.NoExe && *restore == "" && len(rest) < 1 {
		fs.Usage()
		os.Exit(1)
	}

	config := &models.Config{
		Model:   *model,
		Cpus:    *ncpu,
		RamSize: *ram << 20,

		TraceExec: *etrace || *trace,
		TraceMem:  *mtrace || *trace,
		TraceReg:  *rtrace || *trace,
		Verbose:   *verbose,
	}
	config.Cache.LineSize = *linesize
	config.Exec.StrictAlignment = *align
	config.MMIO.Strict = *mmiostrict
	config.MMIO.TimerInterval = *timer
	config.Jit.Enabled = *jit
	config.Jit.HotThreshold = *jithot
	c.Config = config

	m, err := alphacorn.NewMachine(config)
	if err != nil {
		c.PrintError(err)
		os.Exit(1)
	}
	c.Machine = m
	if err := m.StartTrace(os.Stderr); err != nil {
		c.PrintError(err)
		os.Exit(1)
	}
	var traceOut *os.File
	if *tracefile != "" {
		traceOut, err = os.Create(*tracefile)
		if err == nil {
			err = m.StartTraceFile(traceOut)
		}
		if err != nil {
			c.PrintError(errors.WithStack(err))
			os.Exit(1)
		}
	}

	if *restore != "" {
		f, err := os.Open(*restore)
		if err != nil {
			c.PrintError(errors.WithStack(err))
			os.Exit(1)
		}
		err = m.Restore(f)
		f.Close()
		if err != nil {
			c.PrintError(err)
			os.Exit(1)
		}
	} else if !c.NoExe {
		if err := c.LoadImage(rest[0], *raw, *rom, *base, *entry); err != nil {
			c.PrintError(err)
			os.Exit(1)
		}
	}
	if c.SetupMachine != nil {
		if err := c.SetupMachine(); err != nil {
			c.PrintError(err)
			os.Exit(1)
		}
	}

	// won't run on os.Exit(), so it's manually run below
	teardown := func() {
		if traceOut != nil {
			traceOut.Close()
		}
		if *savepost != "" {
			f, err := os.Create(*savepost)
			if err == nil {
				err = m.Snapshot(f)
				f.Close()
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "could not save state: %s\n", err)
			}
		}
		if *cpuprofile != "" {
			pprof.StopCPUProfile()
		}
		if *memprofile != "" {
			f, err := os.Create(*memprofile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "could not write heap profile: %s\n", err)
			} else {
				pprof.WriteHeapProfile(f)
				f.Close()
			}
		}
		if c.Teardown != nil {
			c.Teardown()
		}
	}
	defer teardown()

	if c.RunMachine != nil {
		err = c.RunMachine(rest)
	} else if *until > 0 {
		err = m.RunUntil(*until)
	} else {
		err = m.Run()
	}
	if err != nil {
		if e, ok := err.(models.ExitStatus); ok {
			teardown()
			os.Exit(int(e))
		} else {
			c.PrintError(err)
			teardown()
			os.Exit(1)
		}
	}
}
