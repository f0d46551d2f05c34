package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/shibukawa/configdir"

	alphacorn "github.com/lunixbochs/alphacorn/go"
	"github.com/lunixbochs/alphacorn/go/cmd"
	acpu "github.com/lunixbochs/alphacorn/go/cpu/alpha"
)

type monitor struct {
	m   *alphacorn.Machine
	rl  *readline.Instance
	cpu int
}

func (mon *monitor) Printf(format string, args ...interface{}) {
	fmt.Fprintf(mon.rl.Stderr(), format, args...)
}

func (mon *monitor) pc() uint64 {
	pc, _ := mon.m.Cpu(mon.cpu).RegRead(mon.m.Arch().PC)
	return pc
}

func (mon *monitor) setPrompt() {
	mon.rl.SetPrompt(fmt.Sprintf("cpu%d 0x%x> ", mon.cpu, mon.pc()))
}

func parseNum(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}

func parseInt(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func (mon *monitor) step(n int) {
	for i := 0; i < n; i++ {
		if err := mon.m.StepOne(mon.cpu); err != nil {
			mon.Printf("step: %s\n", err)
			return
		}
	}
}

func (mon *monitor) regs() {
	vals, err := mon.m.Arch().RegDump(mon.m.Cpu(mon.cpu))
	if err != nil {
		mon.Printf("regs: %s\n", err)
		return
	}
	for i, r := range vals {
		mon.Printf("%-6s 0x%016x", r.Name, r.Val)
		if i%3 == 2 || i == len(vals)-1 {
			mon.Printf("\n")
		} else {
			mon.Printf("  ")
		}
	}
}

func (mon *monitor) dis(addr uint64, count int) {
	buf := make([]byte, count*4)
	if err := mon.m.Core(mon.cpu).Peek(addr, buf); err != nil {
		mon.Printf("dis: %s\n", err)
		return
	}
	var d acpu.Dis
	ins, err := d.Dis(buf, addr)
	if err != nil {
		mon.Printf("dis: %s\n", err)
		return
	}
	for _, i := range ins {
		mon.Printf("0x%x: %08x  %s %s\n", i.Addr(),
			uint32(i.Bytes()[0])|uint32(i.Bytes()[1])<<8|uint32(i.Bytes()[2])<<16|uint32(i.Bytes()[3])<<24,
			i.Mnemonic(), i.OpStr())
	}
}

func (mon *monitor) dump(addr uint64, size int, phys bool) {
	buf := make([]byte, size)
	var err error
	if phys {
		err = mon.m.PhysRead(addr, buf)
	} else {
		err = mon.m.Core(mon.cpu).Peek(addr, buf)
	}
	if err != nil {
		mon.Printf("mem: %s\n", err)
		return
	}
	for off := 0; off < len(buf); off += 16 {
		end := off + 16
		if end > len(buf) {
			end = len(buf)
		}
		mon.Printf("0x%x: %s\n", addr+uint64(off), hex.EncodeToString(buf[off:end]))
	}
}

func (mon *monitor) tlb() {
	core := mon.m.Core(mon.cpu)
	itb, dtb := core.ITB(), core.DTB()
	is, ds := itb.Stats(), dtb.Stats()
	mon.Printf("itb: hits %d misses %d fills %d flushes %d\n", is.Hits, is.Misses, is.Fills, is.Flushes)
	mon.Printf("dtb: hits %d misses %d fills %d flushes %d\n", ds.Hits, ds.Misses, ds.Fills, ds.Flushes)
	for _, e := range dtb.Entries() {
		flags := ""
		if e.Global {
			flags += "G"
		}
		mon.Printf("  va 0x%x -> pfn 0x%x asn %d shift %d r%x w%x %s\n",
			e.VPN<<e.PageShift, e.PFN, e.ASN, e.PageShift, e.ReadMask, e.WriteMask, flags)
	}
}

func (mon *monitor) cacheStats() {
	l1d, l1i := mon.m.CacheStats(mon.cpu)
	l2, l3 := mon.m.SharedCacheStats()
	mon.Printf("l1d: hits %d misses %d writebacks %d invals %d\n", l1d.Hits, l1d.Misses, l1d.Writebacks, l1d.Invalidations)
	mon.Printf("l1i: hits %d misses %d writebacks %d invals %d\n", l1i.Hits, l1i.Misses, l1i.Writebacks, l1i.Invalidations)
	mon.Printf("l2:  hits %d misses %d writebacks %d invals %d\n", l2.Hits, l2.Misses, l2.Writebacks, l2.Invalidations)
	mon.Printf("l3:  hits %d misses %d writebacks %d invals %d\n", l3.Hits, l3.Misses, l3.Writebacks, l3.Invalidations)
}

func (mon *monitor) save(path string) {
	f, err := os.Create(path)
	if err == nil {
		err = mon.m.Snapshot(f)
		f.Close()
	}
	if err != nil {
		mon.Printf("save: %s\n", err)
	}
}

func (mon *monitor) restore(path string) {
	f, err := os.Open(path)
	if err == nil {
		err = mon.m.Restore(f)
		f.Close()
	}
	if err != nil {
		mon.Printf("restore: %s\n", err)
	}
}

const monitorHelp = `commands:
  step [n]          execute n instructions on the current cpu
  run [cycles]      run all cpus (to halt, or for a cycle budget)
  cpu <n>           switch current cpu
  regs              dump registers
  dis [addr] [n]    disassemble (default: pc, 8)
  mem <addr> [len]  hexdump virtual memory
  phys <addr> [len] hexdump physical memory
  tlb               tlb stats and dtb contents
  cache             cache hierarchy stats
  irq <vector>      inject an interrupt on the current cpu
  save <file>       write a snapshot
  restore <file>    load a snapshot
  quit`

func (mon *monitor) dispatch(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	switch fields[0] {
	case "q", "quit", "exit":
		return false
	case "h", "help":
		mon.Printf("%s\n", monitorHelp)
	case "s", "step":
		mon.step(parseInt(arg(1), 1))
	case "run":
		var err error
		if n := parseInt(arg(1), 0); n > 0 {
			err = mon.m.RunUntil(uint64(n))
		} else {
			err = mon.m.Run()
		}
		if err != nil {
			mon.Printf("run: %s\n", err)
		}
	case "cpu":
		n := parseInt(arg(1), -1)
		if n < 0 || n >= mon.m.NumCpus() {
			mon.Printf("no cpu %s\n", arg(1))
		} else {
			mon.cpu = n
		}
	case "r", "regs":
		mon.regs()
	case "d", "dis":
		addr := mon.pc()
		if a, err := parseNum(arg(1)); err == nil {
			addr = a
		}
		mon.dis(addr, parseInt(arg(2), 8))
	case "m", "mem", "phys":
		addr, err := parseNum(arg(1))
		if err != nil {
			mon.Printf("usage: %s <addr> [len]\n", fields[0])
			return true
		}
		mon.dump(addr, parseInt(arg(2), 64), fields[0] == "phys")
	case "tlb":
		mon.tlb()
	case "cache":
		mon.cacheStats()
	case "irq":
		if err := mon.m.InjectInterrupt(mon.cpu, uint32(parseInt(arg(1), 3))); err != nil {
			mon.Printf("irq: %s\n", err)
		}
	case "save":
		mon.save(arg(1))
	case "restore":
		mon.restore(arg(1))
	default:
		mon.Printf("unknown command %q (try help)\n", fields[0])
	}
	return true
}

func (mon *monitor) loop() error {
	mon.Printf("%s\n", monitorHelp)
	for {
		mon.setPrompt()
		line, err := mon.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err != nil {
			// io.EOF on ctrl-d
			return nil
		}
		if !mon.dispatch(line) {
			return nil
		}
	}
}

func main() {
	c := cmd.NewMachineCmd()
	c.NoExe = true
	c.RunMachine = func(args []string) error {
		if len(args) > 0 {
			if err := c.LoadImage(args[0], false, false, 0, 0); err != nil {
				return err
			}
		}
		// get history path
		configDirs := configdir.New("alphacorn", "monitor")
		cacheDir := configDirs.QueryCacheFolder()
		historyPath := ""
		if err := cacheDir.MkdirAll(); err == nil {
			historyPath = filepath.Join(cacheDir.Path, "history")
		}
		rl, err := readline.NewEx(&readline.Config{
			InterruptPrompt: "\n",
			HistoryFile:     historyPath,
		})
		if err != nil {
			return err
		}
		defer rl.Close()
		mon := &monitor{m: c.Machine.(*alphacorn.Machine), rl: rl}
		return mon.loop()
	}
	c.Run(os.Args)
}
