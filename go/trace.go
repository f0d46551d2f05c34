package alphacorn

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	acpu "github.com/lunixbochs/alphacorn/go/cpu/alpha"
	"github.com/lunixbochs/alphacorn/go/models"
	"github.com/lunixbochs/alphacorn/go/models/cpu"
)

// cpuTracer prints executed instructions, register changes and memory
// traffic for one core, driven by the core's hook points. Output from
// multiple cores interleaves line by line.
type cpuTracer struct {
	s   *cpuSys
	out io.Writer

	enums []int
	names map[int]string
	last  []uint64
	pcReg int
}

// StartTrace installs trace hooks on every core according to the config's
// Trace* flags. It does nothing when tracing is off.
func (m *Machine) StartTrace(out io.Writer) error {
	conf := m.config
	if !conf.TraceExec && !conf.TraceReg && !conf.TraceMem {
		return nil
	}
	names := make(map[int]string, len(m.arch.Regs))
	for name, enum := range m.arch.Regs {
		names[enum] = name
	}
	for _, s := range m.cpus {
		ct := &cpuTracer{
			s:     s,
			out:   out,
			enums: m.arch.RegEnums(),
			names: names,
			pcReg: m.arch.PC,
		}
		if conf.TraceExec || conf.TraceReg {
			if _, err := s.cpu.HookAdd(cpu.HOOK_CODE, ct.onCode, 1, 0); err != nil {
				return err
			}
		}
		if conf.TraceMem {
			htype := cpu.HOOK_MEM_READ | cpu.HOOK_MEM_WRITE
			if _, err := s.cpu.HookAdd(htype, ct.onMem, 1, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ct *cpuTracer) onCode(_ cpu.Cpu, addr uint64, size uint32) {
	conf := ct.s.m.config
	if conf.TraceReg {
		ct.printChanges()
	}
	if conf.TraceExec {
		var buf [4]byte
		if err := ct.s.cpu.Peek(addr, buf[:]); err != nil {
			fmt.Fprintf(ct.out, "cpu%d 0x%x: <%s>\n", ct.s.id, addr, err)
			return
		}
		var d acpu.Dis
		if ins, err := d.Dis(buf[:], addr); err == nil && len(ins) > 0 {
			fmt.Fprintf(ct.out, "cpu%d 0x%x: %s %s\n",
				ct.s.id, addr, ins[0].Mnemonic(), ins[0].OpStr())
		}
	}
}

// printChanges reports registers whose value moved since the last sample.
// PC is skipped; it moves every instruction.
func (ct *cpuTracer) printChanges() {
	if ct.last == nil {
		ct.last = make([]uint64, len(ct.enums))
		for i, enum := range ct.enums {
			ct.last[i], _ = ct.s.cpu.RegRead(enum)
		}
		return
	}
	for i, enum := range ct.enums {
		if enum == ct.pcReg {
			continue
		}
		val, err := ct.s.cpu.RegRead(enum)
		if err != nil || val == ct.last[i] {
			continue
		}
		fmt.Fprintf(ct.out, "cpu%d  %s = 0x%x\n", ct.s.id, ct.names[enum], val)
		ct.last[i] = val
	}
}

func (ct *cpuTracer) onMem(_ cpu.Cpu, access int, addr uint64, size int, value int64) {
	if access == cpu.MEM_WRITE {
		fmt.Fprintf(ct.out, "cpu%d MEM_WRITE 0x%x %d 0x%x\n", ct.s.id, addr, size, value)
	} else {
		fmt.Fprintf(ct.out, "cpu%d MEM_READ 0x%x %d 0x%x\n", ct.s.id, addr, size, value)
	}
}

// traceFile serializes binary trace records from all cores onto one stream.
type traceFile struct {
	mu sync.Mutex
	s  *models.StrucStream
}

func (tf *traceFile) emit(id int, kind uint8, payload interface{}) {
	tf.mu.Lock()
	hdr := models.OpHdr{Op: kind, Cpu: uint8(id)}
	tf.s.Pack(&hdr, payload)
	tf.mu.Unlock()
}

// StartTraceFile streams binary trace records for every core to w. It is
// independent of the text tracing flags.
func (m *Machine) StartTraceFile(w io.Writer) error {
	if _, err := w.Write(models.TraceMagic[:]); err != nil {
		return err
	}
	tf := &traceFile{s: &models.StrucStream{Stream: writerStream{w}, Order: binary.LittleEndian}}
	if err := tf.s.Pack(uint32(models.TraceVersion)); err != nil {
		return err
	}
	for _, s := range m.cpus {
		id := s.id
		onCode := func(_ cpu.Cpu, addr uint64, size uint32) {
			tf.emit(id, models.OpExec, &models.ExecOp{Addr: addr})
		}
		if _, err := s.cpu.HookAdd(cpu.HOOK_CODE, onCode, 1, 0); err != nil {
			return err
		}
		onMem := func(_ cpu.Cpu, access int, addr uint64, size int, value int64) {
			kind := uint8(models.OpMemRead)
			if access == cpu.MEM_WRITE {
				kind = models.OpMemWrite
			}
			tf.emit(id, kind, &models.MemOp{Addr: addr, Size: uint8(size), Value: uint64(value)})
		}
		htype := cpu.HOOK_MEM_READ | cpu.HOOK_MEM_WRITE
		if _, err := s.cpu.HookAdd(htype, onMem, 1, 0); err != nil {
			return err
		}
		onIntr := func(_ cpu.Cpu, vector uint32) {
			tf.emit(id, models.OpIrq, &models.IrqOp{Vector: vector})
		}
		if _, err := s.cpu.HookAdd(cpu.HOOK_INTR, onIntr, 1, 0); err != nil {
			return err
		}
	}
	return nil
}
