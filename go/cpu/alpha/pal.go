package alpha

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/alphacorn/go/models"
)

// entIF instruction-fault codes passed to the OS entry point in a0
const (
	ifBpt = iota
	ifBugchk
	ifGentrap
	ifFEN
	ifOpDec
)

// enter delivers a guest fault. With PAL_BASE set, control transfers to
// guest PALcode at the model's architected entry offset. With PAL_BASE
// clear the OSF/1 PALcode is emulated natively: the fault becomes a kernel
// frame pushed on the stack and a jump to the wrent-registered entry point.
func (c *AlphaCpu) enter(f *models.Fault) error {
	c.OnIntr(uint32(f.Kind))
	c.lock = lockState{}
	c.sys.ClearReservation()

	pc := c.Get(PC)
	retPC := pc
	switch f.Kind {
	case models.FaultArith, models.FaultSyscall, models.FaultBpt,
		models.FaultBugchk, models.FaultGentrap:
		retPC = pc + 4
	}
	switch f.Kind {
	case models.FaultTNV, models.FaultACV, models.FaultFOR,
		models.FaultFOW, models.FaultFOE, models.FaultAlign:
		c.Set(VA, f.VA)
		c.Set(MM_STAT, f.MMStat)
	case models.FaultArith:
		c.Set(EXC_SUMM, f.Summary)
		c.Set(EXC_MASK, f.RegMask)
	}
	c.Set(EXC_ADDR, retPC)
	c.Set(EXC_PS, c.Get(PS))

	if base := c.Get(PAL_BASE); base != 0 {
		c.Set(PS, c.Get(PS)&^PS_MODE_MASK|ModePal)
		c.Set(PC, base+c.palEntryOffset(f))
		return nil
	}
	return c.enterNative(f, retPC)
}

func (c *AlphaCpu) palEntryOffset(f *models.Fault) uint64 {
	t := c.model.palTable()
	switch f.Kind {
	case models.FaultTNV:
		return t.DTBMiss
	case models.FaultACV, models.FaultFOR, models.FaultFOW, models.FaultFOE:
		return t.DFault
	case models.FaultAlign:
		return t.Unalign
	case models.FaultRsvdOpcode, models.FaultPriv:
		return t.OpcDec
	case models.FaultArith:
		return t.Arith
	case models.FaultFEN:
		return t.FEN
	case models.FaultInterrupt:
		return t.Interrupt
	case models.FaultMchk, models.FaultBusError:
		return t.Mchk
	}
	return t.OpcDec
}

// enterNative pushes the OSF/1 six-quad frame (ps, pc, gp, a0-a2) on the
// kernel stack and transfers to the registered entry point in kernel mode.
func (c *AlphaCpu) enterNative(f *models.Fault, retPC uint64) error {
	slot, a0, a1, a2 := c.nativeVector(f)
	if c.ent[slot] == 0 {
		return errors.Wrap(f, "fault with no entry point registered")
	}
	ps := c.Get(PS)
	if psMode(ps) == ModeUser {
		c.usp = c.Get(SP)
		c.Set(SP, c.ksp)
	}
	c.Set(PS, ps&^PS_MODE_MASK|ModeKernel)

	sp := c.Get(SP) - 48
	frame := []uint64{ps, retPC, c.Get(R29), c.Get(R16), c.Get(R17), c.Get(R18)}
	for i, q := range frame {
		if err := c.writeVirt(sp+uint64(8*i), 8, q); err != nil {
			// fault while delivering a fault
			c.Set(PS, ps)
			return errors.Wrap(err, "double fault")
		}
	}
	c.Set(SP, sp)
	c.Set(R16, a0)
	c.Set(R17, a1)
	c.Set(R18, a2)
	c.Set(R29, c.kgp)
	c.Set(PC, c.ent[slot])
	return nil
}

func (c *AlphaCpu) nativeVector(f *models.Fault) (slot int, a0, a1, a2 uint64) {
	switch f.Kind {
	case models.FaultTNV, models.FaultACV, models.FaultFOR,
		models.FaultFOW, models.FaultFOE:
		cause := uint64(0) // read
		if f.MMStat&models.MMWr != 0 {
			cause = 1
		}
		return EntMM, f.VA, f.MMStat, cause
	case models.FaultAlign:
		return EntUna, f.VA, 0, 0
	case models.FaultArith:
		return EntArith, f.Summary, f.RegMask, 0
	case models.FaultSyscall:
		return EntSys, c.Get(R16), c.Get(R17), c.Get(R18)
	case models.FaultInterrupt:
		return EntInt, uint64(f.Vector), 0, 0
	case models.FaultBpt:
		return EntIF, ifBpt, 0, 0
	case models.FaultBugchk:
		return EntIF, ifBugchk, 0, 0
	case models.FaultGentrap:
		return EntIF, ifGentrap, c.Get(R16), 0
	case models.FaultFEN:
		return EntIF, ifFEN, 0, 0
	default:
		return EntIF, ifOpDec, 0, 0
	}
}

// rti pops the frame enterNative pushed.
func (c *AlphaCpu) rti() error {
	sp := c.Get(SP)
	var frame [6]uint64
	for i := range frame {
		q, err := c.readVirt(sp+uint64(8*i), 8)
		if err != nil {
			return err
		}
		frame[i] = q
	}
	ps, pc := frame[0], frame[1]
	c.Set(R29, frame[2])
	c.Set(R16, frame[3])
	c.Set(R17, frame[4])
	c.Set(R18, frame[5])
	c.Set(SP, sp+48)
	c.Set(PS, ps)
	c.npc = pc &^ 3
	if psMode(ps) == ModeUser {
		c.ksp = c.Get(SP)
		c.Set(SP, c.usp)
	}
	return nil
}

// OSF/1 process control block layout, quadword slots
const (
	pcbKsp    = 0
	pcbUsp    = 8
	pcbPtbr   = 16
	pcbPcc    = 24
	pcbAsn    = 32
	pcbUnique = 40
	pcbFen    = 48
)

func (c *AlphaCpu) swpctx(newPcbb uint64) error {
	old := c.Get(PCBB)
	if psMode(c.Get(PS)) == ModeKernel || psMode(c.Get(PS)) == ModePal {
		c.ksp = c.Get(SP)
	} else {
		c.usp = c.Get(SP)
	}
	if old != 0 {
		out := map[uint64]uint64{
			pcbKsp:    c.ksp,
			pcbUsp:    c.usp,
			pcbPtbr:   c.Get(PTBR),
			pcbPcc:    c.sys.Cycles(),
			pcbAsn:    c.Get(DTB_ASN),
			pcbUnique: c.Get(UNIQUE),
		}
		for off, val := range out {
			if err := c.sys.MemWrite(old+off, 8, val); err != nil {
				return err
			}
		}
	}
	read := func(off uint64) (uint64, error) {
		return c.sys.MemRead(newPcbb+off, 8)
	}
	ksp, err := read(pcbKsp)
	if err != nil {
		return err
	}
	usp, err := read(pcbUsp)
	if err != nil {
		return err
	}
	ptbr, err := read(pcbPtbr)
	if err != nil {
		return err
	}
	asn, err := read(pcbAsn)
	if err != nil {
		return err
	}
	unique, err := read(pcbUnique)
	if err != nil {
		return err
	}
	c.ksp, c.usp = ksp, usp
	c.Set(PTBR, ptbr)
	c.Set(ITB_ASN, asn)
	c.Set(DTB_ASN, asn)
	c.Set(UNIQUE, unique)
	c.Set(PCBB, newPcbb)
	c.Set(SP, c.ksp)
	c.Set(R0, old)
	return nil
}

func (c *AlphaCpu) callPal(fn uint32) error {
	c.OnIntr(fn)
	c.lock = lockState{}
	c.sys.ClearReservation()

	mode := c.mode()
	if fn < PalPrivMax && mode != ModeKernel && mode != ModePal {
		return &models.Fault{Kind: models.FaultPriv}
	}

	// with guest PALcode installed every call dispatches into it
	if base := c.Get(PAL_BASE); base != 0 {
		c.Set(EXC_ADDR, c.npc)
		c.Set(EXC_PS, c.Get(PS))
		c.Set(PS, c.Get(PS)&^PS_MODE_MASK|ModePal)
		c.npc = base + 64*uint64(fn)
		return nil
	}

	switch fn {
	case PalHalt:
		return models.ExitStatus(c.Get(R0))
	case PalCflush, PalDraina:
	case PalWripir:
		return c.sys.IPI(c.Get(R16))
	case PalWrfen:
		if c.Get(R16)&1 != 0 {
			c.Set(PS, c.Get(PS)|PS_FEN)
		} else {
			c.Set(PS, c.Get(PS)&^uint64(PS_FEN))
		}
	case PalClrfen:
		c.Set(PS, c.Get(PS)&^uint64(PS_FEN))
	case PalWrvptptr:
		c.vptptr = c.Get(R16)
	case PalSwpctx:
		return c.swpctx(c.Get(R16))
	case PalWrval:
		c.sysval = c.Get(R16)
	case PalRdval:
		c.Set(R0, c.sysval)
	case PalTbi:
		c.applyTBI(int64(c.Get(R16)), c.Get(R17), c.Get(DTB_ASN))
	case PalWrent:
		if which := c.Get(R17); which < NumEnt {
			c.ent[which] = c.Get(R16)
		}
	case PalSwpipl:
		ps := c.Get(PS)
		c.Set(R0, uint64(psIPL(ps)))
		c.Set(PS, ps&^uint64(PS_IPL_MASK)|(c.Get(R16)&0x1f)<<PS_IPL_SHIFT)
	case PalRdps:
		c.Set(R0, c.Get(PS))
	case PalWrkgp:
		c.kgp = c.Get(R16)
	case PalWrusp:
		c.usp = c.Get(R16)
	case PalRdusp:
		c.Set(R0, c.usp)
	case PalWhami:
		c.Set(R0, uint64(c.id))
	case PalRti, PalRetsys, PalUrti:
		return c.rti()

	case PalBpt:
		return &models.Fault{Kind: models.FaultBpt}
	case PalBugchk:
		return &models.Fault{Kind: models.FaultBugchk}
	case PalCallsys:
		return &models.Fault{Kind: models.FaultSyscall}
	case PalGentrap:
		return &models.Fault{Kind: models.FaultGentrap}
	case PalImb:
		c.sys.SyncICache()
	case PalRdunique:
		c.Set(R0, c.Get(UNIQUE))
	case PalWrunique:
		c.Set(UNIQUE, c.Get(R16))
	default:
		return &models.Fault{Kind: models.FaultRsvdOpcode}
	}
	return nil
}

// hardware-privileged opcodes, usable from PAL or kernel mode
func (c *AlphaCpu) execHW(d Decoded) error {
	mode := c.mode()
	if mode != ModePal && mode != ModeKernel {
		return &models.Fault{Kind: models.FaultPriv}
	}
	switch d.Opcode {
	case OpHwMfpr:
		idx := PC + int(uint16(d.Disp)&0xff)
		if idx >= NREGS {
			return &models.Fault{Kind: models.FaultRsvdOpcode}
		}
		c.Set(int(d.Ra), c.Get(idx))
	case OpHwMtpr:
		idx := PC + int(uint16(d.Disp)&0xff)
		if idx >= NREGS {
			return &models.Fault{Kind: models.FaultRsvdOpcode}
		}
		if idx == PAL_BASE && c.Get(PAL_BASE) != 0 {
			// write-once
			return nil
		}
		c.Set(idx, c.Get(int(d.Ra)))
	case OpHwLd:
		pa := c.Get(int(d.Rb)) + uint64(int64(d.Disp))
		val, err := c.sys.MemRead(pa&^7, 8)
		if err != nil {
			return err
		}
		c.Set(int(d.Ra), val)
	case OpHwSt:
		pa := c.Get(int(d.Rb)) + uint64(int64(d.Disp))
		return c.sys.MemWrite(pa&^7, 8, c.Get(int(d.Ra)))
	case OpHwRei:
		c.Set(PS, c.Get(EXC_PS))
		c.npc = c.Get(EXC_ADDR) &^ 3
	}
	return nil
}
