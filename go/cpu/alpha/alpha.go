// Package alpha interprets the Alpha AXP instruction set (EV4 through EV7).
package alpha

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/lunixbochs/alphacorn/go/mmu"
	"github.com/lunixbochs/alphacorn/go/models"
	"github.com/lunixbochs/alphacorn/go/models/cpu"
)

// System is the machine side of one core: coherent memory and MMIO, the
// store-conditional arbiter, interrupt delivery and the cycle clock.
// Addresses passed down are physical; translation happens in the core.
type System interface {
	MemRead(pa uint64, size int) (uint64, error)
	MemWrite(pa uint64, size int, val uint64) error
	// instruction fetch of one aligned word through the I-cache
	Fetch(pa uint64) (uint32, error)
	// uncached aligned quadword read for the page walker
	ReadQuad(pa uint64) (uint64, error)

	// LoadLocked reads and arms this core's reservation on the line.
	LoadLocked(pa uint64, size int) (uint64, error)
	// StoreConditional writes iff the reservation survived. The check and
	// the store are one atomic step against every other core's stores.
	StoreConditional(pa uint64, size int, val uint64) (bool, error)
	ClearReservation()

	// PollInterrupt returns a pending vector with priority above ipl.
	PollInterrupt(ipl int) (uint32, bool)
	// IPI posts an interprocessor interrupt to another core.
	IPI(target uint64) error

	Cycles() uint64
	// SyncICache makes this core's I-stream coherent (IMB).
	SyncICache()
}

// wrent entry point slots
const (
	EntInt = iota
	EntArith
	EntMM
	EntIF
	EntUna
	EntSys
	NumEnt
)

type tbiReq struct {
	sel int64
	va  uint64
	asn uint64
}

type AlphaCpu struct {
	*cpu.Hooks
	*cpu.Regs
	sys   System
	id    int
	model CpuModel

	itb *mmu.TLB
	dtb *mmu.TLB

	strictAlign bool

	// OSF/1 PAL state kept outside the guest-visible register file
	ent    [NumEnt]uint64
	ksp    uint64
	usp    uint64
	kgp    uint64
	sysval uint64
	vptptr uint64

	lock lockState

	// queued remote TLB shootdowns, applied at instruction boundaries
	tbiMu sync.Mutex
	tbiQ  []tbiReq

	// next PC, written back after a successful step
	npc uint64

	exitRequest int32
}

func NewCpu(sys System, id int, conf *models.Config) (*AlphaCpu, error) {
	model, ok := ParseModel(conf.Model)
	if !ok {
		return nil, errors.Errorf("unknown cpu model %q", conf.Model)
	}
	c := &AlphaCpu{
		Regs:        cpu.NewRegs(64, NREGS, []int{R31, F31}),
		sys:         sys,
		id:          id,
		model:       model,
		itb:         mmu.New(conf.Tlb.ITBEntries, conf.Tlb.PageSizes),
		dtb:         mmu.New(conf.Tlb.DTBEntries, conf.Tlb.PageSizes),
		strictAlign: conf.Exec.StrictAlignment,
	}
	c.Hooks = cpu.NewHooks(c)
	c.Set(PS, uint64(ModeKernel)|31<<PS_IPL_SHIFT)
	return c, nil
}

func (c *AlphaCpu) Id() int         { return c.id }
func (c *AlphaCpu) Model() CpuModel { return c.model }
func (c *AlphaCpu) ITB() *mmu.TLB   { return c.itb }
func (c *AlphaCpu) DTB() *mmu.TLB   { return c.dtb }

func (c *AlphaCpu) mode() int {
	return psMode(c.Get(PS))
}

func (c *AlphaCpu) ipl() int {
	return psIPL(c.Get(PS))
}

// QueueTBI schedules a TLB invalidation from another core. It takes effect
// before the next instruction on this core.
func (c *AlphaCpu) QueueTBI(sel int64, va, asn uint64) {
	c.tbiMu.Lock()
	c.tbiQ = append(c.tbiQ, tbiReq{sel, va, asn})
	c.tbiMu.Unlock()
}

func (c *AlphaCpu) drainTBI() {
	c.tbiMu.Lock()
	q := c.tbiQ
	c.tbiQ = nil
	c.tbiMu.Unlock()
	for _, r := range q {
		c.applyTBI(r.sel, r.va, r.asn)
	}
}

func (c *AlphaCpu) applyTBI(sel int64, va, asn uint64) {
	switch sel {
	case TbiA:
		c.itb.InvalidateAll()
		c.dtb.InvalidateAll()
	case TbiAP:
		c.itb.InvalidateNonGlobal()
		c.dtb.InvalidateNonGlobal()
	case TbiSI:
		c.itb.InvalidateVA(va, asn)
	case TbiSD:
		c.dtb.InvalidateVA(va, asn)
	case TbiS:
		c.itb.InvalidateVA(va, asn)
		c.dtb.InvalidateVA(va, asn)
	case TbiAR:
		c.itb.InvalidateASN(asn)
		c.dtb.InvalidateASN(asn)
	}
}

// translate resolves a data or fetch address. PAL mode runs with mapping
// disabled, so addresses pass through to the physical space.
func (c *AlphaCpu) translate(va uint64, access int) (uint64, error) {
	if c.mode() == ModePal {
		return va & (1<<48 - 1), nil
	}
	tlb, asnReg := c.dtb, DTB_ASN
	if access == mmu.AccessExec {
		tlb, asnReg = c.itb, ITB_ASN
	}
	mode := c.mode()
	return mmu.Translate(tlb, c.sys.ReadQuad, c.Get(PTBR), va, c.Get(asnReg), mode, access)
}

// Peek reads guest memory through the current translation, for tracing and
// the monitor. It never redirects into PAL on a fault.
func (c *AlphaCpu) Peek(va uint64, p []byte) error {
	for i := range p {
		pa, err := c.translate(va+uint64(i), mmu.AccessRead)
		if err != nil {
			return err
		}
		v, err := c.sys.MemRead(pa, 1)
		if err != nil {
			return err
		}
		p[i] = byte(v)
	}
	return nil
}

// Step executes one instruction, sampling interrupts and remote TLB
// shootdowns first. A guest fault redirects into PAL delivery and returns
// nil; only host errors and halts come back non-nil.
func (c *AlphaCpu) Step() error {
	c.drainTBI()
	if c.mode() != ModePal {
		if vec, ok := c.sys.PollInterrupt(c.ipl()); ok {
			return c.enter(&models.Fault{Kind: models.FaultInterrupt, Vector: vec})
		}
	}
	pc := c.Get(PC)
	if pc&3 != 0 {
		return c.enter(&models.Fault{Kind: models.FaultACV, VA: pc, MMStat: models.MMAcv})
	}
	pa, err := c.translate(pc, mmu.AccessExec)
	if err != nil {
		return c.fail(err)
	}
	word, err := c.sys.Fetch(pa)
	if err != nil {
		return c.fail(err)
	}
	c.OnCode(pc, 4)
	c.npc = pc + 4
	if err := c.exec(Decode(word)); err != nil {
		return c.fail(err)
	}
	c.Set(PC, c.npc)
	return nil
}

// fail routes guest faults into PAL entry and passes everything else up.
func (c *AlphaCpu) fail(err error) error {
	if f, ok := models.IsFault(err); ok {
		return c.enter(f)
	}
	return err
}

func (c *AlphaCpu) exec(d Decoded) error {
	switch d.Format {
	case FormatReserved:
		return &models.Fault{Kind: models.FaultRsvdOpcode}
	case FormatPal:
		return c.callPal(d.PalFunc)
	case FormatMem:
		return c.execMem(d)
	case FormatMemFunc:
		return c.execMisc(d)
	case FormatJump:
		target := c.Get(int(d.Rb)) &^ 3
		c.Set(int(d.Ra), c.npc)
		c.npc = target
		return nil
	case FormatBranch:
		return c.execBranch(d)
	case FormatOperate:
		return c.execOperate(d)
	case FormatFP:
		if c.Get(PS)&PS_FEN == 0 && c.mode() != ModePal {
			return &models.Fault{Kind: models.FaultFEN}
		}
		return c.execFP(d)
	case FormatHW:
		return c.execHW(d)
	}
	return &models.Fault{Kind: models.FaultRsvdOpcode}
}

func (c *AlphaCpu) execBranch(d Decoded) error {
	ra := int(d.Ra)
	var taken bool
	switch d.Opcode {
	case OpBr, OpBsr:
		c.Set(ra, c.npc)
		taken = true
	case OpBlbc:
		taken = c.Get(ra)&1 == 0
	case OpBlbs:
		taken = c.Get(ra)&1 == 1
	case OpBeq:
		taken = c.Get(ra) == 0
	case OpBne:
		taken = c.Get(ra) != 0
	case OpBlt:
		taken = int64(c.Get(ra)) < 0
	case OpBle:
		taken = int64(c.Get(ra)) <= 0
	case OpBge:
		taken = int64(c.Get(ra)) >= 0
	case OpBgt:
		taken = int64(c.Get(ra)) > 0
	case OpFbeq, OpFblt, OpFble, OpFbne, OpFbge, OpFbgt:
		if c.Get(PS)&PS_FEN == 0 && c.mode() != ModePal {
			return &models.Fault{Kind: models.FaultFEN}
		}
		taken = c.fpBranchTaken(d.Opcode, c.Get(F0+ra))
	}
	if taken {
		// target computed from the untaken next pc
		c.npc = c.npc + uint64(int64(d.Disp))*4
	}
	return nil
}

// Start runs from begin until the pc reaches until, a halt, or Stop.
func (c *AlphaCpu) Start(begin, until uint64) error {
	atomic.StoreInt32(&c.exitRequest, 0)
	c.Set(PC, begin)
	for atomic.LoadInt32(&c.exitRequest) == 0 {
		if c.Get(PC) == until {
			return nil
		}
		if err := c.Step(); err != nil {
			return err
		}
	}
	return nil
}

func (c *AlphaCpu) Stop() error {
	atomic.StoreInt32(&c.exitRequest, 1)
	return nil
}

func (c *AlphaCpu) Close() error {
	return nil
}

// PalContext bundles the PAL-private state for snapshots.
type PalContext struct {
	Ent    [NumEnt]uint64
	Ksp    uint64
	Usp    uint64
	Kgp    uint64
	Sysval uint64
	Vptptr uint64
}

type context struct {
	regs interface{}
	pal  PalContext
	lock lockState
}

func (c *AlphaCpu) ContextSave(reuse interface{}) (interface{}, error) {
	var ctx *context
	if reuse != nil {
		var ok bool
		if ctx, ok = reuse.(*context); !ok {
			return nil, errors.New("incorrect context type")
		}
	} else {
		ctx = &context{}
	}
	regs, err := c.Regs.ContextSave(ctx.regs)
	if err != nil {
		return nil, err
	}
	ctx.regs = regs
	ctx.pal = PalContext{c.ent, c.ksp, c.usp, c.kgp, c.sysval, c.vptptr}
	ctx.lock = c.lock
	return ctx, nil
}

func (c *AlphaCpu) ContextRestore(in interface{}) error {
	ctx, ok := in.(*context)
	if !ok {
		return errors.New("incorrect context type")
	}
	if err := c.Regs.ContextRestore(ctx.regs); err != nil {
		return err
	}
	c.ent = ctx.pal.Ent
	c.ksp, c.usp = ctx.pal.Ksp, ctx.pal.Usp
	c.kgp, c.sysval, c.vptptr = ctx.pal.Kgp, ctx.pal.Sysval, ctx.pal.Vptptr
	c.lock = ctx.lock
	return nil
}

// PalState exposes the PAL-private registers for snapshot encoding.
func (c *AlphaCpu) PalState() PalContext {
	return PalContext{c.ent, c.ksp, c.usp, c.kgp, c.sysval, c.vptptr}
}

func (c *AlphaCpu) SetPalState(p PalContext) {
	c.ent, c.ksp, c.usp = p.Ent, p.Ksp, p.Usp
	c.kgp, c.sysval, c.vptptr = p.Kgp, p.Sysval, p.Vptptr
}
