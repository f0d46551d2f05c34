package alpha

import (
	"fmt"

	"github.com/lunixbochs/alphacorn/go/cpu/alpha"
	"github.com/lunixbochs/alphacorn/go/models"
)

// OSF/1 calling-convention names for the integer file
var intNames = map[string]int{
	"v0": alpha.R0,
	"t0": alpha.R1, "t1": alpha.R2, "t2": alpha.R3, "t3": alpha.R4,
	"t4": alpha.R5, "t5": alpha.R6, "t6": alpha.R7, "t7": alpha.R8,
	"s0": alpha.R9, "s1": alpha.R10, "s2": alpha.R11, "s3": alpha.R12,
	"s4": alpha.R13, "s5": alpha.R14, "fp": alpha.R15,
	"a0": alpha.R16, "a1": alpha.R17, "a2": alpha.R18,
	"a3": alpha.R19, "a4": alpha.R20, "a5": alpha.R21,
	"t8": alpha.R22, "t9": alpha.R23, "t10": alpha.R24, "t11": alpha.R25,
	"ra": alpha.R26, "pv": alpha.R27, "at": alpha.R28,
	"gp": alpha.R29, "sp": alpha.R30, "zero": alpha.R31,
}

var Arch = &models.Arch{
	Name: "alpha",
	Bits: 64,
	PC:   alpha.PC,
	SP:   alpha.SP,
	Regs: regs(),
}

func regs() map[string]int {
	m := make(map[string]int, 70)
	for name, enum := range intNames {
		m[name] = enum
	}
	for i := 0; i < 32; i++ {
		m[fmt.Sprintf("f%d", i)] = alpha.F0 + i
	}
	m["pc"] = alpha.PC
	m["ps"] = alpha.PS
	m["fpcr"] = alpha.FPCR
	m["unique"] = alpha.UNIQUE
	return m
}
