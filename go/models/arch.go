package models

import (
	"sort"

	"github.com/lunixbochs/fvbommel-util/sortorder"

	"github.com/lunixbochs/alphacorn/go/models/cpu"
)

type Reg struct {
	Enum int
	Name string
}

type RegVal struct {
	Reg
	Val uint64
}

type regList []Reg

func (r regList) Len() int           { return len(r) }
func (r regList) Swap(i, j int)      { r[i], r[j] = r[j], r[i] }
func (r regList) Less(i, j int) bool { return sortorder.NaturalLess(r[i].Name, r[j].Name) }

type regMap map[string]int

func (r regMap) Items() regList {
	ret := make(regList, 0, len(r))
	for n, e := range r {
		ret = append(ret, Reg{e, n})
	}
	return ret
}

// Arch describes the guest architecture to arch-independent code:
// the monitor, the snapshot writer and the trace layer.
type Arch struct {
	Name string
	Bits int
	PC   int
	SP   int
	Regs map[string]int

	// sorted for RegDump
	regList regList
}

func (a *Arch) RegEnums() []int {
	if a.regList == nil {
		rl := regMap(a.Regs).Items()
		sort.Sort(rl)
		a.regList = rl
	}
	ret := make([]int, len(a.regList))
	for i, r := range a.regList {
		ret[i] = r.Enum
	}
	return ret
}

func (a *Arch) RegDump(c cpu.Cpu) ([]RegVal, error) {
	if a.regList == nil {
		rl := regMap(a.Regs).Items()
		sort.Sort(rl)
		a.regList = rl
	}
	ret := make([]RegVal, len(a.regList))
	for i, r := range a.regList {
		val, err := c.RegRead(r.Enum)
		if err != nil {
			return nil, err
		}
		ret[i] = RegVal{r, val}
	}
	return ret, nil
}
