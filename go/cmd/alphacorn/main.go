package main

import (
	"fmt"
	"os"

	"github.com/lunixbochs/alphacorn/go/cmd"
)

func main() {
	c := cmd.NewMachineCmd()
	c.SetupMachine = func() error {
		if !c.Config.Verbose {
			return nil
		}
		m := c.Machine
		pc, _ := m.Cpu(0).RegRead(m.Arch().PC)
		fmt.Fprintf(os.Stderr, "[entry point @ 0x%x]\n", pc)
		if ins, err := m.Dis(0, pc, 16); err == nil {
			for _, i := range ins {
				fmt.Fprintf(os.Stderr, "0x%x: %s %s\n", i.Addr(), i.Mnemonic(), i.OpStr())
			}
		}
		return nil
	}
	c.Run(os.Args)
}
