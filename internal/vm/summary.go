package vm

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/javanstorm/vmlaunch/pkg/hypervisor"
	"github.com/javanstorm/vmlaunch/pkg/params"
)

// summaryKeys are the parameters echoed after a machine is created.
var summaryKeys = []string{
	hypervisor.KeyName,
	hypervisor.KeyCPUs,
	hypervisor.KeyMemory,
	hypervisor.KeyDisk,
	hypervisor.KeyCernVMVersion,
	hypervisor.KeyFlags,
}

// WriteSummary prints the parameters a machine was created with.
func WriteSummary(w io.Writer, p *params.Set) {
	fmt.Fprintln(w, "Machine created with:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, key := range summaryKeys {
		if v, ok := p.Get(key); ok {
			fmt.Fprintf(tw, "  %s:\t%s\n", key, v)
		}
	}
	if v, ok := p.Get(hypervisor.KeyOVAPath); ok {
		fmt.Fprintf(tw, "  %s:\t%s\n", hypervisor.KeyOVAPath, v)
	}
	tw.Flush()
}
