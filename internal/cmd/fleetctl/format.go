package fleetctl

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	agentapp "github.com/titanfleet/fleet-agent/internal/services/agent/app"
)

func writeStatus(w io.Writer, status agentapp.Status, now time.Time) {
	lc := status.Lifecycle
	fmt.Fprintf(w, "Phase:    %s\n", lc.Phase)
	if lc.ActiveVersion > 0 {
		activated := "-"
		if !lc.ActivatedAt.IsZero() {
			activated = humanize.RelTime(lc.ActivatedAt, now, "ago", "from now")
		}
		fmt.Fprintf(w, "Active:   v%d %s (activated %s)\n", lc.ActiveVersion, lc.Active.Precache, activated)
	} else {
		fmt.Fprintln(w, "Active:   -")
	}
	if lc.WaitingVersion > 0 {
		fmt.Fprintf(w, "Waiting:  v%d %s\n", lc.WaitingVersion, lc.Waiting.Precache)
	} else {
		fmt.Fprintln(w, "Waiting:  -")
	}
	fmt.Fprintf(w, "Queue:    %d pending (%s)\n", status.QueueLength, orDash(status.QueueTag))
	if len(status.PendingSync) > 0 {
		fmt.Fprintf(w, "Sync:     awaiting %v\n", status.PendingSync)
	}
	fmt.Fprintf(w, "Clients:  %d\n", len(status.Clients))

	if len(status.Generations) == 0 {
		fmt.Fprintln(w, "Generations: none")
		return
	}
	fmt.Fprintln(w, "Generations:")
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	var total uint64
	for _, gen := range status.Generations {
		size := uint64(max(gen.Bytes, 0))
		total += size
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n",
			gen.Generation.Name,
			gen.Generation.Kind,
			humanize.Comma(int64(gen.Entries))+" entries",
			humanize.Bytes(size),
		)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "Total:    %s\n", humanize.Bytes(total))
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, 1<<20))
}
