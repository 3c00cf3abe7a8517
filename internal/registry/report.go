package registry

import (
	"fmt"
	"strings"

	"github.com/dreamware/ringfab/internal/wire"
)

// FormatSummaries renders the end-of-run traffic table the operator sees.
// The TOTAL row is the conservation check: generated and completed must
// match across the overlay, and so must pushed and pulled.
func FormatSummaries(summaries []wire.TrafficSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %12s %12s %12s %12s\n",
		"node", "generated", "pushed", "pulled", "completed")

	var generated, pushed, pulled, completed int64
	for _, s := range summaries {
		fmt.Fprintf(&b, "%-24s %12d %12d %12d %12d\n",
			s.Addr(), s.Generated, s.Pushed, s.Pulled, s.Completed)
		generated += s.Generated
		pushed += s.Pushed
		pulled += s.Pulled
		completed += s.Completed
	}
	fmt.Fprintf(&b, "%-24s %12d %12d %12d %12d\n",
		"TOTAL", generated, pushed, pulled, completed)
	return b.String()
}
