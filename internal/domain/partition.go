package domain

import (
	"fmt"
	"strings"
	"time"
)

// Partition identifies an independent counting domain: one carrier on one
// calendar day. Partitions are created lazily on first allocation and are
// never deleted. Different partitions never block each other.
type Partition struct {
	Carrier string
	Date    string // YYYYMMDD
}

func PartitionFor(carrier string, day time.Time) Partition {
	return Partition{Carrier: carrier, Date: day.Format("20060102")}
}

// TicketFormat renders queue tickets as <prefix><seq><separator><date>.
// Prefix and Width are shared by fresh and recycled tickets, so a recycled
// number is indistinguishable from a fresh one to consumers. Fixed
// zero-padding keeps lexicographic order of tickets within one partition
// equal to numeric order, which is what makes "smallest recycled first" a
// plain ORDER BY.
type TicketFormat struct {
	Prefix string
	Width  int
}

// The prefix is a configuration constant independent of the carrier code.
var DefaultTicketFormat = TicketFormat{Prefix: "NUD", Width: 4}

// Format renders a ticket, e.g. Format(7, "20250114") -> "NUD0007-20250114".
func (f TicketFormat) Format(seq int, date string) string {
	return fmt.Sprintf("%s%0*d-%s", f.Prefix, f.Width, seq, date)
}

// TicketDate extracts the YYYYMMDD suffix of a formatted ticket. A recycled
// ticket must return to the partition it was issued in, which may not be
// the day the release happens, so the date embedded in the ticket is
// authoritative.
func TicketDate(queue string) string {
	if i := strings.LastIndex(queue, "-"); i >= 0 {
		return queue[i+1:]
	}
	return ""
}
