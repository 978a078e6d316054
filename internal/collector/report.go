package collector

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/roach88/msgpass/internal/clock"
	"github.com/roach88/msgpass/internal/store"
)

// Relation symbols.
const (
	HappenedBefore = "->"
	HappenedAfter  = "<-"
	Concurrent     = "||"
	Same           = "=="
	Unknown        = "??"
)

// Relation returns the symbol relating a to b. Logical timestamps cannot
// establish causality, and mismatched timestamps cannot be compared; both
// give Unknown.
func Relation(a, b clock.Timestamp) string {
	if a.Kind() != clock.KindVector || b.Kind() != clock.KindVector {
		return Unknown
	}
	ord, err := clock.Compare(a, b)
	if err != nil {
		return Unknown
	}
	switch ord {
	case clock.Before:
		return HappenedBefore
	case clock.After:
		return HappenedAfter
	case clock.Equal:
		return Same
	default:
		return Concurrent
	}
}

// WriteReport prints the entries in arrival order, the relation chain
// between neighbours, and every pair. Pairs ordered by happened-before are
// always printed with the arrow pointing forward in time.
func WriteReport(w io.Writer, entries []store.Entry) error {
	bw := bufio.NewWriter(w)
	if len(entries) == 0 {
		fmt.Fprintln(bw, "no logged messages")
		return bw.Flush()
	}

	for i, e := range entries {
		m := e.Message
		fmt.Fprintf(bw, "%d %s to %s seq %d kind %s ts %s", i, m.Source, m.Destination, m.Seq, m.Kind, m.Timestamp)
		if m.Duplicate {
			fmt.Fprint(bw, " dup")
		}
		fmt.Fprintf(bw, " body %q\n", m.Body())
	}

	fmt.Fprint(bw, "chain: 0")
	for i := 1; i < len(entries); i++ {
		fmt.Fprintf(bw, " %s %d", Relation(entries[i-1].Message.Timestamp, entries[i].Message.Timestamp), i)
	}
	fmt.Fprintln(bw)

	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			rel := Relation(entries[i].Message.Timestamp, entries[j].Message.Timestamp)
			a, b := strconv.Itoa(i), strconv.Itoa(j)
			if rel == HappenedAfter {
				rel, a, b = HappenedBefore, b, a
			}
			fmt.Fprintf(bw, "%s %s %s\n", a, rel, b)
		}
	}
	return bw.Flush()
}
