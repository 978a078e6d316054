package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/msgpass/internal/collector"
	"github.com/roach88/msgpass/internal/config"
	"github.com/roach88/msgpass/internal/node"
)

// errExit ends a shell cleanly.
var errExit = errors.New("exit")

// execFunc runs one command line.
type execFunc func(ctx context.Context, line string) error

// runShell reads commands from in until exit, end of input or ctx is
// done. Command errors are printed and the shell keeps going.
func runShell(ctx context.Context, in io.Reader, out io.Writer, prompt string, exec execFunc) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
		close(lines)
	}()

	fmt.Fprint(out, prompt)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if line = strings.TrimSpace(line); line != "" {
				err := exec(ctx, line)
				if errors.Is(err, errExit) {
					return nil
				}
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
				}
			}
			fmt.Fprint(out, prompt)
		}
	}
}

// splitLogFlag removes every --log from args and reports whether one was
// present.
func splitLogFlag(args []string) ([]string, bool) {
	kept := slices.DeleteFunc(slices.Clone(args), func(a string) bool { return a == "--log" })
	return kept, len(kept) != len(args)
}

const nodeHelp = `commands:
  send <dest> <kind> [body...] [--log]   send an ordinary message
  multicast <group> [body...] [--log]    causally ordered multicast
  request                                ask for the critical section
  release                                leave the critical section
  mark                                   send a marker to the log collector
  time                                   print the main and group clocks
  status                                 mutual-exclusion status and counters
  info                                   node, clock mode and groups
  reload                                 re-read fault rules from the config file
  exit                                   stop the node`

// nodeShell runs operator commands against one session.
type nodeShell struct {
	sess       *node.Session
	configPath string
	out        io.Writer
}

// Exec runs one operator command line.
func (sh *nodeShell) Exec(ctx context.Context, line string) error {
	args, log := splitLogFlag(strings.Fields(line))
	if len(args) == 0 {
		return nil
	}

	switch args[0] {
	case "send":
		if len(args) < 3 {
			return fmt.Errorf("usage: send <dest> <kind> [body...] [--log]")
		}
		m, err := sh.sess.Send(ctx, args[1], args[2], []byte(strings.Join(args[3:], " ")), log)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "sent %s\n", m)
	case "multicast":
		if len(args) < 2 {
			return fmt.Errorf("usage: multicast <group> [body...] [--log]")
		}
		var body []byte
		if len(args) > 2 {
			body = []byte(strings.Join(args[2:], " "))
		}
		m, err := sh.sess.Multicast(ctx, args[1], body, log)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "multicast %s\n", m)
	case "request":
		if err := sh.sess.RequestCriticalSection(ctx); err != nil {
			return err
		}
		fmt.Fprintln(sh.out, "request sent; waiting for replies")
	case "release":
		if err := sh.sess.ReleaseCriticalSection(ctx); err != nil {
			return err
		}
		fmt.Fprintln(sh.out, "released")
	case "mark":
		m, err := sh.sess.Mark(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "mark %s\n", m.Timestamp)
	case "time":
		writeTime(sh.out, sh.sess.Timestamps())
	case "status":
		writeStatus(sh.out, sh.sess.MutexStatus())
	case "info":
		writeInfo(sh.out, sh.sess.Info())
	case "reload":
		if err := config.Reload(sh.configPath, sh.sess.SetRules); err != nil {
			return fmt.Errorf("rules not reloaded: %w", err)
		}
		send, recv := sh.sess.Rules()
		fmt.Fprintf(sh.out, "rules reloaded: %d send, %d receive\n", len(send), len(recv))
	case "help":
		fmt.Fprintln(sh.out, nodeHelp)
	case "exit", "quit":
		return errExit
	default:
		return fmt.Errorf("unknown command %q (try help)", args[0])
	}
	return nil
}

func writeTime(w io.Writer, ts node.Timestamps) {
	fmt.Fprintf(w, "clock %s\n", ts.Main)
	groups := make([]string, 0, len(ts.Groups))
	for g := range ts.Groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	for _, g := range groups {
		fmt.Fprintf(w, "group %s %s\n", g, ts.Groups[g])
	}
}

func writeStatus(w io.Writer, st node.MutexStatus) {
	if !st.Enabled {
		fmt.Fprintln(w, "mutual exclusion: disabled")
	} else {
		fmt.Fprintf(w, "mutual exclusion: %s\n", st.Group)
		fmt.Fprintf(w, "state: %s\n", st.State)
		fmt.Fprintf(w, "voted: %t\n", st.Voted)
		fmt.Fprintf(w, "replies: %d/%d\n", st.Replies, st.Quorum)
		fmt.Fprintf(w, "deferred: [%s]\n", strings.Join(st.Deferred, " "))
	}
	fmt.Fprintf(w, "messages sent: %d\n", st.Sent)
	fmt.Fprintf(w, "messages received: %d\n", st.Received)
}

func writeInfo(w io.Writer, info node.Info) {
	mode := "vector"
	if info.Logical {
		mode = "logical"
	}
	fmt.Fprintf(w, "clock: %s\n", mode)
	fmt.Fprintf(w, "name: %s (index %d of %d nodes)\n", info.Name, info.Index, info.Nodes)
	fmt.Fprintln(w, "groups:")
	for _, g := range info.Groups {
		fmt.Fprintf(w, "  %s [%s]", g.Name, strings.Join(g.Members, " "))
		if g.Member {
			fmt.Fprint(w, " <==")
		}
		fmt.Fprintln(w)
	}
}

const loggerHelp = `commands:
  print   list logged messages and their relations
  clear   drop every logged message
  exit    stop the collector`

// loggerShell runs commands against a log collector.
type loggerShell struct {
	col *collector.Collector
	out io.Writer
}

// Exec runs one collector command line.
func (sh *loggerShell) Exec(ctx context.Context, line string) error {
	switch strings.TrimSpace(line) {
	case "print":
		return sh.col.Report(ctx, sh.out)
	case "clear":
		if err := sh.col.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(sh.out, "cleared")
	case "help":
		fmt.Fprintln(sh.out, loggerHelp)
	case "exit", "quit":
		return errExit
	default:
		return fmt.Errorf("unknown command %q (try help)", line)
	}
	return nil
}
