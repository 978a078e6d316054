package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/msgpass/internal/config"
	"github.com/roach88/msgpass/internal/node"
	"github.com/roach88/msgpass/internal/testutil"
)

// flushLimit bounds the messages delivered after one step.
const flushLimit = 10000

// Harness runs one scenario on a deterministic in-memory network.
type Harness struct {
	sched  *testutil.Scheduler
	logs   *testutil.LogRecorder
	nodes  map[string]*node.Session
	order  []string
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Parse the inline configuration and start one session per node
//  2. For each step, run the command, then deliver every queued message
//     (including forwards and replies) before the next step
//  3. Record deliveries and log copies per step, then final node state
//  4. Evaluate assertions
//
// An error is returned only when the scenario cannot be executed; step
// and assertion mismatches are reported in the result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	cfg, err := config.Parse([]byte(scenario.Config))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: config: %w", scenario.Name, err)
	}

	h := &Harness{
		sched:  testutil.NewScheduler(),
		logs:   &testutil.LogRecorder{},
		nodes:  make(map[string]*node.Session),
		order:  cfg.Processes(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	groups := cfg.GroupMap()
	for _, name := range h.order {
		local, err := cfg.Local(name)
		if err != nil {
			return nil, err
		}
		s, err := node.New(node.Config{
			Name:         name,
			Processes:    h.order,
			Groups:       groups,
			MutexGroup:   local.MutexGroup,
			Logical:      scenario.Logical,
			SendRules:    cfg.SendRules,
			ReceiveRules: cfg.ReceiveRules,
			Transport:    h.sched.Endpoint(name),
			LogSink:      h.logs,
			Logger:       h.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
		}
		h.sched.Attach(name, s)
		h.nodes[name] = s
	}
	defer func() {
		for _, s := range h.nodes {
			s.Close()
		}
	}()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.runStep(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
		}
	}
	for _, err := range h.sched.Errors() {
		result.AddError(fmt.Sprintf("receive failed: %v", err))
	}

	h.recordFinal(result)
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) runStep(ctx context.Context, n int, step Step, result *Result) error {
	s, ok := h.nodes[step.Node]
	if !ok {
		return fmt.Errorf("step %d: unknown node %q", n, step.Node)
	}
	logged := len(h.logs.Entries())

	detail, err := h.execute(ctx, s, step)
	var code string
	if err != nil {
		code = string(node.CodeOf(err))
		if code == "" {
			return fmt.Errorf("step %d: %w", n, err)
		}
		detail += " -> error " + code
	}
	result.AddStep(n, step.Node, detail)
	if code != step.ExpectError {
		result.AddError(fmt.Sprintf("step %d (%s %s): expected error %q, got %q", n, step.Node, detail, step.ExpectError, code))
	}

	if _, err := h.sched.Flush(ctx, flushLimit); err != nil {
		return fmt.Errorf("step %d: %w", n, err)
	}

	for _, name := range h.order {
		sess := h.nodes[name]
		for sess.Pending() > 0 {
			m, err := sess.Next(ctx)
			if err != nil {
				return fmt.Errorf("step %d: drain %s: %w", n, name, err)
			}
			result.AddDelivery(n, name, m)
		}
	}
	for _, m := range h.logs.Entries()[logged:] {
		result.AddLog(n, m)
	}
	return nil
}

// execute runs the step's command and describes it.
func (h *Harness) execute(ctx context.Context, s *node.Session, step Step) (string, error) {
	switch {
	case step.Send != nil:
		detail := fmt.Sprintf("send %s %s %q", step.Send.Dest, step.Send.Kind, step.Send.Body)
		if step.Send.Log {
			detail += " log"
		}
		_, err := s.Send(ctx, step.Send.Dest, step.Send.Kind, []byte(step.Send.Body), step.Send.Log)
		return detail, err
	case step.Multicast != nil:
		detail := fmt.Sprintf("multicast %s %q", step.Multicast.Group, step.Multicast.Body)
		if step.Multicast.Log {
			detail += " log"
		}
		var body []byte
		if step.Multicast.Body != "" {
			body = []byte(step.Multicast.Body)
		}
		_, err := s.Multicast(ctx, step.Multicast.Group, body, step.Multicast.Log)
		return detail, err
	case step.Request:
		return "request", s.RequestCriticalSection(ctx)
	case step.Release:
		return "release", s.ReleaseCriticalSection(ctx)
	case step.Mark:
		_, err := s.Mark(ctx)
		return "mark", err
	case step.Rules != nil:
		send, err := config.ConvertRules(step.Rules.Send)
		if err != nil {
			return "", err
		}
		recv, err := config.ConvertRules(step.Rules.Receive)
		if err != nil {
			return "", err
		}
		s.SetRules(send, recv)
		return fmt.Sprintf("rules send=%d receive=%d", len(send), len(recv)), nil
	default:
		return "", fmt.Errorf("no action")
	}
}

func (h *Harness) recordFinal(result *Result) {
	for _, name := range h.order {
		s := h.nodes[name]
		ts := s.Timestamps()
		st := NodeState{Name: name, Clock: ts.Main.String(), Groups: []GroupClock{}, Deferred: []string{}}
		for _, info := range s.Info().Groups {
			if g, ok := ts.Groups[info.Name]; ok {
				st.Groups = append(st.Groups, GroupClock{Group: info.Name, Clock: g.String()})
			}
		}
		if ms := s.MutexStatus(); ms.Enabled {
			st.Mutex = ms.State.String()
			st.Voted = ms.Voted
			st.Deferred = append(st.Deferred, ms.Deferred...)
		}
		result.Final = append(result.Final, st)
	}
}
