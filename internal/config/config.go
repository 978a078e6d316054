// Package config loads the testbed configuration file.
//
// The file is YAML with five top-level keys: configuration (the nodes, in
// global process-index order), groups, logger, sendRules and receiveRules.
// Loading runs three passes: strict YAML decoding (unknown keys are
// rejected), structural validation against an embedded CUE schema, and
// semantic validation (unique names, known members, mutual-exclusion
// group membership). The result is an immutable snapshot.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/roach88/msgpass/internal/fault"
	"github.com/roach88/msgpass/internal/message"
)

// Node is one entry of the configuration list.
type Node struct {
	Name       string   `yaml:"name"`
	IP         string   `yaml:"ip"`
	Port       int      `yaml:"port"`
	MemberOf   []string `yaml:"memberOf"`
	MutexGroup string   `yaml:"mutexGroup,omitempty"`
}

// Addr returns host:port.
func (n Node) Addr() string {
	return net.JoinHostPort(n.IP, strconv.Itoa(n.Port))
}

// Group is a named, ordered member list.
type Group struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

// Endpoint is a network address.
type Endpoint struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
}

// RuleSpec is a fault rule as written in the file. Absent fields are
// wildcards.
type RuleSpec struct {
	Action    string  `yaml:"action"`
	Src       *string `yaml:"src,omitempty"`
	Dest      *string `yaml:"dest,omitempty"`
	Kind      *string `yaml:"kind,omitempty"`
	SeqNum    *int64  `yaml:"seqNum,omitempty"`
	Duplicate *bool   `yaml:"duplicate,omitempty"`
}

// File mirrors the YAML document.
type File struct {
	Configuration []Node     `yaml:"configuration"`
	Groups        []Group    `yaml:"groups"`
	Logger        []Endpoint `yaml:"logger"`
	SendRules     []RuleSpec `yaml:"sendRules"`
	ReceiveRules  []RuleSpec `yaml:"receiveRules"`
}

// Config is a validated configuration snapshot.
type Config struct {
	Nodes        []Node
	Groups       []Group
	Logger       *Endpoint
	SendRules    []fault.Rule
	ReceiveRules []fault.Rule
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a configuration document.
// Validation failures are returned as ValidationErrors.
func Parse(data []byte) (*Config, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	normalize(&f)

	if errs := validateSchema(data); len(errs) > 0 {
		return nil, errs
	}
	if errs := validateSemantics(&f); len(errs) > 0 {
		return nil, errs
	}

	send, err := ConvertRules(f.SendRules)
	if err != nil {
		return nil, err
	}
	recv, err := ConvertRules(f.ReceiveRules)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Nodes:        f.Configuration,
		Groups:       f.Groups,
		SendRules:    send,
		ReceiveRules: recv,
	}
	if len(f.Logger) > 0 {
		l := f.Logger[0]
		cfg.Logger = &l
	}
	return cfg, nil
}

// normalize rewrites every name to NFC so that configuration names match
// names carried by messages.
func normalize(f *File) {
	for i := range f.Configuration {
		n := &f.Configuration[i]
		n.Name = message.NormalizeName(n.Name)
		n.MutexGroup = message.NormalizeName(n.MutexGroup)
		for j := range n.MemberOf {
			n.MemberOf[j] = message.NormalizeName(n.MemberOf[j])
		}
	}
	for i := range f.Groups {
		g := &f.Groups[i]
		g.Name = message.NormalizeName(g.Name)
		for j := range g.Members {
			g.Members[j] = message.NormalizeName(g.Members[j])
		}
	}
}

// ConvertRules turns file rules into matcher rules, normalizing names.
func ConvertRules(specs []RuleSpec) ([]fault.Rule, error) {
	rules := make([]fault.Rule, 0, len(specs))
	for i, s := range specs {
		action, err := fault.ParseAction(s.Action)
		if err != nil {
			return nil, ValidationErrors{{Field: fmt.Sprintf("rules[%d].action", i), Message: err.Error(), Code: ErrBadAction}}
		}
		r := fault.Rule{Action: action, Seq: s.SeqNum, Duplicate: s.Duplicate}
		if s.Src != nil {
			r.Src = fault.String(message.NormalizeName(*s.Src))
		}
		if s.Dest != nil {
			r.Dest = fault.String(message.NormalizeName(*s.Dest))
		}
		if s.Kind != nil {
			r.Kind = fault.String(message.NormalizeName(*s.Kind))
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Processes returns node names in process-index order.
func (c *Config) Processes() []string {
	names := make([]string, len(c.Nodes))
	for i, n := range c.Nodes {
		names[i] = n.Name
	}
	return names
}

// GroupMap returns group name to members.
func (c *Config) GroupMap() map[string][]string {
	m := make(map[string][]string, len(c.Groups))
	for _, g := range c.Groups {
		m[g.Name] = append([]string(nil), g.Members...)
	}
	return m
}

// Node looks up a node by name.
func (c *Config) Node(name string) (Node, bool) {
	for _, n := range c.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return Node{}, false
}

// Local is the view of the configuration from one node.
type Local struct {
	Node  Node
	Index int

	// MutexGroup is the mutual-exclusion group: the node's mutexGroup,
	// else its first memberOf entry, else empty.
	MutexGroup string

	// Addrs maps every node name, including the local one, to host:port.
	Addrs map[string]string
}

// Local resolves the node called name.
func (c *Config) Local(name string) (Local, error) {
	name = message.NormalizeName(name)
	for i, n := range c.Nodes {
		if n.Name != name {
			continue
		}
		l := Local{Node: n, Index: i, MutexGroup: mutexGroupOf(n), Addrs: make(map[string]string, len(c.Nodes))}
		for _, p := range c.Nodes {
			l.Addrs[p.Name] = p.Addr()
		}
		return l, nil
	}
	return Local{}, fmt.Errorf("node %q is not in the configuration", name)
}

func mutexGroupOf(n Node) string {
	if n.MutexGroup != "" {
		return n.MutexGroup
	}
	if len(n.MemberOf) > 0 {
		return n.MemberOf[0]
	}
	return ""
}
