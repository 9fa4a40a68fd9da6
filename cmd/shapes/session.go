package main

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/objectmodel/access"
	"github.com/wippyai/objectmodel/object"
	"github.com/wippyai/objectmodel/shape"
)

const defaultLayout = "object"

// command is one parsed script line.
type command struct {
	name string
	args []string
	line int
}

// parseLine splits a script line into a command. Blank lines and lines
// starting with # yield ok == false.
func parseLine(line string, n int) (command, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return command{}, false, nil
	}
	fields, err := splitFields(line)
	if err != nil {
		return command{}, false, fmt.Errorf("line %d: %w", n, err)
	}
	cmd := command{name: strings.ToLower(fields[0]), args: fields[1:], line: n}
	want, known := arity[cmd.name]
	if !known {
		return command{}, false, fmt.Errorf("line %d: unknown command %q", n, fields[0])
	}
	if len(cmd.args) < want[0] || len(cmd.args) > want[1] {
		return command{}, false, fmt.Errorf("line %d: %s takes %s", n, cmd.name, usage[cmd.name])
	}
	return cmd, true, nil
}

var arity = map[string][2]int{
	"new":   {0, 2},
	"add":   {2, 2},
	"set":   {2, 2},
	"const": {2, 2},
	"del":   {1, 1},
	"flags": {1, 1},
	"get":   {1, 1},
	"show":  {0, 0},
	"tree":  {0, 0},
	"stats": {0, 0},
}

var usage = map[string]string{
	"new":   "[NAME] [reuse|tombstone]",
	"add":   "KEY TYPE",
	"set":   "KEY VALUE",
	"const": "KEY VALUE",
	"del":   "KEY",
	"flags": "N",
	"get":   "KEY",
	"show":  "no arguments",
	"tree":  "no arguments",
	"stats": "no arguments",
}

// splitFields splits on whitespace, keeping double-quoted strings whole.
func splitFields(line string) ([]string, error) {
	var fields []string
	for line = strings.TrimLeft(line, " \t"); line != ""; line = strings.TrimLeft(line, " \t") {
		if line[0] == '"' {
			q, err := strconv.QuotedPrefix(line)
			if err != nil {
				return nil, fmt.Errorf("unterminated string")
			}
			fields = append(fields, q)
			line = line[len(q):]
			continue
		}
		end := strings.IndexAny(line, " \t")
		if end < 0 {
			end = len(line)
		}
		fields = append(fields, line[:end])
		line = line[end:]
	}
	return fields, nil
}

// parseValue reads a script literal. Integers that fit in 32 bits become
// int32, larger ones int64.
func parseValue(s string) (any, error) {
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}
	if strings.HasPrefix(s, `"`) {
		return strconv.Unquote(s)
	}
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		if i >= math.MinInt32 && i <= math.MaxInt32 {
			return int32(i), nil
		}
		return i, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	return s, nil
}

func parseType(s string) (shape.Type, error) {
	for _, t := range []shape.Type{shape.TypeObject, shape.TypeBool, shape.TypeInt32, shape.TypeInt64, shape.TypeFloat64} {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown type %q", s)
}

func parseCompaction(s string) (shape.Compaction, error) {
	switch strings.ToLower(s) {
	case "reuse":
		return shape.CompactionReuse, nil
	case "tombstone":
		return shape.CompactionTombstone, nil
	}
	return 0, fmt.Errorf("unknown compaction %q", s)
}

// session holds the object a script manipulates.
type session struct {
	factory *shape.Factory
	root    *shape.Shape
	obj     *object.DynamicObject
	sites   map[string]*access.GetSite
	order   []string
	st      styles
}

func newSession(st styles) *session {
	return &session{
		factory: shape.NewFactory(),
		sites:   make(map[string]*access.GetSite),
		st:      st,
	}
}

// run executes every line of r, writing results to w. It stops at the
// first failing line.
func (s *session) run(r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		cmd, ok, err := parseLine(sc.Text(), n)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		out, err := s.exec(cmd)
		if err != nil {
			return fmt.Errorf("line %d: %s: %w", cmd.line, cmd.name, err)
		}
		if out != "" {
			fmt.Fprintln(w, out)
		}
	}
	return sc.Err()
}

// execLine runs a single line, as typed in the explorer.
func (s *session) execLine(line string) (string, error) {
	cmd, ok, err := parseLine(line, 1)
	if err != nil || !ok {
		return "", err
	}
	return s.exec(cmd)
}

func (s *session) exec(cmd command) (string, error) {
	if cmd.name == "new" {
		return s.newObject(cmd.args)
	}
	if s.obj == nil {
		if _, err := s.newObject(nil); err != nil {
			return "", err
		}
	}
	switch cmd.name {
	case "add":
		typ, err := parseType(cmd.args[1])
		if err != nil {
			return "", err
		}
		next, err := s.obj.Shape().AddProperty(cmd.args[0], typ, 0)
		if err != nil {
			return "", err
		}
		if err := s.obj.Migrate(next); err != nil {
			return "", err
		}
	case "set":
		v, err := parseValue(cmd.args[1])
		if err != nil {
			return "", err
		}
		if err := s.obj.Set(cmd.args[0], v); err != nil {
			return "", err
		}
	case "const":
		v, err := parseValue(cmd.args[1])
		if err != nil {
			return "", err
		}
		if err := s.obj.Define(cmd.args[0], v, shape.FlagConstant); err != nil {
			return "", err
		}
	case "del":
		if err := s.obj.Delete(cmd.args[0]); err != nil {
			return "", err
		}
	case "flags":
		n, err := strconv.ParseUint(cmd.args[0], 0, 32)
		if err != nil {
			return "", err
		}
		if err := s.obj.SetShapeFlags(uint32(n)); err != nil {
			return "", err
		}
	case "get":
		return s.get(cmd.args[0])
	case "tree":
		return s.tree(), nil
	case "stats":
		return s.stats(), nil
	}
	return s.show(), nil
}

func (s *session) newObject(args []string) (string, error) {
	name := defaultLayout
	var cfg shape.Config
	if len(args) > 0 {
		name = args[0]
	}
	if len(args) > 1 {
		c, err := parseCompaction(args[1])
		if err != nil {
			return "", err
		}
		cfg.Compaction = c
	}
	l, err := s.factory.CreateLayout(name, &cfg)
	if err != nil {
		return "", err
	}
	root, err := l.CreateShape(shape.ShapeOptions{DynamicType: name})
	if err != nil {
		return "", err
	}
	obj, err := object.New(root)
	if err != nil {
		return "", err
	}
	s.root, s.obj = root, obj
	return s.show(), nil
}

// get reads key through a per-key inline cache.
func (s *session) get(key string) (string, error) {
	site, ok := s.sites[key]
	if !ok {
		site = access.NewGetSite(key)
		s.sites[key] = site
		s.order = append(s.order, key)
	}
	v, err := site.Get(s.obj)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s = %s", s.st.key.Render(key), s.st.value.Render(fmt.Sprintf("%v (%T)", v, v))), nil
}

func (s *session) show() string {
	sh := s.obj.Shape()
	return s.st.shape.Render(sh.String()) + " " + s.st.dim.Render(s.obj.String())
}

// tree renders the transition graph of the current root, marking the
// object's shape.
func (s *session) tree() string {
	if s.root == nil {
		return ""
	}
	var b strings.Builder
	current := s.obj.Shape()
	s.root.Walk(func(depth int, via *shape.Edge, sh *shape.Shape) bool {
		b.WriteString(strings.Repeat("  ", depth))
		if via != nil {
			b.WriteString(s.st.op.Render(via.Op.String()))
			b.WriteString(" -> ")
		}
		b.WriteString(s.st.shape.Render(sh.String()))
		if sh == current {
			b.WriteString(s.st.current.Render(" *"))
		}
		b.WriteString("\n")
		return true
	})
	return strings.TrimSuffix(b.String(), "\n")
}

func (s *session) stats() string {
	if len(s.order) == 0 {
		return s.st.dim.Render("no access sites")
	}
	lines := make([]string, 0, len(s.order))
	for _, key := range s.order {
		site := s.sites[key]
		lines = append(lines, fmt.Sprintf("%s %s %s", s.st.key.Render(key), site.State(), s.st.dim.Render(site.Stats().String())))
	}
	return strings.Join(lines, "\n")
}
