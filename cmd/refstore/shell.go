package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/eigerco/refstore/pkg/log"
	"github.com/eigerco/refstore/pkg/refstore"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".stats"),
	readline.PcItem(".exit"),
	readline.PcItem("OPEN"),
	readline.PcItem("USE"),
	readline.PcItem("PUT"),
	readline.PcItem("GET"),
	readline.PcItem("DELETE"),
	readline.PcItem("ITER",
		readline.PcItem("KEYSONLY"),
	),
	readline.PcItem("MOVE"),
	readline.PcItem("PREFETCH"),
	readline.PcItem("CLOSE"),
)

const helpText = `
Commands:
  OPEN [path]             - Open a database (in memory without a path) and use it
  USE <id>                - Use an already open database
  PUT <key> <value>       - Store a key-value pair
  GET <key>               - Read a value
  DELETE <key>            - Remove a key
  ITER [KEYSONLY]         - Open an iterator over the database in use
  MOVE <id> <action> [key]- Move an iterator: first, last, next, prev, seek <key>
  PREFETCH <id>           - Read an iterator's next entry in the background
  CLOSE <id>              - Close a database or iterator
  .help                   - Show this help
  .stats                  - Show handle and iterator metrics
  .exit                   - Close everything and exit
`

var errUsage = errors.New("usage")

var actions = map[string]refstore.Action{
	"first": refstore.First,
	"last":  refstore.Last,
	"next":  refstore.Next,
	"prev":  refstore.Prev,
	"seek":  refstore.Seek,
}

// shell executes one command line at a time against a host.
type shell struct {
	host *refstore.Host
	out  io.Writer

	dbOpts   refstore.Options
	readOpts refstore.ReadOptions

	db    refstore.ID
	hasDB bool
}

func newShell(host *refstore.Host, out io.Writer, cfg refstore.Config) *shell {
	return &shell{
		host:     host,
		out:      out,
		dbOpts:   cfg.Database,
		readOpts: cfg.Read,
	}
}

// exec runs one line and reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}

	cmd := strings.ToUpper(parts[0])
	if strings.HasPrefix(cmd, ".") {
		switch strings.ToLower(cmd) {
		case ".help":
			fmt.Fprint(s.out, helpText)
		case ".stats":
			if err := s.stats(); err != nil {
				fmt.Fprintf(s.out, "Error: %s\n", err)
			}
		case ".exit":
			return true
		default:
			fmt.Fprintf(s.out, "Unknown command: %s\n", parts[0])
		}
		return false
	}

	var err error
	switch cmd {
	case "OPEN":
		err = s.open(parts[1:])
	case "USE":
		err = s.use(parts[1:])
	case "PUT":
		err = s.put(parts[1:])
	case "GET":
		err = s.get(parts[1:])
	case "DELETE":
		err = s.delete(parts[1:])
	case "ITER":
		err = s.iter(parts[1:])
	case "MOVE":
		err = s.move(ctx, parts[1:])
	case "PREFETCH":
		err = s.prefetch(parts[1:])
	case "CLOSE":
		err = s.close(parts[1:])
	default:
		fmt.Fprintf(s.out, "Unknown command: %s\n", parts[0])
		return false
	}

	if err != nil {
		log.Shell.Debug().Err(err).Str("cmd", cmd).Msg("command failed")
		fmt.Fprintf(s.out, "Error: %s\n", err)
	}
	return false
}

func (s *shell) open(args []string) error {
	opts := s.dbOpts
	path := ""
	switch len(args) {
	case 0:
		opts.InMemory = true
	case 1:
		path = args[0]
	default:
		return fmt.Errorf("%w: OPEN [path]", errUsage)
	}

	id, err := s.host.CreateDatabaseHandle(path, opts)
	if err != nil {
		return err
	}
	s.db, s.hasDB = id, true
	fmt.Fprintf(s.out, "database %d\n", id)
	return nil
}

func (s *shell) use(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: USE <id>", errUsage)
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	s.db, s.hasDB = id, true
	return nil
}

func (s *shell) current() (refstore.ID, error) {
	if !s.hasDB {
		return 0, errors.New("no database in use, run OPEN first")
	}
	return s.db, nil
}

func (s *shell) put(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: PUT <key> <value>", errUsage)
	}
	id, err := s.current()
	if err != nil {
		return err
	}
	if err := s.host.Put(id, []byte(args[0]), []byte(args[1])); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "ok")
	return nil
}

func (s *shell) get(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: GET <key>", errUsage)
	}
	id, err := s.current()
	if err != nil {
		return err
	}

	value, err := s.host.Get(id, []byte(args[0]))
	if errors.Is(err, refstore.ErrKeyNotFound) {
		fmt.Fprintln(s.out, "(not found)")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s\n", value)
	return nil
}

func (s *shell) delete(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: DELETE <key>", errUsage)
	}
	id, err := s.current()
	if err != nil {
		return err
	}
	if err := s.host.Delete(id, []byte(args[0])); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "ok")
	return nil
}

func (s *shell) iter(args []string) error {
	keysOnly := false
	switch {
	case len(args) == 1 && strings.EqualFold(args[0], "KEYSONLY"):
		keysOnly = true
	case len(args) != 0:
		return fmt.Errorf("%w: ITER [KEYSONLY]", errUsage)
	}
	id, err := s.current()
	if err != nil {
		return err
	}

	itrID, err := s.host.CreateIteratorHandle(id, keysOnly, s.readOpts)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "iterator %d\n", itrID)
	return nil
}

func (s *shell) move(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: MOVE <id> first|last|next|prev|seek [key]", errUsage)
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	action, ok := actions[strings.ToLower(args[1])]
	if !ok {
		return fmt.Errorf("unknown action %q", args[1])
	}

	var target []byte
	if action == refstore.Seek {
		if len(args) != 3 {
			return fmt.Errorf("%w: MOVE <id> seek <key>", errUsage)
		}
		target = []byte(args[2])
	}

	entry, err := s.host.Move(ctx, id, action, target)
	if err != nil {
		return err
	}
	if !entry.Valid {
		if err := s.host.Err(id); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "(end)")
		return nil
	}
	if entry.Value == nil {
		fmt.Fprintf(s.out, "%s\n", entry.Key)
	} else {
		fmt.Fprintf(s.out, "%s: %s\n", entry.Key, entry.Value)
	}
	return nil
}

func (s *shell) prefetch(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: PREFETCH <id>", errUsage)
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return s.host.Prefetch(id)
}

func (s *shell) close(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: CLOSE <id>", errUsage)
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := s.host.Close(id); err != nil {
		return err
	}
	if s.hasDB && s.db == id {
		s.hasDB = false
	}
	fmt.Fprintln(s.out, "ok")
	return nil
}

func (s *shell) stats() error {
	families, err := s.host.Metrics().Gather()
	if err != nil {
		return err
	}

	for _, f := range families {
		for _, m := range f.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			name := f.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}

			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(s.out, "%s %g\n", name, m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				fmt.Fprintf(s.out, "%s %g\n", name, m.GetGauge().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Fprintf(s.out, "%s count=%d sum=%g\n", name, h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
	return nil
}

func parseID(arg string) (refstore.ID, error) {
	n, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return refstore.ID(n), nil
}
