// Package pool loads and validates named host pools from the state directory.
package pool

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"prt/internal/console"
	"prt/internal/errors"
	"prt/internal/logging"
	"prt/internal/target"
)

// Required keys of every host definition, in reporting order.
const (
	FieldName    = "NAME"
	FieldUser    = "USER"
	FieldAddress = "IP"
	FieldPort    = "PORT"
)

// RequiredFields lists the keys every host definition must carry
var RequiredFields = []string{FieldName, FieldUser, FieldAddress, FieldPort}

// Pool names double as file names, so only a conservative alphabet is
// accepted: no separators, no leading dot, no shell metacharacters.
var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Pool is a validated, read-only set of hosts
type Pool struct {
	Name  string
	Path  string
	hosts map[string]target.Host
}

// New builds a pool from already validated hosts
func New(name string, hosts []target.Host) *Pool {
	p := &Pool{Name: name, hosts: make(map[string]target.Host, len(hosts))}
	for _, h := range hosts {
		p.hosts[h.ID] = h
	}
	return p
}

// Len returns the number of hosts
func (p *Pool) Len() int {
	return len(p.hosts)
}

// Hosts returns a copy of the hosts sorted by ID
func (p *Pool) Hosts() []target.Host {
	out := make([]target.Host, 0, len(p.hosts))
	for _, h := range p.hosts {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Loader resolves pool names inside a state directory
type Loader struct {
	Dir     string
	Console *console.Console
	Logger  *logging.Logger
}

// NewLoader creates a loader for dir
func NewLoader(dir string, c *console.Console, logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Loader{Dir: dir, Console: c, Logger: logger}
}

// ValidateName rejects names that are unsafe to turn into a path
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return &errors.InvalidPoolNameError{Pool: name}
	}
	return nil
}

// Resolve returns the existing file backing a pool name
func (l *Loader) Resolve(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(l.Dir, name+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", &errors.ConfigNotFoundError{Pool: name, Dir: l.Dir}
}

// Load reads, parses and validates a pool. Either every host is valid and
// the pool is returned, or every violation is reported and none is.
func (l *Loader) Load(name string) (*Pool, error) {
	path, err := l.Resolve(name)
	if err != nil {
		l.Logger.LogPoolError(name, err)
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		l.Logger.LogPoolError(name, err)
		return nil, &errors.SetupError{Message: fmt.Sprintf("failed to read pool file %s", path), Err: err}
	}

	pool, err := Parse(name, path, data)
	if err != nil {
		l.Logger.LogPoolError(name, err)
		l.printViolations(err)
		return nil, err
	}

	l.Logger.LogPoolLoad(name, path, pool.Len())
	if l.Console != nil {
		l.Console.Println(l.Console.Success("Successfully Loaded Pool of Hosts"))
	}
	return pool, nil
}

func (l *Loader) printViolations(err error) {
	validation, ok := err.(*errors.ValidationError)
	if !ok || l.Console == nil {
		return
	}
	for _, v := range validation.Errors {
		l.Console.Println(l.Console.Error(v.Error()))
	}
	l.Console.Println("")
}

// Parse decodes pool YAML and validates every host definition
func Parse(name, path string, data []byte) (*Pool, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &errors.PoolParseError{Path: path, Err: err}
	}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	collector := errors.NewErrorCollector()
	if len(ids) == 0 {
		collector.Add(&errors.EmptyPoolError{})
	}

	hosts := make([]target.Host, 0, len(ids))
	for _, id := range ids {
		fields, _ := raw[id].(map[string]any)
		if host, ok := validateHost(id, fields, collector); ok {
			hosts = append(hosts, host)
		}
	}

	if collector.HasErrors() {
		return nil, &errors.ValidationError{Path: path, Errors: collector.Errors()}
	}

	p := New(name, hosts)
	p.Path = path
	return p, nil
}

// validateHost records one violation per missing key. A definition that is
// not a mapping is missing all of them.
func validateHost(id string, fields map[string]any, collector *errors.ErrorCollector) (target.Host, bool) {
	ok := true
	for _, field := range RequiredFields {
		if _, present := fields[field]; !present {
			collector.Add(&errors.MissingFieldError{Host: id, Field: field})
			ok = false
		}
	}
	if !ok {
		return target.Host{}, false
	}

	port, err := target.ParsePort(fields[FieldPort])
	if err != nil {
		collector.Add(&errors.InvalidFieldError{Host: id, Field: FieldPort, Reason: err.Error()})
		return target.Host{}, false
	}

	return target.Host{
		ID:      id,
		Name:    scalar(fields[FieldName]),
		User:    scalar(fields[FieldUser]),
		Address: scalar(fields[FieldAddress]),
		Port:    port,
	}, true
}

func scalar(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
