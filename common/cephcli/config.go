package cephcli

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Section is the scope of a monitor config store entry. The most specific
// section wins: daemon over host over type over global.
type Section struct {
	who string
}

func Global() Section { return Section{who: "global"} }

// Type scopes to every daemon of a type, e.g. osd.
func Type(daemonType string) Section { return Section{who: daemonType} }

// Host scopes to the daemons of a type running on host.
func Host(daemonType, host string) Section {
	return Section{who: daemonType + "/host:" + host}
}

// DaemonSection scopes to a single daemon, e.g. osd.3.
func DaemonSection(daemonType, id string) Section {
	return Section{who: daemonType + "." + id}
}

// OSD scopes to a single OSD.
func OSD(id int) Section {
	return DaemonSection("osd", strconv.Itoa(id))
}

func (s Section) String() string { return s.who }

// holds reports whether the dump entry is stored under exactly s. Host
// scopes are dumped as the type section with a host mask.
func (s Section) holds(e ConfigEntry) bool {
	if e.Mask == "" {
		return e.Section == s.who
	}
	return e.Section+"/"+e.Mask == s.who
}

// SetConfig sets name in the monitor config store.
func (c *Ceph) SetConfig(ctx context.Context, s Section, name, value string) error {
	_, err := c.Run(ctx, "config", "set", s.who, name, value)
	return err
}

// GetConfig returns the value of name the monitors resolve for s.
func (c *Ceph) GetConfig(ctx context.Context, s Section, name string) (string, error) {
	out, err := c.Run(ctx, "config", "get", s.who, name)
	if err != nil {
		return "", err
	}
	return trimNotices(out), nil
}

// RemoveConfig removes name from the section.
func (c *Ceph) RemoveConfig(ctx context.Context, s Section, name string) error {
	_, err := c.Run(ctx, "config", "rm", s.who, name)
	return err
}

// ShowConfig returns the value of name the running daemon reports.
func (c *Ceph) ShowConfig(ctx context.Context, daemon, name string) (string, error) {
	out, err := c.Run(ctx, "config", "show", daemon, name)
	if err != nil {
		return "", err
	}
	return trimNotices(out), nil
}

// ConfigEntry is one entry of `config dump`.
type ConfigEntry struct {
	Section string `json:"section"`
	Name    string `json:"name"`
	Value   string `json:"value"`
	Level   string `json:"level"`
	Mask    string `json:"mask"`
}

// DumpConfig returns the config store entries for name, all entries when
// name is empty.
func (c *Ceph) DumpConfig(ctx context.Context, name string) ([]ConfigEntry, error) {
	var all []ConfigEntry
	if err := c.RunJSON(ctx, &all, "config", "dump"); err != nil {
		return nil, err
	}
	if name == "" {
		return all, nil
	}
	var out []ConfigEntry
	for _, e := range all {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out, nil
}

// Stored returns the value kept for name under exactly s, ok is false
// when the section holds none.
func (c *Ceph) Stored(ctx context.Context, s Section, name string) (value string, ok bool, err error) {
	entries, err := c.DumpConfig(ctx, name)
	if err != nil {
		return "", false, err
	}
	for _, e := range entries {
		if s.holds(e) {
			return e.Value, true, nil
		}
	}
	return "", false, nil
}

// Override sets name under s and returns the action putting back what s
// held before, the prior value or no entry at all.
func (c *Ceph) Override(ctx context.Context, s Section, name, value string) (restore func(ctx context.Context) error, err error) {
	prior, had, err := c.Stored(ctx, s, name)
	if err != nil {
		return nil, err
	}
	if err := c.SetConfig(ctx, s, name, value); err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		if had {
			c.log.Info("Restoring config", "section", s, "name", name, "value", prior)
			return c.SetConfig(ctx, s, name, prior)
		}
		return c.RemoveConfig(ctx, s, name)
	}, nil
}

// OptionDefault returns the built in default of name.
func (c *Ceph) OptionDefault(ctx context.Context, name string) (string, error) {
	var help struct {
		Default json.RawMessage `json:"default"`
	}
	if err := c.RunJSON(ctx, &help, "config", "help", name); err != nil {
		return "", err
	}
	var str string
	if err := json.Unmarshal(help.Default, &str); err == nil {
		return str, nil
	}
	return strings.TrimSpace(string(help.Default)), nil
}

// IntValue reads an integer option for an OSD through both `config get`
// and `config show`.
func (c *Ceph) IntValue(ctx context.Context, id int, name string) (get int64, show int64, err error) {
	g, err := c.GetConfig(ctx, OSD(id), name)
	if err != nil {
		return 0, 0, err
	}
	s, err := c.ShowConfig(ctx, OSD(id).String(), name)
	if err != nil {
		return 0, 0, err
	}
	if get, err = parseInt(g); err != nil {
		return 0, 0, errors.Wrapf(err, "config get %s %s", OSD(id), name)
	}
	if show, err = parseInt(s); err != nil {
		return 0, 0, errors.Wrapf(err, "config show %s %s", OSD(id), name)
	}
	return get, show, nil
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}
