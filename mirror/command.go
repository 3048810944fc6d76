package mirror

import (
	"fmt"
	"strings"

	"constellation-sync/config"
	"constellation-sync/models"
)

// Template describes the command run for every site. The site address is
// only ever placed in the remote target argument, never in a shell string.
type Template struct {
	Program     string
	Args        []string
	Source      string
	RemoteUser  string
	Destination string
}

// TemplateFromConfig builds the Template described by the sync settings.
func TemplateFromConfig(cfg config.Sync) Template {
	return Template{
		Program:     cfg.Program,
		Args:        append([]string(nil), cfg.Args...),
		Source:      cfg.Source,
		RemoteUser:  cfg.RemoteUser,
		Destination: cfg.Destination,
	}
}

// Target returns the remote argument, e.g. "root@10.0.0.1:/var".
func (t Template) Target(address string) string {
	if t.RemoteUser == "" {
		return fmt.Sprintf("%s:%s", address, t.Destination)
	}
	return fmt.Sprintf("%s@%s:%s", t.RemoteUser, address, t.Destination)
}

// Build returns the argv for syncing to site.
func (t Template) Build(site models.Site) []string {
	argv := make([]string, 0, len(t.Args)+3)
	argv = append(argv, t.Program)
	argv = append(argv, t.Args...)
	return append(argv, t.Source, t.Target(site.Address))
}

// String renders the command for site as it's printed before running.
func (t Template) String(site models.Site) string {
	return strings.Join(t.Build(site), " ")
}
