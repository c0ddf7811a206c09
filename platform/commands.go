// Package platform builds the Odoo and psql command lines run inside tenant
// containers.
package platform

import (
	"github.com/arcweb/provisioner/config"
	"github.com/arcweb/provisioner/tenant"
)

const (
	// BaseURLKey is the ir.config_parameter key holding the public URL.
	BaseURLKey = "web.base.url"

	passwordFlag = "--db_password"
	redacted     = "********"
)

// StampScript updates the base URL using psql variables, so neither value is
// spliced into the SQL text.
const StampScript = "UPDATE ir_config_parameter SET value = :'domain' WHERE key = :'param_key';\n"

// Command is one invocation inside a container.
type Command struct {
	Args  []string
	Env   []string
	Stdin string
}

// Commands renders platform invocations for one set of connection settings.
type Commands struct {
	DB       config.Database
	Binary   string
	Psql     string
	Language string
}

// NewCommands returns Commands from the run configuration.
func NewCommands(cfg config.Config) Commands {
	return Commands{
		DB:       cfg.Database,
		Binary:   cfg.Platform.Binary,
		Psql:     cfg.Platform.PsqlBinary,
		Language: cfg.Platform.Language,
	}
}

func (c Commands) odoo(database string) []string {
	return []string{
		c.Binary, "--stop-after-init",
		"--db_host", c.DB.Host,
		"--db_port", c.DB.Port,
		"--db_user", c.DB.User,
		passwordFlag, c.DB.Password,
		"-d", database,
	}
}

// Initialize bootstraps database with the base module only, without demo data.
func (c Commands) Initialize(database string) Command {
	args := append(c.odoo(database),
		"-i", "base",
		"--without-demo=all",
		"--load-language", c.Language,
	)
	return Command{Args: args}
}

// Install installs mods, in order, into an already initialized database.
func (c Commands) Install(database string, mods []string) Command {
	return Command{Args: append(c.odoo(database), "-i", tenant.JoinModules(mods))}
}

// StampDomain sets the public base URL of database to domain.
func (c Commands) StampDomain(database, domain string) Command {
	return Command{
		Args: []string{
			c.Psql,
			"-h", c.DB.Host,
			"-p", c.DB.Port,
			"-U", c.DB.User,
			"-d", database,
			"-v", "ON_ERROR_STOP=1",
			"-v", "domain=" + domain,
			"-v", "param_key=" + BaseURLKey,
			"-f", "-",
		},
		Env:   []string{"PGPASSWORD=" + c.DB.Password},
		Stdin: StampScript,
	}
}

// Redact returns a copy of args with the database password masked.
func Redact(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == passwordFlag {
			out[i+1] = redacted
		}
	}
	return out
}
