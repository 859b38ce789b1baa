package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/dispatchd/internal/actions"
	"github.com/starford/dispatchd/internal/fields"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	Poll      PollConfig        `yaml:"poll"`
	Messaging MessagingConfig   `yaml:"messaging"`
	Tables    TablesConfig      `yaml:"tables"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Poll.Validate(); err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	if err := c.Messaging.Validate(); err != nil {
		return fmt.Errorf("messaging: %w", err)
	}
	return c.Tables.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds the path of the SQLite record store.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// PollConfig controls the reconciliation cadence.
type PollConfig struct {
	Interval          time.Duration `yaml:"interval"`
	RecordTimeout     time.Duration `yaml:"record_timeout"`
	MaxConcurrency    int           `yaml:"max_concurrency"`
	IncludeNullStatus bool          `yaml:"include_null_status"`
	WatchStore        bool          `yaml:"watch_store"`
}

// Validate validates the poll configuration.
func (c *PollConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.RecordTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxConcurrency, validation.Min(0)),
	)
}

// MessagingConfig holds the Slack credentials and the neighborhood routing table.
type MessagingConfig struct {
	Token          string            `yaml:"token"`
	APIURL         string            `yaml:"api_url"`
	Neighborhoods  map[string]string `yaml:"neighborhoods"`
	DefaultChannel string            `yaml:"default_channel"`
}

// Validate validates the messaging configuration.
func (c *MessagingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Token, validation.Required),
		validation.Field(&c.Neighborhoods, validation.Each(validation.Required)),
	)
}

// Channels returns the immutable routing table handed to the actions.
func (c *MessagingConfig) Channels() actions.Channels {
	return actions.NewChannels(c.Neighborhoods, c.DefaultChannel)
}

// TableConfig maps one record type to its table and columns in the store.
type TableConfig struct {
	Name    string            `yaml:"name"`
	Columns map[string]string `yaml:"columns"`
}

// Validate validates the table configuration.
func (c *TableConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required),
	)
}

// TablesConfig holds the store layout of every record type.
type TablesConfig struct {
	Intake         TableConfig `yaml:"intake"`
	Reimbursements TableConfig `yaml:"reimbursements"`
	Volunteers     TableConfig `yaml:"volunteers"`
}

// Validate validates every table.
func (c *TablesConfig) Validate() error {
	for key, t := range c.byKey() {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tables.%s: %w", key, err)
		}
	}
	return nil
}

// Schemas returns the field translator schemas keyed by logical table.
func (c *TablesConfig) Schemas() map[string]fields.Schema {
	out := make(map[string]fields.Schema, 3)
	for key, t := range c.byKey() {
		out[key] = fields.Schema{Table: t.Name, Columns: t.Columns}
	}
	return out
}

func (c *TablesConfig) byKey() map[string]*TableConfig {
	return map[string]*TableConfig{
		actions.TableIntake:         &c.Intake,
		actions.TableReimbursements: &c.Reimbursements,
		actions.TableVolunteers:     &c.Volunteers,
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./dispatchd.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Poll: PollConfig{
			Interval:       time.Minute,
			RecordTimeout:  30 * time.Second,
			MaxConcurrency: 8,
		},
		Tables: TablesConfig{
			Intake: TableConfig{
				Name: "Intake",
				Columns: map[string]string{
					"status":                  "Status",
					"ticketID":                "Ticket ID",
					actions.FieldNeighborhood: "Neighborhood",
					actions.FieldRequest:      "Request",
					actions.FieldCrossStreets: "Cross Streets",
					actions.FieldAssignee:     "Delivery Volunteer",
					actions.FieldDeliveryDate: "Delivery Date",
				},
			},
			Reimbursements: TableConfig{
				Name: "Reimbursements",
				Columns: map[string]string{
					"status":   "Status",
					"ticketID": "Ticket ID",
				},
			},
			Volunteers: TableConfig{
				Name: "Volunteers",
				Columns: map[string]string{
					"status":                 "Status",
					actions.FieldName:        "Full Name",
					actions.FieldSlackUserID: "Slack User ID",
				},
			},
		},
	}
}
