// Package config loads and validates the TOML configuration file described
// in spec.md §6: service descriptors, connector specs, and the
// [system.*] infrastructure bindings.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mstreamhq/mstream/internal/model"
)

// Config is the fully parsed and validated top-level document.
type Config struct {
	Services   map[string]model.ServiceDescriptor
	Connectors []model.ConnectorSpec
	System     System
}

// System holds the [system.*] infrastructure bindings.
type System struct {
	Checkpoints   CheckpointsConfig
	JobLifecycle  JobLifecycleConfig
	ServiceLC     ServiceLifecycleConfig
	Logs          LogsConfig
}

type CheckpointsConfig struct {
	ServiceName string `toml:"service_name"`
	Collection  string `toml:"collection"`
}

// ReconcilePolicy controls how the lifecycle store is reconciled against
// the config file at startup.
type ReconcilePolicy string

const (
	ReconcileForceFromFile ReconcilePolicy = "force_from_file"
	ReconcileSeedFromFile  ReconcilePolicy = "seed_from_file"
	ReconcileKeep          ReconcilePolicy = "keep"
)

type JobLifecycleConfig struct {
	ServiceName     string          `toml:"service_name"`
	Collection      string          `toml:"collection"`
	StartupPolicy   ReconcilePolicy `toml:"startup_policy"`
	DrainTimeoutSec int             `toml:"drain_timeout_sec"`
}

func (j JobLifecycleConfig) DrainTimeout() time.Duration {
	if j.DrainTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(j.DrainTimeoutSec) * time.Second
}

type ServiceLifecycleConfig struct {
	ServiceName string `toml:"service_name"`
	Collection  string `toml:"collection"`
}

type LogsConfig struct {
	BufferSize int `toml:"buffer_size"`
}

// rawDoc mirrors the TOML shape exactly before env substitution and
// conversion into the model types.
type rawDoc struct {
	Services   []rawService   `toml:"services"`
	Connectors []rawConnector `toml:"connectors"`
	System     rawSystem      `toml:"system"`
}

type rawSystem struct {
	Checkpoints  CheckpointsConfig      `toml:"checkpoints"`
	JobLifecycle JobLifecycleConfig     `toml:"job_lifecycle"`
	ServiceLC    ServiceLifecycleConfig `toml:"service_lifecycle"`
	Logs         LogsConfig             `toml:"logs"`
}

type rawService struct {
	Provider string `toml:"provider"`
	Name     string `toml:"name"`

	ConnectionString string            `toml:"connection_string"`
	DBName           string            `toml:"db_name"`
	SchemaCollection string            `toml:"schema_collection"`
	WriteMode        string            `toml:"write_mode"`

	ClientConfig          map[string]string `toml:"client_config"`
	OffsetSeekBackSeconds int               `toml:"offset_seek_back_seconds"`

	Auth rawPubSubAuth `toml:"auth"`

	Host                 string `toml:"host"`
	MaxRetries           int    `toml:"max_retries"`
	BaseBackoffMillis    int    `toml:"base_backoff_ms"`
	ConnectionTimeoutSec int    `toml:"connection_timeout_sec"`
	TimeoutSec           int    `toml:"timeout_sec"`
	TCPKeepAliveSec      int    `toml:"tcp_keepalive_sec"`

	Engine     rawEngine `toml:"engine"`
	ScriptPath string    `toml:"script_path"`
}

type rawPubSubAuth struct {
	Kind            string `toml:"kind"`
	Credentials     string `toml:"credentials"`
	CredentialsFile string `toml:"credentials_file"`
	Token           string `toml:"token"`
}

type rawEngine struct {
	Kind string `toml:"kind"`
}

type rawConnector struct {
	Name              string             `toml:"name"`
	Enabled           *bool              `toml:"enabled"`
	Batch             *rawBatch          `toml:"batch"`
	CheckpointEnabled *bool              `toml:"checkpoint_enabled"`
	Source            rawStep            `toml:"source"`
	Schemas           []rawSchemaBinding `toml:"schemas"`
	Middlewares       []rawStep          `toml:"middlewares"`
	Sinks             []rawStep          `toml:"sinks"`
}

type rawBatch struct {
	Kind string `toml:"kind"`
	Size int    `toml:"size"`
}

type rawSchemaBinding struct {
	ID          string `toml:"id"`
	ServiceName string `toml:"service_name"`
	Resource    string `toml:"resource"`
}

type rawStep struct {
	ServiceName    string `toml:"service_name"`
	Resource       string `toml:"resource"`
	InputEncoding  string `toml:"input_encoding"`
	OutputEncoding string `toml:"output_encoding"`
	SchemaID       string `toml:"schema_id"`
}

// Load reads, parses, and validates the connector config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw TOML bytes into a validated Config. Split out from
// Load so tests can exercise it without a filesystem.
func Parse(data []byte) (*Config, error) {
	var doc rawDoc
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	services := make(map[string]model.ServiceDescriptor, len(doc.Services))
	for _, rs := range doc.Services {
		desc, err := convertService(rs)
		if err != nil {
			return nil, err
		}
		if _, exists := services[desc.Name]; exists {
			return nil, fmt.Errorf("duplicate service name %q", desc.Name)
		}
		services[desc.Name] = desc
	}

	connectors := make([]model.ConnectorSpec, 0, len(doc.Connectors))
	for _, rc := range doc.Connectors {
		spec, err := convertConnector(rc)
		if err != nil {
			return nil, err
		}
		if err := spec.Validate(services); err != nil {
			return nil, err
		}
		connectors = append(connectors, spec)
	}

	cfg := &Config{
		Services:   services,
		Connectors: connectors,
		System: System{
			Checkpoints:  doc.System.Checkpoints,
			JobLifecycle: doc.System.JobLifecycle,
			ServiceLC:    doc.System.ServiceLC,
			Logs:         doc.System.Logs,
		},
	}
	return cfg, nil
}

func convertService(rs rawService) (model.ServiceDescriptor, error) {
	if rs.Name == "" {
		return model.ServiceDescriptor{}, fmt.Errorf("service entry missing name")
	}
	desc := model.ServiceDescriptor{
		Name:                  rs.Name,
		Provider:              model.Provider(rs.Provider),
		ConnectionString:      resolveEnv(rs.ConnectionString),
		DBName:                rs.DBName,
		SchemaCollection:      rs.SchemaCollection,
		WriteMode:             model.WriteMode(defaultString(rs.WriteMode, string(model.WriteModeInsert))),
		ClientConfig:          resolveEnvMap(rs.ClientConfig),
		OffsetSeekBackSeconds: rs.OffsetSeekBackSeconds,
		PubSubAuth: model.PubSubAuth{
			Kind:            rs.Auth.Kind,
			Credentials:     resolveEnv(rs.Auth.Credentials),
			CredentialsFile: resolveEnv(rs.Auth.CredentialsFile),
			Token:           resolveEnv(rs.Auth.Token),
		},
		Host:                  resolveEnv(rs.Host),
		MaxRetries:            defaultInt(rs.MaxRetries, 5),
		BaseBackoffMillis:     defaultInt(rs.BaseBackoffMillis, 1000),
		ConnectionTimeoutSec:  defaultInt(rs.ConnectionTimeoutSec, 30),
		TimeoutSec:            defaultInt(rs.TimeoutSec, 30),
		TCPKeepAliveSec:       defaultInt(rs.TCPKeepAliveSec, 300),
		EngineKind:            rs.Engine.Kind,
		ScriptPath:            rs.ScriptPath,
	}
	switch desc.Provider {
	case model.ProviderMongo, model.ProviderKafka, model.ProviderPubSub, model.ProviderHTTP, model.ProviderUDF:
	default:
		return model.ServiceDescriptor{}, fmt.Errorf("service %q: unknown provider %q", rs.Name, rs.Provider)
	}
	return desc, nil
}

func convertConnector(rc rawConnector) (model.ConnectorSpec, error) {
	spec := model.ConnectorSpec{
		Name:              rc.Name,
		Enabled:           rc.Enabled == nil || *rc.Enabled,
		CheckpointEnabled: rc.CheckpointEnabled != nil && *rc.CheckpointEnabled,
		Source:            convertStep(rc.Source),
		Middlewares:       make([]model.StepSpec, 0, len(rc.Middlewares)),
		Sinks:             make([]model.StepSpec, 0, len(rc.Sinks)),
		Schemas:           make(map[model.SchemaID]model.ResourceReference, len(rc.Schemas)),
	}
	if rc.Batch != nil {
		spec.Batch = &model.BatchPolicy{Kind: model.BatchPolicyKind(rc.Batch.Kind), Size: rc.Batch.Size}
	}
	for _, sb := range rc.Schemas {
		spec.Schemas[model.SchemaID(sb.ID)] = model.ResourceReference{ServiceName: sb.ServiceName, Resource: sb.Resource}
	}
	for _, mw := range rc.Middlewares {
		spec.Middlewares = append(spec.Middlewares, convertStep(mw))
	}
	for _, sink := range rc.Sinks {
		spec.Sinks = append(spec.Sinks, convertStep(sink))
	}
	return spec, nil
}

func convertStep(rs rawStep) model.StepSpec {
	return model.StepSpec{
		Ref:            model.ResourceReference{ServiceName: rs.ServiceName, Resource: rs.Resource},
		InputEncoding:  model.Encoding(rs.InputEncoding),
		OutputEncoding: model.Encoding(rs.OutputEncoding),
		SchemaID:       model.SchemaID(rs.SchemaID),
	}
}

// resolveEnv resolves a string of the form "env:VAR_NAME" against the
// process environment, per spec.md §6's secret substitution rule.
func resolveEnv(v string) string {
	const prefix = "env:"
	if !strings.HasPrefix(v, prefix) {
		return v
	}
	name := strings.TrimPrefix(v, prefix)
	return os.Getenv(name)
}

// resolveEnvMap applies resolveEnv to every value in m, so secrets living in
// client_config (Kafka SASL credentials and the like) get the same env:
// substitution as connection_string and host.
func resolveEnvMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = resolveEnv(v)
	}
	return out
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func defaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
