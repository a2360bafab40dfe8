// Package config loads endpoint and session configuration from YAML
// files, resolving certificate material from disk into an
// endpoint.Security ready to hand to Dial or Listen.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/uniwire/uniwire-go/pkg/cert"
	"github.com/uniwire/uniwire-go/pkg/endpoint"
	"github.com/uniwire/uniwire-go/pkg/transport"
)

// File is the on-disk YAML schema.
type File struct {
	// Endpoint is the scheme://host:port address. Required.
	Endpoint string `yaml:"endpoint"`

	// Security names the TLS material on disk.
	Security SecurityFile `yaml:"security,omitempty"`

	// Options tunes session behavior.
	Options OptionsFile `yaml:"options,omitempty"`
}

// SecurityFile is the security section of the YAML schema. Relative
// paths resolve against the config file's directory.
type SecurityFile struct {
	// CertFile and KeyFile are PEM files holding the certificate and
	// its private key. Both or neither must be set.
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`

	// CAFiles are PEM files pooled into the trust anchors for peer
	// verification.
	CAFiles []string `yaml:"ca_files,omitempty"`

	// Protocols lists application protocol ids in preference order.
	Protocols []string `yaml:"protocols,omitempty"`

	// ServerName overrides the hostname verified against the peer
	// certificate.
	ServerName string `yaml:"server_name,omitempty"`

	// InsecureSkipVerify disables peer certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty"`
}

// OptionsFile is the options section of the YAML schema. Durations use
// Go syntax ("10s", "1m30s").
type OptionsFile struct {
	ConnectTimeout string `yaml:"connect_timeout,omitempty"`
	IdleTimeout    string `yaml:"idle_timeout,omitempty"`
	MaxMessageSize uint32 `yaml:"max_message_size,omitempty"`
	InboundBuffer  int    `yaml:"inbound_buffer,omitempty"`
	Backlog        int    `yaml:"backlog,omitempty"`

	KeepAlive KeepAliveFile `yaml:"keep_alive,omitempty"`
}

// KeepAliveFile is the keepalive subsection of the YAML schema.
type KeepAliveFile struct {
	Interval string `yaml:"interval,omitempty"`
	Timeout  string `yaml:"timeout,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// Config is the resolved form: a dialable or bindable endpoint with
// its security material loaded, and session options with defaults
// applied.
type Config struct {
	Endpoint endpoint.Endpoint
	Options  transport.Options
}

// Load reads path and resolves it. Relative certificate paths resolve
// against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return parse(data, filepath.Dir(path))
}

// Parse resolves YAML config data. Relative certificate paths resolve
// against the process working directory; prefer Load for files.
func Parse(data []byte) (*Config, error) {
	return parse(data, "")
}

func parse(data []byte, baseDir string) (*Config, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if f.Endpoint == "" {
		return nil, fmt.Errorf("config: endpoint is required")
	}
	ep, err := endpoint.Parse(f.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	sec, err := f.Security.resolve(baseDir)
	if err != nil {
		return nil, err
	}

	opts, err := f.Options.resolve()
	if err != nil {
		return nil, err
	}

	return &Config{
		Endpoint: ep.WithSecurity(sec),
		Options:  opts,
	}, nil
}

func (s SecurityFile) resolve(baseDir string) (endpoint.Security, error) {
	sec := endpoint.Security{
		Protocols:          s.Protocols,
		ServerName:         s.ServerName,
		InsecureSkipVerify: s.InsecureSkipVerify,
	}

	switch {
	case s.CertFile != "" && s.KeyFile != "":
		id, err := cert.LoadIdentity(resolvePath(baseDir, s.CertFile), resolvePath(baseDir, s.KeyFile))
		if err != nil {
			return endpoint.Security{}, fmt.Errorf("config: %w", err)
		}
		sec.Certificates = append(sec.Certificates, id.TLSCertificate())
	case s.CertFile != "" || s.KeyFile != "":
		return endpoint.Security{}, fmt.Errorf("config: cert_file and key_file must be set together")
	}

	if len(s.CAFiles) > 0 {
		paths := make([]string, len(s.CAFiles))
		for i, p := range s.CAFiles {
			paths[i] = resolvePath(baseDir, p)
		}
		pool, err := cert.LoadPool(paths...)
		if err != nil {
			return endpoint.Security{}, fmt.Errorf("config: %w", err)
		}
		sec.RootCAs = pool
	}

	return sec, nil
}

func (o OptionsFile) resolve() (transport.Options, error) {
	opts := transport.Options{
		MaxMessageSize: o.MaxMessageSize,
		InboundBuffer:  o.InboundBuffer,
		Backlog:        o.Backlog,
	}

	var err error
	if opts.ConnectTimeout, err = parseDuration("connect_timeout", o.ConnectTimeout); err != nil {
		return transport.Options{}, err
	}
	if opts.IdleTimeout, err = parseDuration("idle_timeout", o.IdleTimeout); err != nil {
		return transport.Options{}, err
	}
	if opts.KeepAlive.Interval, err = parseDuration("keep_alive.interval", o.KeepAlive.Interval); err != nil {
		return transport.Options{}, err
	}
	if opts.KeepAlive.Timeout, err = parseDuration("keep_alive.timeout", o.KeepAlive.Timeout); err != nil {
		return transport.Options{}, err
	}
	opts.KeepAlive.Disabled = o.KeepAlive.Disabled

	return opts.WithDefaults(), nil
}

func parseDuration(key, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func resolvePath(baseDir, path string) string {
	if baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
