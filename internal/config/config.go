// Package config loads the JSON/YAML connection configuration document
// described in spec.md §6: a v1 schema-mapping-only shape, or a v2 shape
// carrying connectionProfiles and channels. Parsing itself is ambient
// plumbing (SPEC_FULL.md A3); internal/registry owns the validation and
// resolution semantics.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProfileDoc is the wire shape of a ConnectionProfile entry.
type ProfileDoc struct {
	Host              string            `json:"host" yaml:"host"`
	SendPort          int               `json:"sendPort" yaml:"sendPort"`
	ReceivePort       int               `json:"receivePort" yaml:"receivePort"`
	ConnectTimeoutMS  int               `json:"connectTimeoutMs" yaml:"connectTimeoutMs"`
	ResponseTimeoutMS int               `json:"responseTimeoutMs" yaml:"responseTimeoutMs"`
	HeartbeatMS       int               `json:"heartbeatMs" yaml:"heartbeatMs"`
	KeepaliveMS       int               `json:"keepaliveMs" yaml:"keepaliveMs"`
	RetryDelayMS      int               `json:"retryDelayMs" yaml:"retryDelayMs"`
	MaxRetries        int               `json:"maxRetries" yaml:"maxRetries"`
	TLS               bool              `json:"tls" yaml:"tls"`
	PoolSize          int               `json:"poolSize" yaml:"poolSize"`
	AutoReconnect     bool              `json:"autoReconnect" yaml:"autoReconnect"`
	ServerMode        bool              `json:"serverMode" yaml:"serverMode"`
	Properties        map[string]string `json:"properties" yaml:"properties"`
}

// BindingDoc is the wire shape of a ChannelConnection entry plus its embedded
// Channel attributes (flattened, matching how the teacher's network.json
// flattens bank attributes inline rather than via a separate lookup table).
type BindingDoc struct {
	ProfileID       string            `json:"profileId" yaml:"profileId"`
	ChannelType     string            `json:"type" yaml:"type"`
	Vendor          string            `json:"vendor" yaml:"vendor"`
	Version         string            `json:"version" yaml:"version"`
	Active          bool              `json:"active" yaml:"active"`
	Priority        int               `json:"priority" yaml:"priority"`
	Description     string            `json:"description" yaml:"description"`
	SchemaOverrides map[string]string `json:"schemaOverrides" yaml:"schemaOverrides"`
	Properties      map[string]string `json:"properties" yaml:"properties"`
}

// DocumentV2 is the `{version:"2.x", connectionProfiles, channels}` shape.
type DocumentV2 struct {
	Version            string                `json:"version" yaml:"version"`
	ConnectionProfiles map[string]ProfileDoc `json:"connectionProfiles" yaml:"connectionProfiles"`
	Channels           map[string]BindingDoc `json:"channels" yaml:"channels"`
}

// DocumentV1 is the legacy `{channels, schemaOverrides, defaults}` shape:
// schema-mapping only, no connection profiles. The core tolerates it for
// compatibility but treats it as carrying zero channel connections (the
// registry delegates schema-only concerns elsewhere per spec.md §4.1).
type DocumentV1 struct {
	Channels        []string          `json:"channels" yaml:"channels"`
	SchemaOverrides map[string]string `json:"schemaOverrides" yaml:"schemaOverrides"`
	Defaults        map[string]string `json:"defaults" yaml:"defaults"`
}

// detect sniffs the raw document to decide v1 vs v2 by presence of the
// "version" key carrying a "2" prefix, or the presence of
// "connectionProfiles".
func detect(raw map[string]interface{}) bool {
	if v, ok := raw["version"].(string); ok && strings.HasPrefix(v, "2") {
		return true
	}
	_, hasProfiles := raw["connectionProfiles"]
	return hasProfiles
}

// Source is an external configuration collaborator (spec.md §6): it can
// load a document and report when it last changed, for the registry's
// hot-reload poller.
type Source interface {
	Load() (*DocumentV2, bool, error) // bool is false for a v1/schema-only doc
	ModTime() (time.Time, error)
}

// FileSource reads a JSON or YAML file by extension.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource { return &FileSource{Path: path} }

func (f *FileSource) ModTime() (time.Time, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (f *FileSource) Load() (*DocumentV2, bool, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, false, fmt.Errorf("config: read %s: %w", f.Path, err)
	}

	var raw map[string]interface{}
	if err := unmarshalAny(f.Path, data, &raw); err != nil {
		return nil, false, fmt.Errorf("config: parse %s: %w", f.Path, err)
	}

	if !detect(raw) {
		return nil, false, nil
	}

	var doc DocumentV2
	if err := unmarshalAny(f.Path, data, &doc); err != nil {
		return nil, false, fmt.Errorf("config: decode v2 document %s: %w", f.Path, err)
	}
	return &doc, true, nil
}

func unmarshalAny(path string, data []byte, out interface{}) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, out)
	default:
		return json.Unmarshal(data, out)
	}
}
