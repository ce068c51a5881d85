// Package blueprint loads and validates the declarative description of the
// roles, categories and channels a guild should have.
package blueprint

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid blueprint")

//go:embed default.yaml
var defaultBlueprint []byte

// ChannelType is the kind of a non-category channel.
type ChannelType string

const (
	ChannelText  ChannelType = "text"
	ChannelVoice ChannelType = "voice"
	ChannelForum ChannelType = "forum"
)

// Valid reports whether t is a known channel type.
func (t ChannelType) Valid() bool {
	switch t {
	case ChannelText, ChannelVoice, ChannelForum:
		return true
	}
	return false
}

// Blueprint is the desired state of a guild.
type Blueprint struct {
	Roles      []Role     `json:"roles" yaml:"roles"`
	Categories []Category `json:"categories" yaml:"categories"`
}

// Role describes a role to provision.
type Role struct {
	Name        string `json:"name" yaml:"name"`
	Color       Color  `json:"color" yaml:"color"`
	Mentionable bool   `json:"mentionable" yaml:"mentionable"`
}

// Category groups channels. A private category hides its channels from
// @everyone.
type Category struct {
	Name     string    `json:"name" yaml:"name"`
	Private  bool      `json:"private" yaml:"private"`
	Channels []Channel `json:"channels" yaml:"channels"`
}

// Channel describes a text, voice or forum channel inside a category.
type Channel struct {
	Name         string      `json:"name" yaml:"name"`
	Type         ChannelType `json:"type" yaml:"type"`
	Description  string      `json:"description,omitempty" yaml:"description,omitempty"`
	AllowedRoles []string    `json:"allowedRoles,omitempty" yaml:"allowedRoles,omitempty"`
	ForumTags    []string    `json:"forumTags,omitempty" yaml:"forumTags,omitempty"`
}

// Color is an RGB role color. It decodes from a number or a "#RRGGBB" string.
type Color int

func (c *Color) set(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*c = 0
		return nil
	}
	base := 10
	switch {
	case strings.HasPrefix(raw, "#"):
		raw, base = raw[1:], 16
	case strings.HasPrefix(raw, "0x"), strings.HasPrefix(raw, "0X"):
		raw, base = raw[2:], 16
	}
	v, err := strconv.ParseInt(raw, base, 64)
	if err != nil {
		return fmt.Errorf("color %q: %w", raw, err)
	}
	*c = Color(v)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Color) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*c = 0
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return c.set(s)
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("color: %w", err)
	}
	*c = Color(n)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Color) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("color: expected scalar at line %d", node.Line)
	}
	return c.set(node.Value)
}

// Load reads a blueprint from path. JSON and YAML are accepted; an empty path
// yields the built-in default blueprint.
func Load(path string) (*Blueprint, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading blueprint: %w", err)
	}
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	bp, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bp, nil
}

// Default returns the embedded blueprint.
func Default() (*Blueprint, error) {
	return Parse(defaultBlueprint, "yaml")
}

// Parse decodes, normalizes and validates a blueprint document.
func Parse(data []byte, format string) (*Blueprint, error) {
	var bp Blueprint
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &bp); err != nil {
			return nil, fmt.Errorf("parsing blueprint: %w", err)
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&bp); err != nil {
			return nil, fmt.Errorf("parsing blueprint: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported blueprint format %q", format)
	}
	bp.normalize()
	if err := bp.Validate(); err != nil {
		return nil, err
	}
	return &bp, nil
}

func (bp *Blueprint) normalize() {
	for i := range bp.Roles {
		bp.Roles[i].Name = strings.TrimSpace(bp.Roles[i].Name)
	}
	for i := range bp.Categories {
		cat := &bp.Categories[i]
		cat.Name = strings.TrimSpace(cat.Name)
		for j := range cat.Channels {
			ch := &cat.Channels[j]
			ch.Name = strings.TrimSpace(ch.Name)
			if ch.Type == "" {
				ch.Type = ChannelText
			}
			ch.Type = ChannelType(strings.ToLower(string(ch.Type)))
			if ch.Type == ChannelForum {
				ch.ForumTags = SanitizeTags(ch.ForumTags)
			} else {
				ch.ForumTags = nil
			}
		}
	}
}

// Validate checks name uniqueness, channel types and color ranges.
func (bp *Blueprint) Validate() error {
	var problems []string

	roles := make(map[string]bool)
	for i, r := range bp.Roles {
		if r.Name == "" {
			problems = append(problems, fmt.Sprintf("roles[%d]: name is required", i))
			continue
		}
		key := NormalizeName(r.Name)
		if key == "" {
			problems = append(problems, fmt.Sprintf("roles[%d]: name %q has nothing but separators", i, r.Name))
			continue
		}
		if roles[key] {
			problems = append(problems, fmt.Sprintf("roles[%d]: duplicate role %q", i, r.Name))
		}
		roles[key] = true
		if r.Color < 0 || r.Color > 0xFFFFFF {
			problems = append(problems, fmt.Sprintf("role %q: color %d out of range", r.Name, r.Color))
		}
	}

	categories := make(map[string]bool)
	channels := make(map[string]bool)
	for i, cat := range bp.Categories {
		if cat.Name == "" {
			problems = append(problems, fmt.Sprintf("categories[%d]: name is required", i))
		} else if key := NormalizeName(cat.Name); key == "" {
			problems = append(problems, fmt.Sprintf("categories[%d]: name %q has nothing but separators", i, cat.Name))
		} else {
			if categories[key] {
				problems = append(problems, fmt.Sprintf("categories[%d]: duplicate category %q", i, cat.Name))
			}
			categories[key] = true
		}
		for j, ch := range cat.Channels {
			if ch.Name == "" {
				problems = append(problems, fmt.Sprintf("categories[%d].channels[%d]: name is required", i, j))
				continue
			}
			key := NormalizeName(ch.Name)
			if key == "" {
				problems = append(problems, fmt.Sprintf("categories[%d].channels[%d]: name %q has nothing but separators", i, j, ch.Name))
				continue
			}
			if channels[key] {
				problems = append(problems, fmt.Sprintf("channel %q: duplicate channel name", ch.Name))
			}
			channels[key] = true
			if !ch.Type.Valid() {
				problems = append(problems, fmt.Sprintf("channel %q: unknown type %q", ch.Name, ch.Type))
			}
			for _, allowed := range ch.AllowedRoles {
				if !roles[NormalizeName(allowed)] {
					problems = append(problems, fmt.Sprintf("channel %q: allowed role %q is not declared", ch.Name, allowed))
				}
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w:\n  %s", ErrInvalid, strings.Join(problems, "\n  "))
	}
	return nil
}

// RoleNames returns role names in blueprint order.
func (bp *Blueprint) RoleNames() []string {
	names := make([]string, 0, len(bp.Roles))
	for _, r := range bp.Roles {
		names = append(names, r.Name)
	}
	return names
}

// Counts returns the number of roles, categories and channels declared.
func (bp *Blueprint) Counts() (roles, categories, channels int) {
	for _, cat := range bp.Categories {
		channels += len(cat.Channels)
	}
	return len(bp.Roles), len(bp.Categories), channels
}
