package pkg

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"bgp_controller/pkg/route"
)

// Neighbor is a BGP peer the speaker connects to
type Neighbor struct {
	PeerIP string `yaml:"peerIP"`
	ASN    uint32 `yaml:"asn"`
}

// Config holds the controller configuration read from YAML
type Config struct {
	BGP struct {
		Local struct {
			RouterID   string `yaml:"routerId"`
			ASN        uint32 `yaml:"asn"`
			ListenPort int32  `yaml:"listenPort"`
		} `yaml:"local"`
		// Remote is the single peer of older configs, Neighbors lists the rest
		Remote    Neighbor   `yaml:"remote"`
		Neighbors []Neighbor `yaml:"neighbors"`
	} `yaml:"bgp"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`

	Kernel struct {
		Install  bool `yaml:"install"`
		Protocol int  `yaml:"protocol"`
	} `yaml:"kernel"`

	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig is a statically configured route. Values are decoded loosely:
// numeric and string ASNs are both accepted, a non string nexthop is dropped
// and a non string prefix is rejected
type RouteConfig struct {
	Prefix      route.PrefixInput
	Peer        uint32
	Origin      route.Origin
	Nexthop     string
	ASPath      []string
	ASSet       []string
	Communities string
	Preference  uint32
}

func (r *RouteConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.Wrapf(route.ErrTypeMismatch, "line %d: route must be a mapping", node.Line)
	}
	r.Preference = route.DefaultPreference

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		var err error
		switch key {
		case "prefix":
			if !isString(value) {
				return errors.Wrapf(route.ErrTypeMismatch, "line %d: prefix must be a string", value.Line)
			}
			r.Prefix = route.PrefixText(value.Value)
		case "peer":
			err = value.Decode(&r.Peer)
		case "origin":
			r.Origin, err = route.ParseOrigin(value.Value)
		case "nexthop":
			var v any
			if err = value.Decode(&v); err == nil {
				r.Nexthop = route.NexthopValue(v)
			}
		case "as_path":
			r.ASPath, err = scalars(value)
		case "as_set":
			r.ASSet, err = scalars(value)
		case "communities":
			var texts []string
			if texts, err = scalars(value); err == nil {
				r.Communities = strings.Join(texts, " ")
			}
		case "preference":
			err = value.Decode(&r.Preference)
		}
		if err != nil {
			return errors.WithMessagef(err, "line %d: route field %q", value.Line, key)
		}
	}
	return nil
}

func isString(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!str"
}

// scalars flattens a scalar or a sequence of scalars into their text
func scalars(n *yaml.Node) ([]string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return []string{n.Value}, nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, errors.Wrapf(route.ErrTypeMismatch, "line %d: expected a scalar", item.Line)
			}
			out = append(out, item.Value)
		}
		return out, nil
	}
	return nil, errors.Wrapf(route.ErrTypeMismatch, "line %d: expected a scalar or a list", n.Line)
}

// Entry builds the route entry described by r
func (r RouteConfig) Entry(parse route.CommunityParser) (*route.Entry, error) {
	asSet := make([]uint32, 0, len(r.ASSet))
	for _, s := range r.ASSet {
		asn, err := route.ParseASN(s)
		if err != nil {
			return nil, errors.WithMessage(err, "as set")
		}
		asSet = append(asSet, asn)
	}
	return route.New(r.Origin, r.Peer, r.Prefix, r.Nexthop,
		route.WithPreference(r.Preference),
		route.WithASPathText(r.ASPath...),
		route.WithASSet(asSet...),
		route.WithCommunityText(parse, r.Communities),
	)
}

// RouteEntries builds every configured route
func (c *Config) RouteEntries(parse route.CommunityParser) ([]*route.Entry, error) {
	entries := make([]*route.Entry, 0, len(c.Routes))
	for i, rc := range c.Routes {
		e, err := rc.Entry(parse)
		if err != nil {
			return nil, errors.WithMessagef(err, "route %d", i)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Peers returns the configured neighbors including the legacy remote peer
func (c *Config) Peers() []Neighbor {
	peers := make([]Neighbor, 0, len(c.BGP.Neighbors)+1)
	if c.BGP.Remote.PeerIP != "" {
		peers = append(peers, c.BGP.Remote)
	}
	return append(peers, c.BGP.Neighbors...)
}

func (c *Config) setDefaults() {
	if c.BGP.Local.ListenPort == 0 {
		c.BGP.Local.ListenPort = 179
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Kernel.Protocol == 0 {
		c.Kernel.Protocol = 201
	}
}

// LoadConfig reads and decodes a YAML configuration file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML configuration data
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	config.setDefaults()
	return &config, nil
}
