// Package community converts community text into route communities
package community

import (
	"strings"

	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
	"github.com/pkg/errors"

	"bgp_controller/pkg/route"
)

// Parse reads communities separated by whitespace or commas. Each token is
// either "A:B" with decimal halves or a well-known name such as "no-export",
// which is split into its high and low 16 bits
func Parse(text string) ([]route.Community, error) {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]route.Community, 0, len(tokens))
	for _, token := range tokens {
		c, err := ParseOne(token)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ParseOne parses a single community token
func ParseOne(token string) (route.Community, error) {
	if wk, ok := bgp.WellKnownCommunityValueMap[strings.ToLower(token)]; ok {
		return FromWord(uint32(wk)), nil
	}
	parts := strings.Split(token, ":")
	if len(parts) != 2 {
		return route.Community{}, errors.Wrapf(route.ErrInvalidFormat, "community %q needs exactly one ':'", token)
	}
	high, err := route.ParseASN(parts[0])
	if err != nil {
		return route.Community{}, errors.WithMessagef(err, "community %q", token)
	}
	low, err := route.ParseASN(parts[1])
	if err != nil {
		return route.Community{}, errors.WithMessagef(err, "community %q", token)
	}
	return route.Community{High: high, Low: low}, nil
}

// FromWord splits an RFC 1997 community value
func FromWord(w uint32) route.Community {
	return route.Community{High: w >> 16, Low: w & 0xffff}
}

// FromWords splits a list of RFC 1997 community values
func FromWords(words []uint32) []route.Community {
	out := make([]route.Community, len(words))
	for i, w := range words {
		out[i] = FromWord(w)
	}
	return out
}

// ToWords packs communities into RFC 1997 values. Both halves must fit in
// 16 bits
func ToWords(communities []route.Community) ([]uint32, error) {
	out := make([]uint32, len(communities))
	for i, c := range communities {
		if c.High > 0xffff || c.Low > 0xffff {
			return nil, errors.Wrapf(route.ErrOutOfRange, "community %s does not fit 32 bits", c)
		}
		out[i] = c.High<<16 | c.Low
	}
	return out, nil
}

// Name returns the well-known name of c, if it has one
func Name(c route.Community) (string, bool) {
	if c.High > 0xffff || c.Low > 0xffff {
		return "", false
	}
	name, ok := bgp.WellKnownCommunityNameMap[bgp.WellKnownCommunity(c.High<<16|c.Low)]
	return name, ok
}
