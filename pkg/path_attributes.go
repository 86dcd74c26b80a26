package pkg

import (
	"net"

	api "github.com/osrg/gobgp/v3/api"
	"github.com/osrg/gobgp/v3/pkg/apiutil"
	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
	"github.com/pkg/errors"

	"bgp_controller/pkg/community"
	"bgp_controller/pkg/prefix"
	"bgp_controller/pkg/route"
)

// EntryToNLRI returns the gobgp prefix of an entry
func EntryToNLRI(e *route.Entry) bgp.AddrPrefixInterface {
	p := e.Prefix()
	if p.Is6() {
		return bgp.NewIPv6AddrPrefix(p.Length(), p.IP())
	}
	return bgp.NewIPAddrPrefix(p.Length(), p.IP())
}

// EntryToPathAttributes builds the path attributes announcing e. IPv6 routes
// carry their prefix inside MP_REACH_NLRI
func EntryToPathAttributes(e *route.Entry) ([]bgp.PathAttributeInterface, error) {
	attrs := []bgp.PathAttributeInterface{
		bgp.NewPathAttributeOrigin(uint8(e.Origin())),
	}

	var segments []bgp.AsPathParamInterface
	if path := e.ASPath(); len(path) > 0 {
		segments = append(segments, bgp.NewAs4PathParam(bgp.BGP_ASPATH_ATTR_TYPE_SEQ, path))
	}
	if set := e.ASSet(); len(set) > 0 {
		segments = append(segments, bgp.NewAs4PathParam(bgp.BGP_ASPATH_ATTR_TYPE_SET, set))
	}
	attrs = append(attrs, bgp.NewPathAttributeAsPath(segments))

	nexthop := e.Nexthop()
	if e.Prefix().Is6() {
		if net.ParseIP(nexthop) == nil {
			nexthop = "::"
		}
		attrs = append(attrs, bgp.NewPathAttributeMpReachNLRI(nexthop, []bgp.AddrPrefixInterface{EntryToNLRI(e)}))
	} else {
		if ip := net.ParseIP(nexthop); ip == nil || ip.To4() == nil {
			nexthop = "0.0.0.0"
		}
		attrs = append(attrs, bgp.NewPathAttributeNextHop(nexthop))
	}

	attrs = append(attrs, bgp.NewPathAttributeLocalPref(e.Preference()))

	if communities := e.Communities(); len(communities) > 0 {
		words, err := community.ToWords(communities)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, bgp.NewPathAttributeCommunities(words))
	}
	return attrs, nil
}

// EntryFromPathAttributes builds an entry learned from peer
func EntryFromPathAttributes(peer uint32, nlri bgp.AddrPrefixInterface, attrs []bgp.PathAttributeInterface) (*route.Entry, error) {
	p, err := prefixFromNLRI(nlri)
	if err != nil {
		return nil, err
	}

	var (
		origin  route.Origin
		nexthop string
		opts    []route.Option
	)
	for _, attr := range attrs {
		switch a := attr.(type) {
		case *bgp.PathAttributeOrigin:
			origin = route.Origin(a.Value)
		case *bgp.PathAttributeAsPath:
			var path, set []uint32
			for _, param := range a.Value {
				switch param.GetType() {
				case bgp.BGP_ASPATH_ATTR_TYPE_SEQ:
					path = append(path, param.GetAS()...)
				case bgp.BGP_ASPATH_ATTR_TYPE_SET:
					set = append(set, param.GetAS()...)
				}
			}
			opts = append(opts, route.WithASPath(path...), route.WithASSet(set...))
		case *bgp.PathAttributeNextHop:
			nexthop = a.Value.String()
		case *bgp.PathAttributeMpReachNLRI:
			nexthop = a.Nexthop.String()
		case *bgp.PathAttributeLocalPref:
			opts = append(opts, route.WithPreference(a.Value))
		case *bgp.PathAttributeCommunities:
			opts = append(opts, route.WithCommunities(community.FromWords(a.Value)...))
		}
	}
	return route.New(origin, peer, route.PrefixValue(p), nexthop, opts...)
}

func prefixFromNLRI(nlri bgp.AddrPrefixInterface) (prefix.Prefix, error) {
	switch n := nlri.(type) {
	case *bgp.IPv6AddrPrefix:
		return prefix.ParseWithLength(n.Prefix.String(), int(n.Length))
	case *bgp.IPAddrPrefix:
		return prefix.ParseWithLength(n.Prefix.String(), int(n.Length))
	}
	return prefix.Prefix{}, errors.Wrapf(route.ErrTypeMismatch, "unsupported nlri %T", nlri)
}

// EntryToUpdate builds a BGP UPDATE message announcing e
func EntryToUpdate(e *route.Entry) (*bgp.BGPMessage, error) {
	attrs, err := EntryToPathAttributes(e)
	if err != nil {
		return nil, err
	}
	var nlri []*bgp.IPAddrPrefix
	if e.Prefix().Is4() {
		nlri = append(nlri, EntryToNLRI(e).(*bgp.IPAddrPrefix))
	}
	return bgp.NewBGPUpdateMessage(nil, attrs, nlri), nil
}

// EntriesFromUpdate returns the routes announced by an UPDATE message
func EntriesFromUpdate(peer uint32, msg *bgp.BGPMessage) ([]*route.Entry, error) {
	update, ok := msg.Body.(*bgp.BGPUpdate)
	if !ok {
		return nil, errors.Wrapf(route.ErrTypeMismatch, "message type %d is not an update", msg.Header.Type)
	}

	var entries []*route.Entry
	add := func(nlri bgp.AddrPrefixInterface) error {
		e, err := EntryFromPathAttributes(peer, nlri, update.PathAttributes)
		if err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	}
	for _, nlri := range update.NLRI {
		if err := add(nlri); err != nil {
			return nil, err
		}
	}
	for _, attr := range update.PathAttributes {
		if mp, ok := attr.(*bgp.PathAttributeMpReachNLRI); ok {
			for _, nlri := range mp.Value {
				if err := add(nlri); err != nil {
					return nil, err
				}
			}
		}
	}
	return entries, nil
}

func apiFamily(p prefix.Prefix) *api.Family {
	if p.Is6() {
		return &api.Family{Afi: api.Family_AFI_IP6, Safi: api.Family_SAFI_UNICAST}
	}
	return &api.Family{Afi: api.Family_AFI_IP, Safi: api.Family_SAFI_UNICAST}
}

// EntryToAPIPath converts e into a gobgp API path
func EntryToAPIPath(e *route.Entry) (*api.Path, error) {
	attrs, err := EntryToPathAttributes(e)
	if err != nil {
		return nil, err
	}
	nlri, err := apiutil.MarshalNLRI(EntryToNLRI(e))
	if err != nil {
		return nil, errors.Wrap(err, "marshal nlri")
	}
	pattrs, err := apiutil.MarshalPathAttributes(attrs)
	if err != nil {
		return nil, errors.Wrap(err, "marshal path attributes")
	}
	return &api.Path{
		Nlri:   nlri,
		Pattrs: pattrs,
		Family: apiFamily(e.Prefix()),
	}, nil
}

// EntryFromAPIPath converts a gobgp API path. The peer is the source ASN of
// the path
func EntryFromAPIPath(path *api.Path) (*route.Entry, error) {
	nlri, err := apiutil.GetNativeNlri(path)
	if err != nil {
		return nil, errors.Wrap(err, "decode nlri")
	}
	attrs, err := apiutil.GetNativePathAttributes(path)
	if err != nil {
		return nil, errors.Wrap(err, "decode path attributes")
	}
	return EntryFromPathAttributes(path.GetSourceAsn(), nlri, attrs)
}
