package pkg

import (
	"time"

	"bgp_controller/pkg/community"
	"bgp_controller/pkg/prefix"
	"bgp_controller/pkg/route"
)

// BGPUpdateMessage is a printable view of a route as it would be announced
type BGPUpdateMessage struct {
	Prefix    string `yaml:"prefix"`
	AFI       int    `yaml:"afi"`
	SAFI      int    `yaml:"safi"`
	FromPeer  uint32 `yaml:"peer"`
	Origin    string `yaml:"origin"`
	NextHop   string `yaml:"nexthop"`
	LocalPref uint32 `yaml:"localPref"`

	ASPath []uint32 `yaml:"asPath,omitempty"`
	ASSet  []uint32 `yaml:"asSet,omitempty"`

	Communities      []string `yaml:"communities,omitempty"`
	CommunityStrings []string `yaml:"wellKnown,omitempty"`

	// Announcement text as consumed by route injectors
	Announce string `yaml:"announce"`

	IsWithdraw bool  `yaml:"withdraw,omitempty"`
	Timestamp  int64 `yaml:"timestamp"`
}

// NewBGPUpdateMessage renders e
func NewBGPUpdateMessage(e *route.Entry) *BGPUpdateMessage {
	p := e.Prefix()
	msg := &BGPUpdateMessage{
		Prefix:    p.String(),
		AFI:       p.AFI(),
		SAFI:      p.SAFI(),
		FromPeer:  e.Peer(),
		Origin:    e.Origin().String(),
		NextHop:   e.Nexthop(),
		LocalPref: e.Preference(),
		ASPath:    e.ASPath(),
		ASSet:     e.ASSet(),
		Timestamp: time.Now().Unix(),
	}
	for _, c := range e.Communities() {
		msg.Communities = append(msg.Communities, c.String())
		if name, ok := community.Name(c); ok {
			msg.CommunityStrings = append(msg.CommunityStrings, name)
		}
	}
	msg.Announce = announceText(e)
	return msg
}

// NewWithdrawMessage renders the withdrawal of p
func NewWithdrawMessage(p prefix.Prefix) *BGPUpdateMessage {
	return &BGPUpdateMessage{
		Prefix:     p.String(),
		AFI:        p.AFI(),
		SAFI:       p.SAFI(),
		Announce:   "withdraw route " + p.String(),
		IsWithdraw: true,
		Timestamp:  time.Now().Unix(),
	}
}

// announceText joins the route, AS path and community clauses
func announceText(e *route.Entry) string {
	text := "route " + e.Prefix().String()
	if nh := e.Nexthop(); nh != "" {
		text += " next-hop " + nh
	}
	for _, clause := range []string{e.AnnounceASPathText(), e.AnnounceCommunitiesText()} {
		if clause != "" {
			text += " " + clause
		}
	}
	return text
}
