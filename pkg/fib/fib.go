// Package fib installs best routes into the Linux kernel routing table
package fib

import (
	"net"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"bgp_controller/pkg/metrics"
	"bgp_controller/pkg/prefix"
	"bgp_controller/pkg/route"
)

// DefaultProtocol tags routes owned by the controller
const DefaultProtocol netlink.RouteProtocol = 201

var ErrNoNexthop = errors.New("route has no usable nexthop")

// Netlink is the subset of the netlink package used to program routes
type Netlink interface {
	RouteReplace(*netlink.Route) error
	RouteDel(*netlink.Route) error
	RouteListFiltered(family int, filter *netlink.Route, mask uint64) ([]netlink.Route, error)
}

type kernel struct{}

func (kernel) RouteReplace(r *netlink.Route) error { return netlink.RouteReplace(r) }
func (kernel) RouteDel(r *netlink.Route) error     { return netlink.RouteDel(r) }
func (kernel) RouteListFiltered(family int, filter *netlink.Route, mask uint64) ([]netlink.Route, error) {
	return netlink.RouteListFiltered(family, filter, mask)
}

// Installer keeps the kernel table in line with best path changes
type Installer struct {
	nl       Netlink
	protocol netlink.RouteProtocol
	logger   *log.Entry
}

type Option func(*Installer)

func WithProtocol(proto int) Option {
	return func(i *Installer) { i.protocol = netlink.RouteProtocol(proto) }
}

func WithNetlink(nl Netlink) Option {
	return func(i *Installer) { i.nl = nl }
}

func WithLogger(logger *log.Logger) Option {
	return func(i *Installer) { i.logger = logger.WithField("component", "fib") }
}

func NewInstaller(opts ...Option) *Installer {
	i := &Installer{
		nl:       kernel{},
		protocol: DefaultProtocol,
		logger:   log.WithField("component", "fib"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IPNet returns the destination network of p with host bits cleared
func IPNet(p prefix.Prefix) *net.IPNet {
	m := p.Masked()
	ip := net.IP(m.Addr().AsSlice())
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(int(p.Length()), p.MaxLength())}
}

// ToNetlinkRoute converts an entry. The nexthop must be an address of the
// same family as the prefix
func (i *Installer) ToNetlinkRoute(e *route.Entry) (*netlink.Route, error) {
	gw := net.ParseIP(e.Nexthop())
	if gw == nil || gw.IsUnspecified() {
		return nil, errors.Wrapf(ErrNoNexthop, "%s via %q", e.Prefix(), e.Nexthop())
	}
	if (gw.To4() != nil) != e.Prefix().Is4() {
		return nil, errors.Errorf("nexthop %s does not match the family of %s", gw, e.Prefix())
	}
	return &netlink.Route{
		Dst:      IPNet(e.Prefix()),
		Gw:       gw,
		Protocol: i.protocol,
	}, nil
}

// Install adds or replaces the kernel route for e
func (i *Installer) Install(e *route.Entry) error {
	r, err := i.ToNetlinkRoute(e)
	if err != nil {
		return err
	}
	err = i.nl.RouteReplace(r)
	metrics.FIBOperation("replace", err)
	if err != nil {
		return errors.Wrapf(err, "install %s", e.Prefix())
	}
	i.logger.WithFields(log.Fields{"prefix": e.Prefix().String(), "nexthop": e.Nexthop()}).Debug("route installed")
	return nil
}

// Remove deletes the controller route for p. A missing route is not an error
func (i *Installer) Remove(p prefix.Prefix) error {
	err := i.nl.RouteDel(&netlink.Route{Dst: IPNet(p), Protocol: i.protocol})
	if errors.Is(err, unix.ESRCH) {
		err = nil
	}
	metrics.FIBOperation("delete", err)
	if err != nil {
		return errors.Wrapf(err, "remove %s", p)
	}
	i.logger.WithField("prefix", p.String()).Debug("route removed")
	return nil
}

// Apply installs best when it is set and removes p otherwise
func (i *Installer) Apply(p prefix.Prefix, best *route.Entry) error {
	if best == nil {
		return i.Remove(p)
	}
	return i.Install(best)
}

// Flush removes every route tagged with the controller protocol
func (i *Installer) Flush() (int, error) {
	routes, err := i.nl.RouteListFiltered(netlink.FAMILY_ALL, &netlink.Route{Protocol: i.protocol}, netlink.RT_FILTER_PROTOCOL)
	if err != nil {
		return 0, errors.Wrap(err, "list controller routes")
	}
	removed := 0
	for idx := range routes {
		err := i.nl.RouteDel(&routes[idx])
		metrics.FIBOperation("delete", err)
		if err != nil && !errors.Is(err, unix.ESRCH) {
			i.logger.WithError(err).WithField("dst", routes[idx].Dst).Warn("failed to remove route")
			continue
		}
		removed++
	}
	return removed, nil
}
