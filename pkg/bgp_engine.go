package pkg

import (
	"context"

	api "github.com/osrg/gobgp/v3/api"
	"github.com/osrg/gobgp/v3/pkg/server"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"bgp_controller/pkg/route"
)

// RouteHandler receives routes learned from peers. withdraw is set when the
// peer no longer announces the route
type RouteHandler func(e *route.Entry, withdraw bool)

// BGPService represents a BGP speaker that announces and learns route entries
type BGPService struct {
	server  *server.BgpServer // The main BGP server instance
	context context.Context   // Context for managing BGP operations
	logger  *logrus.Entry
}

// ServiceOption configures a BGPService
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger *logrus.Logger
}

// WithServiceLogger sends service and gobgp logs to logger
func WithServiceLogger(logger *logrus.Logger) ServiceOption {
	return func(o *serviceOptions) { o.logger = logger }
}

// NewBGPService creates and initializes a new BGP service
func NewBGPService(opts ...ServiceOption) *BGPService {
	o := serviceOptions{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return &BGPService{
		server:  server.NewBgpServer(server.LoggerOption(NewGoBGPLogger(o.logger))),
		context: context.Background(),
		logger:  o.logger.WithField("component", "bgp"),
	}
}

// Start runs the BGP server on the standard port
func (s *BGPService) Start(routerId string, asn uint32) error {
	return s.StartWithPort(routerId, asn, 179)
}

// StartWithPort runs the BGP server. A port of -1 disables the listener
func (s *BGPService) StartWithPort(routerId string, asn uint32, port int32) error {
	// Serve processes management requests until Stop
	go s.server.Serve()

	if err := s.server.StartBgp(s.context, &api.StartBgpRequest{
		Global: &api.Global{
			Asn:        asn,
			RouterId:   routerId,
			ListenPort: port,
		},
	}); err != nil {
		return errors.Wrapf(err, "start bgp as %d router-id %q", asn, routerId)
	}
	s.logger.WithFields(logrus.Fields{"asn": asn, "routerId": routerId, "port": port}).Info("bgp started")
	return nil
}

// AddNeighbor configures a new BGP peer with the specified address and ASN
func (s *BGPService) AddNeighbor(neighborAddress string, neighborAsn uint32) error {
	n := &api.Peer{
		Conf: &api.PeerConf{
			NeighborAddress: neighborAddress,
			PeerAsn:         neighborAsn,
		},
	}
	if err := s.server.AddPeer(s.context, &api.AddPeerRequest{Peer: n}); err != nil {
		return errors.Wrapf(err, "add neighbor %s", neighborAddress)
	}
	s.logger.WithFields(logrus.Fields{"neighbor": neighborAddress, "asn": neighborAsn}).Info("neighbor added")
	return nil
}

// Announce injects e into the global table
func (s *BGPService) Announce(ctx context.Context, e *route.Entry) error {
	path, err := EntryToAPIPath(e)
	if err != nil {
		return errors.WithMessagef(err, "announce %s", e.Prefix())
	}
	if _, err := s.server.AddPath(ctx, &api.AddPathRequest{
		TableType: api.TableType_GLOBAL,
		Path:      path,
	}); err != nil {
		return errors.Wrapf(err, "announce %s", e.Prefix())
	}
	s.logger.WithField("route", e.String()).Debug("route announced")
	return nil
}

// Withdraw removes a route previously injected with Announce
func (s *BGPService) Withdraw(ctx context.Context, e *route.Entry) error {
	path, err := EntryToAPIPath(e)
	if err != nil {
		return errors.WithMessagef(err, "withdraw %s", e.Prefix())
	}
	if err := s.server.DeletePath(ctx, &api.DeletePathRequest{
		TableType: api.TableType_GLOBAL,
		Family:    path.Family,
		Path:      path,
	}); err != nil {
		return errors.Wrapf(err, "withdraw %s", e.Prefix())
	}
	s.logger.WithField("prefix", e.Prefix().String()).Debug("route withdrawn")
	return nil
}

// AnnouncedPrefixes lists the prefixes of the global table for both families
func (s *BGPService) AnnouncedPrefixes(ctx context.Context) ([]string, error) {
	var prefixes []string
	for _, family := range []*api.Family{
		{Afi: api.Family_AFI_IP, Safi: api.Family_SAFI_UNICAST},
		{Afi: api.Family_AFI_IP6, Safi: api.Family_SAFI_UNICAST},
	} {
		err := s.server.ListPath(ctx, &api.ListPathRequest{
			TableType: api.TableType_GLOBAL,
			Family:    family,
		}, func(d *api.Destination) {
			prefixes = append(prefixes, d.GetPrefix())
		})
		if err != nil {
			return nil, errors.Wrap(err, "list paths")
		}
	}
	return prefixes, nil
}

// MonitorPrefixes watches routes received from peers and hands them to
// handler until ctx is done
func (s *BGPService) MonitorPrefixes(ctx context.Context, handler RouteHandler) error {
	err := s.server.WatchEvent(ctx, &api.WatchEventRequest{
		Table: &api.WatchEventRequest_Table{
			Filters: []*api.WatchEventRequest_Table_Filter{
				{
					Type: api.WatchEventRequest_Table_Filter_ADJIN,
					Init: true,
				},
			},
		},
	}, func(r *api.WatchEventResponse) {
		table := r.GetTable()
		if table == nil {
			return
		}
		for _, path := range table.GetPaths() {
			if path.GetNlri() == nil {
				continue
			}
			e, err := EntryFromAPIPath(path)
			if err != nil {
				s.logger.WithError(err).WithField("neighbor", path.GetNeighborIp()).Warn("dropping unreadable path")
				continue
			}
			handler(e, path.GetIsWithdraw())
		}
	})
	if err != nil {
		return errors.Wrap(err, "watch events")
	}
	return nil
}

// Stop gracefully shuts down the BGP server
func (s *BGPService) Stop() {
	s.server.Stop()
}
