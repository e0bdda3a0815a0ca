package dns

import (
	"context"
	"fmt"
	"strings"

	"github.com/letsencrypt/challtestsrv"
	"go.uber.org/zap"
)

func init() {
	RegisterProvider("challtestsrv", newChallTestSrv)
}

// challTestSrvProvider serves challenge records from an in-process
// challenge test DNS server. Used for development against local ACME
// servers like pebble, and by tests.
type challTestSrvProvider struct {
	srv *challtestsrv.ChallSrv
	log *zap.Logger
}

func newChallTestSrv(_ context.Context, conf Config) (Provider, error) {
	if conf.ManagementURL == "" {
		return nil, fmt.Errorf("challtestsrv provider requires a DNS listen address")
	}
	srv, err := challtestsrv.New(challtestsrv.Config{
		DNSOneAddrs: []string{conf.ManagementURL},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create challenge test server: %w", err)
	}
	go srv.Run()
	return &challTestSrvProvider{srv: srv, log: conf.Logger}, nil
}

// NewChallTestSrv wraps an already running challenge test server. Tests
// use this to share one server between the provider and their stubs.
func NewChallTestSrv(srv *challtestsrv.ChallSrv, logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &challTestSrvProvider{srv: srv, log: logger}
}

func (p *challTestSrvProvider) OutOfBand() bool { return false }

func (p *challTestSrvProvider) CreateRecord(_ context.Context, record, value string) error {
	host := strings.TrimSuffix(record, ".")
	p.srv.AddDNSOneChallenge(host, value)
	p.log.Debug("added challenge record to test server",
		zap.String("record", host))
	return nil
}

func (p *challTestSrvProvider) DeleteRecord(_ context.Context, record, _ string) error {
	host := strings.TrimSuffix(record, ".")
	p.srv.DeleteDNSOneChallenge(host)
	p.log.Debug("deleted challenge record from test server",
		zap.String("record", host))
	return nil
}
