package dns

import (
	"context"
	"fmt"
	"net"
	"time"

	mdns "github.com/miekg/dns"
	"go.uber.org/zap"
)

// DefaultResolvers are the public recursive resolvers queried when
// checking challenge record propagation.
var DefaultResolvers = []string{
	"8.8.8.8",        // Google
	"8.8.4.4",        // Google
	"1.1.1.1",        // Cloudflare
	"1.0.0.1",        // Cloudflare
	"9.9.9.9",        // Quad9
	"208.67.222.222", // OpenDNS
}

// Checker confirms a TXT record is visible on enough public resolvers
// before the challenge is answered. Propagation lag is the dominant cause
// of dns-01 validation failures; checking first avoids burning order
// attempts against the CA.
type Checker struct {
	// Resolver IP addresses to query. Port 53 is assumed when no port is
	// given.
	Resolvers []string
	// Quorum is how many resolvers must see the record for a check to
	// pass.
	Quorum int
	// Attempts and Delay bound the check: up to Attempts rounds of
	// queries, Delay apart.
	Attempts int
	Delay    time.Duration
	// Required turns a failed check into an error. When false a failed
	// check is advisory: the caller logs it and proceeds, betting the CA's
	// resolvers will catch up.
	Required bool

	// queryTXT fetches TXT values for fqdn from one resolver. Tests stub
	// this out.
	queryTXT func(ctx context.Context, resolver, fqdn string) ([]string, error)

	log *zap.Logger
}

// NewChecker builds a Checker with the default resolver set, a quorum of
// 3 and 3 attempts 10 seconds apart.
func NewChecker(logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		Resolvers: DefaultResolvers,
		Quorum:    3,
		Attempts:  3,
		Delay:     10 * time.Second,
		queryTXT:  queryTXT,
		log:       logger,
	}
}

// Check reports whether the TXT record with the given value has
// propagated to at least Quorum of the configured resolvers. The error is
// non-nil only when the check fails and Required is set.
func (c *Checker) Check(ctx context.Context, record, value string) (bool, error) {
	if c.queryTXT == nil {
		c.queryTXT = queryTXT
	}
	target := fqdn(record)

	for attempt := 1; attempt <= c.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(c.Delay):
			}
		}

		seen := c.countSeen(ctx, target, value)
		c.log.Debug("propagation check",
			zap.String("record", record),
			zap.Int("attempt", attempt),
			zap.Int("seen", seen),
			zap.Int("quorum", c.Quorum))
		if seen >= c.Quorum {
			return true, nil
		}
	}

	c.log.Warn("challenge record not confirmed on resolver quorum",
		zap.String("record", record),
		zap.Int("quorum", c.Quorum),
		zap.Int("attempts", c.Attempts))
	if c.Required {
		return false, fmt.Errorf(
			"record %q did not reach %d of %d resolvers after %d attempts",
			record, c.Quorum, len(c.Resolvers), c.Attempts)
	}
	return false, nil
}

// countSeen queries every resolver concurrently and counts how many
// returned the expected value.
func (c *Checker) countSeen(ctx context.Context, fqdn, value string) int {
	results := make(chan bool, len(c.Resolvers))
	for _, resolver := range c.Resolvers {
		go func(resolver string) {
			values, err := c.queryTXT(ctx, resolver, fqdn)
			if err != nil {
				c.log.Debug("resolver query failed",
					zap.String("resolver", resolver),
					zap.Error(err))
				results <- false
				return
			}
			for _, v := range values {
				if v == value {
					results <- true
					return
				}
			}
			results <- false
		}(resolver)
	}

	seen := 0
	for range c.Resolvers {
		if <-results {
			seen++
		}
	}
	return seen
}

// queryTXT performs a real TXT lookup against one resolver.
func queryTXT(ctx context.Context, resolver, fqdn string) ([]string, error) {
	if _, _, err := net.SplitHostPort(resolver); err != nil {
		resolver = net.JoinHostPort(resolver, "53")
	}

	m := new(mdns.Msg)
	m.SetQuestion(fqdn, mdns.TypeTXT)
	m.RecursionDesired = true

	client := &mdns.Client{Timeout: 5 * time.Second}
	in, _, err := client.ExchangeContext(ctx, m, resolver)
	if err != nil {
		return nil, err
	}
	if in.Rcode != mdns.RcodeSuccess {
		return nil, fmt.Errorf("resolver %q returned rcode %s",
			resolver, mdns.RcodeToString[in.Rcode])
	}

	var values []string
	for _, rr := range in.Answer {
		if txt, ok := rr.(*mdns.TXT); ok {
			values = append(values, txt.Txt...)
		}
	}
	return values, nil
}
