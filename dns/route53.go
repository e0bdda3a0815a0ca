package dns

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"go.uber.org/zap"
)

func init() {
	RegisterProvider("route53", newRoute53)
}

// r53API is the slice of the Route 53 client the provider uses. Tests
// substitute a fake.
type r53API interface {
	ListHostedZones(ctx context.Context, in *route53.ListHostedZonesInput, opts ...func(*route53.Options)) (*route53.ListHostedZonesOutput, error)
	ChangeResourceRecordSets(ctx context.Context, in *route53.ChangeResourceRecordSetsInput, opts ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
}

// route53Provider manages TXT records through the AWS Route 53 API.
type route53Provider struct {
	api r53API
	log *zap.Logger
}

func newRoute53(ctx context.Context, conf Config) (Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if conf.Region != "" {
		opts = append(opts, awsconfig.WithRegion(conf.Region))
	}
	awsConf, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS configuration: %w", err)
	}
	return &route53Provider{
		api: route53.NewFromConfig(awsConf),
		log: conf.Logger,
	}, nil
}

func (p *route53Provider) OutOfBand() bool { return false }

func (p *route53Provider) CreateRecord(ctx context.Context, record, value string) error {
	return p.change(ctx, r53types.ChangeActionUpsert, record, value)
}

func (p *route53Provider) DeleteRecord(ctx context.Context, record, value string) error {
	return p.change(ctx, r53types.ChangeActionDelete, record, value)
}

func (p *route53Provider) change(ctx context.Context, action r53types.ChangeAction, record, value string) error {
	zoneID, err := p.findZone(ctx, record)
	if err != nil {
		return err
	}

	_, err = p.api.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch: &r53types.ChangeBatch{
			Changes: []r53types.Change{{
				Action: action,
				ResourceRecordSet: &r53types.ResourceRecordSet{
					Name: aws.String(fqdn(record)),
					Type: r53types.RRTypeTxt,
					TTL:  aws.Int64(60),
					ResourceRecords: []r53types.ResourceRecord{{
						// Route 53 requires TXT values quoted.
						Value: aws.String(fmt.Sprintf("%q", value)),
					}},
				},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("route53 %s of %q failed: %w", action, record, err)
	}

	p.log.Info("changed TXT record",
		zap.String("action", string(action)),
		zap.String("record", record),
		zap.String("zone", zoneID))
	return nil
}

// findZone picks the hosted zone whose name is the longest suffix of the
// record. When no zone matches, the record's last two labels are tried as
// a final guess before giving up.
func (p *route53Provider) findZone(ctx context.Context, record string) (string, error) {
	out, err := p.api.ListHostedZones(ctx, &route53.ListHostedZonesInput{})
	if err != nil {
		return "", fmt.Errorf("unable to list hosted zones: %w", err)
	}

	target := fqdn(record)
	var bestID string
	var bestLen int
	for _, zone := range out.HostedZones {
		if zone.Name == nil || zone.Id == nil {
			continue
		}
		name := fqdn(*zone.Name)
		if strings.HasSuffix(target, "."+name) || target == name {
			if len(name) > bestLen {
				bestLen = len(name)
				bestID = *zone.Id
			}
		}
	}
	if bestID != "" {
		return bestID, nil
	}

	// Fall back to the apex guess: the record's last two labels.
	labels := strings.Split(strings.TrimSuffix(target, "."), ".")
	if len(labels) >= 2 {
		apex := fqdn(strings.Join(labels[len(labels)-2:], "."))
		for _, zone := range out.HostedZones {
			if zone.Name != nil && zone.Id != nil && fqdn(*zone.Name) == apex {
				return *zone.Id, nil
			}
		}
	}
	return "", fmt.Errorf("no hosted zone found for record %q", record)
}

// fqdn ensures a trailing dot.
func fqdn(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}
