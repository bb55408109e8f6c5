package bootstrap

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"

	"ringcmh/internal/domain"
)

// Route53 discovers ring peers from SRV records under a hosted zone,
// and can advertise this node there so later joiners can find it.
type Route53 struct {
	client       *route53.Client
	hostedZoneID string
	domainSuffix string
	ttl          int64
}

// NewRoute53 builds a Route53 discoverer using the default AWS
// credential chain.
func NewRoute53(hostedZoneID, domainSuffix string, ttl int64) (*Route53, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return &Route53{
		client:       route53.NewFromConfig(awsCfg),
		hostedZoneID: hostedZoneID,
		domainSuffix: strings.TrimSuffix(domainSuffix, "."),
		ttl:          ttl,
	}, nil
}

// Discover lists every SRV record under the hosted zone matching our
// domain suffix and resolves each target to host:port endpoints.
func (r *Route53) Discover(ctx context.Context) ([]string, error) {
	var endpoints []string
	input := &route53.ListResourceRecordSetsInput{HostedZoneId: aws.String(r.hostedZoneID)}
	paginator := route53.NewListResourceRecordSetsPaginator(r.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		for _, rrset := range page.ResourceRecordSets {
			if rrset.Type != types.RRTypeSrv {
				continue
			}
			if !strings.HasSuffix(strings.TrimSuffix(*rrset.Name, "."), r.domainSuffix) {
				continue
			}
			for _, rr := range rrset.ResourceRecords {
				var prio, weight, port int
				var target string
				if _, err := fmt.Sscanf(*rr.Value, "%d %d %d %s", &prio, &weight, &port, &target); err != nil {
					continue
				}
				target = strings.TrimSuffix(target, ".")
				ips, err := net.LookupHost(target)
				if err != nil {
					continue
				}
				for _, ip := range ips {
					endpoints = append(endpoints, fmt.Sprintf("%s:%d", ip, port))
				}
			}
		}
	}
	return endpoints, nil
}

// Register upserts an SRV record advertising node under the hosted
// zone, keyed by the node's derived ID.
func (r *Route53) Register(ctx context.Context, node domain.Node) error {
	host, port, err := net.SplitHostPort(node.Addr)
	if err != nil {
		return err
	}
	recordName := fmt.Sprintf("%s.%s.", node.ID.String(), r.domainSuffix)
	_, err = r.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(r.hostedZoneID),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{{
				Action: types.ChangeActionUpsert,
				ResourceRecordSet: &types.ResourceRecordSet{
					Name: aws.String(recordName),
					Type: types.RRTypeSrv,
					TTL:  aws.Int64(r.ttl),
					ResourceRecords: []types.ResourceRecord{
						{Value: aws.String(fmt.Sprintf("0 0 %s %s.", port, host))},
					},
				},
			}},
		},
	})
	return err
}

// Deregister removes the SRV record installed by Register.
func (r *Route53) Deregister(ctx context.Context, node domain.Node) error {
	host, port, err := net.SplitHostPort(node.Addr)
	if err != nil {
		return err
	}
	recordName := fmt.Sprintf("%s.%s.", node.ID.String(), r.domainSuffix)
	_, err = r.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(r.hostedZoneID),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{{
				Action: types.ChangeActionDelete,
				ResourceRecordSet: &types.ResourceRecordSet{
					Name: aws.String(recordName),
					Type: types.RRTypeSrv,
					TTL:  aws.Int64(r.ttl),
					ResourceRecords: []types.ResourceRecord{
						{Value: aws.String(fmt.Sprintf("0 0 %s %s.", port, host))},
					},
				},
			}},
		},
	})
	return err
}
