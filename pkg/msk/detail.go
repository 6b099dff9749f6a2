package msk

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kafka"
	kafkatypes "github.com/aws/aws-sdk-go-v2/service/kafka/types"
	log "github.com/sirupsen/logrus"

	"gitlab.com/davidxarnold/census/pkg/cloud"
	"gitlab.com/davidxarnold/census/pkg/core"
)

// ClusterDetail is the expanded description of one cluster.
type ClusterDetail struct {
	Name                string            `json:"name" yaml:"name"`
	ARN                 string            `json:"arn" yaml:"arn"`
	Type                string            `json:"type" yaml:"type"`
	State               string            `json:"state" yaml:"state"`
	CreationTime        *time.Time        `json:"creationTime,omitempty" yaml:"creationTime,omitempty"`
	KafkaVersion        string            `json:"kafkaVersion" yaml:"kafkaVersion"`
	BrokerCount         int               `json:"brokerCount" yaml:"brokerCount"`
	InstanceType        string            `json:"instanceType" yaml:"instanceType"`
	ClientSubnets       []string          `json:"clientSubnets" yaml:"clientSubnets"`
	SecurityGroups      []string          `json:"securityGroups" yaml:"securityGroups"`
	EncryptionAtRest    string            `json:"encryptionAtRest" yaml:"encryptionAtRest"`
	EncryptionInTransit string            `json:"encryptionInTransit" yaml:"encryptionInTransit"`
	Tags                map[string]string `json:"tags" yaml:"tags"`
	// ActiveBrokers is only populated for ACTIVE clusters.
	ActiveBrokers []Broker `json:"activeBrokers,omitempty" yaml:"activeBrokers,omitempty"`
}

// Broker is one broker node as reported by ListNodes.
type Broker struct {
	ID           string   `json:"id" yaml:"id"`
	InstanceType string   `json:"instanceType" yaml:"instanceType"`
	ClientSubnet string   `json:"clientSubnet" yaml:"clientSubnet"`
	ClientIP     string   `json:"clientIp" yaml:"clientIp"`
	Endpoints    []string `json:"endpoints" yaml:"endpoints"`
}

const notConfigured = "Not configured"

// DescribeCluster fetches the cluster and, when it is ACTIVE, its broker
// nodes. A ListNodes failure is logged and leaves ActiveBrokers empty.
func DescribeCluster(ctx context.Context, api KafkaAPI, arn string) (ClusterDetail, error) {
	out, err := api.DescribeClusterV2(ctx, &kafka.DescribeClusterV2Input{ClusterArn: aws.String(arn)})
	if err != nil {
		return ClusterDetail{}, fmt.Errorf("describe cluster %s: %w", arn, cloud.APIError(err))
	}
	if out.ClusterInfo == nil {
		return ClusterDetail{}, fmt.Errorf("describe cluster %s: empty response", arn)
	}

	c := ClusterFromSDK(*out.ClusterInfo)
	d := ClusterDetail{
		Name:                core.StringOr(c.Name, core.Unknown),
		ARN:                 core.StringOr(c.ARN, arn),
		Type:                core.StringOr(c.Type, core.Unknown),
		State:               core.StringOr(c.State, core.Unknown),
		CreationTime:        c.CreationTime,
		KafkaVersion:        core.StringOr(c.KafkaVersion, core.Unknown),
		BrokerCount:         int(aws.ToInt32(c.BrokerCount)),
		InstanceType:        core.StringOr(c.InstanceType, core.Unknown),
		ClientSubnets:       c.ClientSubnets,
		SecurityGroups:      c.SecurityGroups,
		EncryptionAtRest:    notConfigured,
		EncryptionInTransit: notConfigured,
		Tags:                core.TagMap(c.Tags()),
	}
	if p := out.ClusterInfo.Provisioned; p != nil && p.EncryptionInfo != nil {
		d.EncryptionAtRest, d.EncryptionInTransit = describeEncryption(p.EncryptionInfo)
	}

	if d.State == string(kafkatypes.ClusterStateActive) {
		brokers, err := ListBrokers(ctx, api, arn)
		if err != nil {
			log.WithField("cluster", d.Name).Warnf("could not get broker info: %v", err)
		} else {
			d.ActiveBrokers = brokers
		}
	}
	return d, nil
}

func describeEncryption(e *kafkatypes.EncryptionInfo) (atRest, inTransit string) {
	atRest, inTransit = notConfigured, notConfigured
	if r := e.EncryptionAtRest; r != nil && r.DataVolumeKMSKeyId != nil {
		atRest = "KMS " + *r.DataVolumeKMSKeyId
	}
	if t := e.EncryptionInTransit; t != nil {
		inTransit = "client-broker " + string(t.ClientBroker)
		if t.InCluster != nil {
			inTransit += ", in-cluster " + strconv.FormatBool(*t.InCluster)
		}
	}
	return atRest, inTransit
}

// ListBrokers returns the broker nodes of a cluster sorted by broker id.
func ListBrokers(ctx context.Context, api KafkaAPI, arn string) ([]Broker, error) {
	var brokers []Broker
	p := kafka.NewListNodesPaginator(api, &kafka.ListNodesInput{ClusterArn: aws.String(arn)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list nodes: %w", cloud.APIError(err))
		}
		for _, n := range page.NodeInfoList {
			bi := n.BrokerNodeInfo
			if bi == nil || bi.BrokerId == nil {
				continue
			}
			brokers = append(brokers, Broker{
				ID:           brokerID(*bi.BrokerId),
				InstanceType: aws.ToString(n.InstanceType),
				ClientSubnet: aws.ToString(bi.ClientSubnet),
				ClientIP:     aws.ToString(bi.ClientVpcIpAddress),
				Endpoints:    bi.Endpoints,
			})
		}
	}
	sort.SliceStable(brokers, func(i, j int) bool {
		a, _ := strconv.ParseFloat(brokers[i].ID, 64)
		b, _ := strconv.ParseFloat(brokers[j].ID, 64)
		return a < b
	})
	return brokers, nil
}

// brokerID renders the float broker id MSK reports as the integer form
// CloudWatch uses for the "Broker ID" dimension.
func brokerID(id float64) string {
	return strconv.FormatFloat(id, 'f', -1, 64)
}

// Authentication labels for bootstrap broker strings.
const (
	AuthPlaintext = "plaintext"
	AuthTLS       = "tls"
	AuthSASLScram = "sasl_scram"
	AuthSASLIAM   = "sasl_iam"
)

// BootstrapEndpoint is one bootstrap broker string and the authentication
// it expects.
type BootstrapEndpoint struct {
	Auth    string `json:"auth" yaml:"auth"`
	Brokers string `json:"brokers" yaml:"brokers"`
}

// BootstrapBrokers returns the cluster's bootstrap strings in the order
// plaintext, TLS, SASL/SCRAM, IAM. Absent strings are skipped.
func BootstrapBrokers(ctx context.Context, api KafkaAPI, arn string) ([]BootstrapEndpoint, error) {
	out, err := api.GetBootstrapBrokers(ctx, &kafka.GetBootstrapBrokersInput{ClusterArn: aws.String(arn)})
	if err != nil {
		return nil, fmt.Errorf("get bootstrap brokers %s: %w", arn, cloud.APIError(err))
	}

	var eps []BootstrapEndpoint
	for _, e := range []BootstrapEndpoint{
		{AuthPlaintext, aws.ToString(out.BootstrapBrokerString)},
		{AuthTLS, aws.ToString(out.BootstrapBrokerStringTls)},
		{AuthSASLScram, aws.ToString(out.BootstrapBrokerStringSaslScram)},
		{AuthSASLIAM, aws.ToString(out.BootstrapBrokerStringSaslIam)},
	} {
		if e.Brokers != "" {
			eps = append(eps, e)
		}
	}
	return eps, nil
}
