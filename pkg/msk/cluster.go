/*
Copyright 2025 David Arnold
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package msk inventories Amazon MSK clusters: cluster listing for the
// record pipeline, cluster details and bootstrap brokers, topic metadata
// read directly from the brokers and CloudWatch metrics.
package msk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kafka"
	kafkatypes "github.com/aws/aws-sdk-go-v2/service/kafka/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"gitlab.com/davidxarnold/census/pkg/cloud"
	"gitlab.com/davidxarnold/census/pkg/core"
	"gitlab.com/davidxarnold/census/pkg/util"
)

// KafkaAPI is the subset of the MSK control plane client used by this
// package.
type KafkaAPI interface {
	ListClustersV2(ctx context.Context, params *kafka.ListClustersV2Input, optFns ...func(*kafka.Options)) (*kafka.ListClustersV2Output, error)
	DescribeClusterV2(ctx context.Context, params *kafka.DescribeClusterV2Input, optFns ...func(*kafka.Options)) (*kafka.DescribeClusterV2Output, error)
	ListNodes(ctx context.Context, params *kafka.ListNodesInput, optFns ...func(*kafka.Options)) (*kafka.ListNodesOutput, error)
	GetBootstrapBrokers(ctx context.Context, params *kafka.GetBootstrapBrokersInput, optFns ...func(*kafka.Options)) (*kafka.GetBootstrapBrokersOutput, error)
}

// Cluster is the raw description of an MSK cluster.
type Cluster struct {
	ARN            *string
	Name           *string
	Type           *string
	State          *string
	KafkaVersion   *string
	InstanceType   *string
	BrokerCount    *int32
	ClientSubnets  []string
	SecurityGroups []string
	CreationTime   *time.Time
	TagSet         map[string]string
}

// ClusterFromSDK converts an MSK API cluster into a Cluster. Provisioned and
// serverless clusters carry their network settings in different places.
func ClusterFromSDK(c kafkatypes.Cluster) Cluster {
	out := Cluster{
		ARN:          c.ClusterArn,
		Name:         c.ClusterName,
		CreationTime: c.CreationTime,
		TagSet:       c.Tags,
	}
	if c.ClusterType != "" {
		out.Type = aws.String(string(c.ClusterType))
	}
	if c.State != "" {
		out.State = aws.String(string(c.State))
	}

	if p := c.Provisioned; p != nil {
		out.BrokerCount = p.NumberOfBrokerNodes
		if p.CurrentBrokerSoftwareInfo != nil {
			out.KafkaVersion = p.CurrentBrokerSoftwareInfo.KafkaVersion
		}
		if g := p.BrokerNodeGroupInfo; g != nil {
			out.InstanceType = g.InstanceType
			out.ClientSubnets = g.ClientSubnets
			out.SecurityGroups = g.SecurityGroups
		}
	}
	if s := c.Serverless; s != nil {
		for _, vpc := range s.VpcConfigs {
			out.ClientSubnets = append(out.ClientSubnets, vpc.SubnetIds...)
			out.SecurityGroups = append(out.SecurityGroups, vpc.SecurityGroupIds...)
		}
	}
	return out
}

// Identity implements core.Resource. The cluster type is the group and the
// broker instance type is the size.
func (c Cluster) Identity() core.Identity {
	id := core.Identity{
		ID:          c.ARN,
		Name:        c.Name,
		Group:       c.Type,
		SizeOrClass: c.InstanceType,
		State:       c.State,
	}
	if c.ARN != nil {
		if arn, ok := util.ParseARN(*c.ARN); ok && arn.Region != "" {
			id.Location = &arn.Region
		}
	}
	return id
}

// NetworkInterfaceCount implements core.Resource. Brokers get one ENI per
// client subnet.
func (c Cluster) NetworkInterfaceCount() int { return len(c.ClientSubnets) }

// Tags implements core.Resource, sorted by key.
func (c Cluster) Tags() []core.Tag {
	keys := make([]string, 0, len(c.TagSet))
	for k := range c.TagSet {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tags := make([]core.Tag, 0, len(keys))
	for _, k := range keys {
		tags = append(tags, core.Tag{Key: k, Value: c.TagSet[k]})
	}
	return tags
}

// ScopeIDFromResource implements core.ScopeIDResolver using the account
// field of the cluster ARN.
func (c Cluster) ScopeIDFromResource() (string, bool) {
	if c.ARN == nil {
		return "", false
	}
	arn, ok := util.ParseARN(*c.ARN)
	return arn.AccountID, ok && arn.AccountID != ""
}

// ListClusters returns every cluster visible in the configured region.
func ListClusters(ctx context.Context, api KafkaAPI) ([]Cluster, error) {
	var out []Cluster
	p := kafka.NewListClustersV2Paginator(api, &kafka.ListClustersV2Input{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list clusters: %w", cloud.APIError(err))
		}
		for _, c := range page.ClusterInfoList {
			out = append(out, ClusterFromSDK(c))
		}
	}
	return out, nil
}

// source implements cloud.Source for MSK clusters.
type source struct {
	kafka  KafkaAPI
	sts    cloud.STSAPI
	region string
}

// NewSource returns a cloud.Source over the given clients.
func NewSource(kafkaAPI KafkaAPI, stsAPI cloud.STSAPI, region string) cloud.Source {
	return &source{kafka: kafkaAPI, sts: stsAPI, region: region}
}

func (s *source) Name() string { return cloud.SourceMSK }

func (s *source) Scopes(ctx context.Context) ([]core.Scope, error) {
	scope, err := cloud.AWSScope(ctx, s.sts, s.region)
	if err != nil {
		return nil, err
	}
	return []core.Scope{scope}, nil
}

func (s *source) List(ctx context.Context, _ core.Scope) ([]core.Resource, error) {
	clusters, err := ListClusters(ctx, s.kafka)
	if err != nil {
		return nil, err
	}
	out := make([]core.Resource, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, c)
	}
	return out, nil
}

// Details is not supported: MSK clusters carry no operating system.
func (s *source) Details(context.Context, core.Scope, core.Resource) (core.OSHints, error) {
	return core.OSHints{}, cloud.ErrNotSupported
}

// PowerState returns the cluster state carried by the listing.
func (s *source) PowerState(_ context.Context, _ core.Scope, res core.Resource) (string, error) {
	state := res.Identity().State
	if state == nil || *state == "" {
		return "", errors.New("cluster state not reported")
	}
	return *state, nil
}

// Clients bundles the AWS clients used by the msk commands.
type Clients struct {
	Kafka  KafkaAPI
	STS    cloud.STSAPI
	Region string
}

// NewClients loads the shared AWS config and creates the MSK and STS
// clients.
func NewClients(ctx context.Context, region string) (*Clients, aws.Config, error) {
	cfg, err := cloud.LoadAWSConfig(ctx, region)
	if err != nil {
		return nil, aws.Config{}, err
	}
	return &Clients{
		Kafka:  kafka.NewFromConfig(cfg),
		STS:    sts.NewFromConfig(cfg),
		Region: cfg.Region,
	}, cfg, nil
}

// nolint:gochecknoinits // registration-style init keeps provider wiring local to this file.
func init() {
	cloud.RegisterSource(cloud.SourceMSK, func(ctx context.Context, opts cloud.Options) (cloud.Source, error) {
		c, _, err := NewClients(ctx, opts.Region)
		if err != nil {
			return nil, err
		}
		return NewSource(c.Kafka, c.STS, c.Region), nil
	})
}
