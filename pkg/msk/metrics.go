package msk

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	log "github.com/sirupsen/logrus"

	"gitlab.com/davidxarnold/census/pkg/cloud"
)

// CloudWatchAPI is the subset of the CloudWatch client used for MSK metrics.
type CloudWatchAPI interface {
	GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
}

// CloudWatch namespace and dimensions for MSK.
const (
	MetricNamespace    = "AWS/Kafka"
	DimensionCluster   = "Cluster Name"
	DimensionBrokerID  = "Broker ID"
	MetricPeriodSecond = 300
)

// MetricDef names a CloudWatch metric and how to present it.
type MetricDef struct {
	Name        string
	Description string
	Unit        string
}

// ClusterMetricDefs are the cluster-level metrics collected.
var ClusterMetricDefs = []MetricDef{
	{"BytesInPerSec", "Bytes In Per Second", "Bytes/Second"},
	{"BytesOutPerSec", "Bytes Out Per Second", "Bytes/Second"},
	{"MessagesInPerSec", "Messages In Per Second", "Count/Second"},
	{"PartitionCount", "Number of Partitions", "Count"},
	{"TopicCount", "Number of Topics", "Count"},
	{"OfflinePartitionsCount", "Offline Partitions Count", "Count"},
	{"UnderReplicatedPartitions", "Under Replicated Partitions", "Count"},
	{"ActiveControllerCount", "Active Controller Count", "Count"},
	{"GlobalTopicCount", "Global Topic Count", "Count"},
	{"GlobalPartitionCount", "Global Partition Count", "Count"},
}

// BrokerMetricNames are the per-broker metrics collected.
var BrokerMetricNames = []string{
	"BytesInPerSec",
	"BytesOutPerSec",
	"MessagesInPerSec",
	"PartitionCount",
	"OfflinePartitionsCount",
	"UnderReplicatedPartitions",
}

// summaryMetrics are copied into MetricsReport.Summary.
var summaryMetrics = map[string]bool{
	"TopicCount":           true,
	"PartitionCount":       true,
	"GlobalTopicCount":     true,
	"GlobalPartitionCount": true,
}

// Datapoint is one CloudWatch statistics sample. Missing statistics are nil.
type Datapoint struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Average   *float64  `json:"average" yaml:"average"`
	Maximum   *float64  `json:"maximum" yaml:"maximum"`
	Minimum   *float64  `json:"minimum" yaml:"minimum"`
}

// MetricValue is the latest datapoint of a metric plus the full series.
type MetricValue struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Unit        string      `json:"unit,omitempty" yaml:"unit,omitempty"`
	Latest      Datapoint   `json:"latest" yaml:"latest"`
	Datapoints  []Datapoint `json:"datapoints,omitempty" yaml:"datapoints,omitempty"`
}

// MetricsReport holds the cluster metrics of one cluster. Metrics keep the
// order of ClusterMetricDefs; metrics without datapoints are omitted.
type MetricsReport struct {
	ClusterName string             `json:"clusterName" yaml:"clusterName"`
	ClusterARN  string             `json:"clusterArn" yaml:"clusterArn"`
	Start       time.Time          `json:"start" yaml:"start"`
	End         time.Time          `json:"end" yaml:"end"`
	Metrics     []MetricValue      `json:"metrics" yaml:"metrics"`
	Summary     map[string]float64 `json:"summary" yaml:"summary"`
	Brokers     []BrokerMetrics    `json:"brokers,omitempty" yaml:"brokers,omitempty"`
}

// BrokerMetrics holds the per-broker metrics of one broker.
type BrokerMetrics struct {
	BrokerID string        `json:"brokerId" yaml:"brokerId"`
	Metrics  []MetricValue `json:"metrics" yaml:"metrics"`
}

// MetricsCollector reads MSK metrics from CloudWatch.
type MetricsCollector struct {
	CloudWatch CloudWatchAPI
	Kafka      KafkaAPI
}

// NewCloudWatchClient creates a CloudWatch client from cfg.
func NewCloudWatchClient(cfg aws.Config) CloudWatchAPI {
	return cloudwatch.NewFromConfig(cfg)
}

// ClusterMetrics collects ClusterMetricDefs for a cluster over [start, end].
// A failing metric is logged and skipped.
func (m *MetricsCollector) ClusterMetrics(ctx context.Context, name, arn string, start, end time.Time) MetricsReport {
	report := MetricsReport{
		ClusterName: name,
		ClusterARN:  arn,
		Start:       start,
		End:         end,
		Summary:     map[string]float64{},
	}
	logger := log.WithField("cluster", name)
	dims := []cwtypes.Dimension{{Name: aws.String(DimensionCluster), Value: aws.String(name)}}

	for _, def := range ClusterMetricDefs {
		v, ok, err := m.metric(ctx, def.Name, dims, start, end)
		if err != nil {
			logger.Warnf("error getting metric %s: %v", def.Name, err)
			continue
		}
		if !ok {
			logger.Warnf("no datapoints found for metric %s", def.Name)
			continue
		}
		v.Description = def.Description
		v.Unit = def.Unit
		report.Metrics = append(report.Metrics, v)
		if summaryMetrics[def.Name] {
			report.Summary[def.Name] = aws.ToFloat64(v.Latest.Average)
		}
	}
	return report
}

// BrokerMetrics collects BrokerMetricNames for every broker of a cluster.
// It fails only when the broker list cannot be read.
func (m *MetricsCollector) BrokerMetrics(ctx context.Context, name, arn string, start, end time.Time) ([]BrokerMetrics, error) {
	brokers, err := ListBrokers(ctx, m.Kafka, arn)
	if err != nil {
		return nil, fmt.Errorf("could not get broker nodes for %s: %w", name, err)
	}

	out := make([]BrokerMetrics, 0, len(brokers))
	for _, b := range brokers {
		dims := []cwtypes.Dimension{
			{Name: aws.String(DimensionCluster), Value: aws.String(name)},
			{Name: aws.String(DimensionBrokerID), Value: aws.String(b.ID)},
		}
		bm := BrokerMetrics{BrokerID: b.ID}
		for _, metric := range BrokerMetricNames {
			v, ok, err := m.metric(ctx, metric, dims, start, end)
			if err != nil {
				log.WithFields(log.Fields{"cluster": name, "broker": b.ID}).Debugf("error getting broker metric %s: %v", metric, err)
				continue
			}
			if ok {
				v.Datapoints = nil
				bm.Metrics = append(bm.Metrics, v)
			}
		}
		out = append(out, bm)
	}
	return out, nil
}

func (m *MetricsCollector) metric(ctx context.Context, name string, dims []cwtypes.Dimension, start, end time.Time) (MetricValue, bool, error) {
	out, err := m.CloudWatch.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String(MetricNamespace),
		MetricName: aws.String(name),
		Dimensions: dims,
		StartTime:  aws.Time(start),
		EndTime:    aws.Time(end),
		Period:     aws.Int32(MetricPeriodSecond),
		Statistics: []cwtypes.Statistic{
			cwtypes.StatisticAverage,
			cwtypes.StatisticMaximum,
			cwtypes.StatisticMinimum,
		},
	})
	if err != nil {
		return MetricValue{}, false, cloud.APIError(err)
	}
	if len(out.Datapoints) == 0 {
		return MetricValue{}, false, nil
	}

	v := MetricValue{Name: name}
	for i, dp := range out.Datapoints {
		p := Datapoint{
			Timestamp: aws.ToTime(dp.Timestamp),
			Average:   dp.Average,
			Maximum:   dp.Maximum,
			Minimum:   dp.Minimum,
		}
		v.Datapoints = append(v.Datapoints, p)
		if i == 0 || p.Timestamp.After(v.Latest.Timestamp) {
			v.Latest = p
		}
	}
	return v, true, nil
}
