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

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	pt "github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"gitlab.com/davidxarnold/census/pkg/cloud"
	"gitlab.com/davidxarnold/census/pkg/core"
	"gitlab.com/davidxarnold/census/pkg/export"
	"gitlab.com/davidxarnold/census/pkg/msk"
)

// mskClients are the clients the MSK views use.
type mskClients struct {
	Kafka      msk.KafkaAPI
	CloudWatch msk.CloudWatchAPI
	// Dial opens Kafka admin connections; nil means sarama.
	Dial msk.AdminDialer
}

// newMSKClients is replaced in tests.
var newMSKClients = func(ctx context.Context, region string) (*mskClients, error) {
	c, cfg, err := msk.NewClients(ctx, region)
	if err != nil {
		return nil, err
	}
	return &mskClients{Kafka: c.Kafka, CloudWatch: msk.NewCloudWatchClient(cfg)}, nil
}

// NewMSKCmd creates the msk command group.
func NewMSKCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "msk",
		Short: "Inventory Amazon MSK clusters, topics and metrics",
	}
	cmd.AddCommand(newMSKClustersCmd(), newMSKTopicsCmd(), newMSKMetricsCmd())
	return cmd
}

func newMSKClustersCmd() *cobra.Command {
	var clusterARN string

	cmd := &cobra.Command{
		Use:           "clusters",
		Short:         "List MSK clusters, or describe one with --cluster-arn",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			region := viper.GetString("region")
			if clusterARN == "" {
				return runInventory(cmd.Context(), cmd.OutOrStdout(), inventoryRequest{
					Source:  cloud.SourceMSK,
					Label:   "msk",
					Options: cloud.Options{Region: region},
				})
			}

			s, err := loadSettings()
			if err != nil {
				return err
			}
			clients, err := newMSKClients(cmd.Context(), region)
			if err != nil {
				return err
			}
			return describeCluster(cmd.Context(), cmd.OutOrStdout(), clients, clusterARN, s)
		},
	}
	cmd.Flags().StringVar(&clusterARN, "cluster-arn", "", "Describe this cluster in detail")
	return cmd
}

// clusterView is the output of "msk clusters --cluster-arn".
type clusterView struct {
	Cluster   msk.ClusterDetail       `json:"cluster" yaml:"cluster"`
	Bootstrap []msk.BootstrapEndpoint `json:"bootstrapBrokers" yaml:"bootstrapBrokers"`
}

func describeCluster(ctx context.Context, w io.Writer, c *mskClients, arn string, s settings) error {
	detail, err := msk.DescribeCluster(ctx, c.Kafka, arn)
	if err != nil {
		return err
	}
	view := clusterView{Cluster: detail}
	if eps, err := msk.BootstrapBrokers(ctx, c.Kafka, arn); err != nil {
		log.WithField("cluster", detail.Name).Warnf("could not get bootstrap brokers: %v", err)
	} else {
		view.Bootstrap = eps
	}

	if s.Output == outputJSON {
		if err := writeJSON(w, view); err != nil {
			return err
		}
	} else {
		renderClusterView(w, view)
	}
	return saveView(s, view)
}

func renderClusterView(w io.Writer, v clusterView) {
	d := v.Cluster
	created := core.Unknown
	if d.CreationTime != nil {
		created = d.CreationTime.Format(time.RFC3339)
	}
	kvTable(w, "Cluster "+d.Name, [][2]string{
		{"ARN", d.ARN},
		{"Type", d.Type},
		{"State", d.State},
		{"Created", created},
		{"Kafka Version", d.KafkaVersion},
		{"Brokers", strconv.Itoa(d.BrokerCount)},
		{"Instance Type", d.InstanceType},
		{"Client Subnets", strings.Join(d.ClientSubnets, ", ")},
		{"Security Groups", strings.Join(d.SecurityGroups, ", ")},
		{"Encryption At Rest", d.EncryptionAtRest},
		{"Encryption In Transit", d.EncryptionInTransit},
		{"Tags", export.FormatTags(d.Tags, ", ")},
	})

	if len(d.ActiveBrokers) > 0 {
		t := pt.NewWriter()
		t.SetOutputMirror(w)
		t.SetTitle("Active Brokers")
		t.AppendHeader(pt.Row{"ID", "Instance Type", "Client Subnet", "Client IP", "Endpoints"})
		for _, b := range d.ActiveBrokers {
			t.AppendRow(pt.Row{b.ID, b.InstanceType, b.ClientSubnet, b.ClientIP, strings.Join(b.Endpoints, ", ")})
		}
		t.Render()
	}

	if len(v.Bootstrap) > 0 {
		t := pt.NewWriter()
		t.SetOutputMirror(w)
		t.SetTitle("Bootstrap Brokers")
		t.AppendHeader(pt.Row{"Auth", "Brokers"})
		for _, e := range v.Bootstrap {
			t.AppendRow(pt.Row{e.Auth, e.Brokers})
		}
		t.Render()
	}
}

func newMSKTopicsCmd() *cobra.Command {
	var (
		clusterARN string
		protocol   string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "List topics, partitions and brokers of MSK clusters",
		Long: `Connect to each ACTIVE cluster (or only --cluster-arn) through its bootstrap
brokers and list topics with partition counts, replication factors and the
leader/replica distribution over brokers. --detailed adds topic configs.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch strings.ToLower(protocol) {
			case "", msk.AuthPlaintext, msk.AuthTLS:
			default:
				return fmt.Errorf("unsupported security protocol %q, want plaintext or tls", protocol)
			}
			s, err := loadSettings()
			if err != nil {
				return err
			}
			clients, err := newMSKClients(cmd.Context(), viper.GetString("region"))
			if err != nil {
				return err
			}
			return listTopics(cmd.Context(), cmd.OutOrStdout(), clients, topicsRequest{
				ClusterARN: clusterARN,
				Protocol:   strings.ToLower(protocol),
				Timeout:    timeout,
			}, s)
		},
	}
	cmd.Flags().StringVar(&clusterARN, "cluster-arn", "", "Only inspect this cluster")
	cmd.Flags().StringVar(&protocol, "security-protocol", "", "Bootstrap protocol. One of: plaintext|tls (default: try both)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Kafka connection and request timeout")
	return cmd
}

type topicsRequest struct {
	ClusterARN string
	Protocol   string
	Timeout    time.Duration
}

// clusterTarget is a cluster selected for topic or metric inspection.
type clusterTarget struct {
	Name string
	ARN  string
}

// selectClusters returns the cluster named by arn, or every ACTIVE cluster.
func selectClusters(ctx context.Context, api msk.KafkaAPI, arn string) ([]clusterTarget, error) {
	if arn != "" {
		d, err := msk.DescribeCluster(ctx, api, arn)
		if err != nil {
			return nil, err
		}
		return []clusterTarget{{Name: d.Name, ARN: d.ARN}}, nil
	}

	clusters, err := msk.ListClusters(ctx, api)
	if err != nil {
		return nil, err
	}
	var out []clusterTarget
	for _, c := range clusters {
		name := aws.ToString(c.Name)
		if state := aws.ToString(c.State); state != "ACTIVE" {
			log.WithField("cluster", name).Infof("skipping cluster in state %s", state)
			continue
		}
		out = append(out, clusterTarget{Name: name, ARN: aws.ToString(c.ARN)})
	}
	return out, nil
}

// topicsFor reads the topic inventory of one cluster, trying plaintext then
// TLS bootstrap strings unless a protocol is forced.
func topicsFor(ctx context.Context, c *mskClients, t clusterTarget, req topicsRequest, detailed bool) (msk.ClusterTopics, error) {
	eps, err := msk.BootstrapBrokers(ctx, c.Kafka, t.ARN)
	if err != nil {
		return msk.ClusterTopics{}, err
	}

	protocols := []string{msk.AuthPlaintext, msk.AuthTLS}
	if req.Protocol != "" {
		protocols = []string{req.Protocol}
	}

	lastErr := fmt.Errorf("%s: no plaintext or tls bootstrap brokers", t.Name)
	for _, p := range protocols {
		bootstraps := msk.SelectBootstraps(eps, p)
		if len(bootstraps) == 0 {
			continue
		}
		topics, err := msk.TopicInventory(ctx, bootstraps, t.Name, msk.TopicOptions{
			Detailed: detailed,
			TLS:      p == msk.AuthTLS,
			Timeout:  req.Timeout,
			Dial:     c.Dial,
		})
		if err == nil {
			return topics, nil
		}
		lastErr = err
	}
	return msk.ClusterTopics{}, lastErr
}

// topicsView is the output of "msk topics".
type topicsView struct {
	Clusters []clusterTopicsView `json:"clusters" yaml:"clusters"`
}

type clusterTopicsView struct {
	msk.ClusterTopics  `yaml:",inline"`
	BrokerDistribution []msk.BrokerLoad `json:"brokerDistribution" yaml:"brokerDistribution"`
}

func listTopics(ctx context.Context, w io.Writer, c *mskClients, req topicsRequest, s settings) error {
	targets, err := selectClusters(ctx, c.Kafka, req.ClusterARN)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Fprintln(w, "No active MSK clusters found.")
		return nil
	}

	view := topicsView{Clusters: []clusterTopicsView{}}
	failed := 0
	for _, t := range targets {
		topics, err := topicsFor(ctx, c, t, req, s.Detailed)
		if err != nil {
			log.WithField("cluster", t.Name).Warnf("could not read topics: %v", err)
			failed++
			continue
		}
		view.Clusters = append(view.Clusters, clusterTopicsView{
			ClusterTopics:      topics,
			BrokerDistribution: msk.BrokerDistribution(topics.Topics),
		})
	}

	if s.Output == outputJSON {
		if err := writeJSON(w, view); err != nil {
			return err
		}
	} else {
		for _, ct := range view.Clusters {
			renderClusterTopics(w, ct, s.Detailed)
		}
	}
	if err := saveView(s, view); err != nil {
		return err
	}
	if failed == len(targets) {
		return fmt.Errorf("could not read topics of any of %d clusters", failed)
	}
	return nil
}

func renderClusterTopics(w io.Writer, ct clusterTopicsView, detailed bool) {
	headingColor.Fprintf(w, "\nCluster: %s\n", ct.ClusterName)
	fmt.Fprintf(w, "Connected via: %s\n", ct.ConnectedVia)
	fmt.Fprintf(w, "Topics: %d  Partitions: %d  Brokers: %d\n", ct.TotalTopics, ct.TotalPartitions, len(ct.Brokers))

	bt := pt.NewWriter()
	bt.SetOutputMirror(w)
	bt.SetTitle("Brokers")
	bt.AppendHeader(pt.Row{"ID", "Host", "Port", "Rack"})
	for _, b := range ct.Brokers {
		bt.AppendRow(pt.Row{b.ID, b.Host, b.Port, b.Rack})
	}
	bt.Render()

	tt := pt.NewWriter()
	tt.SetOutputMirror(w)
	tt.SetTitle("Topics")
	tt.AppendHeader(pt.Row{"Name", "Partitions", "Replication", "Internal"})
	for _, t := range ct.Topics {
		tt.AppendRow(pt.Row{t.Name, t.Partitions, t.ReplicationFactor, t.Internal})
	}
	tt.AppendFooter(pt.Row{"Total", ct.TotalPartitions})
	tt.Render()

	dt := pt.NewWriter()
	dt.SetOutputMirror(w)
	dt.SetTitle("Partition Distribution")
	dt.AppendHeader(pt.Row{"Broker", "Leaders", "Replicas"})
	for _, l := range ct.BrokerDistribution {
		dt.AppendRow(pt.Row{l.BrokerID, l.Leaders, l.Replicas})
	}
	dt.Render()

	if !detailed {
		return
	}
	for _, t := range ct.Topics {
		pd := pt.NewWriter()
		pd.SetOutputMirror(w)
		pd.SetTitle("Topic " + t.Name)
		pd.AppendHeader(pt.Row{"Partition", "Leader", "Replicas", "ISR"})
		for _, p := range t.PartitionDetails {
			pd.AppendRow(pt.Row{p.ID, p.Leader, joinInt32(p.Replicas), joinInt32(p.ISR)})
		}
		pd.Render()

		var custom []msk.ConfigEntry
		for _, e := range t.Config {
			if !e.Default {
				custom = append(custom, e)
			}
		}
		if len(custom) > 0 {
			ctab := pt.NewWriter()
			ctab.SetOutputMirror(w)
			ctab.AppendHeader(pt.Row{"Config", "Value", "Source"})
			for _, e := range custom {
				ctab.AppendRow(pt.Row{e.Name, e.Value, e.Source})
			}
			ctab.Render()
		}
	}
}

func joinInt32(ids []int32) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(int(id)))
	}
	return strings.Join(parts, ",")
}

func newMSKMetricsCmd() *cobra.Command {
	var (
		clusterARN    string
		hours         int
		brokerMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show CloudWatch metrics of MSK clusters",
		Long: `Read the AWS/Kafka CloudWatch metrics of each ACTIVE cluster (or only
--cluster-arn) over the last --hours and show the latest datapoint of each.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if hours <= 0 {
				return fmt.Errorf("--hours must be positive, got %d", hours)
			}
			s, err := loadSettings()
			if err != nil {
				return err
			}
			clients, err := newMSKClients(cmd.Context(), viper.GetString("region"))
			if err != nil {
				return err
			}
			return clusterMetrics(cmd.Context(), cmd.OutOrStdout(), clients, clusterARN,
				time.Duration(hours)*time.Hour, brokerMetrics, s)
		},
	}
	cmd.Flags().StringVar(&clusterARN, "cluster-arn", "", "Only read metrics of this cluster")
	cmd.Flags().IntVar(&hours, "hours", 24, "Look-back window in hours")
	cmd.Flags().BoolVar(&brokerMetrics, "broker-metrics", false, "Also read per-broker metrics")
	return cmd
}

// metricsView is the output of "msk metrics".
type metricsView struct {
	Clusters []msk.MetricsReport `json:"clusters" yaml:"clusters"`
}

func clusterMetrics(ctx context.Context, w io.Writer, c *mskClients, arn string, window time.Duration, brokers bool, s settings) error {
	targets, err := selectClusters(ctx, c.Kafka, arn)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Fprintln(w, "No active MSK clusters found.")
		return nil
	}

	collector := &msk.MetricsCollector{CloudWatch: c.CloudWatch, Kafka: c.Kafka}
	end := now().UTC()
	start := end.Add(-window)

	view := metricsView{Clusters: []msk.MetricsReport{}}
	for _, t := range targets {
		report := collector.ClusterMetrics(ctx, t.Name, t.ARN, start, end)
		if brokers {
			bm, err := collector.BrokerMetrics(ctx, t.Name, t.ARN, start, end)
			if err != nil {
				log.WithField("cluster", t.Name).Warnf("%v", err)
			}
			report.Brokers = bm
		}
		view.Clusters = append(view.Clusters, report)
	}

	if s.Output == outputJSON {
		if err := writeJSON(w, view); err != nil {
			return err
		}
	} else {
		for _, r := range view.Clusters {
			renderMetricsReport(w, r)
		}
	}
	return saveView(s, view)
}

func renderMetricsReport(w io.Writer, r msk.MetricsReport) {
	headingColor.Fprintf(w, "\nCluster: %s\n", r.ClusterName)
	fmt.Fprintf(w, "Window: %s - %s\n", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))

	t := pt.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Cluster Metrics")
	t.AppendHeader(pt.Row{"Metric", "Average", "Maximum", "Minimum", "Unit", "Timestamp"})
	for _, m := range r.Metrics {
		t.AppendRow(pt.Row{
			m.Name, formatStat(m.Latest.Average), formatStat(m.Latest.Maximum), formatStat(m.Latest.Minimum),
			m.Unit, m.Latest.Timestamp.Format(time.RFC3339),
		})
	}
	t.Render()

	if len(r.Summary) > 0 {
		names := make([]string, 0, len(r.Summary))
		for k := range r.Summary {
			names = append(names, k)
		}
		sort.Strings(names)
		rows := make([][2]string, 0, len(names))
		for _, n := range names {
			rows = append(rows, [2]string{n, strconv.FormatFloat(r.Summary[n], 'f', 0, 64)})
		}
		kvTable(w, "Summary", rows)
	}

	for _, b := range r.Brokers {
		bt := pt.NewWriter()
		bt.SetOutputMirror(w)
		bt.SetTitle("Broker " + b.BrokerID)
		bt.AppendHeader(pt.Row{"Metric", "Average", "Maximum"})
		for _, m := range b.Metrics {
			bt.AppendRow(pt.Row{m.Name, formatStat(m.Latest.Average), formatStat(m.Latest.Maximum)})
		}
		bt.Render()
	}
}

func formatStat(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(aws.ToFloat64(v), 'f', 2, 64)
}

// saveView writes an MSK view to the JSON or YAML save target. The CSV and
// text formats only apply to inventory records.
func saveView(s settings, v interface{}) error {
	target, ok := export.SelectSave(s.SaveJSON, s.SaveCSV, s.SaveText, s.SaveYAML)
	if !ok {
		return nil
	}
	switch target.Format {
	case export.FormatJSON, export.FormatYAML:
	default:
		log.Warnf("--save-%s is not supported for this view, use --save-json or --save-yaml", target.Format)
		return nil
	}

	// #nosec G304 - the path is chosen by the user on the command line
	f, err := os.Create(target.Path)
	if err != nil {
		return fmt.Errorf("create %s: %w", target.Path, err)
	}
	defer f.Close()

	if target.Format == export.FormatJSON {
		err = writeJSON(f, v)
	} else {
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		if err = enc.Encode(v); err == nil {
			err = enc.Close()
		}
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", target.Path, err)
	}
	log.Infof("results saved to %s", target.Path)
	return nil
}
