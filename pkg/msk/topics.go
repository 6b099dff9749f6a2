package msk

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// ClusterAdmin is the admin surface used to read topic metadata. It is the
// subset of sarama.ClusterAdmin plus a broker listing.
type ClusterAdmin interface {
	ListTopics() (map[string]sarama.TopicDetail, error)
	DescribeTopics(topics []string) ([]*sarama.TopicMetadata, error)
	DescribeConfig(resource sarama.ConfigResource) ([]sarama.ConfigEntry, error)
	Brokers() ([]BrokerInfo, error)
	Close() error
}

// AdminDialer opens a ClusterAdmin against a list of broker addresses.
type AdminDialer func(addrs []string, cfg *sarama.Config) (ClusterAdmin, error)

// SaramaDialer is the AdminDialer backed by sarama.NewClusterAdmin.
func SaramaDialer(addrs []string, cfg *sarama.Config) (ClusterAdmin, error) {
	admin, err := sarama.NewClusterAdmin(addrs, cfg)
	if err != nil {
		return nil, err
	}
	return saramaAdmin{admin}, nil
}

type saramaAdmin struct {
	sarama.ClusterAdmin
}

// Brokers lists the brokers from the cluster metadata, sorted by id.
func (a saramaAdmin) Brokers() ([]BrokerInfo, error) {
	brokers, _, err := a.DescribeCluster()
	if err != nil {
		return nil, err
	}
	infos := make([]BrokerInfo, 0, len(brokers))
	for _, b := range brokers {
		if b == nil {
			continue
		}
		host, port := splitHostPort(b.Addr())
		infos = append(infos, BrokerInfo{ID: b.ID(), Host: host, Port: port, Rack: b.Rack()})
	}
	return infos, nil
}

// TopicOptions configures TopicInventory.
type TopicOptions struct {
	// Detailed adds per-topic configuration entries.
	Detailed bool
	// TLS enables TLS on the broker connection.
	TLS bool
	// Timeout bounds dialing and admin requests. Zero means 30s.
	Timeout time.Duration
	// Dial opens the admin client; nil means SaramaDialer.
	Dial AdminDialer
}

// ClusterTopics is the topic and broker inventory of one cluster.
type ClusterTopics struct {
	ClusterName      string       `json:"clusterName" yaml:"clusterName"`
	BootstrapServers []string     `json:"bootstrapServers" yaml:"bootstrapServers"`
	ConnectedVia     string       `json:"connectedVia" yaml:"connectedVia"`
	Topics           []TopicInfo  `json:"topics" yaml:"topics"`
	TotalTopics      int          `json:"totalTopics" yaml:"totalTopics"`
	TotalPartitions  int          `json:"totalPartitions" yaml:"totalPartitions"`
	Brokers          []BrokerInfo `json:"brokers" yaml:"brokers"`
}

// TopicInfo describes one topic.
type TopicInfo struct {
	Name              string          `json:"name" yaml:"name"`
	Internal          bool            `json:"internal" yaml:"internal"`
	Partitions        int             `json:"partitions" yaml:"partitions"`
	ReplicationFactor int             `json:"replicationFactor" yaml:"replicationFactor"`
	PartitionDetails  []PartitionInfo `json:"partitionDetails" yaml:"partitionDetails"`
	Config            []ConfigEntry   `json:"config,omitempty" yaml:"config,omitempty"`
}

// PartitionInfo is the leadership and replica assignment of a partition.
type PartitionInfo struct {
	ID       int32   `json:"id" yaml:"id"`
	Leader   int32   `json:"leader" yaml:"leader"`
	Replicas []int32 `json:"replicas" yaml:"replicas"`
	ISR      []int32 `json:"isr" yaml:"isr"`
}

// BrokerInfo is one broker of the cluster metadata.
type BrokerInfo struct {
	ID   int32  `json:"id" yaml:"id"`
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	Rack string `json:"rack,omitempty" yaml:"rack,omitempty"`
}

// ConfigEntry is one topic configuration value.
type ConfigEntry struct {
	Name    string `json:"name" yaml:"name"`
	Value   string `json:"value" yaml:"value"`
	Default bool   `json:"default" yaml:"default"`
	Source  string `json:"source" yaml:"source"`
}

// BrokerLoad counts the partitions a broker leads and the replicas it holds.
type BrokerLoad struct {
	BrokerID int32 `json:"brokerId" yaml:"brokerId"`
	Leaders  int   `json:"leaders" yaml:"leaders"`
	Replicas int   `json:"replicas" yaml:"replicas"`
}

// ErrNoBrokerConnection is returned when no bootstrap string could be used.
var ErrNoBrokerConnection = errors.New("could not connect to any bootstrap server")

// NewSaramaConfig returns the admin client configuration for opts.
func NewSaramaConfig(opts TopicOptions) *sarama.Config {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cfg := sarama.NewConfig()
	cfg.ClientID = "census"
	cfg.Version = sarama.V2_8_0_0
	cfg.Net.DialTimeout = timeout
	cfg.Net.ReadTimeout = timeout
	cfg.Admin.Timeout = timeout
	cfg.Metadata.Full = true
	if opts.TLS {
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return cfg
}

// TopicInventory connects to the first usable bootstrap string and reads
// topic, partition and broker metadata. Each bootstrap string is a comma
// separated broker list as returned by BootstrapBrokers.
func TopicInventory(ctx context.Context, bootstraps []string, clusterName string, opts TopicOptions) (ClusterTopics, error) {
	dial := opts.Dial
	if dial == nil {
		dial = SaramaDialer
	}
	cfg := NewSaramaConfig(opts)

	result := ClusterTopics{ClusterName: clusterName, BootstrapServers: bootstraps}
	logger := log.WithField("cluster", clusterName)

	for _, bootstrap := range bootstraps {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		logger.Infof("connecting to %s", bootstrap)

		admin, err := dial(splitBrokers(bootstrap), cfg)
		if err != nil {
			logger.Warnf("error connecting to %s: %v", bootstrap, err)
			continue
		}
		err = readTopics(admin, &result, opts.Detailed, logger)
		if cerr := admin.Close(); cerr != nil {
			logger.Debugf("closing admin client: %v", cerr)
		}
		if err != nil {
			logger.Warnf("error reading metadata from %s: %v", bootstrap, err)
			continue
		}
		result.ConnectedVia = bootstrap
		return result, nil
	}
	return result, fmt.Errorf("%s: %w", clusterName, ErrNoBrokerConnection)
}

func readTopics(admin ClusterAdmin, result *ClusterTopics, detailed bool, logger *log.Entry) error {
	details, err := admin.ListTopics()
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	names := make([]string, 0, len(details))
	for name := range details {
		names = append(names, name)
	}
	sort.Strings(names)

	var metas []*sarama.TopicMetadata
	if len(names) > 0 {
		metas, err = admin.DescribeTopics(names)
		if err != nil {
			return fmt.Errorf("describe topics: %w", err)
		}
	}
	byName := make(map[string]*sarama.TopicMetadata, len(metas))
	for _, m := range metas {
		if m != nil {
			byName[m.Name] = m
		}
	}

	topics := make([]TopicInfo, 0, len(names))
	total := 0
	for _, name := range names {
		t := TopicInfo{
			Name:              name,
			Partitions:        int(details[name].NumPartitions),
			ReplicationFactor: int(details[name].ReplicationFactor),
		}
		if m, ok := byName[name]; ok {
			t.Internal = m.IsInternal
			t.Partitions = len(m.Partitions)
			for _, p := range m.Partitions {
				if p == nil {
					continue
				}
				t.PartitionDetails = append(t.PartitionDetails, PartitionInfo{
					ID:       p.ID,
					Leader:   p.Leader,
					Replicas: p.Replicas,
					ISR:      p.Isr,
				})
			}
			sort.Slice(t.PartitionDetails, func(i, j int) bool {
				return t.PartitionDetails[i].ID < t.PartitionDetails[j].ID
			})
			if t.ReplicationFactor == 0 && len(t.PartitionDetails) > 0 {
				t.ReplicationFactor = len(t.PartitionDetails[0].Replicas)
			}
		}
		if detailed {
			cfg, err := topicConfig(admin, name)
			if err != nil {
				logger.Warnf("error getting topic config for %s: %v", name, err)
			}
			t.Config = cfg
		}
		total += t.Partitions
		topics = append(topics, t)
	}

	infos, err := admin.Brokers()
	if err != nil {
		return fmt.Errorf("describe cluster: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	result.Topics = topics
	result.TotalTopics = len(topics)
	result.TotalPartitions = total
	result.Brokers = infos
	return nil
}

func topicConfig(admin ClusterAdmin, topic string) ([]ConfigEntry, error) {
	entries, err := admin.DescribeConfig(sarama.ConfigResource{Type: sarama.TopicResource, Name: topic})
	if err != nil {
		return nil, err
	}
	out := make([]ConfigEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, ConfigEntry{
			Name:    e.Name,
			Value:   e.Value,
			Default: e.Default,
			Source:  e.Source.String(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// BrokerDistribution counts, per broker, the partitions it leads and the
// replicas it holds across all topics. Results are sorted by broker id.
func BrokerDistribution(topics []TopicInfo) []BrokerLoad {
	loads := map[int32]*BrokerLoad{}
	get := func(id int32) *BrokerLoad {
		l, ok := loads[id]
		if !ok {
			l = &BrokerLoad{BrokerID: id}
			loads[id] = l
		}
		return l
	}
	for _, t := range topics {
		for _, p := range t.PartitionDetails {
			get(p.Leader).Leaders++
			for _, r := range p.Replicas {
				get(r).Replicas++
			}
		}
	}

	out := make([]BrokerLoad, 0, len(loads))
	for _, l := range loads {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BrokerID < out[j].BrokerID })
	return out
}

// SelectBootstraps returns the broker strings usable with the given
// security protocol ("plaintext" or "tls"). An empty protocol returns all
// plaintext and TLS strings in order.
func SelectBootstraps(eps []BootstrapEndpoint, protocol string) []string {
	var out []string
	for _, e := range eps {
		switch {
		case protocol == "" && (e.Auth == AuthPlaintext || e.Auth == AuthTLS):
			out = append(out, e.Brokers)
		case strings.EqualFold(protocol, e.Auth):
			out = append(out, e.Brokers)
		}
	}
	return out
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func splitHostPort(addr string) (string, int) {
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, _ := strconv.Atoi(p)
	return host, port
}
