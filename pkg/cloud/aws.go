package cloud

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"gitlab.com/davidxarnold/census/pkg/core"
)

// EC2API is the subset of the EC2 client used by the EC2 source.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
}

// STSAPI is the subset of the STS client used to resolve the account scope.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// LoadAWSConfig loads the shared AWS configuration, overriding the region
// when one is given.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	return cfg, nil
}

// AWSScope resolves the caller's account as the single inventory scope.
// The region is part of the scope name.
func AWSScope(ctx context.Context, api STSAPI, region string) (core.Scope, error) {
	out, err := api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return core.Scope{}, fmt.Errorf("get caller identity: %w", APIError(err))
	}
	account := aws.ToString(out.Account)
	if account == "" {
		return core.Scope{}, errors.New("get caller identity: no account returned")
	}
	name := account
	if region != "" {
		name = account + " (" + region + ")"
	}
	return core.Scope{Name: name, ID: account}, nil
}

// APIError reduces an AWS API error to its error code and message.
func APIError(err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return fmt.Errorf("%s: %s", ae.ErrorCode(), ae.ErrorMessage())
	}
	return err
}

// EC2Instance is the raw description of an EC2 instance.
type EC2Instance struct {
	InstanceID       *string
	InstanceType     *string
	AvailabilityZone *string
	VpcID            *string
	State            *string
	ImageID          *string
	Platform         *string
	PlatformDetails  *string
	RootVolumeID     *string
	NICs             int
	TagList          []core.Tag
}

// EC2InstanceFromSDK converts an SDK instance into an EC2Instance.
func EC2InstanceFromSDK(in ec2types.Instance) EC2Instance {
	out := EC2Instance{
		InstanceID:      in.InstanceId,
		VpcID:           in.VpcId,
		ImageID:         in.ImageId,
		PlatformDetails: in.PlatformDetails,
		NICs:            len(in.NetworkInterfaces),
	}
	if in.InstanceType != "" {
		out.InstanceType = aws.String(string(in.InstanceType))
	}
	if in.Placement != nil {
		out.AvailabilityZone = in.Placement.AvailabilityZone
	}
	if in.State != nil && in.State.Name != "" {
		out.State = aws.String(string(in.State.Name))
	}
	if in.Platform != "" {
		out.Platform = aws.String(string(in.Platform))
	}
	root := aws.ToString(in.RootDeviceName)
	for _, bdm := range in.BlockDeviceMappings {
		if aws.ToString(bdm.DeviceName) == root && bdm.Ebs != nil {
			out.RootVolumeID = bdm.Ebs.VolumeId
			break
		}
	}
	for _, tag := range in.Tags {
		if tag.Key == nil {
			continue
		}
		out.TagList = append(out.TagList, core.Tag{Key: *tag.Key, Value: aws.ToString(tag.Value)})
	}
	return out
}

// Identity implements core.Resource. The Name tag is the display name; the
// VPC is the group.
func (i EC2Instance) Identity() core.Identity {
	name := i.InstanceID
	for _, t := range i.TagList {
		if t.Key == "Name" && t.Value != "" {
			v := t.Value
			name = &v
			break
		}
	}
	return core.Identity{
		ID:          i.InstanceID,
		Name:        name,
		Group:       i.VpcID,
		Location:    i.AvailabilityZone,
		SizeOrClass: i.InstanceType,
		State:       i.State,
	}
}

// NetworkInterfaceCount implements core.Resource.
func (i EC2Instance) NetworkInterfaceCount() int { return i.NICs }

// Tags implements core.Resource, in the order EC2 returned them.
func (i EC2Instance) Tags() []core.Tag { return i.TagList }

// ec2Source implements Source for EC2 instances in one account and region.
type ec2Source struct {
	ec2    EC2API
	sts    STSAPI
	region string
}

// NewEC2Source returns a Source over the given clients.
func NewEC2Source(ec2api EC2API, stsapi STSAPI, region string) Source {
	return &ec2Source{ec2: ec2api, sts: stsapi, region: region}
}

func (s *ec2Source) Name() string { return SourceEC2 }

func (s *ec2Source) Scopes(ctx context.Context) ([]core.Scope, error) {
	scope, err := AWSScope(ctx, s.sts, s.region)
	if err != nil {
		return nil, err
	}
	return []core.Scope{scope}, nil
}

func (s *ec2Source) List(ctx context.Context, _ core.Scope) ([]core.Resource, error) {
	var out []core.Resource
	p := ec2.NewDescribeInstancesPaginator(s.ec2, &ec2.DescribeInstancesInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", APIError(err))
		}
		for _, r := range page.Reservations {
			for _, in := range r.Instances {
				out = append(out, EC2InstanceFromSDK(in))
			}
		}
	}
	return out, nil
}

// Details looks up the AMI and the root volume of an instance.
func (s *ec2Source) Details(ctx context.Context, _ core.Scope, res core.Resource) (core.OSHints, error) {
	inst, ok := res.(EC2Instance)
	if !ok {
		return core.OSHints{}, fmt.Errorf("unexpected resource type %T", res)
	}
	id := aws.ToString(inst.InstanceID)
	h := core.OSHints{Tags: inst.TagList, ResourceName: id}

	switch {
	case strings.EqualFold(aws.ToString(inst.Platform), "windows"):
		h.WindowsConfiguration = true
	case strings.Contains(strings.ToLower(aws.ToString(inst.PlatformDetails)), "linux"):
		h.LinuxConfiguration = true
	}
	if inst.PlatformDetails != nil {
		h.OSType = inst.PlatformDetails
	}

	if inst.ImageID != nil {
		out, err := s.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{ImageIds: []string{*inst.ImageID}})
		if err != nil {
			return h, fmt.Errorf("describe image %s: %w", *inst.ImageID, APIError(err))
		}
		if len(out.Images) > 0 {
			img := out.Images[0]
			publisher := img.ImageOwnerAlias
			if publisher == nil {
				publisher = img.OwnerId
			}
			h.Image = &core.ImageReference{Publisher: publisher, Offer: img.Name}
		}
	}

	if inst.RootVolumeID != nil {
		out, err := s.ec2.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{VolumeIds: []string{*inst.RootVolumeID}})
		if err != nil {
			return h, fmt.Errorf("describe volume %s: %w", *inst.RootVolumeID, APIError(err))
		}
		if len(out.Volumes) > 0 && out.Volumes[0].Size != nil {
			size := strconv.FormatInt(int64(*out.Volumes[0].Size), 10)
			h.DiskSizeGB = &size
		}
	}

	return h, nil
}

// PowerState returns the instance state carried by the listing.
func (s *ec2Source) PowerState(_ context.Context, _ core.Scope, res core.Resource) (string, error) {
	state := res.Identity().State
	if state == nil || *state == "" {
		return "", errors.New("instance state not reported")
	}
	return *state, nil
}

// nolint:gochecknoinits // registration-style init keeps provider wiring local to this file.
func init() {
	RegisterSource(SourceEC2, func(ctx context.Context, opts Options) (Source, error) {
		cfg, err := LoadAWSConfig(ctx, opts.Region)
		if err != nil {
			return nil, err
		}
		return NewEC2Source(ec2.NewFromConfig(cfg), sts.NewFromConfig(cfg), cfg.Region), nil
	})
}
