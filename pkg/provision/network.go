package provision

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/go-logr/logr"

	"github.com/codecanvas/talaria/pkg/pipeline"
)

type EC2API interface {
	DescribeVpcs(
		ctx context.Context,
		params *ec2.DescribeVpcsInput,
		optFns ...func(*ec2.Options),
	) (*ec2.DescribeVpcsOutput, error)
	DescribeSubnets(
		ctx context.Context,
		params *ec2.DescribeSubnetsInput,
		optFns ...func(*ec2.Options),
	) (*ec2.DescribeSubnetsOutput, error)
	DescribeSecurityGroups(
		ctx context.Context,
		params *ec2.DescribeSecurityGroupsInput,
		optFns ...func(*ec2.Options),
	) (*ec2.DescribeSecurityGroupsOutput, error)
	CreateSecurityGroup(
		ctx context.Context,
		params *ec2.CreateSecurityGroupInput,
		optFns ...func(*ec2.Options),
	) (*ec2.CreateSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngress(
		ctx context.Context,
		params *ec2.AuthorizeSecurityGroupIngressInput,
		optFns ...func(*ec2.Options),
	) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
}

// Network is the resolved VPC context a function or filesystem attaches to.
type Network struct {
	VpcID           string
	SubnetIDs       []string
	SecurityGroupID string
}

// DefaultNetwork resolves the account's default VPC, its subnets, and an
// intra-VPC security group named after the deployment, creating the group if
// absent. The group allows NFS traffic between members so functions can
// mount the shared filesystem.
func DefaultNetwork(ctx context.Context, logger logr.Logger, api EC2API, groupName string) (Network, error) {
	vpcs, err := api.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("isDefault"),
			Values: []string{"true"},
		}},
	})
	if err != nil {
		return Network{}, opErr("describing default vpc", err)
	}
	if len(vpcs.Vpcs) == 0 {
		return Network{}, &pipeline.Failure{
			Kind:    pipeline.NotFound,
			Message: "no default vpc in this region",
			Hint:    "create a default vpc or configure explicit subnets",
		}
	}
	vpcID := aws.ToString(vpcs.Vpcs[0].VpcId)

	subnets, err := api.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("vpc-id"),
			Values: []string{vpcID},
		}},
	})
	if err != nil {
		return Network{}, opErr("describing subnets", err)
	}
	var subnetIDs []string
	for _, s := range subnets.Subnets {
		subnetIDs = append(subnetIDs, aws.ToString(s.SubnetId))
	}
	if len(subnetIDs) == 0 {
		return Network{}, &pipeline.Failure{
			Kind:    pipeline.NotFound,
			Message: fmt.Sprintf("default vpc %s has no subnets", vpcID),
		}
	}

	groupID, err := ensureSecurityGroup(ctx, logger, api, vpcID, groupName)
	if err != nil {
		return Network{}, err
	}

	return Network{VpcID: vpcID, SubnetIDs: subnetIDs, SecurityGroupID: groupID}, nil
}

func ensureSecurityGroup(ctx context.Context, logger logr.Logger, api EC2API, vpcID, name string) (string, error) {
	existing, err := api.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("vpc-id"), Values: []string{vpcID}},
			{Name: aws.String("group-name"), Values: []string{name}},
		},
	})
	if err != nil {
		return "", opErr(fmt.Sprintf("describing security group %q", name), err)
	}
	if len(existing.SecurityGroups) > 0 {
		id := aws.ToString(existing.SecurityGroups[0].GroupId)
		logger.Info("Security group already exists, reusing", "name", name, "id", id)
		return id, nil
	}

	created, err := api.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String("nfs access for " + name),
		VpcId:       aws.String(vpcID),
	})
	if err != nil {
		return "", opErr(fmt.Sprintf("creating security group %q", name), err)
	}
	groupID := aws.ToString(created.GroupId)
	logger.Info("Security group created", "name", name, "id", groupID)

	_, err = api.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: aws.String(groupID),
		IpPermissions: []ec2types.IpPermission{{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(2049),
			ToPort:     aws.Int32(2049),
			UserIdGroupPairs: []ec2types.UserIdGroupPair{{
				GroupId: aws.String(groupID),
			}},
		}},
	})
	if err != nil && Classify(err) != pipeline.Conflict {
		return "", opErr(fmt.Sprintf("authorizing nfs ingress on %q", name), err)
	}

	return groupID, nil
}
