package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/efs"
	efstypes "github.com/aws/aws-sdk-go-v2/service/efs/types"
	"github.com/go-logr/logr"

	"github.com/codecanvas/talaria/pkg/pipeline"
)

type EFSAPI interface {
	DescribeFileSystems(
		ctx context.Context,
		params *efs.DescribeFileSystemsInput,
		optFns ...func(*efs.Options),
	) (*efs.DescribeFileSystemsOutput, error)
	CreateFileSystem(
		ctx context.Context,
		params *efs.CreateFileSystemInput,
		optFns ...func(*efs.Options),
	) (*efs.CreateFileSystemOutput, error)
	CreateMountTarget(
		ctx context.Context,
		params *efs.CreateMountTargetInput,
		optFns ...func(*efs.Options),
	) (*efs.CreateMountTargetOutput, error)
	CreateAccessPoint(
		ctx context.Context,
		params *efs.CreateAccessPointInput,
		optFns ...func(*efs.Options),
	) (*efs.CreateAccessPointOutput, error)
	DescribeAccessPoints(
		ctx context.Context,
		params *efs.DescribeAccessPointsInput,
		optFns ...func(*efs.Options),
	) (*efs.DescribeAccessPointsOutput, error)
}

// EnsureFilesystem creates an encrypted filesystem tagged with the given name,
// or reuses an existing one carrying that Name tag. The creation token makes
// the create itself idempotent against request replays.
func EnsureFilesystem(ctx context.Context, logger logr.Logger, api EFSAPI, name string) (Handle, error) {
	existing, err := api.DescribeFileSystems(ctx, &efs.DescribeFileSystemsInput{
		CreationToken: aws.String(name),
	})
	if err != nil && Classify(err) != pipeline.NotFound {
		return Handle{}, opErr(fmt.Sprintf("describing filesystem %q", name), err)
	}
	if existing != nil && len(existing.FileSystems) > 0 {
		fs := existing.FileSystems[0]
		logger.Info("Filesystem already exists, reusing", "name", name, "id", aws.ToString(fs.FileSystemId))
		return Handle{
			ID:  aws.ToString(fs.FileSystemId),
			ARN: aws.ToString(fs.FileSystemArn),
		}, nil
	}

	created, err := api.CreateFileSystem(ctx, &efs.CreateFileSystemInput{
		CreationToken: aws.String(name),
		Encrypted:     aws.Bool(true),
		Tags: []efstypes.Tag{{
			Key:   aws.String("Name"),
			Value: aws.String(name),
		}},
	})
	if err != nil {
		return Handle{}, opErr(fmt.Sprintf("creating filesystem %q", name), err)
	}

	logger.Info("Filesystem created", "name", name, "id", aws.ToString(created.FileSystemId))
	return Handle{
		ID:  aws.ToString(created.FileSystemId),
		ARN: aws.ToString(created.FileSystemArn),
	}, nil
}

// EnsureMountTargets creates one mount target per subnet, treating existing
// targets as reuse. New filesystems are briefly in "creating" so conflicts
// and unsettled states are retried.
func EnsureMountTargets(ctx context.Context, logger logr.Logger, api EFSAPI, filesystemID, securityGroupID string, subnetIDs []string) error {
	for _, subnetID := range subnetIDs {
		probe := func(ctx context.Context) pipeline.ProbeOutcome {
			_, err := api.CreateMountTarget(ctx, &efs.CreateMountTargetInput{
				FileSystemId:   aws.String(filesystemID),
				SubnetId:       aws.String(subnetID),
				SecurityGroups: []string{securityGroupID},
			})
			switch {
			case err == nil:
				return pipeline.Healthy()
			case mountTargetExists(err):
				return pipeline.Healthy()
			case Classify(err) == pipeline.TransientInfrastructure, filesystemSettling(err):
				return pipeline.Retry(err.Error())
			default:
				return pipeline.GiveUp(err.Error())
			}
		}
		ok, reason := pipeline.Verify(ctx, probe, pipeline.RetryPolicy{MaxAttempts: 12, Delay: settleDelay})
		if !ok {
			return opErr(fmt.Sprintf("creating mount target in subnet %q", subnetID), fmt.Errorf("%s", reason))
		}
	}
	logger.Info("Mount targets in place", "filesystem", filesystemID, "subnets", len(subnetIDs))
	return nil
}

func mountTargetExists(err error) bool {
	var conflict *efstypes.MountTargetConflict
	return errors.As(err, &conflict)
}

func filesystemSettling(err error) bool {
	var incompatible *efstypes.IncorrectFileSystemLifeCycleState
	return errors.As(err, &incompatible)
}

// EnsureAccessPoint creates a posix access point rooted at path, reusing one
// that already exists for this filesystem and path.
func EnsureAccessPoint(ctx context.Context, logger logr.Logger, api EFSAPI, filesystemID, path string) (Handle, error) {
	existing, err := api.DescribeAccessPoints(ctx, &efs.DescribeAccessPointsInput{
		FileSystemId: aws.String(filesystemID),
	})
	if err != nil {
		return Handle{}, opErr(fmt.Sprintf("describing access points of %q", filesystemID), err)
	}
	for _, ap := range existing.AccessPoints {
		if ap.RootDirectory != nil && aws.ToString(ap.RootDirectory.Path) == path {
			logger.Info("Access point already exists, reusing", "id", aws.ToString(ap.AccessPointId))
			return Handle{
				ID:  aws.ToString(ap.AccessPointId),
				ARN: aws.ToString(ap.AccessPointArn),
			}, nil
		}
	}

	created, err := api.CreateAccessPoint(ctx, &efs.CreateAccessPointInput{
		FileSystemId: aws.String(filesystemID),
		PosixUser: &efstypes.PosixUser{
			Uid: aws.Int64(1000),
			Gid: aws.Int64(1000),
		},
		RootDirectory: &efstypes.RootDirectory{
			Path: aws.String(path),
			CreationInfo: &efstypes.CreationInfo{
				OwnerUid:    aws.Int64(1000),
				OwnerGid:    aws.Int64(1000),
				Permissions: aws.String("750"),
			},
		},
	})
	if err != nil {
		return Handle{}, opErr(fmt.Sprintf("creating access point at %q", path), err)
	}

	logger.Info("Access point created", "id", aws.ToString(created.AccessPointId), "path", path)
	return Handle{
		ID:  aws.ToString(created.AccessPointId),
		ARN: aws.ToString(created.AccessPointArn),
	}, nil
}
