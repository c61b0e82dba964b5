package provision

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/go-logr/logr"

	"github.com/codecanvas/talaria/pkg/pipeline"
)

type IAMAPI interface {
	CreateRole(
		ctx context.Context,
		params *iam.CreateRoleInput,
		optFns ...func(*iam.Options),
	) (*iam.CreateRoleOutput, error)
	GetRole(
		ctx context.Context,
		params *iam.GetRoleInput,
		optFns ...func(*iam.Options),
	) (*iam.GetRoleOutput, error)
	PutRolePolicy(
		ctx context.Context,
		params *iam.PutRolePolicyInput,
		optFns ...func(*iam.Options),
	) (*iam.PutRolePolicyOutput, error)
	AttachRolePolicy(
		ctx context.Context,
		params *iam.AttachRolePolicyInput,
		optFns ...func(*iam.Options),
	) (*iam.AttachRolePolicyOutput, error)
}

// RoleSpec describes an execution role: who may assume it, which inline
// policies it carries, and which managed policies get attached.
type RoleSpec struct {
	Name            string
	TrustPolicy     string
	InlinePolicies  map[string]string
	ManagedPolicies []string
}

// EnsureRole creates the role or reuses an existing one with the same name,
// then upserts the inline policies and managed policy attachments. Policy
// upserts run on reuse as well so drifted documents converge.
func EnsureRole(ctx context.Context, logger logr.Logger, api IAMAPI, spec RoleSpec) (Handle, error) {
	var arn string

	out, err := api.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(spec.Name),
		AssumeRolePolicyDocument: aws.String(spec.TrustPolicy),
	})
	switch {
	case err == nil:
		arn = aws.ToString(out.Role.Arn)
		logger.Info("Role created", "name", spec.Name, "arn", arn)
	case Classify(err) == pipeline.Conflict:
		got, err := api.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(spec.Name)})
		if err != nil {
			return Handle{}, opErr(fmt.Sprintf("fetching existing role %q", spec.Name), err)
		}
		arn = aws.ToString(got.Role.Arn)
		logger.Info("Role already exists, reusing", "name", spec.Name, "arn", arn)
	default:
		return Handle{}, opErr(fmt.Sprintf("creating role %q", spec.Name), err)
	}

	for policyName, document := range spec.InlinePolicies {
		_, err := api.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
			RoleName:       aws.String(spec.Name),
			PolicyName:     aws.String(policyName),
			PolicyDocument: aws.String(document),
		})
		if err != nil {
			return Handle{}, opErr(fmt.Sprintf("putting inline policy %q on role %q", policyName, spec.Name), err)
		}
	}

	for _, policyARN := range spec.ManagedPolicies {
		_, err := api.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
			RoleName:  aws.String(spec.Name),
			PolicyArn: aws.String(policyARN),
		})
		if err != nil {
			return Handle{}, opErr(fmt.Sprintf("attaching policy %q to role %q", policyARN, spec.Name), err)
		}
	}

	return Handle{ID: spec.Name, ARN: arn}, nil
}

type policyStatement struct {
	Effect    string         `json:"Effect"`
	Principal map[string]any `json:"Principal,omitempty"`
	Action    any            `json:"Action"`
	Resource  any            `json:"Resource,omitempty"`
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

func renderPolicy(doc policyDocument) string {
	data, err := json.Marshal(doc)
	if err != nil {
		// Statically built documents cannot fail to marshal.
		panic(err)
	}
	return string(data)
}

// ServiceTrustPolicy allows the named AWS service principal to assume a role.
func ServiceTrustPolicy(service string) string {
	return renderPolicy(policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string]any{"Service": service},
			Action:    "sts:AssumeRole",
		}},
	})
}

// S3DatabasePolicy grants read and write access to the database objects in
// the given bucket.
func S3DatabasePolicy(bucket string) string {
	return renderPolicy(policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{
			{
				Effect:   "Allow",
				Action:   []string{"s3:GetObject", "s3:PutObject"},
				Resource: fmt.Sprintf("arn:aws:s3:::%s/*", bucket),
			},
			{
				Effect:   "Allow",
				Action:   "s3:ListBucket",
				Resource: "arn:aws:s3:::" + bucket,
			},
		},
	})
}

// EFSClientPolicy grants mount and write access to the given filesystem.
func EFSClientPolicy(filesystemARN string) string {
	return renderPolicy(policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect: "Allow",
			Action: []string{
				"elasticfilesystem:ClientMount",
				"elasticfilesystem:ClientWrite",
			},
			Resource: filesystemARN,
		}},
	})
}
