package provision

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-logr/logr"

	"github.com/codecanvas/talaria/pkg/pipeline"
)

type S3API interface {
	HeadBucket(
		ctx context.Context,
		params *s3.HeadBucketInput,
		optFns ...func(*s3.Options),
	) (*s3.HeadBucketOutput, error)
	CreateBucket(
		ctx context.Context,
		params *s3.CreateBucketInput,
		optFns ...func(*s3.Options),
	) (*s3.CreateBucketOutput, error)
	PutBucketVersioning(
		ctx context.Context,
		params *s3.PutBucketVersioningInput,
		optFns ...func(*s3.Options),
	) (*s3.PutBucketVersioningOutput, error)
	PutBucketEncryption(
		ctx context.Context,
		params *s3.PutBucketEncryptionInput,
		optFns ...func(*s3.Options),
	) (*s3.PutBucketEncryptionOutput, error)
	PutBucketTagging(
		ctx context.Context,
		params *s3.PutBucketTaggingInput,
		optFns ...func(*s3.Options),
	) (*s3.PutBucketTaggingOutput, error)
	PutObject(
		ctx context.Context,
		params *s3.PutObjectInput,
		optFns ...func(*s3.Options),
	) (*s3.PutObjectOutput, error)
	GetObject(
		ctx context.Context,
		params *s3.GetObjectInput,
		optFns ...func(*s3.Options),
	) (*s3.GetObjectOutput, error)
}

// EnsureBucket creates a versioned, encrypted bucket or reuses an existing
// one owned by this account. Ownership conflicts surface as errors.
func EnsureBucket(ctx context.Context, logger logr.Logger, api S3API, name, region string, tags map[string]string) (Handle, error) {
	_, err := api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
	if err == nil {
		logger.Info("Bucket already exists, reusing", "name", name)
		return bucketHandle(name, region), nil
	}
	if Classify(err) != pipeline.NotFound {
		return Handle{}, opErr(fmt.Sprintf("checking bucket %q", name), err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(name)}
	// us-east-1 rejects an explicit location constraint.
	if region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(region),
		}
	}
	if _, err := api.CreateBucket(ctx, input); err != nil {
		if Classify(err) == pipeline.Conflict {
			logger.Info("Bucket already owned by this account, reusing", "name", name)
			return bucketHandle(name, region), nil
		}
		return Handle{}, opErr(fmt.Sprintf("creating bucket %q", name), err)
	}
	logger.Info("Bucket created", "name", name)

	_, err = api.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: aws.String(name),
		VersioningConfiguration: &s3types.VersioningConfiguration{
			Status: s3types.BucketVersioningStatusEnabled,
		},
	})
	if err != nil {
		return Handle{}, opErr(fmt.Sprintf("enabling versioning on bucket %q", name), err)
	}

	_, err = api.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
		Bucket: aws.String(name),
		ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
			Rules: []s3types.ServerSideEncryptionRule{{
				ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
					SSEAlgorithm: s3types.ServerSideEncryptionAes256,
				},
			}},
		},
	})
	if err != nil {
		return Handle{}, opErr(fmt.Sprintf("enabling encryption on bucket %q", name), err)
	}

	if len(tags) > 0 {
		var tagSet []s3types.Tag
		for k, v := range tags {
			tagSet = append(tagSet, s3types.Tag{Key: aws.String(k), Value: aws.String(v)})
		}
		_, err = api.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
			Bucket:  aws.String(name),
			Tagging: &s3types.Tagging{TagSet: tagSet},
		})
		if err != nil {
			return Handle{}, opErr(fmt.Sprintf("tagging bucket %q", name), err)
		}
	}

	return bucketHandle(name, region), nil
}

// EnsureDatabaseObject checks for the application database at key and writes
// an empty seed object when none exists. An existing database is never
// overwritten. Returns whether a seed was written.
func EnsureDatabaseObject(ctx context.Context, logger logr.Logger, api S3API, bucket, key string) (bool, error) {
	out, err := api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		if out.Body != nil {
			out.Body.Close()
		}
		logger.Info("Database object present", "bucket", bucket, "key", key, "bytes", aws.ToInt64(out.ContentLength))
		return false, nil
	}
	if Classify(err) != pipeline.NotFound {
		return false, opErr(fmt.Sprintf("checking object %q in bucket %q", key, bucket), err)
	}

	_, err = api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return false, opErr(fmt.Sprintf("seeding object %q in bucket %q", key, bucket), err)
	}
	logger.Info("Database object seeded", "bucket", bucket, "key", key)
	return true, nil
}

func bucketHandle(name, region string) Handle {
	return Handle{
		ID:       name,
		ARN:      "arn:aws:s3:::" + name,
		Endpoint: fmt.Sprintf("%s.s3.%s.amazonaws.com", name, region),
	}
}
