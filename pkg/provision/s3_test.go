package provision

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	headErr    error
	createErr  error
	created    bool
	versioned  bool
	encrypted  bool
	taggedKeys []string

	getErr  error
	putKeys []string
}

func (f *fakeS3) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(_ context.Context, _ *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) PutBucketVersioning(_ context.Context, _ *s3.PutBucketVersioningInput, _ ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error) {
	f.versioned = true
	return &s3.PutBucketVersioningOutput{}, nil
}

func (f *fakeS3) PutBucketEncryption(_ context.Context, in *s3.PutBucketEncryptionInput, _ ...func(*s3.Options)) (*s3.PutBucketEncryptionOutput, error) {
	rules := in.ServerSideEncryptionConfiguration.Rules
	if len(rules) == 1 && rules[0].ApplyServerSideEncryptionByDefault.SSEAlgorithm == s3types.ServerSideEncryptionAes256 {
		f.encrypted = true
	}
	return &s3.PutBucketEncryptionOutput{}, nil
}

func (f *fakeS3) PutBucketTagging(_ context.Context, in *s3.PutBucketTaggingInput, _ ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error) {
	for _, tag := range in.Tagging.TagSet {
		f.taggedKeys = append(f.taggedKeys, aws.ToString(tag.Key))
	}
	return &s3.PutBucketTaggingOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.putKeys = append(f.putKeys, aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, _ *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &s3.GetObjectOutput{ContentLength: aws.Int64(42)}, nil
}

func TestEnsureBucket(t *testing.T) {
	ctx := context.Background()
	log := logr.Discard()

	t.Run("reuses_existing", func(t *testing.T) {
		api := &fakeS3{}
		handle, err := EnsureBucket(ctx, log, api, "app-data", "us-west-2", nil)
		require.NoError(t, err)
		assert.False(t, api.created)
		assert.Equal(t, "arn:aws:s3:::app-data", handle.ARN)
	})

	t.Run("creates_with_versioning_and_encryption", func(t *testing.T) {
		api := &fakeS3{headErr: apiError("NotFound")}
		handle, err := EnsureBucket(ctx, log, api, "app-data", "us-west-2", map[string]string{"project": "app"})
		require.NoError(t, err)
		assert.True(t, api.created)
		assert.True(t, api.versioned)
		assert.True(t, api.encrypted)
		assert.Equal(t, []string{"project"}, api.taggedKeys)
		assert.Equal(t, "app-data.s3.us-west-2.amazonaws.com", handle.Endpoint)
	})

	t.Run("owned_race_is_reuse", func(t *testing.T) {
		api := &fakeS3{
			headErr:   apiError("NotFound"),
			createErr: apiError("BucketAlreadyOwnedByYou"),
		}
		_, err := EnsureBucket(ctx, log, api, "app-data", "us-west-2", nil)
		assert.NoError(t, err)
	})

	t.Run("permission_error_surfaces", func(t *testing.T) {
		api := &fakeS3{headErr: apiError("AccessDenied")}
		_, err := EnsureBucket(ctx, log, api, "app-data", "us-west-2", nil)
		assert.Error(t, err)
	})
}

func TestEnsureDatabaseObject(t *testing.T) {
	ctx := context.Background()
	log := logr.Discard()

	t.Run("existing_database_is_left_alone", func(t *testing.T) {
		api := &fakeS3{}
		seeded, err := EnsureDatabaseObject(ctx, log, api, "app-data", "database/app.db")
		require.NoError(t, err)
		assert.False(t, seeded)
		assert.Empty(t, api.putKeys)
	})

	t.Run("missing_database_is_seeded", func(t *testing.T) {
		api := &fakeS3{getErr: apiError("NoSuchKey")}
		seeded, err := EnsureDatabaseObject(ctx, log, api, "app-data", "database/app.db")
		require.NoError(t, err)
		assert.True(t, seeded)
		assert.Equal(t, []string{"database/app.db"}, api.putKeys)
	})

	t.Run("permission_error_surfaces", func(t *testing.T) {
		api := &fakeS3{getErr: apiError("AccessDenied")}
		_, err := EnsureDatabaseObject(ctx, log, api, "app-data", "database/app.db")
		assert.Error(t, err)
		assert.Empty(t, api.putKeys)
	})
}
