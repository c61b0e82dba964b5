package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Deployment is the root configuration for every talaria pipeline. Nothing
// about the target environment is compiled in; account IDs, resource names,
// and paths all arrive through this structure.
type Deployment struct {
	Logging   Logging   `json:"logging" yaml:"logging"`
	AWS       AWS       `json:"aws" yaml:"aws"`
	Build     Build     `json:"build" yaml:"build"`
	Hub       Hub       `json:"hub" yaml:"hub"`
	Registry  Registry  `json:"registry" yaml:"registry"`
	Storage   Storage   `json:"storage" yaml:"storage"`
	Lambda    Lambda    `json:"lambda" yaml:"lambda"`
	AppRunner AppRunner `json:"appRunner" yaml:"appRunner"`
	Edge      Edge      `json:"edge" yaml:"edge"`
	Verify    Verify    `json:"verify" yaml:"verify"`
}

func (d Deployment) Validate() error {
	var err error

	if d.AWS.Region == "" {
		err = multierr.Append(err, fmt.Errorf("aws.region cannot be blank"))
	}
	if d.AWS.Account == "" {
		err = multierr.Append(err, fmt.Errorf("aws.account cannot be blank"))
	}
	if d.Build.ContextDir == "" {
		err = multierr.Append(err, fmt.Errorf("build.contextDir cannot be blank"))
	}
	if d.Build.ManifestPath == "" {
		err = multierr.Append(err, fmt.Errorf("build.manifestPath cannot be blank"))
	}
	if d.Registry.Repository == "" {
		err = multierr.Append(err, fmt.Errorf("registry.repository cannot be blank"))
	}
	if d.Lambda.FunctionName == "" {
		err = multierr.Append(err, fmt.Errorf("lambda.functionName cannot be blank"))
	}
	if d.Lambda.MemoryMB < 128 {
		err = multierr.Append(err, fmt.Errorf("lambda.memoryMB must be at least 128"))
	}
	if d.Lambda.TimeoutSeconds < 1 || d.Lambda.TimeoutSeconds > 900 {
		err = multierr.Append(err, fmt.Errorf("lambda.timeoutSeconds must be between 1 and 900"))
	}
	if d.AppRunner.ServiceName == "" {
		err = multierr.Append(err, fmt.Errorf("appRunner.serviceName cannot be blank"))
	}
	for name, policy := range map[string]Wait{
		"verify.endpoint":     d.Verify.Endpoint,
		"verify.domain":       d.Verify.Domain,
		"verify.resource":     d.Verify.Resource,
		"verify.invalidation": d.Verify.Invalidation,
	} {
		if policy.MaxAttempts < 1 {
			err = multierr.Append(err, fmt.Errorf("%s.maxAttempts must be at least 1", name))
		}
		if policy.DelaySeconds < 0 {
			err = multierr.Append(err, fmt.Errorf("%s.delaySeconds cannot be negative", name))
		}
	}

	if err != nil {
		return fmt.Errorf("config is invalid: %w", err)
	}
	return nil
}

type Logging struct {
	Encoder         string `json:"encoder" yaml:"encoder"`
	LogLevel        string `json:"level" yaml:"level"`
	StacktraceLevel string `json:"stacktraceLevel" yaml:"stacktraceLevel"`

	Logfile LogfileLogging `json:"logfile" yaml:"logfile"`
}

type LogfileLogging struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Filepath string `json:"filepath" yaml:"filepath"`
}

type AWS struct {
	Region  string `json:"region" yaml:"region"`
	Account string `json:"account" yaml:"account"`
}

// Build locates the application source and its build definitions.
type Build struct {
	// ContextDir is the docker build context directory.
	ContextDir string `json:"contextDir" yaml:"contextDir"`
	// ManifestPath is the package.json supplying the release version.
	ManifestPath string `json:"manifestPath" yaml:"manifestPath"`
	// AppDockerfile builds the web application image.
	AppDockerfile string `json:"appDockerfile" yaml:"appDockerfile"`
	// DBInitDockerfile builds the database bootstrap image.
	DBInitDockerfile string `json:"dbInitDockerfile" yaml:"dbInitDockerfile"`
	// LambdaDockerfile builds the Lambda-compatible image.
	LambdaDockerfile string `json:"lambdaDockerfile" yaml:"lambdaDockerfile"`
	// TagOverride pins the image tag instead of deriving it from the manifest.
	TagOverride string `json:"tagOverride" yaml:"tagOverride,omitempty"`
}

// Hub names the public registry coordinates for the app and db-init images.
type Hub struct {
	Username    string `json:"username" yaml:"username"`
	AppImage    string `json:"appImage" yaml:"appImage"`
	DBInitImage string `json:"dbInitImage" yaml:"dbInitImage"`
}

// Registry names the private ECR repository for the compute image.
type Registry struct {
	Repository string `json:"repository" yaml:"repository"`
}

// Storage configures the S3 bucket that persists the application database.
type Storage struct {
	Bucket      string `json:"bucket" yaml:"bucket"`
	DatabaseKey string `json:"databaseKey" yaml:"databaseKey"`
}

type Lambda struct {
	FunctionName       string            `json:"functionName" yaml:"functionName"`
	MemoryMB           int32             `json:"memoryMB" yaml:"memoryMB"`
	TimeoutSeconds     int32             `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	EphemeralStorageMB int32             `json:"ephemeralStorageMB" yaml:"ephemeralStorageMB"`
	Environment        map[string]string `json:"environment" yaml:"environment,omitempty"`
}

type AppRunner struct {
	ServiceName     string            `json:"serviceName" yaml:"serviceName"`
	Port            string            `json:"port" yaml:"port"`
	CPU             string            `json:"cpu" yaml:"cpu"`
	Memory          string            `json:"memory" yaml:"memory"`
	HealthCheckPath string            `json:"healthCheckPath" yaml:"healthCheckPath"`
	Environment     map[string]string `json:"environment" yaml:"environment,omitempty"`
	// FileSystemName names the EFS volume provisioned alongside the service.
	FileSystemName string `json:"fileSystemName" yaml:"fileSystemName"`
}

// Edge configures the public entry: DNS zone, certificate, and CDN.
type Edge struct {
	Domain string `json:"domain" yaml:"domain"`
	// Origin is the compute endpoint host the distribution forwards to; when
	// unset the edge pipeline falls back to the endpoint the run produced.
	Origin         string `json:"origin" yaml:"origin,omitempty"`
	HostedZoneID   string `json:"hostedZoneID" yaml:"hostedZoneID,omitempty"`
	DistributionID string `json:"distributionID" yaml:"distributionID,omitempty"`
	// APIGatewayID is verified, never created, by the update pipeline.
	APIGatewayID   string `json:"apiGatewayID" yaml:"apiGatewayID,omitempty"`
	APIGatewayName string `json:"apiGatewayName" yaml:"apiGatewayName,omitempty"`
}

// Wait bounds one verification loop.
type Wait struct {
	MaxAttempts  int `json:"maxAttempts" yaml:"maxAttempts"`
	DelaySeconds int `json:"delaySeconds" yaml:"delaySeconds"`
}

func (w Wait) Delay() time.Duration {
	return time.Duration(w.DelaySeconds) * time.Second
}

// Verify sizes the retry budgets against each external system's known
// propagation latency: seconds for a warm endpoint, minutes for DNS, up to
// ten minutes for a CloudFront invalidation.
type Verify struct {
	// Endpoint checks the compute endpoint directly.
	Endpoint Wait `json:"endpoint" yaml:"endpoint"`
	// Domain checks the public domain through DNS and the CDN.
	Domain Wait `json:"domain" yaml:"domain"`
	// Resource polls cloud resource state (function updates, services, EFS).
	Resource Wait `json:"resource" yaml:"resource"`
	// Invalidation polls CloudFront invalidation completion.
	Invalidation Wait `json:"invalidation" yaml:"invalidation"`
}

// LoadFromFile reads a yaml or json deployment config.
func LoadFromFile(filename string) (Deployment, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return Deployment{}, err
	}

	cfg := WithDefaults()
	switch ext := filepath.Ext(filename); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(bs, &cfg)
	case ".json":
		err = json.Unmarshal(bs, &cfg)
	default:
		return Deployment{}, fmt.Errorf("file extension %q is not allowed", ext)
	}

	return cfg, err
}

// WithDefaults returns a config carrying the retry budgets and compute
// sizing that suit a small web application; the file only has to name
// resources.
func WithDefaults() Deployment {
	return Deployment{
		Build: Build{
			AppDockerfile:    "Dockerfile",
			DBInitDockerfile: "Dockerfile.db",
			LambdaDockerfile: "Dockerfile.lambda",
			ManifestPath:     "package.json",
		},
		Lambda: Lambda{
			MemoryMB:           2048,
			TimeoutSeconds:     900,
			EphemeralStorageMB: 1024,
		},
		AppRunner: AppRunner{
			Port:            "3000",
			CPU:             "1 vCPU",
			Memory:          "2 GB",
			HealthCheckPath: "/",
		},
		Verify: Verify{
			Endpoint:     Wait{MaxAttempts: 5, DelaySeconds: 15},
			Domain:       Wait{MaxAttempts: 5, DelaySeconds: 20},
			Resource:     Wait{MaxAttempts: 60, DelaySeconds: 5},
			Invalidation: Wait{MaxAttempts: 30, DelaySeconds: 20},
		},
	}
}
