// Package docker drives the local container engine CLI for image builds,
// tagging, and registry pushes.
package docker

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/codecanvas/talaria/pkg/command"
)

// BuildOptions describe one image build.
type BuildOptions struct {
	// ContextDir is the build context directory.
	ContextDir string
	// Dockerfile is the build definition, relative to ContextDir or absolute.
	Dockerfile string
	// Tag is the local image tag, e.g. "app:v1.2".
	Tag string
}

// Client shells out to the docker CLI. Every method converts a non-zero exit
// into an error carrying the captured stderr.
type Client struct {
	run command.Runner
	log logr.Logger
}

func NewClient(log logr.Logger) *Client {
	return &Client{run: command.Run, log: log}
}

// NewClientWithRunner is used by tests to substitute the process launcher.
func NewClientWithRunner(log logr.Logger, run command.Runner) *Client {
	return &Client{run: run, log: log}
}

// Ping confirms the docker daemon is up and answering.
func (c *Client) Ping(ctx context.Context) error {
	outcome := c.run(ctx, command.Command{Name: "docker", Args: []string{"info"}})
	if !outcome.Succeeded {
		return toolErr("docker info", outcome)
	}
	return nil
}

// Build runs a buildx build for linux/amd64 with provenance and SBOM
// manifests disabled; Lambda rejects OCI manifest lists, so the image must be
// loaded as a plain single-platform manifest.
func (c *Client) Build(ctx context.Context, opts BuildOptions) error {
	c.log.Info("Building image", "tag", opts.Tag, "dockerfile", opts.Dockerfile)

	outcome := c.run(ctx, command.Command{
		Name: "docker",
		Args: []string{
			"buildx", "build",
			"--platform", "linux/amd64",
			"--provenance=false",
			"--sbom=false",
			"--load",
			"-t", opts.Tag,
			"-f", opts.Dockerfile,
			opts.ContextDir,
		},
	})
	if !outcome.Succeeded {
		return toolErr(fmt.Sprintf("docker build %s", opts.Tag), outcome)
	}

	c.log.Info("Image built", "tag", opts.Tag)
	return nil
}

// TagImage applies an additional tag to a local image.
func (c *Client) TagImage(ctx context.Context, source, target string) error {
	outcome := c.run(ctx, command.Command{Name: "docker", Args: []string{"tag", source, target}})
	if !outcome.Succeeded {
		return toolErr(fmt.Sprintf("docker tag %s %s", source, target), outcome)
	}
	return nil
}

// Push uploads a tagged image to its registry.
func (c *Client) Push(ctx context.Context, tag string) error {
	c.log.Info("Pushing image", "tag", tag)

	outcome := c.run(ctx, command.Command{Name: "docker", Args: []string{"push", tag}})
	if !outcome.Succeeded {
		return toolErr(fmt.Sprintf("docker push %s", tag), outcome)
	}

	c.log.Info("Image pushed", "tag", tag)
	return nil
}

// Login authenticates against a registry. The password travels over stdin,
// never through the argument list.
func (c *Client) Login(ctx context.Context, registry, username, password string) error {
	outcome := c.run(ctx, command.Command{
		Name:  "docker",
		Args:  []string{"login", "--username", username, "--password-stdin", registry},
		Stdin: password,
	})
	if !outcome.Succeeded {
		return toolErr(fmt.Sprintf("docker login %s", registry), outcome)
	}

	c.log.Info("Registry login succeeded", "registry", registry)
	return nil
}

func toolErr(op string, outcome command.Outcome) error {
	if outcome.Err != nil {
		return fmt.Errorf("%s could not start: %w", op, outcome.Err)
	}
	return fmt.Errorf("%s failed: %s", op, outcome.Stderr)
}
