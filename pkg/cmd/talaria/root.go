package talaria

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/codecanvas/talaria/pkg/config"
	"github.com/codecanvas/talaria/pkg/deploy"
	"github.com/codecanvas/talaria/pkg/logger"
	"github.com/codecanvas/talaria/pkg/pipeline"
	"github.com/codecanvas/talaria/pkg/provision"
)

var errPipelineFailed = errors.New("pipeline failed")

func NewCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "talaria",
		Short:         "Staged AWS deployment pipelines for a container web app",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c",
		"talaria.yaml", "configuration file")
	cmd.AddCommand(
		newProvisionCommand(),
		newUpdateCommand(),
		newEdgeCommand(),
	)

	return cmd
}

func newProvisionCommand() *cobra.Command {
	var targetName string

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Stand up a deployment from nothing on a compute target",
		Long: `Provision creates every resource a deployment needs: the image repository,
the storage bucket, IAM roles, the compute backend itself, and pushes a
first image. Every step is create-or-reuse, so re-running after a partial
failure finishes the remaining work.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := deploy.TargetByName(targetName)
			if err != nil {
				return err
			}
			return executePipeline(cmd, "Provision ("+target.Name()+")", func(run *deploy.Run) []pipeline.Stage {
				return run.ProvisionStages(target)
			})
		},
	}
	cmd.Flags().StringVarP(&targetName, "target", "t", "apprunner", "compute target: lambda or apprunner")

	return cmd
}

func newUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Build, publish, and roll out a new application version",
		Long: `Update runs the full release pipeline: read the version manifest, build
and push every image, update the function, flush the edge cache, and
verify the deployment is reachable end to end. The pipeline stops at the
first failing stage and reports it with a fix hint.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return executePipeline(cmd, "Update", func(run *deploy.Run) []pipeline.Stage {
				return run.UpdateStages()
			})
		},
	}
}

func newEdgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "edge",
		Short: "Put a custom domain in front of the deployment",
		Long: `Edge sets up the public entry: hosted zone, DNS validated certificate,
CDN distribution, and the alias record pointing the domain at it. A fresh
hosted zone prints the nameservers the registrar must delegate to.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return executePipeline(cmd, "Edge", func(run *deploy.Run) []pipeline.Stage {
				return run.EdgeStages()
			})
		},
	}
}

func executePipeline(cmd *cobra.Command, title string, stages func(*deploy.Run) []pipeline.Stage) error {
	cfgFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, err := config.LoadFromFile(cfgFile)
	if err != nil {
		return err
	}
	if err = cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}

	ctx := context.Background()
	clients, err := provision.NewClients(ctx, cfg.AWS.Region)
	if err != nil {
		return err
	}

	run := deploy.NewRun(cfg, clients, log)
	printer := pipeline.Printer{Out: os.Stdout}
	printer.Banner(title, map[string]string{
		"config":  cfgFile,
		"region":  cfg.AWS.Region,
		"account": cfg.AWS.Account,
	})

	if err := run.Preflight(ctx); err != nil {
		return err
	}

	report := pipeline.Run(ctx, stages(run), printer.Observe)
	printer.Summary(report)
	if !report.Succeeded() {
		return errPipelineFailed
	}
	return nil
}
