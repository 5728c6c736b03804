package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/TheTechNetwork/admx-help/internal/config"
	"github.com/TheTechNetwork/admx-help/internal/dataset"
	"github.com/TheTechNetwork/admx-help/internal/publish"

	"github.com/spf13/cobra"
)

func publishCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <output-dir>",
		Short: "Upload a generated site to an S3-compatible bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runPublish(cfg, args[0], cmd.OutOrStdout())
		},
	}
}

// siteFiles lists the generated files present in dir. policies.json is required.
func siteFiles(dir string) ([]string, error) {
	var files []string
	for _, name := range []string{dataset.PoliciesFile, dataset.PageFile, dataset.TSVFile} {
		path := filepath.Join(dir, name)
		_, err := os.Stat(path)
		switch {
		case err == nil:
			files = append(files, path)
		case errors.Is(err, fs.ErrNotExist) && name != dataset.PoliciesFile:
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%s not found in %s, run extract first", name, dir)
		default:
			return nil, err
		}
	}
	return files, nil
}

// runPublish handles the `publish` command.
func runPublish(cfg *config.Config, dir string, out io.Writer) error {
	if err := cfg.RequireS3(); err != nil {
		return err
	}
	files, err := siteFiles(dir)
	if err != nil {
		return err
	}

	publisher, err := publish.NewPublisher(publish.Config{
		Endpoint:  cfg.S3.Endpoint,
		Region:    cfg.S3.Region,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Bucket:    cfg.S3.Bucket,
		Prefix:    cfg.S3.Prefix,
		UseSSL:    cfg.S3.UseSSL,
	})
	if err != nil {
		return err
	}

	ctx, cancel := setupContext()
	defer cancel()

	objects, err := publisher.Upload(ctx, files)
	if err != nil {
		return err
	}
	for _, o := range objects {
		fmt.Fprintf(out, "s3://%s/%s (%d bytes)\n", cfg.S3.Bucket, o.Key, o.Size)
	}
	return nil
}
