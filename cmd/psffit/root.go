package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/copyleftdev/psffit/internal/errors"
	"github.com/copyleftdev/psffit/internal/logging"
)

// cli holds state shared by the subcommands.
type cli struct {
	logLevel  string
	logFormat string
	output    string

	logger *logging.Logger
	zap    *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "psffit",
		Short: "Fit point-spread-function models to image data",
		Long: `psffit renders Gaussian, Airy disk and Moffat point-spread functions and
fits them to gridded data with a penalized least-squares optimizer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.output != "json" && c.output != "yaml" {
				return errors.InvalidArgument("psffit", "output must be json or yaml, got %q", c.output)
			}
			c.logger = logging.NewWithFormat(logging.ParseLevel(c.logLevel), logging.Format(c.logFormat), cmd.ErrOrStderr())
			c.zap = logging.NewZapLogger(c.logger)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "text", "Log format (json, text)")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", "json", "Output format (json, yaml)")

	root.AddCommand(
		c.newFitCmd(),
		c.newRenderCmd(),
		c.newBBoxCmd(),
		newVersionCmd(),
	)
	return root
}

// readRequest decodes a YAML or JSON request from path, or stdin for "-".
func readRequest(cmd *cobra.Command, path string, v interface{}) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}

func (c *cli) write(w io.Writer, v interface{}) error {
	if c.output == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
