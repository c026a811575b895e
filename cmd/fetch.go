package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/webharvest/harvester/internal/content"
	"github.com/webharvest/harvester/internal/pipeline"
)

type fetchFlags struct {
	destination  string
	format       string
	saveMedia    bool
	forcePersist bool
	credentials  string
}

func (f *fetchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.destination, "dest", "d", "", "destination directory (default storage.root)")
	cmd.Flags().StringVarP(&f.format, "format", "f", string(content.FormatMarkdown), "output format: text or markdown")
	cmd.Flags().BoolVar(&f.saveMedia, "save-media", false, "download images and media assets")
	cmd.Flags().BoolVar(&f.forcePersist, "force", false, "bypass the cache and re-acquire")
	cmd.Flags().StringVar(&f.credentials, "cookies", "", "session cookie string for authenticated platforms")
}

func (f *fetchFlags) options() (pipeline.Options, error) {
	opts := pipeline.Options{
		SaveMedia:    f.saveMedia,
		ForcePersist: f.forcePersist,
		Credentials:  f.credentials,
	}
	switch f.format {
	case string(content.FormatText):
		opts.OutputFormat = content.FormatText
	case string(content.FormatMarkdown):
		opts.OutputFormat = content.FormatMarkdown
	default:
		return pipeline.Options{}, errors.New("format must be text or markdown")
	}
	return opts, nil
}

func newFetchCmd() *cobra.Command {
	flags := &fetchFlags{}
	cmd := &cobra.Command{
		Use:   "fetch <target>",
		Short: "Acquire and persist one target",
		Long: `Acquires a single URL (or keyword directive such as
"xhs_keyword:coffee") and persists the normalized record under the
destination directory. Exits non-zero when acquisition or persistence
fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			opts, err := flags.options()
			if err != nil {
				return err
			}
			dest := flags.destination
			if dest == "" {
				dest = a.Config.Storage.Root
			}
			if ok := a.Pipe.Fetch(cmd.Context(), args[0], dest, opts); !ok {
				return errors.New("acquisition failed")
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
