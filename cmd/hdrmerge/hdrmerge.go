package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/abworrall/hdrmerge/pkg/bracket"
	"github.com/abworrall/hdrmerge/pkg/exposure"
	"github.com/abworrall/hdrmerge/pkg/fusion"
	"github.com/abworrall/hdrmerge/pkg/photoset"
	"github.com/abworrall/hdrmerge/pkg/tonemap"
)

type flags struct {
	configFile    string
	hdrPath       string
	previewPath   string
	quality       int
	tonemapper    string
	gamma         float64
	brightness    float64
	previewWidth  int
	onDecodeError string
	exif          string
	align         bool
	alignDebugDir string
	fuser         string
	responsePlot  string
	workers       int
	watch         bool
	debounce      time.Duration
}

// NewRootCmd builds the hdrmerge command and its subcommands.
func NewRootCmd() *cobra.Command {
	var f flags

	rootCmd := &cobra.Command{
		Use:   "hdrmerge [input_dir]",
		Short: "Fuse a bracketed set of exposures into one HDR image",
		Long: `hdrmerge reads every image under a directory, takes each one's exposure
time from its EXIF metadata, aligns them, recovers the camera response curve,
and fuses them into a Radiance .hdr file plus a tone mapped preview.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config(cmd, args)
			if err != nil {
				return err
			}
			klog.V(1).Infof("Final configuration:-\n\n%s\n", cfg.AsYaml())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if f.watch {
				err := fusion.Watch(ctx, cfg, f.debounce, func(res *fusion.Result, err error) {
					if err != nil {
						klog.Errorf("run failed: %v", err)
						return
					}
					klog.Infof("%s", res)
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}

			p, err := fusion.New(cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res)
			return nil
		},
	}

	fl := rootCmd.Flags()
	rootCmd.PersistentFlags().StringVar(&f.configFile, "config", "", "YAML config file; flags override it")
	fl.StringVarP(&f.hdrPath, "hdr", "o", "", "where to write the Radiance .hdr file")
	fl.StringVar(&f.previewPath, "preview", "", "where to write the tone mapped preview (.jpg, .png, .bmp)")
	fl.IntVar(&f.quality, "quality", 0, "JPEG quality of the preview, 1-100")
	fl.StringVar(&f.tonemapper, "tonemapper", "", "how to tonemap from HDR to LDR: "+tonemap.ListTonemappers())
	fl.Float64Var(&f.gamma, "gamma", 0, "display gamma applied to the preview")
	fl.Float64Var(&f.brightness, "brightness", 0, "reinhard05 brightness")
	fl.IntVar(&f.previewWidth, "preview-width", 0, "resize the preview to this many pixels wide")
	fl.StringVar(&f.onDecodeError, "on-decode-error", "", "what to do with files that aren't images: fail, skip")
	rootCmd.PersistentFlags().StringVar(&f.exif, "exif", "", "how to read exposure times: exif, exiftool")
	fl.BoolVar(&f.align, "align", true, "align the exposures before fusing them")
	fl.StringVar(&f.alignDebugDir, "align-debug-dir", "", "if set, write the alignment threshold bitmaps into this directory")
	fl.StringVar(&f.fuser, "fuser", "", "how to fuse the exposures: debevec, mostexposed")
	fl.StringVar(&f.responsePlot, "response-plot", "", "if set, plot the recovered response curve into this PNG")
	fl.IntVar(&f.workers, "workers", 0, "worker goroutines, 0 means one per CPU")
	fl.BoolVar(&f.watch, "watch", false, "keep running, and re-fuse whenever the input changes")
	fl.DurationVar(&f.debounce, "debounce", time.Second, "with --watch, wait this long for changes to settle")

	gofs := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(gofs)
	rootCmd.PersistentFlags().AddGoFlagSet(gofs)

	rootCmd.AddCommand(newExposuresCmd(&f))
	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newConfigCmd(&f))

	return rootCmd
}

// config starts from the defaults, or the --config file, and applies only
// the flags that were given on the command line.
func (f *flags) config(cmd *cobra.Command, args []string) (fusion.Config, error) {
	cfg := fusion.NewConfig()
	if f.configFile != "" {
		var err error
		if cfg, err = fusion.LoadConfig(f.configFile); err != nil {
			return cfg, err
		}
	}
	if len(args) > 0 {
		cfg.InputDir = args[0]
	}

	changed := cmd.Flags().Changed
	if changed("hdr") {
		cfg.HDRPath = f.hdrPath
	}
	if changed("preview") {
		cfg.PreviewPath = f.previewPath
	}
	if changed("quality") {
		cfg.PreviewQuality = f.quality
	}
	if changed("tonemapper") {
		cfg.Tonemapper = f.tonemapper
	}
	if changed("gamma") {
		cfg.Tonemap.Gamma = f.gamma
	}
	if changed("brightness") {
		cfg.Tonemap.Brightness = f.brightness
	}
	if changed("preview-width") {
		cfg.Tonemap.Width = f.previewWidth
	}
	if changed("on-decode-error") {
		cfg.OnDecodeError = f.onDecodeError
	}
	if changed("exif") {
		cfg.ExposureBackend = f.exif
	}
	if changed("align") {
		cfg.DoAlignment = f.align
	}
	if changed("align-debug-dir") {
		cfg.AlignDebugDir = f.alignDebugDir
	}
	if changed("fuser") {
		cfg.Fuser = f.fuser
	}
	if changed("response-plot") {
		cfg.ResponsePlot = f.responsePlot
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}

	return cfg, cfg.Validate()
}

func newExposuresCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "exposures [input_dir]",
		Short: "List the images hdrmerge would use, with their exposure times",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config(cmd, args)
			if err != nil {
				return err
			}
			paths, err := photoset.List(cfg.InputDir)
			if err != nil {
				return err
			}
			r, err := cfg.GetExposureReader()
			if err != nil {
				return err
			}
			defer r.Close()

			times, err := r.ReadAll(paths)
			if err != nil {
				return err
			}
			for i, p := range paths {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%gs\n", p, times[i])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d images, %d distinct exposures\n", len(paths), exposure.Distinct(times))
			return nil
		},
	}
}

func newGenerateCmd() *cobra.Command {
	var (
		times string
		scene string
		opts  = bracket.DefaultOptions()
	)

	cmd := &cobra.Command{
		Use:   "generate <output_dir>",
		Short: "Write a synthetic bracketed set of JPEGs, with EXIF exposure times",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch scene {
			case "sky":
				opts.Subject = bracket.Radiance
			case "blocks":
				opts.Subject = bracket.Blocks
			default:
				return fmt.Errorf("--scene '%s': want sky or blocks", scene)
			}

			var rats []exposure.Rational
			for _, s := range strings.Split(times, ",") {
				r, err := exposure.ParseFraction(s)
				if err != nil {
					return fmt.Errorf("--times: %w", err)
				}
				rats = append(rats, r)
			}
			paths, err := bracket.Write(args[0], rats, opts)
			if err != nil {
				return err
			}
			for i, p := range paths {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p, rats[i])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&times, "times", "1/1000,1/250,1/60", "comma separated exposure times")
	cmd.Flags().IntVar(&opts.Width, "width", opts.Width, "image width")
	cmd.Flags().IntVar(&opts.Height, "height", opts.Height, "image height")
	cmd.Flags().StringVar(&scene, "scene", "sky", "what to photograph: sky, blocks")
	cmd.Flags().IntVar(&opts.Shift.X, "drift-x", 0, "camera drift between frames, in pixels")
	cmd.Flags().IntVar(&opts.Shift.Y, "drift-y", 0, "camera drift between frames, in pixels")
	return cmd
}

func newConfigCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the configuration hdrmerge would run with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := fusion.NewConfig()
			if f.configFile != "" {
				var err error
				if cfg, err = fusion.LoadConfig(f.configFile); err != nil {
					return err
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), cfg.AsYaml())
			return nil
		},
	}
}

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		klog.Exitf("hdrmerge: %v", err)
	}
}
