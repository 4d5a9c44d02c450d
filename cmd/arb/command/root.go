// Package command implements the arb driver CLI: a single cobra root
// command whose flags mirror and override the YAML config file, per
// spec.md §6.
package command

import (
	"context"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/arch-repo-builder/arb/pkg/config"
	"github.com/arch-repo-builder/arb/pkg/logger"
	"github.com/arch-repo-builder/arb/pkg/orchestrator"
)

var cmdLog = logger.WithComponent("cli")

var flags struct {
	configPath string
	build      []string
	drop       []string
	proxy      string
	lazyproxy  uint
	holdpkg    bool
	holdgit    bool
	skipint    bool
	nobuild    bool
	noclean    bool
	nonet      bool
	gmr        string
	sign       string
	paconf     string
	verbose    bool
	noColor    bool
}

var rootCmd = &cobra.Command{
	Use:   "arb",
	Short: "Rootless Arch package-repository builder",
	Long: "arb builds a set of PKGBUILDs into a pacman repository inside\n" +
		"unprivileged user-namespace roots, laying out results under\n" +
		"pkgs/ and keeping a pkgs/latest symlink tree current.",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runDriver,
}

// Execute runs the root command; called by main.main() for every argv
// that isn't a rootless sub-action.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		cmdLog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

//nolint:gochecknoinits // cobra flag registration is idiomatically done in init
func init() {
	flagSet := rootCmd.Flags()

	flagSet.StringVar(&flags.configPath, "config", "arb.yaml", "path to the YAML project config")
	flagSet.StringSliceVar(&flags.build, "build", nil, "restrict the run to these pkgbases (implies --noclean)")
	flagSet.StringSliceVarP(&flags.drop, "drop", "d", nil, "exclude these pkgbases from the run")
	flagSet.StringVar(&flags.proxy, "proxy", "", "proxy URL for source fetches")
	flagSet.UintVar(&flags.lazyproxy, "lazyproxy", 0, "fall back to --proxy after this many failures")
	flagSet.UintVar(&flags.lazyproxy, "proxy-after", 0, "alias of --lazyproxy")
	flagSet.BoolVarP(&flags.holdpkg, "holdpkg", "P", false, "skip rebuilding a pkgbase whose pkgid already exists")
	flagSet.BoolVarP(&flags.holdgit, "holdgit", "G", false, "skip re-fetching a git source already peelable to a commit")
	flagSet.BoolVarP(&flags.skipint, "skipint", "I", false, "skip checksum verification of fetched sources")
	flagSet.BoolVarP(&flags.nobuild, "nobuild", "B", false, "parse and resolve only, skip the build stages")
	flagSet.BoolVarP(&flags.noclean, "noclean", "C", false, "leave overlay roots mounted after a build")
	flagSet.BoolVarP(&flags.nonet, "nonet", "N", false, "hold every git source instead of fetching")
	flagSet.StringVarP(&flags.gmr, "gmr", "g", "", "git mirror URL prefix tried before the source's own URL")
	flagSet.StringVarP(&flags.sign, "sign", "s", "", "gpg key id to sign artifacts with")
	flagSet.StringVar(&flags.paconf, "paconf", "", "path to pacman.conf (default from config, else /etc/pacman.conf)")
	flagSet.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug-level logging")
	flagSet.BoolVar(&flags.noColor, "no-color", false, "disable colored output")
}

func runDriver(cmd *cobra.Command, _ []string) error {
	shouldDisableColor := flags.noColor || os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb"
	logger.SetColorDisabled(shouldDisableColor)
	logger.SetVerbose(flags.verbose)

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}

	applyFlagOverrides(cmd, cfg)

	driver, err := orchestrator.NewDriver(".", cfg)
	if err != nil {
		return err
	}

	if len(flags.build) > 0 {
		driver.Restrict(flags.build)
	} else if len(flags.drop) > 0 {
		driver.Restrict(invert(cfg, flags.drop))
	}

	bar := progressbar.Default(-1, "stages")
	driver.StageProgress = func(stage, total int) {
		bar.ChangeMax(total)
		_ = bar.Set(stage)
	}

	if err := driver.Run(context.Background()); err != nil {
		return err
	}

	_ = bar.Finish()

	return nil
}

// applyFlagOverrides folds CLI flags onto cfg; the CLI always wins over
// the config file, per spec.md §6.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags()

	if set.Changed("holdpkg") {
		cfg.HoldPkg = flags.holdpkg
	}

	if set.Changed("holdgit") {
		cfg.HoldGit = flags.holdgit
	}

	if set.Changed("skipint") {
		cfg.SkipInt = flags.skipint
	}

	if set.Changed("nobuild") {
		cfg.NoBuild = flags.nobuild
	}

	if set.Changed("noclean") {
		cfg.NoClean = flags.noclean
	}

	if set.Changed("nonet") {
		cfg.NoNet = flags.nonet
	}

	if set.Changed("proxy") {
		cfg.Proxy = flags.proxy
	}

	if set.Changed("lazyproxy") || set.Changed("proxy-after") {
		cfg.LazyProxy = flags.lazyproxy
	}

	if set.Changed("gmr") {
		cfg.Gmr = flags.gmr
	}

	if set.Changed("sign") {
		cfg.Sign = flags.sign
	}

	if set.Changed("paconf") {
		cfg.Paconf = flags.paconf
	}

	if len(flags.build) > 0 {
		cfg.NoClean = true
	}
}

// invert returns every configured pkgbase not named in drop, the
// --drop flag's restrict-by-exclusion semantics.
func invert(cfg *config.Config, drop []string) []string {
	excluded := make(map[string]struct{}, len(drop))
	for _, name := range drop {
		excluded[name] = struct{}{}
	}

	kept := make([]string, 0, len(cfg.Pkgbuilds))

	for name := range cfg.Pkgbuilds {
		if _, ok := excluded[name]; !ok {
			kept = append(kept, name)
		}
	}

	if len(kept) == 0 {
		cmdLog.Warn("--drop excluded every configured pkgbase")
	}

	return kept
}
