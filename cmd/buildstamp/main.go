package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/frederic-klein/buildstamp/internal/buildmeta"
	"github.com/frederic-klein/buildstamp/internal/builder"
	"github.com/frederic-klein/buildstamp/internal/config"
	"github.com/frederic-klein/buildstamp/internal/emit"
	"github.com/frederic-klein/buildstamp/internal/logger"
	"github.com/frederic-klein/buildstamp/internal/recipe"
	"github.com/frederic-klein/buildstamp/internal/toolchain"
	"github.com/frederic-klein/buildstamp/internal/vcs"
)

var (
	flagCfg     config.Config
	verbose     bool
	recipePath  string
	headMode    bool
	tag         string
	revision    string
	branch      string
	dryRun      bool
	againstPath string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "buildstamp",
		Short:         "Derive reproducible build metadata from git state",
		Long:          "buildstamp resolves BUILD_ID, BUILD_TIME and BUILD_HOST for a pinned release or a development branch head and passes them to an external build.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagCfg.RepoDir, "repo", "C", "", "Git checkout to query (default \".\")")
	pf.StringVar(&flagCfg.Target, "target", "", "Cross-compilation target as os/arch")
	pf.StringVar(&flagCfg.GitBin, "git", "", "Path to the git binary")
	pf.StringVar(&flagCfg.GoBin, "go", "", "Path to the go binary")
	pf.StringVar(&flagCfg.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagCfg.LogFormat, "log-format", "", "Log format (console, json)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	pf.StringVarP(&recipePath, "recipe", "r", "", "Build recipe file")
	pf.StringVar(&flagCfg.Mode, "mode", "", "Build mode: release or development (default \"release\")")
	pf.BoolVar(&headMode, "head", false, "Shorthand for --mode development")
	pf.StringVar(&tag, "tag", "", "Release tag (without --recipe)")
	pf.StringVar(&revision, "revision", "", "Pinned release revision (without --recipe)")
	pf.StringVar(&branch, "branch", "", "Tracked development branch (without --recipe)")

	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print build metadata",
		Args:  cobra.NoArgs,
		RunE:  runResolve,
	}
	resolveCmd.Flags().StringVarP(&flagCfg.Format, "format", "f", "", "Output format: "+formatNames())
	resolveCmd.Flags().StringVar(&flagCfg.LDFlagsPkg, "ldflags-pkg", "", "Go package receiving -X assignments (default \"main\")")

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Resolve metadata and run the recipe's build command",
		Args:  cobra.NoArgs,
		RunE:  runBuild,
	}
	buildCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Print the build command without running it")

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that a release resolves to previously recorded metadata",
		Args:  cobra.NoArgs,
		RunE:  runVerify,
	}
	verifyCmd.Flags().StringVar(&againstPath, "against", "", "Env-format metadata file to compare with")
	_ = verifyCmd.MarkFlagRequired("against")

	rootCmd.AddCommand(resolveCmd, buildCmd, verifyCmd)
	return rootCmd
}

// app is the wiring shared by all subcommands.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	resolver *buildmeta.Resolver
}

func setup(cmd *cobra.Command) (*app, error) {
	if verbose && flagCfg.LogLevel == "" {
		flagCfg.LogLevel = "debug"
	}

	envCfg, err := config.FromEnv(env.ToMap(os.Environ()))
	if err != nil {
		return nil, err
	}
	cfg, err := config.Build(&flagCfg, envCfg, config.Defaults())
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cmd.ErrOrStderr(), cfg.LogLevel, strings.ToLower(cfg.LogFormat) != "json")
	if err != nil {
		return nil, err
	}

	git := vcs.NewGit(cfg.RepoDir, cfg.GitBin)
	tc := toolchain.New(cfg.GoBin, os.LookupEnv, log.Logger)

	return &app{
		cfg:      cfg,
		log:      log,
		resolver: buildmeta.NewResolver(git, tc, log.Logger),
	}, nil
}

func (a *app) mode() buildmeta.Mode {
	if headMode {
		return buildmeta.ModeDevelopment
	}
	// Validated in config.Build.
	mode, _ := buildmeta.ParseMode(a.cfg.Mode)
	return mode
}

// request builds the resolve request from the recipe, or from flags when no
// recipe is given.
func (a *app) request(rc *recipe.Recipe) (buildmeta.Request, error) {
	if rc != nil {
		return rc.Request(a.mode(), a.cfg.Target)
	}
	return buildmeta.Request{
		Mode:     a.mode(),
		Tag:      tag,
		Revision: revision,
		Branch:   branch,
		Target:   a.cfg.Target,
	}, nil
}

func loadRecipe(required bool) (*recipe.Recipe, error) {
	if recipePath == "" {
		if required {
			return nil, errors.New("--recipe is required")
		}
		return nil, nil
	}
	return recipe.Load(recipePath)
}

func (a *app) resolve(rc *recipe.Recipe) (*buildmeta.Metadata, error) {
	req, err := a.request(rc)
	if err != nil {
		return nil, err
	}
	return a.resolver.Resolve(req)
}

func runResolve(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return report(cmd, err)
	}

	rc, err := loadRecipe(false)
	if err != nil {
		return a.fail("loading recipe", err)
	}
	meta, err := a.resolve(rc)
	if err != nil {
		return a.fail("resolving metadata", err)
	}

	format, err := emit.ParseFormat(a.cfg.Format)
	if err != nil {
		return a.fail("selecting format", err)
	}
	emitter := emit.NewEmitter(cmd.OutOrStdout(), format, a.cfg.LDFlagsPkg)
	if err := emitter.Emit(meta); err != nil {
		return a.fail("writing metadata", err)
	}
	return nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return report(cmd, err)
	}

	rc, err := loadRecipe(true)
	if err != nil {
		return a.fail("loading recipe", err)
	}
	meta, err := a.resolve(rc)
	if err != nil {
		return a.fail("resolving metadata", err)
	}

	version := rc.Version()
	if a.mode() == buildmeta.ModeDevelopment {
		version = meta.BuildID
	}

	dir := rc.Build.Dir
	if dir == "" {
		dir = a.cfg.RepoDir
	}
	runner := builder.NewRunner(cmd.OutOrStdout(), cmd.ErrOrStderr(), dryRun, a.log.Logger)
	step := builder.Step{Command: rc.Build.Command, Env: rc.Build.Env, Dir: dir}
	if err := runner.Run(step, meta, version); err != nil {
		return a.fail("building "+rc.Name, err)
	}

	a.log.Info().Str("recipe", rc.Name).Str("build_id", meta.BuildID).Msg("build finished")
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return report(cmd, err)
	}
	if a.mode() != buildmeta.ModeRelease {
		return a.fail("verifying", errors.New("development builds carry no reproducibility guarantee"))
	}

	rc, err := loadRecipe(false)
	if err != nil {
		return a.fail("loading recipe", err)
	}

	f, err := os.Open(againstPath)
	if err != nil {
		return a.fail("opening recorded metadata", err)
	}
	defer f.Close()

	recorded, err := emit.ParseEnv(f)
	if err != nil {
		return a.fail("parsing recorded metadata", err)
	}
	meta, err := a.resolve(rc)
	if err != nil {
		return a.fail("resolving metadata", err)
	}

	diffs := Compare(recorded, meta)
	if len(diffs) > 0 {
		for _, d := range diffs {
			fmt.Fprintln(cmd.ErrOrStderr(), d)
		}
		return a.fail("verifying", fmt.Errorf("metadata differs from %s in %d field(s)", againstPath, len(diffs)))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s matches %s\n", againstPath, meta.BuildID)
	return nil
}

// Compare lists the fields where got differs from want.
func Compare(want, got *buildmeta.Metadata) []string {
	var diffs []string
	check := func(name, w, g string) {
		if w != g {
			diffs = append(diffs, fmt.Sprintf("%s: recorded %q, resolved %q", name, w, g))
		}
	}
	check("BUILD_ID", want.BuildID, got.BuildID)
	check("BUILD_TIME", want.BuildTime, got.BuildTime)
	check("BUILD_HOST", want.BuildHost, got.BuildHost)
	return diffs
}

func (a *app) fail(action string, err error) error {
	a.log.Error().Err(err).Msg(action + " failed")
	return fmt.Errorf("%s: %w", action, err)
}

func report(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "buildstamp: %v\n", err)
	return err
}

func formatNames() string {
	names := make([]string, 0, len(emit.Formats()))
	for _, f := range emit.Formats() {
		names = append(names, string(f))
	}
	return strings.Join(names, ", ")
}
