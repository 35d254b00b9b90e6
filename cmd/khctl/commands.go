package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/krakenhashes/khctl/internal/config"
	"github.com/krakenhashes/khctl/internal/secrets"
	"github.com/krakenhashes/khctl/internal/userapi"
)

// splitPositional lets positional arguments come before flags, as in
// "job show 42 --json". Leading non-flag arguments are peeled off up to limit.
func splitPositional(args []string, limit int) ([]string, []string) {
	var pos []string
	for len(args) > 0 && len(pos) < limit && !strings.HasPrefix(args[0], "-") {
		pos = append(pos, args[0])
		args = args[1:]
	}
	return pos, args
}

// parseCommand parses flags and returns exactly want positional arguments.
func parseCommand(fs *flag.FlagSet, args []string, usage func(), help *bool, want int) ([]string, error) {
	pos, rest := splitPositional(args, want)
	if err := parseFlags(fs, rest, usage, help); err != nil {
		return nil, err
	}
	pos = append(pos, fs.Args()...)
	if len(pos) != want {
		usage()
		if want == 0 {
			return nil, usageErrorf("unexpected arguments: %s", strings.Join(pos, " "))
		}
		return nil, usageErrorf("expected %d argument(s), got %d", want, len(pos))
	}
	return pos, nil
}

func bindHelp(fs *flag.FlagSet, help *bool) {
	fs.BoolVar(help, "help", false, "show help")
	fs.BoolVar(help, "h", false, "show help")
}

// setFlags reports which flags were given on the command line.
func setFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func parseIntID(kind, value string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, usageErrorf("invalid %s id %q", kind, value)
	}
	return id, nil
}

func parseInt64ID(kind, value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, usageErrorf("invalid %s id %q", kind, value)
	}
	return id, nil
}

func bindPagination(fs *flag.FlagSet, p *userapi.Pagination) {
	fs.IntVar(&p.Page, "page", 1, "page number, starting at 1")
	fs.IntVar(&p.PageSize, "page-size", userapi.DefaultPageSize, "items per page")
}

func checkPagination(p userapi.Pagination) error {
	if p.Page < 1 {
		return usageErrorf("--page must be at least 1")
	}
	if p.PageSize < 1 {
		return usageErrorf("--page-size must be at least 1")
	}
	return nil
}

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

func runPing(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("ping")
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	if _, err := parseCommand(fs, args, printPingUsage, &help, 0); err != nil {
		return err
	}
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()

	health, err := sess.client.Health(ctx)
	if err != nil {
		return explainAPIError(err, "ping "+sess.client.BaseURL())
	}
	return render(opts.format(), health, func() {
		fmt.Fprintf(os.Stdout, "%s: %s\n", sess.client.BaseURL(), orDash(health.Status))
	})
}

func runCredentialsCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 || isHelpToken(args[0]) {
		printCredentialsUsage()
		return nil
	}
	switch args[0] {
	case "seal":
		return runCredentialsSeal(ctx, args[1:], base)
	default:
		printCredentialsUsage()
		return usageErrorf("unknown credentials command %q", args[0])
	}
}

// runCredentialsSeal encrypts the resolved email and API key to age
// recipients so later runs can point KH_CREDENTIALS_FILE at the result.
func runCredentialsSeal(_ context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("credentials seal")
	opts := base
	opts.bind(fs)
	var out string
	var recipients stringList
	var help bool
	fs.StringVar(&out, "out", "", "destination file, conventionally ending in .age")
	fs.Var(&recipients, "recipient", "age recipient public key (repeatable)")
	bindHelp(fs, &help)
	if _, err := parseCommand(fs, args, printCredentialsUsage, &help, 0); err != nil {
		return err
	}
	if strings.TrimSpace(out) == "" {
		printCredentialsUsage()
		return usageErrorf("--out is required")
	}
	parsed, err := secrets.ParseRecipients(recipients)
	if err != nil {
		return usageError(err)
	}

	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.email != "" {
		cfg.Email = opts.email
	}
	if err := cfg.ResolveCredentials(); err != nil {
		return err
	}
	api := cfg.UserAPI()
	if api.Email == "" || len(api.APIKey) != userapi.APIKeyLength {
		return newCLIError("no complete credentials to seal", "",
			"set "+config.EnvEmail+" and "+config.EnvAPIKey+" for this command")
	}
	creds := secrets.Credentials{Email: api.Email, APIKey: api.APIKey}
	if err := secrets.WriteEncrypted(out, creds, parsed...); err != nil {
		return wrapCLIError(err, "seal credentials: "+err.Error(), "")
	}
	fmt.Fprintf(os.Stdout, "Sealed credentials for %s (key %s) to %s\n", creds.Email, creds.Redacted(), out)
	fmt.Fprintf(os.Stdout, "Use with: %s=%s %s=<identity file>\n", config.EnvCredentialsFile, out, config.EnvAgeKeyPath)
	return nil
}
