// ABOUTME: Entry point for khctl, the command-line client for the KrakenHashes User API.
// ABOUTME: Parses global flags, dispatches subcommands and maps failures to exit codes.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/krakenhashes/khctl/internal/buildinfo"
)

const usageText = `khctl is the CLI for the KrakenHashes User API.

Usage:
  khctl --version
  khctl [global flags] ping
  khctl [global flags] client <create|list|show|update|delete>
  khctl [global flags] hashlist <upload|list|show|delete>
  khctl [global flags] agent <list|show|update|disable>
  khctl [global flags] voucher create [--continuous] [--expires-in <duration>]
  khctl [global flags] job <create|list|show|update|layers|tasks|watch>
  khctl [global flags] meta <hash-types|workflows|presets>
  khctl [global flags] credentials seal --out <path> --recipient <age1...>

Global Flags:
  --config PATH     Config file (default $XDG_CONFIG_HOME/khctl/config.yaml)
  --env-file PATH   Dotenv file loaded before the environment is read (default .env)
  --base-url URL    Service URL, e.g. https://kh.example.com
  --email EMAIL     Account email
  --json            Output json
  --output FORMAT   Output format: text, json or yaml
  --timeout         Request timeout (e.g. 30s, 2m)
  --log-level LVL   debug, info, warn or error

Credentials are read from KH_EMAIL and KH_API_KEY, KH_API_KEY_FILE, an
age-encrypted KH_CREDENTIALS_FILE, or the config file.
`

const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

type globalOptions struct {
	configPath  string
	envFile     string
	baseURL     string
	email       string
	output      string
	jsonOutput  bool
	logLevel    string
	showVersion bool
	timeout     time.Duration
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, rest, err := parseGlobal(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		printUsage()
		return exitUsage
	}
	if opts.showVersion {
		fmt.Println(buildinfo.String())
		return exitOK
	}
	if len(rest) == 0 || isHelpToken(rest[0]) {
		printUsage()
		return exitOK
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base, err := opts.commonFlags()
	if err != nil {
		msg, next, hints := describeError(err)
		printError(os.Stderr, msg, next, hints)
		return exitUsage
	}
	if err := dispatch(ctx, rest, base); err != nil {
		if errors.Is(err, errHelp) {
			return exitOK
		}
		msg, next, hints := describeError(err)
		printError(os.Stderr, msg, next, hints)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return exitInterrupted
		}
		if errors.Is(err, errUsage) {
			return exitUsage
		}
		return exitFailure
	}
	return exitOK
}

func parseGlobal(args []string) (globalOptions, []string, error) {
	opts := globalOptions{envFile: defaultEnvFile, output: outputText}
	fs := flag.NewFlagSet("khctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.configPath, "config", "", "config file path")
	fs.StringVar(&opts.envFile, "env-file", defaultEnvFile, "dotenv file")
	fs.StringVar(&opts.baseURL, "base-url", "", "service base url")
	fs.StringVar(&opts.email, "email", "", "account email")
	fs.StringVar(&opts.output, "output", outputText, "output format: text, json or yaml")
	fs.BoolVar(&opts.jsonOutput, "json", false, jsonFlagDescription)
	fs.DurationVar(&opts.timeout, "timeout", 0, "request timeout (e.g. 30s, 2m)")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	if opts.timeout < 0 {
		return opts, nil, fmt.Errorf("--timeout must be positive")
	}
	return opts, fs.Args(), nil
}

func (o globalOptions) commonFlags() (commonFlags, error) {
	format, err := parseOutputFormat(o.output)
	if err != nil {
		return commonFlags{}, err
	}
	return commonFlags{
		configPath: o.configPath,
		envFile:    o.envFile,
		baseURL:    o.baseURL,
		email:      o.email,
		output:     format,
		jsonOutput: o.jsonOutput,
		logLevel:   o.logLevel,
		timeout:    o.timeout,
	}, nil
}

func dispatch(ctx context.Context, args []string, base commonFlags) error {
	switch args[0] {
	case "ping":
		return runPing(ctx, args[1:], base)
	case "client", "clients":
		return runClientCommand(ctx, args[1:], base)
	case "hashlist", "hashlists":
		return runHashlistCommand(ctx, args[1:], base)
	case "agent", "agents":
		return runAgentCommand(ctx, args[1:], base)
	case "voucher", "vouchers":
		return runVoucherCommand(ctx, args[1:], base)
	case "job", "jobs":
		return runJobCommand(ctx, args[1:], base)
	case "meta":
		return runMetaCommand(ctx, args[1:], base)
	case "credentials":
		return runCredentialsCommand(ctx, args[1:], base)
	default:
		printUsage()
		return usageError(fmt.Errorf("unknown command %q", args[0]))
	}
}

func printUsage() {
	_, _ = fmt.Fprint(os.Stdout, usageText)
}

func printClientUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl client <create|list|show|update|delete> [flags]")
}

func printClientCreateUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl client create --name <name> [--description <text>] [--domain <domain>] [--retention-months <n>]")
}

func printClientListUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl client list [--page <n>] [--page-size <n>] [--all]")
}

func printClientShowUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl client show <client_id>")
}

func printClientUpdateUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl client update <client_id> [--name <name>] [--description <text>] [--domain <domain>]")
	fmt.Fprintln(os.Stdout, "Note: an empty value clears the field; omitted flags leave it unchanged.")
}

func printClientDeleteUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl client delete <client_id>")
}

func printHashlistUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl hashlist <upload|list|show|delete> [flags]")
}

func printHashlistUploadUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl hashlist upload --file <path> --hash-type <id> [--name <name>] [--client <client_id>] [--description <text>]")
}

func printHashlistListUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl hashlist list [--client <client_id>] [--search <text>] [--page <n>] [--page-size <n>]")
}

func printHashlistShowUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl hashlist show <hashlist_id>")
}

func printHashlistDeleteUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl hashlist delete <hashlist_id>")
}

func printAgentUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl agent <list|show|update|disable> [flags]")
}

func printAgentListUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl agent list [--status <status>] [--page <n>] [--page-size <n>]")
}

func printAgentShowUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl agent show <agent_id>")
}

func printAgentUpdateUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl agent update <agent_id> [--name <name>] [--extra-params <args>] [--enabled=<true|false>]")
}

func printAgentDisableUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl agent disable <agent_id>")
}

func printVoucherUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl voucher create [--continuous] [--expires-in <duration>]")
}

func printJobUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl job <create|list|show|update|layers|tasks|watch> [flags]")
}

func printJobCreateUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl job create --hashlist <id> (--preset <id> | --workflow <id>) [--name <name>] [--priority <n>] [--max-agents <n>] [--watch]")
}

func printJobListUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl job list [--status <status>] [--hashlist <id>] [--client <client_id>] [--page <n>] [--page-size <n>]")
}

func printJobShowUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl job show <job_id>")
}

func printJobUpdateUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl job update <job_id> [--name <name>] [--priority <n>] [--max-agents <n>]")
}

func printJobLayersUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl job layers <job_id>")
}

func printJobTasksUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl job tasks <job_id> <layer_id> [--page <n>] [--page-size <n>]")
}

func printJobWatchUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl job watch <job_id> [--interval <duration>] [--tasks] [--metrics-listen <addr>]")
	fmt.Fprintln(os.Stdout, "Note: exits once the job is completed, failed or cancelled.")
}

func printMetaUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl meta <hash-types|workflows|presets> [--all]")
}

func printCredentialsUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl credentials seal --out <path> --recipient <age1...> [--recipient ...]")
	fmt.Fprintln(os.Stdout, "Note: the email and API key are read from the usual config sources.")
}

func printPingUsage() {
	fmt.Fprintln(os.Stdout, "Usage: khctl ping")
}

func isHelpToken(value string) bool {
	switch strings.TrimSpace(value) {
	case "help", "-h", "--help":
		return true
	default:
		return false
	}
}
