package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/krakenhashes/khctl/internal/userapi"
)

func runMetaCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 || isHelpToken(args[0]) {
		printMetaUsage()
		return nil
	}
	fs := newFlagSet("meta " + args[0])
	opts := base
	opts.bind(fs)
	var all, help bool
	fs.BoolVar(&all, "all", false, "include disabled hash types")
	bindHelp(fs, &help)

	switch args[0] {
	case "hash-types", "hashtypes":
		if _, err := parseCommand(fs, args[1:], printMetaUsage, &help, 0); err != nil {
			return err
		}
		sess, err := newSession(opts)
		if err != nil {
			return err
		}
		defer sess.close()
		types, err := sess.client.Metadata.HashTypes(ctx, !all)
		if err != nil {
			return explainAPIError(err, "list hash types")
		}
		return render(opts.format(), types, func() { printHashTypes(types) })
	case "workflows":
		if _, err := parseCommand(fs, args[1:], printMetaUsage, &help, 0); err != nil {
			return err
		}
		sess, err := newSession(opts)
		if err != nil {
			return err
		}
		defer sess.close()
		workflows, err := sess.client.Metadata.Workflows(ctx)
		if err != nil {
			return explainAPIError(err, "list workflows")
		}
		return render(opts.format(), workflows, func() { printWorkflows(workflows) })
	case "presets", "preset-jobs":
		if _, err := parseCommand(fs, args[1:], printMetaUsage, &help, 0); err != nil {
			return err
		}
		sess, err := newSession(opts)
		if err != nil {
			return err
		}
		defer sess.close()
		presets, err := sess.client.Metadata.PresetJobs(ctx)
		if err != nil {
			return explainAPIError(err, "list preset jobs")
		}
		return render(opts.format(), presets, func() { printPresets(presets) })
	default:
		printMetaUsage()
		return usageErrorf("unknown meta command %q", args[0])
	}
}

func printHashTypes(types []userapi.HashType) {
	w := newTable()
	fmt.Fprintln(w, "MODE\tNAME\tENABLED\tSLOW")
	for _, t := range types {
		fmt.Fprintf(w, "%d\t%s\t%t\t%t\n", t.ID, t.Name, t.IsEnabled, t.Slow)
	}
	_ = w.Flush()
}

func printWorkflows(workflows []userapi.Workflow) {
	w := newTable()
	fmt.Fprintln(w, "ID\tNAME\tSTEPS")
	for _, wf := range workflows {
		fmt.Fprintf(w, "%s\t%s\t%d\n", wf.ID, wf.Name, len(wf.Steps))
	}
	_ = w.Flush()
}

func printPresets(presets []userapi.PresetJob) {
	w := newTable()
	fmt.Fprintln(w, "ID\tNAME\tATTACK\tPRIORITY\tMAX AGENTS\tKEYSPACE")
	for _, p := range presets {
		keyspace := "-"
		if p.Keyspace != nil {
			keyspace = strconv.FormatInt(*p.Keyspace, 10)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n", p.ID, p.Name, p.AttackMode, p.Priority, maxAgentsLabel(p.MaxAgents), keyspace)
	}
	_ = w.Flush()
}
