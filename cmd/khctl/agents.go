package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/krakenhashes/khctl/internal/userapi"
)

func runAgentCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 || isHelpToken(args[0]) {
		printAgentUsage()
		return nil
	}
	switch args[0] {
	case "list", "ls":
		return runAgentList(ctx, args[1:], base)
	case "show", "get":
		return runAgentShow(ctx, args[1:], base)
	case "update":
		return runAgentUpdate(ctx, args[1:], base)
	case "disable", "delete":
		return runAgentDisable(ctx, args[1:], base)
	default:
		printAgentUsage()
		return usageErrorf("unknown agent command %q", args[0])
	}
}

func runAgentList(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("agent list")
	opts := base
	opts.bind(fs)
	var listOpts userapi.ListAgentsOptions
	var help bool
	bindPagination(fs, &listOpts.Pagination)
	fs.StringVar(&listOpts.Status, "status", "", "only agents with this status, e.g. active")
	bindHelp(fs, &help)
	if _, err := parseCommand(fs, args, printAgentListUsage, &help, 0); err != nil {
		return err
	}
	if err := checkPagination(listOpts.Pagination); err != nil {
		return err
	}
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	res, err := sess.client.Agents.List(ctx, listOpts)
	if err != nil {
		return explainAPIError(err, "list agents")
	}
	return render(opts.format(), res, func() {
		printAgentList(res.Items)
		printPageFooter(res.Page, res.PageSize, len(res.Items), res.Total)
	})
}

func runAgentShow(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("agent show")
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	pos, err := parseCommand(fs, args, printAgentShowUsage, &help, 1)
	if err != nil {
		return err
	}
	id, err := parseIntID("agent", pos[0])
	if err != nil {
		return err
	}
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	agent, err := sess.client.Agents.Get(ctx, id)
	if err != nil {
		return withDefaultNext(explainAPIError(err, "show agent "+pos[0]), "khctl agent list")
	}
	return render(opts.format(), agent, func() { printAgent(agent) })
}

func runAgentUpdate(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("agent update")
	opts := base
	opts.bind(fs)
	var name, extra string
	var enabled, help bool
	fs.StringVar(&name, "name", "", "new display name")
	fs.StringVar(&extra, "extra-params", "", "extra hashcat arguments (empty clears)")
	fs.BoolVar(&enabled, "enabled", true, "whether the agent receives work")
	bindHelp(fs, &help)
	pos, err := parseCommand(fs, args, printAgentUpdateUsage, &help, 1)
	if err != nil {
		return err
	}
	id, err := parseIntID("agent", pos[0])
	if err != nil {
		return err
	}
	set := setFlags(fs)
	var req userapi.UpdateAgentRequest
	if set["name"] {
		req.Name = userapi.Ptr(name)
	}
	if set["extra-params"] {
		req.ExtraParameters = userapi.Ptr(extra)
	}
	if set["enabled"] {
		req.IsEnabled = userapi.Ptr(enabled)
	}
	if req == (userapi.UpdateAgentRequest{}) {
		printAgentUpdateUsage()
		return usageErrorf("nothing to update")
	}
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	agent, err := sess.client.Agents.Update(ctx, id, req)
	if err != nil {
		return explainAPIError(err, "update agent "+pos[0])
	}
	return render(opts.format(), agent, func() { printAgent(agent) })
}

func runAgentDisable(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("agent disable")
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	pos, err := parseCommand(fs, args, printAgentDisableUsage, &help, 1)
	if err != nil {
		return err
	}
	id, err := parseIntID("agent", pos[0])
	if err != nil {
		return err
	}
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	if err := sess.client.Agents.Delete(ctx, id); err != nil {
		return explainAPIError(err, "disable agent "+pos[0])
	}
	return render(opts.format(), map[string]int{"disabled": id}, func() {
		fmt.Fprintf(os.Stdout, "Agent %d disabled\n", id)
	})
}

func runVoucherCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 || isHelpToken(args[0]) {
		printVoucherUsage()
		return nil
	}
	switch args[0] {
	case "create", "new":
		return runVoucherCreate(ctx, args[1:], base)
	default:
		printVoucherUsage()
		return usageErrorf("unknown voucher command %q", args[0])
	}
}

func runVoucherCreate(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("voucher create")
	opts := base
	opts.bind(fs)
	var continuous, help bool
	var expiresIn time.Duration
	fs.BoolVar(&continuous, "continuous", false, "allow any number of registrations")
	fs.DurationVar(&expiresIn, "expires-in", 0, "lifetime, e.g. 24h (default: server setting)")
	bindHelp(fs, &help)
	if _, err := parseCommand(fs, args, printVoucherUsage, &help, 0); err != nil {
		return err
	}
	req := userapi.GenerateVoucherRequest{IsContinuous: continuous}
	if setFlags(fs)["expires-in"] {
		if expiresIn < time.Second {
			return usageErrorf("--expires-in must be at least 1s")
		}
		req.ExpiresIn = userapi.Ptr(expiresIn)
	}
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	voucher, err := sess.client.Agents.GenerateVoucher(ctx, req)
	if err != nil {
		return explainAPIError(err, "create voucher")
	}
	return render(opts.format(), voucher, func() {
		fmt.Fprintf(os.Stdout, "Voucher: %s\n", voucher.Code)
		fmt.Fprintf(os.Stdout, "Continuous: %t\n", voucher.IsContinuous)
		fmt.Fprintf(os.Stdout, "Expires At: %s\n", formatTimePtr(voucher.ExpiresAt))
	})
}

func printAgent(a userapi.Agent) {
	fmt.Fprintf(os.Stdout, "ID: %d\n", a.ID)
	fmt.Fprintf(os.Stdout, "Name: %s\n", a.Name)
	fmt.Fprintf(os.Stdout, "Status: %s\n", orDash(a.Status))
	fmt.Fprintf(os.Stdout, "Enabled: %t\n", a.IsEnabled)
	fmt.Fprintf(os.Stdout, "Version: %s\n", orDash(a.Version))
	fmt.Fprintf(os.Stdout, "GPUs: %s\n", orDash(gpuSummary(a.Hardware.GPUs)))
	fmt.Fprintf(os.Stdout, "Extra Parameters: %s\n", orDash(a.ExtraParameters))
	fmt.Fprintf(os.Stdout, "Consecutive Failures: %d\n", a.ConsecutiveFailures)
	fmt.Fprintf(os.Stdout, "Last Seen: %s\n", formatTime(a.LastSeen))
}

func printAgentList(agents []userapi.Agent) {
	w := newTable()
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tENABLED\tGPUS\tLAST SEEN")
	for _, a := range agents {
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%d\t%s\n", a.ID, a.Name, orDash(a.Status), a.IsEnabled, len(a.Hardware.GPUs), formatTime(a.LastSeen))
	}
	_ = w.Flush()
}

func gpuSummary(gpus []userapi.GPU) string {
	models := make([]string, 0, len(gpus))
	for _, g := range gpus {
		models = append(models, strings.TrimSpace(g.Vendor+" "+g.Model))
	}
	return strings.Join(models, ", ")
}
