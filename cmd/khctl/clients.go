package main

import (
	"context"
	"fmt"
	"os"

	"github.com/krakenhashes/khctl/internal/userapi"
)

func runClientCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 || isHelpToken(args[0]) {
		printClientUsage()
		return nil
	}
	switch args[0] {
	case "create":
		return runClientCreate(ctx, args[1:], base)
	case "list", "ls":
		return runClientList(ctx, args[1:], base)
	case "show", "get":
		return runClientShow(ctx, args[1:], base)
	case "update":
		return runClientUpdate(ctx, args[1:], base)
	case "delete", "rm":
		return runClientDelete(ctx, args[1:], base)
	default:
		printClientUsage()
		return usageErrorf("unknown client command %q", args[0])
	}
}

func runClientCreate(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("client create")
	opts := base
	opts.bind(fs)
	var name, description, domain string
	var retention int
	var help bool
	fs.StringVar(&name, "name", "", "client name")
	fs.StringVar(&description, "description", "", "free-form description")
	fs.StringVar(&domain, "domain", "", "client domain, e.g. example.com")
	fs.IntVar(&retention, "retention-months", 0, "data retention in months (0 keeps forever)")
	bindHelp(fs, &help)
	if _, err := parseCommand(fs, args, printClientCreateUsage, &help, 0); err != nil {
		return err
	}
	set := setFlags(fs)
	req := userapi.CreateClientRequest{Name: name}
	if set["description"] {
		req.Description = userapi.Ptr(description)
	}
	if set["domain"] {
		req.Domain = userapi.Ptr(domain)
	}
	if set["retention-months"] {
		if retention < 0 {
			return usageErrorf("--retention-months must not be negative")
		}
		req.DataRetentionMonths = userapi.Ptr(retention)
	}

	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	client, err := sess.client.Clients.Create(ctx, req)
	if err != nil {
		return explainAPIError(err, "create client")
	}
	return render(opts.format(), client, func() { printClient(client) })
}

func runClientList(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("client list")
	opts := base
	opts.bind(fs)
	var page userapi.Pagination
	var all, help bool
	bindPagination(fs, &page)
	fs.BoolVar(&all, "all", false, "fetch every page")
	bindHelp(fs, &help)
	if _, err := parseCommand(fs, args, printClientListUsage, &help, 0); err != nil {
		return err
	}
	if err := checkPagination(page); err != nil {
		return err
	}
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()

	if all {
		clients, err := userapi.Collect(ctx, page.PageSize, sess.client.Clients.List)
		if err != nil {
			return explainAPIError(err, "list clients")
		}
		return render(opts.format(), clients, func() { printClientList(clients) })
	}
	res, err := sess.client.Clients.List(ctx, page)
	if err != nil {
		return explainAPIError(err, "list clients")
	}
	return render(opts.format(), res, func() {
		printClientList(res.Items)
		printPageFooter(res.Page, res.PageSize, len(res.Items), res.Total)
	})
}

func runClientShow(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("client show")
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	pos, err := parseCommand(fs, args, printClientShowUsage, &help, 1)
	if err != nil {
		return err
	}
	id, err := userapi.ParseClientID(pos[0])
	if err != nil {
		return usageError(err)
	}
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	client, err := sess.client.Clients.Get(ctx, id)
	if err != nil {
		return withDefaultNext(explainAPIError(err, "show client "+id), "khctl client list")
	}
	return render(opts.format(), client, func() { printClient(client) })
}

func runClientUpdate(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("client update")
	opts := base
	opts.bind(fs)
	var name, description, domain string
	var help bool
	fs.StringVar(&name, "name", "", "new name")
	fs.StringVar(&description, "description", "", "new description (empty clears)")
	fs.StringVar(&domain, "domain", "", "new domain (empty clears)")
	bindHelp(fs, &help)
	pos, err := parseCommand(fs, args, printClientUpdateUsage, &help, 1)
	if err != nil {
		return err
	}
	id, err := userapi.ParseClientID(pos[0])
	if err != nil {
		return usageError(err)
	}
	set := setFlags(fs)
	var req userapi.UpdateClientRequest
	if set["name"] {
		req.Name = userapi.Ptr(name)
	}
	if set["description"] {
		req.Description = userapi.Ptr(description)
	}
	if set["domain"] {
		req.Domain = userapi.Ptr(domain)
	}
	if req == (userapi.UpdateClientRequest{}) {
		printClientUpdateUsage()
		return usageErrorf("nothing to update")
	}

	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	client, err := sess.client.Clients.Update(ctx, id, req)
	if err != nil {
		return explainAPIError(err, "update client "+id)
	}
	return render(opts.format(), client, func() { printClient(client) })
}

func runClientDelete(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("client delete")
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	pos, err := parseCommand(fs, args, printClientDeleteUsage, &help, 1)
	if err != nil {
		return err
	}
	id, err := userapi.ParseClientID(pos[0])
	if err != nil {
		return usageError(err)
	}
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	if err := sess.client.Clients.Delete(ctx, id); err != nil {
		return explainAPIError(err, "delete client "+id)
	}
	return render(opts.format(), map[string]string{"deleted": id}, func() {
		fmt.Fprintf(os.Stdout, "Client %s deleted\n", id)
	})
}

func printClient(c userapi.Organization) {
	fmt.Fprintf(os.Stdout, "ID: %s\n", c.ID)
	fmt.Fprintf(os.Stdout, "Name: %s\n", c.Name)
	fmt.Fprintf(os.Stdout, "Description: %s\n", orDashPtr(c.Description))
	fmt.Fprintf(os.Stdout, "Domain: %s\n", orDashPtr(c.Domain))
	fmt.Fprintf(os.Stdout, "Retention (months): %s\n", intOrDash(c.DataRetentionMonths))
	fmt.Fprintf(os.Stdout, "Created At: %s\n", formatTime(c.CreatedAt))
	fmt.Fprintf(os.Stdout, "Updated At: %s\n", formatTime(c.UpdatedAt))
}

func printClientList(clients []userapi.Organization) {
	w := newTable()
	fmt.Fprintln(w, "ID\tNAME\tDOMAIN\tRETENTION")
	for _, c := range clients {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Name, orDashPtr(c.Domain), intOrDash(c.DataRetentionMonths))
	}
	_ = w.Flush()
}
