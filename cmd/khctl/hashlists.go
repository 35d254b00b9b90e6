package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/krakenhashes/khctl/internal/userapi"
)

func runHashlistCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 || isHelpToken(args[0]) {
		printHashlistUsage()
		return nil
	}
	switch args[0] {
	case "upload", "create":
		return runHashlistUpload(ctx, args[1:], base)
	case "list", "ls":
		return runHashlistList(ctx, args[1:], base)
	case "show", "get":
		return runHashlistShow(ctx, args[1:], base)
	case "delete", "rm":
		return runHashlistDelete(ctx, args[1:], base)
	default:
		printHashlistUsage()
		return usageErrorf("unknown hashlist command %q", args[0])
	}
}

func runHashlistUpload(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("hashlist upload")
	opts := base
	opts.bind(fs)
	var file, name, clientID, description string
	var hashType int
	var help bool
	fs.StringVar(&file, "file", "", "file with one hash per line")
	fs.StringVar(&name, "name", "", "hashlist name (default: file name without extension)")
	fs.IntVar(&hashType, "hash-type", -1, "hashcat mode, e.g. 0 for MD5 or 1000 for NTLM")
	fs.StringVar(&clientID, "client", "", "client id to file the hashlist under")
	fs.StringVar(&description, "description", "", "free-form description")
	bindHelp(fs, &help)
	if _, err := parseCommand(fs, args, printHashlistUploadUsage, &help, 0); err != nil {
		return err
	}
	if strings.TrimSpace(file) == "" {
		printHashlistUploadUsage()
		return usageErrorf("--file is required")
	}
	if hashType < 0 {
		printHashlistUploadUsage()
		return withHints(usageErrorf("--hash-type is required"), "list modes with: khctl meta hash-types")
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}
	req := userapi.CreateHashlistRequest{Name: name, HashTypeID: hashType, FilePath: file}
	if clientID != "" {
		id, err := userapi.ParseClientID(clientID)
		if err != nil {
			return usageError(err)
		}
		req.ClientID = userapi.Ptr(id)
	}
	if setFlags(fs)["description"] {
		req.Description = userapi.Ptr(description)
	}

	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	hashlist, err := sess.client.Hashlists.Create(ctx, req)
	if err != nil {
		return explainAPIError(err, "upload hashlist "+file)
	}
	return render(opts.format(), hashlist, func() {
		fmt.Fprintf(os.Stdout, "Hashlist %d uploaded (%s); the server processes it in the background.\n", hashlist.ID, orDash(hashlist.Status))
		fmt.Fprintf(os.Stdout, "Check progress with: khctl hashlist show %d\n", hashlist.ID)
	})
}

func runHashlistList(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("hashlist list")
	opts := base
	opts.bind(fs)
	var listOpts userapi.ListHashlistsOptions
	var clientID string
	var help bool
	bindPagination(fs, &listOpts.Pagination)
	fs.StringVar(&clientID, "client", "", "only hashlists of this client")
	fs.StringVar(&listOpts.Search, "search", "", "name filter")
	bindHelp(fs, &help)
	if _, err := parseCommand(fs, args, printHashlistListUsage, &help, 0); err != nil {
		return err
	}
	if err := checkPagination(listOpts.Pagination); err != nil {
		return err
	}
	if clientID != "" {
		id, err := userapi.ParseClientID(clientID)
		if err != nil {
			return usageError(err)
		}
		listOpts.ClientID = id
	}
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	res, err := sess.client.Hashlists.List(ctx, listOpts)
	if err != nil {
		return explainAPIError(err, "list hashlists")
	}
	return render(opts.format(), res, func() {
		printHashlistList(res.Items)
		printPageFooter(res.Page, res.PageSize, len(res.Items), res.Total)
	})
}

func runHashlistShow(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("hashlist show")
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	pos, err := parseCommand(fs, args, printHashlistShowUsage, &help, 1)
	if err != nil {
		return err
	}
	id, err := parseInt64ID("hashlist", pos[0])
	if err != nil {
		return err
	}
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	hashlist, err := sess.client.Hashlists.Get(ctx, id)
	if err != nil {
		return withDefaultNext(explainAPIError(err, "show hashlist "+pos[0]), "khctl hashlist list")
	}
	return render(opts.format(), hashlist, func() { printHashlist(hashlist) })
}

func runHashlistDelete(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("hashlist delete")
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	pos, err := parseCommand(fs, args, printHashlistDeleteUsage, &help, 1)
	if err != nil {
		return err
	}
	id, err := parseInt64ID("hashlist", pos[0])
	if err != nil {
		return err
	}
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	if err := sess.client.Hashlists.Delete(ctx, id); err != nil {
		return explainAPIError(err, "delete hashlist "+pos[0])
	}
	return render(opts.format(), map[string]int64{"deleted": id}, func() {
		fmt.Fprintf(os.Stdout, "Hashlist %d deleted\n", id)
	})
}

func printHashlist(h userapi.Hashlist) {
	fmt.Fprintf(os.Stdout, "ID: %d\n", h.ID)
	fmt.Fprintf(os.Stdout, "Name: %s\n", h.Name)
	fmt.Fprintf(os.Stdout, "Hash Type: %s\n", hashTypeLabel(h))
	fmt.Fprintf(os.Stdout, "Client: %s\n", orDash(h.ClientID))
	fmt.Fprintf(os.Stdout, "Status: %s\n", orDash(h.Status))
	fmt.Fprintf(os.Stdout, "Cracked: %d/%d (%s)\n", h.CrackedCount, h.HashCount, formatPercent(h.Progress))
	fmt.Fprintf(os.Stdout, "Created At: %s\n", formatTime(h.CreatedAt))
	fmt.Fprintf(os.Stdout, "Updated At: %s\n", formatTime(h.UpdatedAt))
}

func printHashlistList(hashlists []userapi.Hashlist) {
	w := newTable()
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tCRACKED\tCLIENT")
	for _, h := range hashlists {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d/%d\t%s\n", h.ID, h.Name, hashTypeLabel(h), orDash(h.Status), h.CrackedCount, h.HashCount, orDash(h.ClientID))
	}
	_ = w.Flush()
}

func hashTypeLabel(h userapi.Hashlist) string {
	if h.HashType != "" {
		return strconv.Itoa(h.HashTypeID) + " (" + h.HashType + ")"
	}
	return strconv.Itoa(h.HashTypeID)
}
