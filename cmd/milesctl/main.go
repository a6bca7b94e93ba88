// cmd/milesctl/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"familymiles/internal/clients"
	"familymiles/internal/config"
	"familymiles/internal/editsession"
	"familymiles/internal/loyalty"
)

const usage = `usage: milesctl [-url URL] [-token TOKEN] <command> [flags]

commands:
  login          exchange the access code for a token
  members        list members and their programs
  log            show the change history (-member to filter)
  edit           change program fields (-set field=value, -unset field)
  rename-field   rename a custom field (-from, -to)
  add-member     create a member
  remove-member  delete a member
  summary        print the plain-text summary
  stats          print dashboard totals
`

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

type cli struct {
	client *clients.DashboardClient
	out    io.Writer
	logger *slog.Logger
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if err := config.LoadDotEnv(os.Getenv("ENV_FILE")); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	global := flag.NewFlagSet("milesctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	baseURL := global.String("url", cfg.BaseURL, "dashboard base URL")
	token := global.String("token", cfg.Token, "bearer token")
	timeout := global.Duration("timeout", cfg.Timeout, "overall command timeout")
	verbose := global.Bool("v", false, "log retries and warnings")
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	level := cfg.LogLevel
	if !*verbose {
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	c := &cli{
		client: clients.NewDashboardClient(strings.TrimRight(*baseURL, "/"), clients.WithToken(*token), clients.WithLogger(logger)),
		out:    stdout,
		logger: logger,
	}
	cmd, rest := global.Arg(0), global.Args()[1:]
	commands := map[string]func(context.Context, []string) error{
		"login":         c.login,
		"members":       c.members,
		"log":           c.log,
		"edit":          c.edit,
		"rename-field":  c.renameField,
		"add-member":    c.addMember,
		"remove-member": c.removeMember,
		"summary":       c.summary,
		"stats":         c.stats,
	}
	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
	if err := fn(ctx, rest); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 2
		}
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

// multiFlag collects repeated string flags.
type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

func (c *cli) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	code := fs.String("code", os.Getenv("ACCESS_CODE"), "family access code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	token, err := c.client.Login(ctx, *code)
	if err != nil {
		return err
	}
	if token == "" {
		fmt.Fprintln(c.out, "authentication is disabled on this server")
		return nil
	}
	fmt.Fprintf(c.out, "export DASHBOARD_TOKEN=%s\n", token)
	return nil
}

func (c *cli) dashboard(ctx context.Context) (*editsession.Dashboard, error) {
	d := editsession.NewDashboard(c.client, c.client, nil, editsession.WithLogger(c.logger))
	return d, d.Refresh(ctx)
}

func sortedCompanies(cs []loyalty.Company) []loyalty.Company {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Name < cs[j].Name })
	return cs
}

func (c *cli) members(ctx context.Context, args []string) error {
	d, err := c.dashboard(ctx)
	if err != nil {
		return err
	}
	companies := sortedCompanies(d.Records.Companies())

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MEMBER\tID\tPROGRAM\tSALDO\tCATEGORIA\tVERSION\tLAST CHANGE")
	for _, m := range d.Records.Members() {
		for _, co := range companies {
			rec, ok := m.Program(co.ID)
			if !ok {
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				m.Name, m.ID, co.ID, loyalty.FormatNumber(rec.CurrentBalance), rec.EliteTier, rec.Version, rec.LastChange)
		}
	}
	return tw.Flush()
}

func (c *cli) log(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("log", flag.ContinueOnError)
	member := fs.String("member", "", "member name or id")
	limit := fs.Int("n", 0, "show only the last n entries")
	if err := fs.Parse(args); err != nil {
		return err
	}
	d, err := c.dashboard(ctx)
	if err != nil {
		return err
	}
	entries := d.GlobalLog()
	if *member != "" {
		m, err := findMember(d, *member)
		if err != nil {
			return err
		}
		entries = d.MemberLog(m.ID)
	}
	if *limit > 0 && len(entries) > *limit {
		entries = entries[len(entries)-*limit:]
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tMEMBER\tPROGRAM\tFIELD\tOLD\tNEW")
	for _, e := range entries {
		f := loyalty.Field(e.FieldChanged)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.MemberName, e.CompanyName, e.FieldChanged,
			loyalty.DisplayValue(f, e.OldValue), loyalty.DisplayValue(f, e.NewValue))
	}
	return tw.Flush()
}

func findMember(d *editsession.Dashboard, ref string) (loyalty.Member, error) {
	for _, m := range d.Records.Members() {
		if m.ID == ref || strings.EqualFold(m.Name, ref) {
			return m, nil
		}
	}
	return loyalty.Member{}, fmt.Errorf("no member %q", ref)
}

func (c *cli) programKey(d *editsession.Dashboard, member, company string) (loyalty.Key, error) {
	if member == "" || company == "" {
		return loyalty.Key{}, errors.New("-member and -company are required")
	}
	m, err := findMember(d, member)
	if err != nil {
		return loyalty.Key{}, err
	}
	return loyalty.Key{MemberID: m.ID, CompanyID: company}, nil
}

func (c *cli) edit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("edit", flag.ContinueOnError)
	member := fs.String("member", "", "member name or id")
	company := fs.String("company", "", "company id")
	var sets, unsets multiFlag
	fs.Var(&sets, "set", "field=value (repeatable; custom fields as custom_fields.<name>)")
	fs.Var(&unsets, "unset", "field to clear (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(sets)+len(unsets) == 0 {
		return errors.New("nothing to change: use -set or -unset")
	}

	d, err := c.dashboard(ctx)
	if err != nil {
		return err
	}
	key, err := c.programKey(d, *member, *company)
	if err != nil {
		return err
	}
	if err := d.StartEdit(key); err != nil {
		return err
	}
	for _, s := range sets {
		field, value, ok := strings.Cut(s, "=")
		if !ok {
			_ = d.CancelEdit(key)
			return fmt.Errorf("invalid -set %q, want field=value", s)
		}
		if err := d.UpdateField(key, loyalty.Field(field), value); err != nil {
			if !errors.Is(err, editsession.ErrValidationWarning) {
				_ = d.CancelEdit(key)
				return err
			}
			fmt.Fprintln(c.out, "warning:", err)
		}
	}
	for _, field := range unsets {
		if err := d.UpdateField(key, loyalty.Field(field), loyalty.Empty); err != nil && !editsession.IsWarning(err) {
			_ = d.CancelEdit(key)
			return err
		}
	}

	result, err := d.SaveEdit(ctx, key)
	if err != nil {
		return err
	}
	if len(result.Changes) == 0 {
		fmt.Fprintln(c.out, "no changes")
		return nil
	}
	for _, ch := range result.Changes {
		fmt.Fprintf(c.out, "%s: %s -> %s\n", ch.Field.Label(),
			loyalty.DisplayValue(ch.Field, ch.Old), loyalty.DisplayValue(ch.Field, ch.New))
	}
	fmt.Fprintf(c.out, "saved at version %d\n", result.Record.Version)
	return nil
}

func (c *cli) renameField(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rename-field", flag.ContinueOnError)
	member := fs.String("member", "", "member name or id")
	company := fs.String("company", "", "company id")
	from := fs.String("from", "", "current custom field name")
	to := fs.String("to", "", "new custom field name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	d, err := c.dashboard(ctx)
	if err != nil {
		return err
	}
	key, err := c.programKey(d, *member, *company)
	if err != nil {
		return err
	}
	if err := d.RenameCustomField(ctx, key, *from, *to); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "renamed %q to %q\n", *from, *to)
	return nil
}

func (c *cli) addMember(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: milesctl add-member NAME")
	}
	res, err := c.client.CreateMember(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s (%s)\n", res.Message, res.MemberID)
	return nil
}

func (c *cli) removeMember(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: milesctl remove-member NAME|ID")
	}
	d, err := c.dashboard(ctx)
	if err != nil {
		return err
	}
	m, err := findMember(d, args[0])
	if err != nil {
		return err
	}
	res, err := c.client.DeleteMember(ctx, m.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, res.Message)
	return nil
}

func (c *cli) summary(ctx context.Context, args []string) error {
	text, err := c.client.Summary(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(c.out, text)
	return nil
}

func (c *cli) stats(ctx context.Context, args []string) error {
	s, err := c.client.Stats(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "members\t%d\n", s.TotalMembers)
	fmt.Fprintf(tw, "programs\t%d\n", s.TotalCompanies)
	fmt.Fprintf(tw, "points\t%s\n", loyalty.FormatNumber(s.TotalPoints))
	fmt.Fprintf(tw, "changes (24h)\t%d\n", s.RecentActivity)
	return tw.Flush()
}
