package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"feeledger/internal/cli"
	"feeledger/internal/core"
	"feeledger/internal/seed"
	"feeledger/internal/services"
)

var errUsage = errors.New(`usage: feeledger <command> [flags]

commands:
  record     record a payment and assign its receipt number
  print      mark a receipt as printed
  void       void a payment, keeping its receipt number
  summarize  show expected fees, total paid, balance and status
  history    list a student's payments
  fees       list the active fees of a grade level
  seed       load students and fees from a JSON file`)

type app struct {
	ledger *cli.Ledger
	out    io.Writer
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "record":
		return a.record(ctx, rest)
	case "print":
		return a.print(ctx, rest)
	case "void":
		return a.void(ctx, rest)
	case "summarize":
		return a.summarize(ctx, rest)
	case "history":
		return a.history(ctx, rest)
	case "fees":
		return a.fees(ctx, rest)
	case "seed":
		return a.seed(ctx, rest)
	case "help", "-h", "--help":
		fmt.Fprintln(a.out, errUsage.Error())
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%w", cmd, errUsage)
	}
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%s: %v\n%w", fs.Name(), err, errUsage)
	}
	return nil
}

func (a *app) record(ctx context.Context, args []string) error {
	fs := newFlagSet("record")
	var (
		req    services.RecordRequest
		date   string
		asJSON bool
	)
	fs.StringVar(&req.StudentID, "student", "", "student id")
	fs.StringVar(&req.RecordedBy, "by", os.Getenv("USER"), "cashier user id")
	fs.StringVar(&req.Amount, "amount", "", "amount, e.g. 1500.00 or 1500,00")
	fs.StringVar(&req.Purpose, "purpose", "", "what the payment is for")
	fs.StringVar(&req.Method, "method", "", "cash, check or online (default cash)")
	fs.StringVar(&date, "date", "", "payment date YYYY-MM-DD (default today)")
	fs.StringVar(&req.Notes, "notes", "", "free text")
	fs.StringVar(&req.IdempotencyKey, "key", "", "idempotency key for safe retries")
	fs.BoolVar(&asJSON, "json", false, "print JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	if date != "" {
		d, err := core.ParseDate(date)
		if err != nil {
			return err
		}
		req.PaymentDate = d
	}

	p, err := a.ledger.Recorder.Record(ctx, req)
	if err != nil {
		return err
	}
	return a.payment(p, asJSON)
}

func (a *app) print(ctx context.Context, args []string) error {
	fs := newFlagSet("print")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	id, err := oneArg(fs, "payment id")
	if err != nil {
		return err
	}
	p, err := a.ledger.Recorder.Print(ctx, id)
	if err != nil {
		return err
	}
	return a.payment(p, *asJSON)
}

func (a *app) void(ctx context.Context, args []string) error {
	fs := newFlagSet("void")
	reason := fs.String("reason", "", "why the payment is voided")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	id, err := oneArg(fs, "payment id")
	if err != nil {
		return err
	}
	p, err := a.ledger.Recorder.Void(ctx, id, *reason)
	if err != nil {
		return err
	}
	return a.payment(p, *asJSON)
}

func (a *app) summarize(ctx context.Context, args []string) error {
	fs := newFlagSet("summarize")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("summarize: at least one student id is required\n%w", errUsage)
	}
	summaries, err := a.ledger.Aggregator.SummarizeMany(ctx, fs.Args())
	if err != nil {
		return err
	}
	if *asJSON {
		views := make([]summaryView, len(summaries))
		for i, s := range summaries {
			views[i] = newSummaryView(s)
		}
		return a.json(views)
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STUDENT\tEXPECTED\tPAID\tBALANCE\tSTATUS")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.StudentID, s.ExpectedFees, s.TotalPaid, s.Balance, s.Status)
	}
	return tw.Flush()
}

func (a *app) history(ctx context.Context, args []string) error {
	fs := newFlagSet("history")
	all := fs.Bool("all", false, "include voided payments")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := parse(fs, args); err != nil {
		return err
	}
	id, err := oneArg(fs, "student id")
	if err != nil {
		return err
	}
	if _, err := a.ledger.Store.GetStudent(ctx, id); err != nil {
		return err
	}
	payments, err := a.ledger.Store.ListPayments(ctx, id, *all)
	if err != nil {
		return err
	}
	if *asJSON {
		views := make([]paymentView, len(payments))
		for i, p := range payments {
			views[i] = newPaymentView(p)
		}
		return a.json(views)
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECEIPT\tDATE\tAMOUNT\tMETHOD\tPURPOSE\tSTATUS")
	for _, p := range payments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", p.ReceiptNumber, p.PaymentDate, p.Amount, p.Method, p.Purpose, paymentState(p))
	}
	return tw.Flush()
}

func (a *app) fees(ctx context.Context, args []string) error {
	fs := newFlagSet("fees")
	if err := parse(fs, args); err != nil {
		return err
	}
	grade, err := oneArg(fs, "grade level")
	if err != nil {
		return err
	}
	fees, err := a.ledger.Catalog.ActiveFees(ctx, grade)
	if err != nil {
		return err
	}
	total, err := a.ledger.Catalog.ExpectedFees(ctx, grade)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "YEAR\tFEE\tAMOUNT\tREQUIRED")
	for _, f := range fees {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", f.SchoolYear, f.FeeType, f.Amount, f.Required)
	}
	fmt.Fprintf(tw, "\tTOTAL\t%s\t\n", total)
	return tw.Flush()
}

func (a *app) seed(ctx context.Context, args []string) error {
	fs := newFlagSet("seed")
	if err := parse(fs, args); err != nil {
		return err
	}
	path, err := oneArg(fs, "seed file")
	if err != nil {
		return err
	}

	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open seed file: %w", err)
		}
		defer f.Close()
		r = f
	}

	file, err := seed.Load(r)
	if err != nil {
		return err
	}
	res, err := seed.Apply(ctx, a.ledger.Store, file)
	a.ledger.Aggregator.InvalidateCatalog()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "seeded %d students and %d fee structures\n", res.Students, res.Fees)
	return nil
}

func oneArg(fs *pflag.FlagSet, what string) (string, error) {
	if fs.NArg() != 1 || strings.TrimSpace(fs.Arg(0)) == "" {
		return "", fmt.Errorf("%s: exactly one %s is required\n%w", fs.Name(), what, errUsage)
	}
	return strings.TrimSpace(fs.Arg(0)), nil
}

func (a *app) payment(p *core.Payment, asJSON bool) error {
	if asJSON {
		return a.json(newPaymentView(*p))
	}
	fmt.Fprintf(a.out, "%s  %s  %s  %s  %s  %s\n", p.ReceiptNumber, p.ID, p.PaymentDate, p.Amount, p.StudentID, paymentState(*p))
	return nil
}

func (a *app) json(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func paymentState(p core.Payment) string {
	switch {
	case p.IsVoided():
		return "voided"
	case p.IsPrinted():
		return "printed"
	default:
		return "issued"
	}
}
