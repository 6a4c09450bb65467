package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sikaledger/sikaledger/cmd/sikaledger/cli"
	"github.com/sikaledger/sikaledger/internal/app"
	"github.com/sikaledger/sikaledger/internal/float"
	"github.com/sikaledger/sikaledger/internal/ledger"
	"github.com/sikaledger/sikaledger/internal/reversal"
)

const usage = `usage: sikaledger <command> [flags]

commands:
  migrate    apply the database schema
  post       journalise a branch transaction
  void       void a posted journal entry
  move       apply a float account movement
  reverse    open a reversal request
  approve    approve a pending reversal
  reject     reject a pending reversal
  complete   retry completion of an approved reversal
  stale      list pending reversals older than an age
  recon      run a reconciliation and print the report
  limit      set a role authorisation ceiling
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fatal("load config", err)
	}
	logger := app.NewLogger(cfg)

	kernel, err := cli.NewKernel(ctx, cfg, logger)
	if err != nil {
		fatal("connect", err)
	}
	defer kernel.Close()

	if err := run(ctx, kernel, logger, os.Args[1], os.Args[2:]); err != nil {
		fatal(os.Args[1], err)
	}
}

func run(ctx context.Context, kernel *cli.Kernel, logger *slog.Logger, command string, args []string) error {
	switch command {
	case "migrate":
		if err := kernel.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("schema applied")
		return nil

	case "post":
		fs := flag.NewFlagSet("post", flag.ExitOnError)
		opts := cli.PostOptions{}
		fs.StringVar(&opts.SourceModule, "module", "", "source module, e.g. momo")
		fs.StringVar(&opts.SourceTransactionID, "txid", "", "source transaction id")
		fs.StringVar(&opts.TransactionType, "type", "", "transaction type, e.g. momo_float")
		fs.Int64Var(&opts.FloatAccountID, "float-account", 0, "float account id (0 for type-level mappings)")
		fs.Float64Var(&opts.Amount, "amount", 0, "principal amount")
		fs.Float64Var(&opts.Fee, "fee", 0, "fee amount")
		fs.Float64Var(&opts.Commission, "commission", 0, "commission amount")
		fs.StringVar(&opts.Description, "desc", "", "entry description")
		fs.Int64Var(&opts.ActorID, "actor", 0, "acting user id")
		fs.StringVar(&opts.Movement, "movement", "", "optional float movement type (CREDIT, DEBIT, ...)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		result, err := cli.NewPostCLI(kernel).Run(ctx, opts)
		if err != nil {
			return err
		}
		return print(result)

	case "void":
		fs := flag.NewFlagSet("void", flag.ExitOnError)
		entryID := fs.Int64("entry", 0, "journal entry id")
		actor := fs.Int64("actor", 0, "acting user id")
		reason := fs.String("reason", "", "void reason")
		if err := fs.Parse(args); err != nil {
			return err
		}
		entry, err := kernel.Poster.Void(ctx, ledger.VoidInput{EntryID: *entryID, ActorID: *actor, Reason: *reason})
		if err != nil {
			return err
		}
		return print(entry)

	case "move":
		fs := flag.NewFlagSet("move", flag.ExitOnError)
		input := float.MovementInput{}
		movementType := fs.String("type", "", "movement type (CREDIT, DEBIT, REFILL, RECHARGE, ADJUSTMENT)")
		fs.Int64Var(&input.FloatAccountID, "account", 0, "float account id")
		fs.Float64Var(&input.Amount, "amount", 0, "amount (signed for ADJUSTMENT)")
		fs.StringVar(&input.Reference, "ref", "", "movement reference (defaults to a generated uuid)")
		fs.Int64Var(&input.CreatedBy, "actor", 0, "acting user id")
		fs.BoolVar(&input.AllowOverdraft, "allow-overdraft", false, "permit a negative balance (ADJUSTMENT only)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		input.Type = float.MovementType(*movementType)
		movement, err := kernel.Floats.ApplyMovement(ctx, input)
		if err != nil {
			return err
		}
		return print(movement)

	case "reverse":
		fs := flag.NewFlagSet("reverse", flag.ExitOnError)
		input := reversal.RequestInput{}
		kind := fs.String("kind", string(reversal.TypeReverse), "VOID or REVERSE")
		fs.StringVar(&input.SourceModule, "module", "", "source module of the original entry")
		fs.StringVar(&input.SourceTransactionID, "txid", "", "source transaction id of the original entry")
		fs.StringVar(&input.Reason, "reason", "", "reversal reason")
		fs.Int64Var(&input.RequestedBy, "actor", 0, "requesting user id")
		fs.StringVar(&input.RequesterRole, "role", "", "requesting user role")
		if err := fs.Parse(args); err != nil {
			return err
		}
		input.Type = reversal.Type(*kind)
		rev, err := kernel.Reversals.Request(ctx, input)
		if err != nil {
			return err
		}
		return print(rev)

	case "approve", "reject":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		id := fs.Int64("id", 0, "reversal id")
		actor := fs.Int64("actor", 0, "approving user id")
		role := fs.String("role", "", "approving user role")
		notes := fs.String("notes", "", "decision notes")
		if err := fs.Parse(args); err != nil {
			return err
		}
		var rev reversal.Reversal
		var err error
		if command == "approve" {
			rev, err = kernel.Reversals.Approve(ctx, *id, *actor, *role)
		} else {
			rev, err = kernel.Reversals.Reject(ctx, *id, *actor, *role, *notes)
		}
		if err != nil {
			return err
		}
		return print(rev)

	case "complete":
		fs := flag.NewFlagSet("complete", flag.ExitOnError)
		id := fs.Int64("id", 0, "reversal id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		rev, err := kernel.Reversals.Complete(ctx, *id)
		if err != nil {
			return err
		}
		return print(rev)

	case "stale":
		fs := flag.NewFlagSet("stale", flag.ExitOnError)
		age := fs.Duration("age", 48*time.Hour, "minimum pending age")
		if err := fs.Parse(args); err != nil {
			return err
		}
		pending, err := kernel.StalePending(ctx, *age)
		if err != nil {
			return err
		}
		return print(pending)

	case "recon":
		fs := flag.NewFlagSet("recon", flag.ExitOnError)
		save := fs.Bool("save", false, "persist the snapshot")
		if err := fs.Parse(args); err != nil {
			return err
		}
		var report interface{}
		var err error
		if *save {
			report, err = kernel.Recon.Snapshot(ctx)
		} else {
			report, err = kernel.Recon.Reconcile(ctx)
		}
		if err != nil {
			return err
		}
		return print(report)

	case "limit":
		fs := flag.NewFlagSet("limit", flag.ExitOnError)
		role := fs.String("role", "", "role name")
		max := fs.Float64("max", 0, "maximum amount the role may authorise")
		unlimited := fs.Bool("unlimited", false, "remove the cap for the role")
		if err := fs.Parse(args); err != nil {
			return err
		}
		var ceiling *float64
		if !*unlimited {
			ceiling = max
		}
		return kernel.Limits.SetCeiling(ctx, *role, ceiling)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func print(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fatal(stage string, err error) {
	fmt.Fprintf(os.Stderr, "sikaledger: %s: %v\n", stage, err)
	os.Exit(1)
}
