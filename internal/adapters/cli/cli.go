package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"procurement-reconciler/internal/app"
	"procurement-reconciler/internal/core"
)

// ErrUsage is returned when the arguments do not form a valid command.
var ErrUsage = errors.New("usage")

const usage = `Available commands:
  dispatch [request-id...]         place open purchase requests into supplier baskets
  show <basket>                    print a basket and its lines
  status <basket> <target>         move a basket (SENT, ACK, RECEIVED, CLOSED, CANCELLED)
  select <basket> <line>           select a line
  deselect <basket> <line>         deselect a line
  reevaluate <basket>              reapply the basket status to its purchase requests
  check <basket>                   dry-run the RECEIVED guard
  twins <request>                  list the lines referencing a purchase request`

// Run executes a one-shot CLI command, writing human-readable output to out.
// args is os.Args[1:]; the first element is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w\n%s", ErrUsage, usage)
	}

	switch args[0] {
	case "dispatch", "d":
		result, err := svc.Dispatch(ctx, app.DispatchRequest{RequestIDs: args[1:]})
		if err != nil {
			return fmt.Errorf("dispatch: %w", err)
		}
		printDispatch(out, result)

	case "show":
		if len(args) < 2 {
			return fmt.Errorf("%w: app show <basket>", ErrUsage)
		}
		result, err := svc.GetBasket(ctx, args[1])
		if err != nil {
			return err
		}
		printBasket(out, result.Basket)

	case "status", "st":
		if len(args) < 3 {
			return fmt.Errorf("%w: app status <basket> <target>", ErrUsage)
		}
		result, err := svc.ChangeBasketStatus(ctx, app.ChangeStatusRequest{
			BasketID: args[1],
			Target:   core.BasketStatus(strings.ToUpper(args[2])),
		})
		if result != nil && result.Transition != nil {
			printTransition(out, result.Transition)
		}
		if err != nil {
			var partial *core.PartialBatchError
			if errors.As(err, &partial) {
				return fmt.Errorf("transition stopped at %s; run `app reevaluate %s` once the upstream recovers: %w",
					partial.Step, args[1], err)
			}
			return fmt.Errorf("status change failed: %w", err)
		}

	case "select", "deselect":
		if len(args) < 3 {
			return fmt.Errorf("%w: app %s <basket> <line>", ErrUsage, args[0])
		}
		result, err := svc.ToggleLineSelection(ctx, app.ToggleSelectionRequest{
			BasketID: args[1],
			LineID:   args[2],
			Selected: args[0] == "select",
		})
		if err != nil {
			return err
		}
		sel := result.Selection
		switch {
		case !sel.Changed:
			fmt.Fprintf(out, "Line %s unchanged: %s\n", args[2], sel.Reason)
		case sel.Flagged:
			fmt.Fprintf(out, "Line %s %sed. Warning: %s\n", args[2], args[0], sel.Reason)
		default:
			fmt.Fprintf(out, "Line %s %sed.\n", args[2], args[0])
		}

	case "reevaluate", "re":
		if len(args) < 2 {
			return fmt.Errorf("%w: app reevaluate <basket>", ErrUsage)
		}
		result, err := svc.ReEvaluateBasket(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Basket %s re-evaluated: %d purchase request(s) updated.\n", result.BasketID, result.RequestsUpdated)

	case "check":
		if len(args) < 2 {
			return fmt.Errorf("%w: app check <basket>", ErrUsage)
		}
		preview, err := svc.PreviewFinalization(ctx, args[1])
		if err != nil {
			return err
		}
		printPreview(out, preview)

	case "twins":
		if len(args) < 2 {
			return fmt.Errorf("%w: app twins <request>", ErrUsage)
		}
		result, err := svc.FindTwins(ctx, args[1])
		if err != nil {
			return err
		}
		if len(result.Twins) == 0 {
			fmt.Fprintf(out, "No line references %s.\n", args[1])
			return nil
		}
		for _, t := range result.Twins {
			fmt.Fprintf(out, "  %-36s %-10s %-36s %s\n", t.BasketID, t.BasketStatus, t.Line.ID, selectedMark(t.Line.IsSelected))
		}

	default:
		return fmt.Errorf("%w: unknown command %q\n%s", ErrUsage, args[0], usage)
	}
	return nil
}

func printDispatch(out io.Writer, result *core.DispatchResult) {
	fmt.Fprintf(out, "Dispatched %d, to qualify %d, failed %d.\n",
		len(result.Dispatched), len(result.ToQualify), len(result.Errors))
	for _, d := range result.Dispatched {
		verb := "added to"
		if d.Merged {
			verb = "merged into"
		}
		fmt.Fprintf(out, "  %s %s line %s (basket %s, supplier %s)\n", d.RequestID, verb, d.LineID, d.BasketID, d.SupplierID)
	}
	for _, pr := range result.ToQualify {
		fmt.Fprintf(out, "  %s has no preferred supplier\n", pr.ID)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(out, "  %s failed: %v\n", e.RequestID, e.Err)
	}
}

func printBasket(out io.Writer, b *core.SupplierOrder) {
	fmt.Fprintln(out, strings.Repeat("=", 72))
	fmt.Fprintf(out, "  Basket   : %s\n", b.ID)
	fmt.Fprintf(out, "  Supplier : %s\n", b.SupplierID)
	fmt.Fprintf(out, "  Status   : %s\n", b.Status)
	fmt.Fprintln(out, strings.Repeat("=", 72))
	fmt.Fprintf(out, "  %-36s %10s %-8s %s\n", "LINE", "QTY", "SEL", "REQUESTS")
	fmt.Fprintln(out, strings.Repeat("-", 72))
	for _, l := range b.Lines {
		fmt.Fprintf(out, "  %-36s %10s %-8s %s\n", l.ID, l.Quantity.String(), selectedMark(l.IsSelected), strings.Join(l.RequestIDs, ","))
	}
	fmt.Fprintln(out, strings.Repeat("=", 72))
}

func printTransition(out io.Writer, tr *core.TransitionResult) {
	fmt.Fprintf(out, "Basket %s: %s -> %s\n", tr.BasketID, tr.From, tr.To)
	if tr.Purge != nil {
		fmt.Fprintf(out, "  purged lines      : %d\n", len(tr.Purge.DeletedLines))
		fmt.Fprintf(out, "  returned to pool  : %s\n", joinOrNone(tr.Purge.Redispatched))
	}
	fmt.Fprintf(out, "  requests updated  : %d\n", len(tr.UpdatedRequests))
	for _, w := range tr.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", w)
	}
}

func printPreview(out io.Writer, p *core.FinalizationPreview) {
	if p.Ready() {
		fmt.Fprintf(out, "Basket %s can be received.\n", p.BasketID)
	} else {
		fmt.Fprintf(out, "Basket %s cannot be received yet.\n", p.BasketID)
	}
	if !p.HasSelectedLine {
		fmt.Fprintln(out, "  no line is selected")
	}
	for _, c := range p.Report.Errors {
		fmt.Fprintf(out, "  request %s is selected on several lines: %s\n", c.RequestID, strings.Join(c.LineIDs, ", "))
	}
	for _, m := range p.Report.Messages() {
		fmt.Fprintf(out, "  warning: %s\n", m)
	}
}

func selectedMark(selected bool) string {
	if selected {
		return "yes"
	}
	return "no"
}

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}
