package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/farmkeeper/internal/client/badge"
	"github.com/iudanet/farmkeeper/internal/client/outbox"
	"github.com/iudanet/farmkeeper/internal/models"
)

func (c *Cli) statusCommand() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "status [operation]",
		Short: "Show queued edits and their sync state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := c.open(ctx); err != nil {
				return err
			}
			if len(args) == 1 {
				id, err := c.resolveID(args[0])
				if err != nil {
					return err
				}
				c.printOperation(c.operation(id))
				return nil
			}
			return c.runStatus(filter)
		},
	}
	cmd.Flags().StringVarP(&filter, "status", "s", "", "show only operations in this state (pending, syncing, synced, error, conflict)")
	return cmd
}

func (c *Cli) runStatus(filter string) error {
	queue := c.reconciler.Queue()

	ops := queue.List()
	if filter != "" {
		status, err := models.ParseStatus(strings.ToLower(filter))
		if err != nil {
			return err
		}
		ops = queue.ListByStatus(status)
	}

	if len(ops) == 0 {
		c.io.Println("Nothing waiting, every edit is synchronized.")
		return nil
	}

	c.printOperations(ops, c.now())
	c.io.Println(summary(queue.List()))
	return nil
}

// summary считает операции по статусам: "2 pending, 1 conflict"
func summary(ops []*models.PendingOperation) string {
	counts := make(map[models.Status]int)
	for _, op := range ops {
		counts[op.Status]++
	}
	var parts []string
	for _, s := range models.Statuses {
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[s], s))
		}
	}
	if len(parts) == 0 {
		return "queue is empty"
	}
	return strings.Join(parts, ", ")
}

func (c *Cli) syncCommand() *cobra.Command {
	var (
		timeout time.Duration
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Send queued edits to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := c.open(ctx); err != nil {
				return err
			}
			return c.runSync(ctx, timeout, watch)
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 30*time.Second, "how long to wait for the server and for submissions")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep running and send new edits whenever the server is reachable")
	return cmd
}

func (c *Cli) runSync(ctx context.Context, timeout time.Duration, watch bool) error {
	queue := c.reconciler.Queue()
	queue.Subscribe(func(ch outbox.Change) {
		if ch.Removed {
			c.io.Printf("  %s removed\n", shortID(ch.Op.CorrelationID))
			return
		}
		c.io.Printf("  %s %s %s\n", shortID(ch.Op.CorrelationID), target(ch.Op), badge.ForOperation(ch.Op))
	})

	if queue.Len() == 0 && !watch {
		c.io.Println("Nothing to send.")
		return nil
	}

	if err := c.goOnline(ctx, timeout); err != nil {
		if !watch {
			return err
		}
		c.io.Printf("Waiting for the server: %v\n", err)
	} else if _, err := c.reconciler.Flush(ctx); err != nil && !errors.Is(err, outbox.ErrOffline) {
		return err
	}

	if watch {
		c.io.Println("Watching for changes, press Ctrl+C to stop.")
		<-ctx.Done()
		return nil
	}

	if err := c.drain(ctx, timeout); err != nil {
		c.io.Printf("Stopped waiting: %v\n", err)
	}

	c.io.Println(summary(queue.List()))
	if n := len(queue.ListByStatus(models.StatusConflict)); n > 0 {
		c.io.Printf("%d conflict(s) need a decision, see 'farmkeeper status -s conflict'.\n", n)
	}
	return nil
}

func (c *Cli) retryCommand() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "retry <operation>",
		Short: "Send a failed edit again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.resubmit(cmd.Context(), args[0], wait, func(ctx context.Context, id string) error {
				err := c.reconciler.Retry(ctx, id)
				if errors.Is(err, outbox.ErrEditRequired) {
					return fmt.Errorf("%w: use 'farmkeeper amend %s --data ...'", err, shortID(id))
				}
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the server")
	return cmd
}

func (c *Cli) amendCommand() *cobra.Command {
	var (
		data string
		wait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "amend <operation>",
		Short: "Replace the content of a rejected edit and send it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parsePayload(data)
			if err != nil {
				return err
			}
			return c.resubmit(cmd.Context(), args[0], wait, func(ctx context.Context, id string) error {
				return c.reconciler.Amend(ctx, id, payload)
			})
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "corrected record content as a JSON object")
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the server")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func (c *Cli) resolveCommand() *cobra.Command {
	var (
		keep string
		data string
		wait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "resolve <operation>",
		Short: "Settle a conflict and send the result",
		Long: "Settle a conflict with the server copy. --keep local sends your edit on top of the " +
			"server version, --keep remote makes the server copy win, --keep merged sends --data.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			choice, err := outbox.ParseChoice(keep)
			if err != nil {
				return err
			}
			res := outbox.Resolution{Choice: choice}
			if choice == outbox.Merged {
				if res.Payload, err = parsePayload(data); err != nil {
					return err
				}
			}
			return c.resubmit(cmd.Context(), args[0], wait, func(ctx context.Context, id string) error {
				return c.reconciler.Resolve(ctx, id, res)
			})
		},
	}
	cmd.Flags().StringVarP(&keep, "keep", "k", "", "local, remote or merged")
	cmd.Flags().StringVarP(&data, "data", "d", "", "merged record content, required for --keep merged")
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the server")
	_ = cmd.MarkFlagRequired("keep")
	return cmd
}

func (c *Cli) discardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <operation>",
		Short: "Drop a failed or conflicted edit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.drop(cmd.Context(), args[0], "Discarded", c.reconciler.Discard)
		},
	}
}

func (c *Cli) cancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <operation>",
		Short: "Drop an edit that has not been sent yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.drop(cmd.Context(), args[0], "Cancelled", c.reconciler.Cancel)
		},
	}
}

// resubmit выполняет действие пользователя над операцией, которое требует сервера,
// и ждет результат отправки
func (c *Cli) resubmit(ctx context.Context, prefix string, wait time.Duration, action func(context.Context, string) error) error {
	if err := c.open(ctx); err != nil {
		return err
	}
	id, err := c.resolveID(prefix)
	if err != nil {
		return err
	}
	if err := c.goOnline(ctx, wait); err != nil {
		return err
	}
	if err := action(ctx, id); err != nil {
		return err
	}
	if err := c.drain(ctx, wait); err != nil {
		c.logger.Debug("Drain interrupted", "error", err)
	}

	if op := c.operation(id); op != nil {
		c.printOperation(op)
	}
	return nil
}

// drop удаляет операцию из очереди, сервер для этого не нужен
func (c *Cli) drop(ctx context.Context, prefix, verb string, action func(context.Context, string) error) error {
	if err := c.open(ctx); err != nil {
		return err
	}
	id, err := c.resolveID(prefix)
	if err != nil {
		return err
	}
	op := c.operation(id)
	if err := action(ctx, id); err != nil {
		return err
	}
	c.io.Printf("%s %s: %s\n", verb, shortID(id), target(op))
	return nil
}
