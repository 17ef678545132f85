package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/farmkeeper/internal/client/api"
	"github.com/iudanet/farmkeeper/internal/models"
	"github.com/iudanet/farmkeeper/internal/validation"
)

// syncFlags управляют попыткой отправки сразу после записи в очередь
type syncFlags struct {
	wait   time.Duration
	noSync bool
}

func (f *syncFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.noSync, "no-sync", false, "only queue the edit, do not contact the server")
	cmd.Flags().DurationVar(&f.wait, "wait", 5*time.Second, "how long to wait for the server before leaving the edit queued")
}

func (c *Cli) recordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "record",
		Aliases: []string{"rec"},
		Short:   "Create, change and read farm records",
	}
	cmd.AddCommand(
		c.recordCreateCommand(),
		c.recordUpdateCommand(),
		c.recordDeleteCommand(),
		c.recordGetCommand(),
		c.recordListCommand(),
	)
	return cmd
}

func (c *Cli) recordCreateCommand() *cobra.Command {
	var (
		data string
		sf   syncFlags
	)
	cmd := &cobra.Command{
		Use:   "create <collection> [id]",
		Short: "Queue a new record, the id is generated when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var id string
			if len(args) == 2 {
				id = args[1]
			}
			payload, err := parsePayload(data)
			if err != nil {
				return err
			}
			return c.enqueue(ctx, models.Mutation{
				Kind:       models.KindCreate,
				Collection: args[0],
				RecordID:   id,
				Payload:    payload,
			}, sf)
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "record content as a JSON object")
	_ = cmd.MarkFlagRequired("data")
	sf.register(cmd)
	return cmd
}

func (c *Cli) recordUpdateCommand() *cobra.Command {
	var (
		data string
		base int64
		sf   syncFlags
	)
	cmd := &cobra.Command{
		Use:   "update <collection> <id>",
		Short: "Queue a change of an existing record",
		Long: "Queue a change of an existing record. The change is based on --base, " +
			"or on the version the server reports when --base is omitted.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			payload, err := parsePayload(data)
			if err != nil {
				return err
			}
			if err := c.open(ctx); err != nil {
				return err
			}
			version, err := c.baseVersion(ctx, args[0], args[1], base)
			if err != nil {
				return err
			}
			return c.enqueue(ctx, models.Mutation{
				Kind:        models.KindUpdate,
				Collection:  args[0],
				RecordID:    args[1],
				BaseVersion: version,
				Payload:     payload,
			}, sf)
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "new record content as a JSON object")
	cmd.Flags().Int64Var(&base, "base", 0, "record version the change is based on")
	_ = cmd.MarkFlagRequired("data")
	sf.register(cmd)
	return cmd
}

func (c *Cli) recordDeleteCommand() *cobra.Command {
	var (
		base int64
		sf   syncFlags
	)
	cmd := &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Queue the removal of a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := c.open(ctx); err != nil {
				return err
			}
			version, err := c.baseVersion(ctx, args[0], args[1], base)
			if err != nil {
				return err
			}
			return c.enqueue(ctx, models.Mutation{
				Kind:        models.KindDelete,
				Collection:  args[0],
				RecordID:    args[1],
				BaseVersion: version,
			}, sf)
		},
	}
	cmd.Flags().Int64Var(&base, "base", 0, "record version the removal is based on")
	sf.register(cmd)
	return cmd
}

func (c *Cli) recordGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Show the server copy of a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := c.open(ctx); err != nil {
				return err
			}
			if err := c.requireSession(ctx); err != nil {
				return err
			}
			rec, err := c.apiClient.GetRecord(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			c.printRecord(rec)
			return nil
		},
	}
}

func (c *Cli) recordListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <collection>",
		Short: "List the server copies of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := validation.ValidateCollection(args[0]); err != nil {
				return err
			}
			if err := c.open(ctx); err != nil {
				return err
			}
			if err := c.requireSession(ctx); err != nil {
				return err
			}
			records, err := c.apiClient.ListRecords(ctx, args[0])
			if err != nil {
				return err
			}
			if len(records) == 0 {
				c.io.Printf("No records in %s\n", args[0])
				return nil
			}
			c.printRecords(records, c.now())
			return nil
		},
	}
}

func (c *Cli) weighCommand() *cobra.Command {
	var sf syncFlags
	cmd := &cobra.Command{
		Use:   "weigh <animal> <kg>",
		Short: "Record the weight of an animal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kg, err := parseAmount(args[1], "weight")
			if err != nil {
				return err
			}
			payload, err := json.Marshal(models.AnimalWeight{
				MeasuredAt: c.now().UTC(),
				AnimalID:   args[0],
				WeightKg:   kg,
			})
			if err != nil {
				return err
			}
			return c.enqueue(cmd.Context(), models.Mutation{
				Kind:       models.KindCreate,
				Collection: models.CollectionWeighings,
				Payload:    payload,
			}, sf)
		},
	}
	sf.register(cmd)
	return cmd
}

func (c *Cli) milkCommand() *cobra.Command {
	var sf syncFlags
	cmd := &cobra.Command{
		Use:   "milk <animal> <liters>",
		Short: "Record a milking",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			liters, err := parseAmount(args[1], "liters")
			if err != nil {
				return err
			}
			payload, err := json.Marshal(models.MilkingEntry{
				MilkedAt: c.now().UTC(),
				AnimalID: args[0],
				Liters:   liters,
			})
			if err != nil {
				return err
			}
			return c.enqueue(cmd.Context(), models.Mutation{
				Kind:       models.KindCreate,
				Collection: models.CollectionMilkings,
				Payload:    payload,
			}, sf)
		},
	}
	sf.register(cmd)
	return cmd
}

// enqueue ставит изменение в очередь и, если можно, сразу отправляет его.
// Недоступный сервер не считается ошибкой: изменение остается в очереди.
func (c *Cli) enqueue(ctx context.Context, m models.Mutation, sf syncFlags) error {
	if err := validation.ValidateCollection(m.Collection); err != nil {
		return err
	}
	if m.RecordID != "" {
		if err := validation.ValidateRecordID(m.RecordID); err != nil {
			return err
		}
	}
	if err := c.open(ctx); err != nil {
		return err
	}

	id := c.reconciler.Enqueue(ctx, m)
	op := c.operation(id)
	c.io.Printf("Queued %s: %s\n", shortID(id), target(op))

	if sf.noSync {
		return nil
	}
	if err := c.goOnline(ctx, sf.wait); err != nil {
		c.io.Printf("Saved locally, it will be sent later: %v\n", err)
		return nil
	}
	if _, err := c.reconciler.Flush(ctx); err != nil {
		c.io.Printf("Saved locally, it will be sent later: %v\n", err)
		return nil
	}
	if err := c.drain(ctx, sf.wait); err != nil {
		c.logger.Debug("Drain interrupted", "error", err)
	}

	if op := c.operation(id); op != nil {
		c.printOperation(op)
	}
	return nil
}

// baseVersion возвращает версию, от которой делается изменение:
// явную, иначе ту, что сообщает сервер
func (c *Cli) baseVersion(ctx context.Context, collection, id string, explicit int64) (int64, error) {
	if explicit > 0 {
		return explicit, nil
	}
	if explicit < 0 {
		return 0, fmt.Errorf("base version must be positive")
	}

	if err := c.requireSession(ctx); err != nil {
		return 0, fmt.Errorf("%w (or pass --base)", err)
	}
	rec, err := c.apiClient.GetRecord(ctx, collection, id)
	if err != nil {
		var se *api.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return 0, fmt.Errorf("record %s/%s does not exist on the server", collection, id)
		}
		return 0, fmt.Errorf("cannot determine the current version, pass --base: %w", err)
	}
	if rec.Deleted {
		return 0, fmt.Errorf("record %s/%s was deleted", collection, id)
	}
	return rec.Version, nil
}

func (c *Cli) requireSession(ctx context.Context) error {
	_, err := c.authService.Session(ctx)
	return err
}

// parsePayload проверяет, что данные записи являются JSON объектом
func parsePayload(data string) (json.RawMessage, error) {
	payload := json.RawMessage(data)
	if err := validation.ValidatePayload(payload); err != nil {
		return nil, fmt.Errorf("invalid --data: %w", err)
	}
	return payload, nil
}

func parseAmount(s, name string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return v, nil
}
