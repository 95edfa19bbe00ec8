package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/spinup/pkg/engine"
	"github.com/openfroyo/spinup/pkg/policy"
	"github.com/openfroyo/spinup/pkg/stores"
)

// policies builds the policy engine: built-ins, the configured policy
// paths, minus the disabled names.
func (c *Controller) policies(ctx context.Context) (*policy.Engine, error) {
	pe, err := policy.NewEngine(c.logger)
	if err != nil {
		return nil, err
	}
	if len(c.Settings.Policies) > 0 {
		if err := pe.LoadPolicies(ctx, c.Settings.Policies); err != nil {
			return nil, engine.NewConfigurationError("cannot load policies", err).
				WithCode(engine.ErrCodeInvalidValue)
		}
	}
	for _, name := range c.Settings.DisabledPolicies {
		if err := pe.DisablePolicy(name); err != nil {
			return nil, engine.NewConfigurationError("cannot disable policy", err).
				WithResource(name).
				WithCode(engine.ErrCodeNotFound)
		}
	}
	return pe, nil
}

func (c *Controller) policyContext(operation string, dryRun bool) policy.Context {
	return policy.Context{
		Operation:   operation,
		Environment: c.Settings.Environment,
		DryRun:      dryRun,
		Timestamp:   time.Now().UTC(),
	}
}

// Show prints every variable of the graph with its current value, in
// discovery order. Variables without a value print as null.
func (c *Controller) Show(ctx context.Context) (err error) {
	ctx, s, err := c.open(ctx, "show")
	if err != nil {
		return err
	}
	defer func() { err = c.close(ctx, s, err) }()

	vars, _ := engine.Collect(s.root())
	if c.JSON {
		type entry struct {
			Name  string `json:"name"`
			Set   bool   `json:"set"`
			Value any    `json:"value"`
		}
		out := make([]entry, 0, len(vars))
		for _, v := range vars {
			value, _ := v.Current()
			out = append(out, entry{Name: v.Name(), Set: v.IsSet(), Value: value})
		}
		enc := json.NewEncoder(c.out())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, v := range vars {
		value, _ := v.Current()
		var node yaml.Node
		if err := node.Encode(value); err != nil {
			return fmt.Errorf("cannot encode %s: %w", v.Name(), err)
		}
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.Name()},
			&node)
	}
	enc := yaml.NewEncoder(c.out())
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// Vars lists the variable flags the graph accepts.
func (c *Controller) Vars(ctx context.Context) (err error) {
	ctx, s, err := c.open(ctx, "vars")
	if err != nil {
		return err
	}
	defer func() { err = c.close(ctx, s, err) }()

	vars, _ := engine.Collect(s.root())
	if c.JSON {
		type entry struct {
			Flag     string `json:"flag"`
			Variable string `json:"variable"`
			Set      bool   `json:"set"`
			Default  bool   `json:"has_default"`
		}
		out := make([]entry, 0, len(vars))
		for _, v := range vars {
			out = append(out, entry{Flag: "--" + v.FlagName(), Variable: v.Name(), Set: v.IsSet(), Default: v.HasDefault()})
		}
		enc := json.NewEncoder(c.out())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	w := tabwriter.NewWriter(c.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FLAG\tVARIABLE\tVALUE")
	for _, v := range vars {
		value := "-"
		if current, ok := v.Current(); ok {
			value = fmt.Sprint(current)
			if !v.IsSet() {
				value += " (default)"
			}
		}
		fmt.Fprintf(w, "--%s\t%s\t%s\n", v.FlagName(), v.Name(), value)
	}
	return w.Flush()
}

// History lists the journaled runs of the state file, or the checkpoints
// of runID when it is not empty.
func (c *Controller) History(ctx context.Context, runID string) error {
	store, err := c.journal(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if runID == "" {
		runs, err := store.ListRuns(ctx, c.StatePath, 50, 0)
		if err != nil {
			return err
		}
		if c.JSON {
			return c.encodeJSON(runs)
		}
		w := tabwriter.NewWriter(c.out(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tVERB\tROOT\tSTATUS\tSTARTED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Verb, r.Root, r.Status, r.StartedAt.Format(time.RFC3339))
		}
		return w.Flush()
	}

	if _, err := store.GetRun(ctx, runID); err != nil {
		return notFound(runID, err)
	}
	checkpoints, err := store.ListCheckpoints(ctx, runID)
	if err != nil {
		return err
	}
	if c.JSON {
		return c.encodeJSON(checkpoints)
	}
	w := tabwriter.NewWriter(c.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tPHASE\tHASH\tWRITTEN")
	for _, cp := range checkpoints {
		fmt.Fprintf(w, "%d\t%s\t%.12s\t%s\n", cp.Seq, cp.Phase, cp.Hash, cp.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

// Restore writes checkpoint seq of runID back to the state file.
func (c *Controller) Restore(ctx context.Context, runID string, seq int) error {
	store, err := c.journal(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	cp, err := stores.Restore(ctx, store, runID, seq, c.StatePath)
	if err != nil {
		return notFound(runID+"/"+strconv.Itoa(seq), err)
	}
	c.logger.Info().
		Str("run_id", cp.RunID).
		Int("seq", cp.Seq).
		Str("phase", cp.Phase).
		Str("path", c.StatePath).
		Msg("Restored checkpoint")
	return nil
}

func (c *Controller) journal(ctx context.Context) (*stores.SQLiteStore, error) {
	if c.Settings.Journal == "" {
		return nil, engine.NewConfigurationError("no journal configured", errors.New("use --journal")).
			WithCode(engine.ErrCodeMissingConfig)
	}
	return c.openJournal(ctx)
}

func notFound(what string, err error) error {
	if errors.Is(err, stores.ErrNotFound) {
		return engine.NewConfigurationError("not in journal", err).
			WithResource(what).
			WithCode(engine.ErrCodeNotFound)
	}
	return err
}

func (c *Controller) encodeJSON(v any) error {
	enc := json.NewEncoder(c.out())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Check elaborates the graph without saving it and evaluates the
// policies for an up. With watch set it re-evaluates whenever a policy
// file changes, until ctx is cancelled.
func (c *Controller) Check(ctx context.Context, watch bool) (err error) {
	ctx, s, err := c.open(ctx, "check")
	if err != nil {
		return err
	}
	defer func() { err = c.close(ctx, s, err) }()

	pe, err := c.policies(ctx)
	if err != nil {
		return err
	}

	root := s.root()
	phase := c.phase(s, "CHECK "+engine.Describe(root), true)
	elaborated := phase.Run(ctx, func(ctx context.Context) error {
		return engine.Elaborate(ctx, phase, root)
	})
	if elaborated != nil && !errors.Is(elaborated, engine.ErrMissingConfiguration) {
		return elaborated
	}

	gateErr := c.report(ctx, pe, root, phase.MissingItems())
	if !watch {
		if gateErr != nil {
			return gateErr
		}
		return elaborated
	}

	err = policy.NewLoader(c.logger).Watch(ctx, c.Settings.Policies, func(loaded []policy.Policy) error {
		if err := pe.Replace(ctx, loaded); err != nil {
			c.logger.Error().Err(err).Msg("Policy reload failed")
			return nil
		}
		_ = c.report(ctx, pe, root, phase.MissingItems())
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// report gates root and prints the outcome.
func (c *Controller) report(ctx context.Context, pe *policy.Engine, root engine.Resource, missing []string) error {
	result, gateErr := pe.Gate(ctx, root, c.policyContext("up", true))
	if result == nil {
		return gateErr
	}

	if c.JSON {
		if err := c.encodeJSON(struct {
			*policy.Result
			Missing []string `json:"missing,omitempty"`
		}{result, missing}); err != nil {
			return err
		}
		return gateErr
	}

	w := tabwriter.NewWriter(c.out(), 0, 4, 2, ' ', 0)
	for _, item := range missing {
		fmt.Fprintf(w, "missing\t%s\t\n", item)
	}
	for _, v := range result.Violations {
		fmt.Fprintf(w, "%s\t%s\t%s: %s\n", v.Severity, v.Policy, v.Resource, v.Message)
	}
	for _, v := range result.Warnings {
		fmt.Fprintf(w, "%s\t%s\t%s: %s\n", v.Severity, v.Policy, v.Resource, v.Message)
	}
	fmt.Fprintf(w, "allowed\t%t\t(%d policies)\n", result.Allowed, len(result.EvaluatedPolicies))
	if err := w.Flush(); err != nil {
		return err
	}
	return gateErr
}
