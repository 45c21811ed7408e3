package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matthewbaird/canalworks/internal/client"
	"github.com/matthewbaird/canalworks/internal/dupguard"
	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/form"
	"github.com/matthewbaird/canalworks/internal/types"
	"github.com/matthewbaird/canalworks/internal/validation"
	"github.com/matthewbaird/canalworks/internal/workflow"
)

// submitResult is what submit prints.
type submitResult struct {
	Phase         workflow.Phase     `json:"phase"`
	WorkID        int64              `json:"work_id,omitempty"`
	CorrelationID string             `json:"correlation_id"`
	Code          apperrors.Code     `json:"code,omitempty"`
	Banner        string             `json:"banner,omitempty"`
	Failure       *workflow.Failure  `json:"failure,omitempty"`
	Errors        *validation.Result `json:"errors,omitempty"`
}

func (a *app) submitCmd() *cobra.Command {
	var (
		aggregate bool
		gateway   string
		actor     string
	)
	cmd := &cobra.Command{
		Use:   "submit <draft.json>",
		Short: "Validate a saved form draft and persist it through the API",
		Long: `Reads a form draft (the work, beneficiary, villages and components
sections as entered) and submits it to the API at GATEWAY_URL.

By default the work and each dependent section are created in order, and a
failed dependent step deletes the work again (ROLLBACK_POLICY=compensate).
With --aggregate the whole package is sent in one request and stored in one
transaction.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			f := types.NewForm()
			if err := json.Unmarshal(raw, &f); err != nil {
				return fmt.Errorf("decoding %s: %w", args[0], err)
			}
			if gateway == "" {
				gateway = a.cfg.GatewayURL
			}
			if actor == "" {
				actor = a.cfg.Actor
			}

			correlation := uuid.New().String()
			c := client.New(gateway, actor, a.cfg.GatewayTimeout,
				client.WithLogger(a.logger.Named("client")),
				client.WithSource("cli"),
			).WithCorrelation(correlation)
			log := a.logger.With(zap.String("correlation_id", correlation))

			var res submitResult
			if aggregate {
				res, err = a.submitAggregate(cmd, c, f, log)
			} else {
				res, err = a.submitStepwise(cmd, c, f, log)
			}
			res.CorrelationID = correlation

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(res); encErr != nil {
				return encErr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&aggregate, "aggregate", false, "create the whole package in one transaction")
	cmd.Flags().StringVar(&gateway, "gateway", "", "API base URL (default GATEWAY_URL)")
	cmd.Flags().StringVar(&actor, "actor", "", "identity recorded on created rows (default ACTOR)")
	return cmd
}

// reducer builds the form workflow's reducer over a duplicate guard loaded
// from the API. Without the names the server's unique check still applies.
func (a *app) reducer(cmd *cobra.Command, c *client.Client, log *zap.Logger) (*workflow.Reducer, error) {
	r, err := a.loadRules()
	if err != nil {
		return nil, err
	}
	guard := dupguard.New()
	if err := guard.Refresh(cmd.Context(), c); err != nil {
		log.Warn("work names unavailable; relying on the server's unique check", zap.Error(err))
	}
	return workflow.NewReducer(r, guard, workflow.Rollback(a.cfg.RollbackPolicy)), nil
}

// submitStepwise runs the draft through the form workflow with the API as
// its gateway, so validation and the saga behave as they do in a session.
func (a *app) submitStepwise(cmd *cobra.Command, c *client.Client, f types.Form, log *zap.Logger) (submitResult, error) {
	reducer, err := a.reducer(cmd, c, log)
	if err != nil {
		return submitResult{Phase: workflow.PhaseFailed}, err
	}
	state := workflow.NewOrchestrator(reducer, c, c, log).Submit(cmd.Context(), f)

	res := submitResult{
		Phase:   state.Phase,
		WorkID:  state.WorkID,
		Banner:  state.Banner,
		Failure: state.Failure,
	}
	if !state.Errors.OK() {
		res.Errors = &state.Errors
	}
	err = state.Err()
	if err != nil {
		res.Code = apperrors.CodeOf(err)
	}
	return res, err
}

// submitAggregate sends the package to the transactional endpoint after the
// same local checks a stepwise submit makes, so an invalid or duplicate
// draft never reaches the network.
func (a *app) submitAggregate(cmd *cobra.Command, c *client.Client, f types.Form, log *zap.Logger) (submitResult, error) {
	failed := func(err error) submitResult {
		return submitResult{Phase: workflow.PhaseFailed, Code: apperrors.CodeOf(err), Banner: apperrors.BannerFor(err)}
	}

	reducer, err := a.reducer(cmd, c, log)
	if err != nil {
		return submitResult{Phase: workflow.PhaseFailed}, err
	}
	if errs, err := reducer.Preflight(f); err != nil {
		res := failed(err)
		res.Errors = &errs
		return res, err
	}
	pkg, err := form.Package(f)
	if err != nil {
		err = apperrors.Wrap(apperrors.CodeValidationFailed, "reading draft", err)
		return failed(err), err
	}
	id, err := c.CreateWorkPackage(cmd.Context(), pkg)
	if err != nil {
		return failed(err), err
	}
	return submitResult{Phase: workflow.PhaseSucceeded, WorkID: id}, nil
}
