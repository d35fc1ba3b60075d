package main

import (
	"fmt"
	"time"

	"github.com/Harshitk-cp/twinledger/internal/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type beliefFlags struct {
	tenant  string
	subject string
	topic   string
}

func (f *beliefFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tenant, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&f.subject, "subject", "", "subject key (empty for the owner)")
	cmd.Flags().StringVar(&f.topic, "topic", "", "belief topic (required)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("topic")
}

func (f *beliefFlags) key() (domain.BeliefKey, error) {
	id, err := parseTenant(f.tenant)
	if err != nil {
		return domain.BeliefKey{}, err
	}
	return domain.BeliefKey{TenantID: id, SubjectKey: f.subject, Topic: f.topic}, nil
}

// ownerProvenance records a CLI action as an owner revision.
func ownerProvenance(actor string) domain.Provenance {
	return domain.Provenance{
		SourceType: domain.SourceRevision,
		SourceID:   "twinctl",
		Timestamp:  time.Now().UTC(),
		Actor:      actor,
	}
}

func newBeliefsCmd() *cobra.Command {
	beliefs := &cobra.Command{
		Use:   "beliefs",
		Short: "Inspect and curate beliefs",
	}
	beliefs.AddCommand(
		newBeliefsCurrentCmd(),
		newBeliefsHistoryCmd(),
		newBeliefsVerifyCmd(),
		newBeliefsRetractCmd(),
	)
	return beliefs
}

func newBeliefsCurrentCmd() *cobra.Command {
	var (
		f    beliefFlags
		asOf string
	)
	cmd := &cobra.Command{
		Use:     "current",
		Short:   "Show the current belief for a topic",
		Example: `  twinctl beliefs current --tenant 6f1c... --topic pricing --as-of 2026-01-01T00:00:00Z`,
		Args:    cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			key, err := f.key()
			if err != nil {
				return err
			}
			var at *time.Time
			if asOf != "" {
				t, err := time.Parse(time.RFC3339, asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of: %w", err)
				}
				at = &t
			}
			b, err := e.svcs.Beliefs.GetCurrent(cmd.Context(), key, at)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b)
		}),
	}
	f.register(cmd)
	cmd.Flags().StringVar(&asOf, "as-of", "", "RFC 3339 timestamp")
	return cmd
}

func newBeliefsHistoryCmd() *cobra.Command {
	var f beliefFlags
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show every revision of a belief",
		Args:  cobra.NoArgs,
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			key, err := f.key()
			if err != nil {
				return err
			}
			history, err := e.svcs.Beliefs.History(cmd.Context(), key)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), history)
		}),
	}
	f.register(cmd)
	return cmd
}

func beliefTarget(tenant, rawID string) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := parseTenant(tenant)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid belief id %q", rawID)
	}
	return tenantID, id, nil
}

func newBeliefsVerifyCmd() *cobra.Command {
	var tenant, actor string
	cmd := &cobra.Command{
		Use:   "verify BELIEF_ID",
		Short: "Confirm a proposed belief as the owner",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			tenantID, id, err := beliefTarget(tenant, args[0])
			if err != nil {
				return err
			}
			b, err := e.svcs.Beliefs.Verify(cmd.Context(), tenantID, id, ownerProvenance(actor))
			if err != nil {
				return err
			}
			printSuccess("Belief %s verified (revision %d)", b.ID, b.Revision)
			return printJSON(cmd.OutOrStdout(), b)
		}),
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&actor, "actor", "", "who verified it")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newBeliefsRetractCmd() *cobra.Command {
	var tenant, actor, reason string
	cmd := &cobra.Command{
		Use:   "retract BELIEF_ID",
		Short: "Retract a belief",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, args []string, e *env) error {
			tenantID, id, err := beliefTarget(tenant, args[0])
			if err != nil {
				return err
			}
			b, err := e.svcs.Beliefs.Retract(cmd.Context(), tenantID, id, ownerProvenance(actor), reason)
			if err != nil {
				return err
			}
			printSuccess("Belief %s retracted", b.ID)
			return printJSON(cmd.OutOrStdout(), b)
		}),
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&actor, "actor", "", "who retracted it")
	cmd.Flags().StringVar(&reason, "reason", "", "why it was retracted")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
