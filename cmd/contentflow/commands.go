package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andrewkhoh/myfarmstand-mobile-sub007/types"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/workflow"
)

// parsePayload turns repeated key=value flags into transition metadata.
func parsePayload(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	payload := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", p)
		}
		payload[k] = v
	}
	return payload, nil
}

// reportError prefixes err with its workflow code.
func reportError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", workflow.Code(err), err)
}

func newTransitionCmd(a *app) *cobra.Command {
	var user string
	var set []string

	cmd := &cobra.Command{
		Use:   "transition <content-id> <event>",
		Short: "Apply an event to a content item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			event, err := types.ParseEvent(args[1])
			if err != nil {
				return err
			}
			payload, err := parsePayload(set)
			if err != nil {
				return err
			}

			state, err := a.engine.Transition(cmd.Context(), args[0], user, event, payload)
			if err != nil {
				return reportError(err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", args[0], state)
			for _, n := range a.engine.Notifications() {
				fmt.Fprintf(out, "notify %s: %s\n", n.UserID, n.Message)
			}
			a.engine.ClearNotifications()
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "acting user id")
	cmd.Flags().StringArrayVar(&set, "set", nil, "transition metadata as key=value, repeatable")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newStateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "state <content-id>",
		Short: "Print the current state of a content item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := a.engine.State(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), state)
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <content-id>",
		Short: "Print the transition history of a content item as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := a.engine.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(history)
		},
	}
}

func newRollbackCmd(a *app) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "rollback <content-id> <state>",
		Short: "Restore a content item to a state it has visited",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := types.ParseState(args[1])
			if err != nil {
				return err
			}
			if err := a.engine.RollbackAs(cmd.Context(), args[0], user, target); err != nil {
				return reportError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "user recorded on the rollback (default: last actor)")
	return cmd
}

func newEventsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "events <content-id>",
		Short: "List the events the content item's current state accepts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			evs, err := a.engine.AvailableEvents(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, ev := range evs {
				fmt.Fprintln(cmd.OutOrStdout(), ev)
			}
			return nil
		},
	}
}

func newPermissionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "permissions <user-id>",
		Short: "List the capabilities a user holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caps, err := a.policy.Capabilities(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, c := range caps {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
}

func newClearArchivedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-archived",
		Short: "Delete every archived content item from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.store.ClearArchived(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d archived items\n", n)
			return nil
		},
	}
}
