package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type callResult struct {
	Sequence uint64 `json:"sequence" yaml:"sequence"`
	Reply    string `json:"reply" yaml:"reply"`
	Elapsed  string `json:"elapsed" yaml:"elapsed"`
}

func newCallCmd(st *rootState) *cobra.Command {
	var oneway bool
	cmd := &cobra.Command{
		Use:   "call <payload>",
		Short: "Send one call and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := st.connect(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer s.Close()

			if oneway {
				if err := s.client.Notify(cmd.Context(), []byte(args[0])); err != nil {
					return fmt.Errorf("notify failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "sent")
				return nil
			}
			start := time.Now()
			msg, err := s.client.CallMessage(cmd.Context(), []byte(args[0]))
			if err != nil {
				return fmt.Errorf("call failed: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), st.formatter.Format(callResult{
				Sequence: msg.Sequence,
				Reply:    string(msg.Payload),
				Elapsed:  time.Since(start).Round(time.Microsecond).String(),
			}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&oneway, "oneway", false, "send as a oneway message and do not wait")
	return cmd
}
