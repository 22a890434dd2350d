package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the QA service a question directly",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.QA.Mode == "off" {
			return eris.New("qa is disabled; set qa.mode to remote or claude")
		}

		svc := buildQA()
		answer, err := svc.Ask(cmd.Context(), strings.Join(args, " "), uuid.New().String())
		if err != nil {
			return err
		}

		fmt.Println(answer.Text)
		for _, c := range answer.Citations {
			if c.Page != "" {
				fmt.Printf("  - %s (p. %s)\n", c.Doc, c.Page)
				continue
			}
			fmt.Printf("  - %s\n", c.Doc)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
}
