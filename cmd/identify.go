package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/idfuse/internal/orchestrator"
)

var (
	identifyImagePath string
	identifyQuestion  string
)

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Run one identification from the command line",
	RunE: func(cmd *cobra.Command, args []string) error {
		image, err := os.ReadFile(identifyImagePath)
		if err != nil {
			return eris.Wrapf(err, "read image %s", identifyImagePath)
		}

		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := e.Orch.Identify(cmd.Context(), orchestrator.Request{
			Image:    image,
			Question: identifyQuestion,
			Route:    "cli/identify",
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	identifyCmd.Flags().StringVar(&identifyImagePath, "image", "", "path to the image file (required)")
	identifyCmd.Flags().StringVar(&identifyQuestion, "question", "", "optional question for the QA service")
	identifyCmd.MarkFlagRequired("image")
	rootCmd.AddCommand(identifyCmd)
}
