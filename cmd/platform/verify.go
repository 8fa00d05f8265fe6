package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clinassist/platform/internal/api"
	"github.com/clinassist/platform/internal/verification"
)

func verifyCmd() *cobra.Command {
	var (
		transcript string
		rulesPath  string
		strict     bool
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the final assistant message of a saved transcript",
		Long: "Reads a JSON transcript (a message list, or an object with a " +
			"\"messages\" field) and prints the verification outcome for its " +
			"last assistant message. Use - to read from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, transcript)
			if err != nil {
				return err
			}
			messages, err := decodeTranscript(data)
			if err != nil {
				return err
			}

			cfg, err := verification.LoadConfig(rulesPath)
			if err != nil {
				return err
			}
			engine := verification.NewEngine(cfg, zap.NewNop())

			resp := api.VerifyTurnResponse{}
			if out, ok := engine.VerifyTurn(messages); ok {
				resp = api.VerifyTurnResponse{Applicable: true, Outcome: &out}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return err
			}

			if strict && resp.Outcome != nil && resp.Verification.Decision == verification.DecisionFail {
				return errors.New("verification failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&transcript, "transcript", "", "Transcript JSON file, - for stdin")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "Verification rules YAML (defaults to the embedded rules)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when the decision is fail")
	cmd.MarkFlagRequired("transcript")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	return data, nil
}

func decodeTranscript(data []byte) ([]verification.Message, error) {
	data = bytes.TrimSpace(data)
	var messages []verification.Message
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &messages); err != nil {
			return nil, fmt.Errorf("decoding transcript: %w", err)
		}
		return messages, nil
	}

	var wrapped struct {
		Messages []verification.Message `json:"messages"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding transcript: %w", err)
	}
	return wrapped.Messages, nil
}
