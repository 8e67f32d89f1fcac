// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/marionet/internal/actions"
	"github.com/xkilldash9x/marionet/internal/engine"
	"github.com/xkilldash9x/marionet/internal/observability"
	"github.com/xkilldash9x/marionet/internal/routing"
)

// script is the YAML step file executed by the run command. Each step names
// exactly one operation.
type script struct {
	Steps []step `yaml:"steps"`
}

type step struct {
	Goto    string       `yaml:"goto,omitempty"`
	Click   string       `yaml:"click,omitempty"`
	Hover   string       `yaml:"hover,omitempty"`
	Check   string       `yaml:"check,omitempty"`
	Uncheck string       `yaml:"uncheck,omitempty"`
	Fill    *fillStep    `yaml:"fill,omitempty"`
	Press   *pressStep   `yaml:"press,omitempty"`
	Type    *typeStep    `yaml:"type,omitempty"`
	Select  *selectStep  `yaml:"select,omitempty"`
	Block   string       `yaml:"block,omitempty"` // URL glob to abort
	Wait    *waitStep    `yaml:"wait_event,omitempty"`
}

type fillStep struct {
	Selector string `yaml:"selector"`
	Value    string `yaml:"value"`
}

type pressStep struct {
	Selector string `yaml:"selector"`
	Key      string `yaml:"key"`
}

type typeStep struct {
	Selector string `yaml:"selector"`
	Text     string `yaml:"text"`
}

type selectStep struct {
	Selector string   `yaml:"selector"`
	Values   []string `yaml:"values"`
}

type waitStep struct {
	Event string `yaml:"event"`
}

var runCmd = &cobra.Command{
	Use:   "run <script.yaml>",
	Short: "Execute a YAML step script against the browser endpoint.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read script: %w", err)
		}
		var sc script
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return fmt.Errorf("failed to parse script: %w", err)
		}
		if len(sc.Steps) == 0 {
			return fmt.Errorf("script %q has no steps", args[0])
		}

		dialCtx, cancel := context.WithTimeout(cmd.Context(), cfg.Endpoint.DialTimeout)
		defer cancel()
		transport, err := dialEndpoint(dialCtx, cmd, logger)
		if err != nil {
			return err
		}

		eng, err := engine.Connect(cmd.Context(), transport, logger, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := eng.Close(); err != nil {
				logger.Warn("Engine close failed", zap.Error(err))
			}
		}()

		bc, err := eng.Browser().NewContext(cmd.Context())
		if err != nil {
			return err
		}
		page, err := bc.NewPage(cmd.Context())
		if err != nil {
			return err
		}

		for i, st := range sc.Steps {
			if err := runStep(cmd.Context(), logger, bc, page, st); err != nil {
				return fmt.Errorf("step %d failed: %w", i+1, err)
			}
		}

		logger.Info("Script finished", zap.Int("steps", len(sc.Steps)))
		return bc.Close(cmd.Context())
	},
}

func runStep(ctx context.Context, logger *zap.Logger, bc *engine.BrowserContext, page *engine.Page, st step) error {
	var opts *actions.Options

	switch {
	case st.Goto != "":
		logger.Info("goto", zap.String("url", st.Goto))
		_, err := page.Goto(ctx, st.Goto)
		return err
	case st.Click != "":
		logger.Info("click", zap.String("selector", st.Click))
		return page.Click(ctx, st.Click, opts)
	case st.Hover != "":
		return page.Hover(ctx, st.Hover, opts)
	case st.Check != "":
		return page.Check(ctx, st.Check, opts)
	case st.Uncheck != "":
		return page.Uncheck(ctx, st.Uncheck, opts)
	case st.Fill != nil:
		return page.Fill(ctx, st.Fill.Selector, st.Fill.Value, opts)
	case st.Press != nil:
		return page.Press(ctx, st.Press.Selector, st.Press.Key, opts)
	case st.Type != nil:
		return page.TypeText(ctx, st.Type.Selector, st.Type.Text, opts)
	case st.Select != nil:
		return page.SelectOption(ctx, st.Select.Selector, st.Select.Values, opts)
	case st.Block != "":
		logger.Info("block", zap.String("pattern", st.Block))
		_, err := bc.Route(ctx, st.Block, func(rt *routing.Route) {
			if err := rt.Abort(ctx, "blockedbyclient"); err != nil {
				logger.Warn("Failed to abort blocked request", zap.String("url", rt.URL()), zap.Error(err))
			}
		})
		return err
	case st.Wait != nil:
		logger.Info("wait_event", zap.String("event", st.Wait.Event))
		_, err := page.WaitForEvent(ctx, st.Wait.Event, nil)
		return err
	default:
		return fmt.Errorf("empty step")
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
}
